package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupByAliasAndOID(t *testing.T) {
	s := Default()

	for _, name := range []string{"cn", "CN", "commonName", "2.5.4.3"} {
		at := s.GetAttributeType(name)
		require.NotNil(t, at, name)
		assert.Equal(t, "cn", at.Name)
	}
	assert.Nil(t, s.GetAttributeType("noSuchAttribute"))

	mr := s.GetMatchingRule("2.5.13.5")
	require.NotNil(t, mr)
	assert.Equal(t, "caseExactMatch", mr.Name)
	assert.True(t, mr.CaseSensitive)
}

func TestCanonicalName(t *testing.T) {
	s := Default()
	assert.Equal(t, "cn", s.CanonicalName("commonName"))
	assert.Equal(t, "mail", s.CanonicalName("RFC822Mailbox"))
	assert.Equal(t, "customattr", s.CanonicalName(" CustomAttr "))
	assert.Equal(t, "caseignorematch", s.CanonicalRule("2.5.13.2"))
	assert.Equal(t, "1.2.3.4", s.CanonicalRule("1.2.3.4"))
}

func TestDefaultEqualityRule(t *testing.T) {
	s := Default()

	assert.Equal(t, "caseignorematch", s.DefaultEqualityRule("cn"), "inherited from name")
	assert.Equal(t, "distinguishednamematch", s.DefaultEqualityRule("member"))
	assert.Equal(t, "caseignoreia5match", s.DefaultEqualityRule("mail"))
	assert.Equal(t, "", s.DefaultEqualityRule("unknown"))
}

func TestDefaultEqualityRuleCycle(t *testing.T) {
	s := NewSchema()
	s.AddAttributeType(&AttributeType{Name: "a", Superior: "b"})
	s.AddAttributeType(&AttributeType{Name: "b", Superior: "a"})
	assert.Equal(t, "", s.DefaultEqualityRule("a"))
}

func TestAttributeTypesDeduplicated(t *testing.T) {
	s := Default()
	all := s.AttributeTypes()
	assert.Len(t, all, len(defaultAttributeTypes))
}

func TestNilSchema(t *testing.T) {
	var s *Schema
	assert.Nil(t, s.GetAttributeType("cn"))
	assert.Equal(t, "cn", s.CanonicalName("CN"))
	assert.Equal(t, "", s.DefaultEqualityRule("cn"))
}
