package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
)

func TestInScope(t *testing.T) {
	base := dn.MustParse("ou=users,dc=example")
	self := base
	child := dn.MustParse("uid=a,ou=users,dc=example")
	grandchild := dn.MustParse("cn=x,uid=a,ou=users,dc=example")
	other := dn.MustParse("ou=groups,dc=example")

	tests := []struct {
		name  string
		d     dn.DN
		scope Scope
		want  bool
	}{
		{"base self", self, ScopeBase, true},
		{"base child", child, ScopeBase, false},
		{"one self", self, ScopeOneLevel, false},
		{"one child", child, ScopeOneLevel, true},
		{"one grandchild", grandchild, ScopeOneLevel, false},
		{"sub self", self, ScopeSubtree, true},
		{"sub grandchild", grandchild, ScopeSubtree, true},
		{"sub other", other, ScopeSubtree, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InScope(tt.d, base, tt.scope))
		})
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"base": ScopeBase, "ONE": ScopeOneLevel, "subtree": ScopeSubtree} {
		got, err := ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEqual(t, "unknown", got.String())
	}
	_, err := ParseScope("children")
	assert.Error(t, err)
}

func TestEntryHelpers(t *testing.T) {
	e := NewEntry("cn=x")
	e.SetStringAttribute("CN", "x")
	e.AddAttributeValue("mail", []byte("a@example.com"))
	e.AddAttributeValue("Mail", []byte("b@example.com"))

	assert.True(t, e.HasAttribute("cn"))
	assert.Equal(t, "x", e.GetFirst("Cn"))
	assert.Len(t, e.GetAttribute("MAIL"), 2)
	assert.Equal(t, []string{"cn", "mail"}, e.AttributeNames())

	clone := e.Clone()
	clone.GetAttribute("cn")[0][0] = 'y'
	assert.Equal(t, "x", e.GetFirst("cn"))

	e.SetAttribute("mail")
	assert.False(t, e.HasAttribute("mail"))

	fe := e.FilterEntry()
	assert.Equal(t, e.DN, fe.DN)
	assert.Nil(t, (*Entry)(nil).Clone())
}

func TestVerifyReportOK(t *testing.T) {
	assert.True(t, VerifyReport{EntriesChecked: 3}.OK())
	assert.False(t, VerifyReport{Missing: 1}.OK())
	assert.False(t, VerifyReport{Dangling: 1}.OK())
}
