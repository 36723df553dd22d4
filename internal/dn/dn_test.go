package dn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{"simple", "dc=example,dc=com", "dc=example,dc=com", nil},
		{"whitespace and case", " UID = alice , ou=Users,dc=example ", "uid=alice,ou=Users,dc=example", nil},
		{"escaped comma", `cn=Smith\, John,dc=example`, `cn=Smith\, John,dc=example`, nil},
		{"root", "", "", nil},
		{"missing equals", "example,dc=com", "", ErrInvalidRDN},
		{"empty component", "dc=example,,dc=com", "", ErrInvalidDN},
		{"trailing escape", `cn=a\`, "", ErrInvalidDN},
		{"empty value", "cn=,dc=com", "", ErrInvalidRDN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestDescendantChecks(t *testing.T) {
	base := MustParse("dc=example")
	sub := MustParse("ou=sub,dc=example")
	leaf := MustParse("uid=a,OU=Sub,DC=Example")

	assert.True(t, leaf.IsDescendantOf(base))
	assert.True(t, leaf.IsDescendantOf(sub))
	assert.True(t, leaf.IsDirectChildOf(sub))
	assert.False(t, leaf.IsDirectChildOf(base))

	assert.False(t, base.IsDescendantOf(base))
	assert.True(t, base.IsDescendantOrSelf(base))
	assert.False(t, base.IsDescendantOrSelf(sub))

	other := MustParse("uid=a,dc=other")
	assert.False(t, other.IsDescendantOrSelf(base))

	assert.True(t, leaf.IsDescendantOf(Root))
}

func TestParentAndChild(t *testing.T) {
	d := MustParse("uid=alice,ou=users,dc=example")
	assert.Equal(t, "ou=users,dc=example", d.Parent().String())
	assert.Equal(t, "uid=alice", d.RDN())
	assert.Equal(t, 3, d.Depth())
	assert.True(t, MustParse("dc=example").Parent().IsRoot())

	c, err := d.Parent().Child("UID=bob")
	require.NoError(t, err)
	assert.Equal(t, "uid=bob,ou=users,dc=example", c.String())

	_, err = d.Child("bogus")
	assert.ErrorIs(t, err, ErrInvalidRDN)
}

func TestEqualAndKey(t *testing.T) {
	a := MustParse("CN=Alice,DC=Example")
	b := MustParse("cn=alice,dc=example")
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.String(), b.String())
}

func TestRebase(t *testing.T) {
	d := MustParse("uid=a,ou=old,dc=example")
	moved, ok := d.Rebase(MustParse("ou=old,dc=example"), MustParse("ou=new,dc=example"))
	require.True(t, ok)
	assert.Equal(t, "uid=a,ou=new,dc=example", moved.String())

	_, ok = d.Rebase(MustParse("ou=elsewhere,dc=example"), Root)
	assert.False(t, ok)
}

func TestContainsAny(t *testing.T) {
	bases := []DN{MustParse("dc=a"), MustParse("dc=b")}
	assert.True(t, ContainsAny(bases, MustParse("cn=x,dc=b")))
	assert.False(t, ContainsAny(bases, MustParse("cn=x,dc=c")))
	assert.False(t, ContainsAny(nil, MustParse("cn=x,dc=c")))
}

func TestHierarchyKey(t *testing.T) {
	parent := MustParse("dc=Example,dc=com")
	child := MustParse("ou=People,dc=example,dc=com")
	sibling := MustParse("dc=example2,dc=com")

	assert.Equal(t, "dc=com/dc=example", parent.HierarchyKey('/'))
	assert.Equal(t, "", Root.HierarchyKey('/'))
	assert.True(t, strings.HasPrefix(child.HierarchyKey(0), parent.HierarchyKey(0)+"\x00"))
	assert.False(t, strings.HasPrefix(sibling.HierarchyKey(0), parent.HierarchyKey(0)+"\x00"))
}
