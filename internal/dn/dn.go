// Package dn parses and compares LDAP distinguished names.
//
// A DN is held as its RDN components in forward order (leaf first). Attribute
// types are lower-cased on parse; comparison is case-insensitive on values as
// well, which matches how the storage layer keys entries.
package dn

import (
	"errors"
	"strings"
)

// DN parsing errors.
var (
	ErrInvalidDN  = errors.New("dn: invalid DN format")
	ErrInvalidRDN = errors.New("dn: invalid RDN format")
)

// DN is a parsed distinguished name. The zero value is the root DN.
type DN struct {
	rdns []string
	norm []string
}

// Root is the empty DN.
var Root = DN{}

// Parse parses a DN string. An empty or blank string yields the root DN.
//
// Example:
//
//	Parse("UID=alice, ou=users,dc=example") -> "uid=alice,ou=users,dc=example"
func Parse(s string) (DN, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Root, nil
	}

	parts, err := split(s)
	if err != nil {
		return Root, err
	}

	d := DN{
		rdns: make([]string, len(parts)),
		norm: make([]string, len(parts)),
	}
	for i, part := range parts {
		rdn, err := normalizeRDN(part)
		if err != nil {
			return Root, err
		}
		d.rdns[i] = rdn
		d.norm[i] = strings.ToLower(rdn)
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) DN {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseAll parses every string in ss.
func ParseAll(ss []string) ([]DN, error) {
	out := make([]DN, 0, len(ss))
	for _, s := range ss {
		d, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// split splits a DN string by unescaped commas.
func split(s string) ([]string, error) {
	var parts []string
	var current strings.Builder
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			current.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			current.WriteByte(c)
			escaped = true
		case ',':
			part := strings.TrimSpace(current.String())
			if part == "" {
				return nil, ErrInvalidDN
			}
			parts = append(parts, part)
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if escaped {
		return nil, ErrInvalidDN
	}

	part := strings.TrimSpace(current.String())
	if part == "" {
		return nil, ErrInvalidDN
	}
	return append(parts, part), nil
}

// normalizeRDN trims whitespace around '=' and lower-cases the attribute type.
func normalizeRDN(rdn string) (string, error) {
	eq := strings.IndexByte(rdn, '=')
	if eq <= 0 {
		return "", ErrInvalidRDN
	}
	attrType := strings.ToLower(strings.TrimSpace(rdn[:eq]))
	value := strings.TrimSpace(rdn[eq+1:])
	if attrType == "" || value == "" {
		return "", ErrInvalidRDN
	}
	return attrType + "=" + value, nil
}

// String returns the DN with normalized attribute types.
func (d DN) String() string {
	return strings.Join(d.rdns, ",")
}

// Key returns the fully normalized form, suitable as a map or storage key.
func (d DN) Key() string {
	return strings.Join(d.norm, ",")
}

// HierarchyKey returns the normalized RDNs root first, joined by sep. The
// key of a descendant always has the key of its ancestor plus sep as a
// prefix, so ordered stores can scan a subtree by prefix.
func (d DN) HierarchyKey(sep byte) string {
	var b strings.Builder
	for i := len(d.norm) - 1; i >= 0; i-- {
		b.WriteString(d.norm[i])
		if i > 0 {
			b.WriteByte(sep)
		}
	}
	return b.String()
}

// IsRoot reports whether d is the empty DN.
func (d DN) IsRoot() bool {
	return len(d.rdns) == 0
}

// Depth returns the number of RDN components.
func (d DN) Depth() int {
	return len(d.rdns)
}

// RDN returns the leaf component, or "" for the root DN.
func (d DN) RDN() string {
	if d.IsRoot() {
		return ""
	}
	return d.rdns[0]
}

// Parent returns the immediate superior. The parent of a single-component DN
// is the root DN, and the parent of the root is the root.
func (d DN) Parent() DN {
	if len(d.rdns) <= 1 {
		return Root
	}
	return DN{rdns: d.rdns[1:], norm: d.norm[1:]}
}

// Child returns the DN formed by prefixing rdn onto d.
func (d DN) Child(rdn string) (DN, error) {
	r, err := normalizeRDN(strings.TrimSpace(rdn))
	if err != nil {
		return Root, err
	}
	rdns := make([]string, 0, len(d.rdns)+1)
	rdns = append(rdns, r)
	rdns = append(rdns, d.rdns...)
	norm := make([]string, 0, len(d.norm)+1)
	norm = append(norm, strings.ToLower(r))
	norm = append(norm, d.norm...)
	return DN{rdns: rdns, norm: norm}, nil
}

// Equal reports whether two DNs name the same entry.
func (d DN) Equal(o DN) bool {
	if len(d.norm) != len(o.norm) {
		return false
	}
	for i := range d.norm {
		if d.norm[i] != o.norm[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether d is strictly below base.
func (d DN) IsDescendantOf(base DN) bool {
	return len(d.norm) > len(base.norm) && d.hasSuffix(base)
}

// IsDescendantOrSelf reports whether d equals base or is below it.
func (d DN) IsDescendantOrSelf(base DN) bool {
	return len(d.norm) >= len(base.norm) && d.hasSuffix(base)
}

// IsDirectChildOf reports whether d is exactly one level below base.
func (d DN) IsDirectChildOf(base DN) bool {
	return len(d.norm) == len(base.norm)+1 && d.hasSuffix(base)
}

func (d DN) hasSuffix(base DN) bool {
	off := len(d.norm) - len(base.norm)
	for i, rdn := range base.norm {
		if d.norm[off+i] != rdn {
			return false
		}
	}
	return true
}

// Rebase moves d from under oldBase to under newBase. It returns false if d is
// not at or below oldBase.
func (d DN) Rebase(oldBase, newBase DN) (DN, bool) {
	if !d.IsDescendantOrSelf(oldBase) {
		return Root, false
	}
	keep := len(d.rdns) - len(oldBase.rdns)
	rdns := make([]string, 0, keep+len(newBase.rdns))
	rdns = append(rdns, d.rdns[:keep]...)
	rdns = append(rdns, newBase.rdns...)
	norm := make([]string, 0, keep+len(newBase.norm))
	norm = append(norm, d.norm[:keep]...)
	norm = append(norm, newBase.norm...)
	return DN{rdns: rdns, norm: norm}, true
}

// ContainsAny reports whether d is at or below any DN in bases.
func ContainsAny(bases []DN, d DN) bool {
	for _, b := range bases {
		if d.IsDescendantOrSelf(b) {
			return true
		}
	}
	return false
}

// Strings converts a slice of DNs to their string forms.
func Strings(ds []DN) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
