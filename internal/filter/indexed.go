package filter

import (
	"fmt"
	"strings"
)

// IndexType identifies the kind of attribute index a storage engine keeps.
type IndexType int

const (
	// IndexEquality supports (attr=value).
	IndexEquality IndexType = iota
	// IndexPresence supports (attr=*).
	IndexPresence
	// IndexSubstring supports (attr=*value*).
	IndexSubstring
	// IndexOrdering supports (attr>=value) and (attr<=value).
	IndexOrdering
	// IndexApproximate supports (attr~=value).
	IndexApproximate
)

// String returns the configuration name of the index type.
func (t IndexType) String() string {
	switch t {
	case IndexEquality:
		return "equality"
	case IndexPresence:
		return "presence"
	case IndexSubstring:
		return "substring"
	case IndexOrdering:
		return "ordering"
	case IndexApproximate:
		return "approximate"
	default:
		return "unknown"
	}
}

// ParseIndexType parses an index type name as used in configuration.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equality", "eq":
		return IndexEquality, nil
	case "presence", "pres":
		return IndexPresence, nil
	case "substring", "sub":
		return IndexSubstring, nil
	case "ordering":
		return IndexOrdering, nil
	case "approximate", "approx":
		return IndexApproximate, nil
	}
	return 0, fmt.Errorf("filter: unknown index type %q", s)
}

// IndexTypeFor returns the index kind that serves a leaf filter type.
func IndexTypeFor(ft FilterType) (IndexType, bool) {
	switch ft {
	case FilterEquality:
		return IndexEquality, true
	case FilterPresent:
		return IndexPresence, true
	case FilterSubstring:
		return IndexSubstring, true
	case FilterGreaterOrEqual, FilterLessOrEqual:
		return IndexOrdering, true
	case FilterApproxMatch:
		return IndexApproximate, true
	}
	return 0, false
}

// CapabilityLookup reports which attribute indexes a backend maintains.
// Attribute and rule arguments are canonical, lower-cased names.
type CapabilityLookup interface {
	IsIndexed(attr string, kind IndexType) bool
	IsIndexedByRule(attr, rule string) bool
}

// AttributeResolver canonicalizes attribute and matching rule names.
// *schema.Schema implements it.
type AttributeResolver interface {
	CanonicalName(attr string) string
	CanonicalRule(rule string) string
	DefaultEqualityRule(attr string) string
}

// IsIndexed reports whether a search using f can be narrowed by the
// backend's indexes instead of scanning every entry under the base.
//
// An AND is indexed if any child is. An OR is indexed only if it is
// non-empty and every child is. A NOT is never indexed. Unknown filter
// types are never indexed.
func IsIndexed(f *Filter, caps CapabilityLookup, attrs AttributeResolver) bool {
	if f == nil || caps == nil {
		return false
	}

	switch f.Type {
	case FilterAnd:
		for _, c := range f.Children {
			if IsIndexed(c, caps, attrs) {
				return true
			}
		}
		return false

	case FilterOr:
		if len(f.Children) == 0 {
			return false
		}
		for _, c := range f.Children {
			if !IsIndexed(c, caps, attrs) {
				return false
			}
		}
		return true

	case FilterNot:
		return false

	case FilterExtensibleMatch:
		// DN components are not in attribute indexes.
		if f.Attribute == "" || f.DNAttributes {
			return false
		}
		attr := canonicalAttr(f.Attribute, attrs)
		var rule string
		switch {
		case f.MatchingRule != "" && attrs != nil:
			rule = attrs.CanonicalRule(f.MatchingRule)
		case f.MatchingRule != "":
			rule = strings.ToLower(f.MatchingRule)
		case attrs != nil:
			rule = attrs.DefaultEqualityRule(f.Attribute)
		}
		if rule == "" {
			return false
		}
		return caps.IsIndexedByRule(attr, rule)
	}

	kind, ok := IndexTypeFor(f.Type)
	if !ok {
		return false
	}
	attr := f.Attribute
	if f.Type == FilterSubstring && f.Substring != nil && attr == "" {
		attr = f.Substring.Attribute
	}
	if attr == "" {
		return false
	}
	return caps.IsIndexed(canonicalAttr(attr, attrs), kind)
}

func canonicalAttr(attr string, attrs AttributeResolver) string {
	if attrs == nil {
		return strings.ToLower(strings.TrimSpace(attr))
	}
	return attrs.CanonicalName(attr)
}
