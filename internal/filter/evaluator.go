package filter

import (
	"bytes"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/schema"
)

// Evaluator evaluates LDAP search filters against entries.
type Evaluator struct {
	schema *schema.Schema
}

// NewEvaluator creates a new filter evaluator with the given schema.
// The schema resolves attribute aliases and matching rules. If nil, default
// case-insensitive string matching is used.
func NewEvaluator(s *schema.Schema) *Evaluator {
	return &Evaluator{
		schema: s,
	}
}

// Evaluate tests whether an entry matches a filter.
func (e *Evaluator) Evaluate(filter *Filter, entry *Entry) bool {
	if filter == nil || entry == nil {
		return false
	}

	switch filter.Type {
	case FilterAnd:
		// Empty AND matches everything.
		for _, child := range filter.Children {
			if !e.Evaluate(child, entry) {
				return false
			}
		}
		return true
	case FilterOr:
		for _, child := range filter.Children {
			if e.Evaluate(child, entry) {
				return true
			}
		}
		return false
	case FilterNot:
		return filter.Child != nil && !e.Evaluate(filter.Child, entry)
	case FilterEquality:
		return e.anyValue(filter.Attribute, entry, func(v []byte) bool {
			return matchEquality(v, filter.Value)
		})
	case FilterSubstring:
		sf := filter.Substring
		if sf == nil {
			return false
		}
		return e.anyValue(sf.Attribute, entry, func(v []byte) bool {
			return matchSubstring(v, sf.Initial, sf.Any, sf.Final)
		})
	case FilterPresent:
		return len(e.getAttributeValues(filter.Attribute, entry)) > 0
	case FilterGreaterOrEqual:
		return e.anyValue(filter.Attribute, entry, func(v []byte) bool {
			return matchGreaterOrEqual(v, filter.Value)
		})
	case FilterLessOrEqual:
		return e.anyValue(filter.Attribute, entry, func(v []byte) bool {
			return matchLessOrEqual(v, filter.Value)
		})
	case FilterApproxMatch:
		return e.anyValue(filter.Attribute, entry, func(v []byte) bool {
			return matchApprox(v, filter.Value)
		})
	case FilterExtensibleMatch:
		return e.evaluateExtensible(filter, entry)
	default:
		return false
	}
}

func (e *Evaluator) anyValue(attr string, entry *Entry, match func([]byte) bool) bool {
	for _, v := range e.getAttributeValues(attr, entry) {
		if match(v) {
			return true
		}
	}
	return false
}

// evaluateExtensible applies the filter's matching rule, or the attribute's
// default equality rule, to the attribute values and optionally to the
// values of the entry's DN.
func (e *Evaluator) evaluateExtensible(f *Filter, entry *Entry) bool {
	ruleName := f.MatchingRule
	if ruleName == "" {
		ruleName = e.schema.DefaultEqualityRule(f.Attribute)
	}
	match := e.ruleMatcher(ruleName, f.Value)

	if f.Attribute != "" {
		if e.anyValue(f.Attribute, entry, match) {
			return true
		}
	} else {
		for _, values := range entry.Attributes {
			for _, v := range values {
				if match(v) {
					return true
				}
			}
		}
	}

	if !f.DNAttributes {
		return false
	}
	d, err := dn.Parse(entry.DN)
	if err != nil {
		return false
	}
	for ; !d.IsRoot(); d = d.Parent() {
		rdn := d.RDN()
		eq := strings.IndexByte(rdn, '=')
		if f.Attribute != "" && !e.sameAttribute(rdn[:eq], f.Attribute) {
			continue
		}
		if match([]byte(rdn[eq+1:])) {
			return true
		}
	}
	return false
}

func (e *Evaluator) ruleMatcher(ruleName string, assertion []byte) func([]byte) bool {
	mr := e.schema.GetMatchingRule(ruleName)
	if mr == nil {
		return func(v []byte) bool { return matchEquality(v, assertion) }
	}

	switch mr.Kind {
	case schema.RuleOrdering:
		if mr.CaseSensitive {
			return func(v []byte) bool { return bytes.Compare(v, assertion) < 0 }
		}
		return func(v []byte) bool { return !matchGreaterOrEqual(v, assertion) }
	case schema.RuleSubstring:
		parts := bytes.Split(assertion, []byte("*"))
		initial, final := parts[0], parts[len(parts)-1]
		var middle [][]byte
		if len(parts) > 2 {
			middle = parts[1 : len(parts)-1]
		}
		if len(parts) == 1 {
			final = nil
		}
		return func(v []byte) bool { return matchSubstring(v, initial, middle, final) }
	default:
		if mr.CaseSensitive {
			return func(v []byte) bool { return matchEqualityExact(v, assertion) }
		}
		return func(v []byte) bool { return matchEquality(v, assertion) }
	}
}

// getAttributeValues retrieves attribute values from an entry.
// Performs case-insensitive and alias-aware attribute name lookup.
func (e *Evaluator) getAttributeValues(attr string, entry *Entry) [][]byte {
	if values, ok := entry.Attributes[attr]; ok {
		return values
	}
	for name, values := range entry.Attributes {
		if e.sameAttribute(name, attr) {
			return values
		}
	}
	return nil
}

func (e *Evaluator) sameAttribute(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return e.schema != nil && e.schema.CanonicalName(a) == e.schema.CanonicalName(b)
}
