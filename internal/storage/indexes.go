package storage

import (
	"sort"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/filter"
)

// IndexKey identifies one posting list: an attribute's index of a kind, or
// its index for a matching rule when Rule is set, and a key within it.
type IndexKey struct {
	Attribute string
	Kind      filter.IndexType
	Rule      string
	Key       string
}

// IndexSet is the set of indexes an engine maintains. It is immutable
// once built.
type IndexSet struct {
	specs []IndexSpec
	kinds map[string]map[filter.IndexType]struct{}
	rules map[string]map[string]struct{}
	count int
}

// NewIndexSet builds an index set from specs. Attribute and rule names are
// lower-cased; repeated specs for one attribute are merged.
func NewIndexSet(specs []IndexSpec) *IndexSet {
	s := &IndexSet{
		kinds: make(map[string]map[filter.IndexType]struct{}),
		rules: make(map[string]map[string]struct{}),
	}
	for _, spec := range specs {
		attr := strings.ToLower(strings.TrimSpace(spec.Attribute))
		if attr == "" {
			continue
		}
		for _, k := range spec.Types {
			if s.kinds[attr] == nil {
				s.kinds[attr] = make(map[filter.IndexType]struct{})
			}
			if _, ok := s.kinds[attr][k]; !ok {
				s.kinds[attr][k] = struct{}{}
				s.count++
			}
		}
		for _, r := range spec.Rules {
			r = strings.ToLower(strings.TrimSpace(r))
			if r == "" {
				continue
			}
			if s.rules[attr] == nil {
				s.rules[attr] = make(map[string]struct{})
			}
			if _, ok := s.rules[attr][r]; !ok {
				s.rules[attr][r] = struct{}{}
				s.count++
			}
		}
	}
	for _, attr := range s.Attributes() {
		spec := IndexSpec{Attribute: attr}
		for k := range s.kinds[attr] {
			spec.Types = append(spec.Types, k)
		}
		sort.Slice(spec.Types, func(i, j int) bool { return spec.Types[i] < spec.Types[j] })
		for r := range s.rules[attr] {
			spec.Rules = append(spec.Rules, r)
		}
		sort.Strings(spec.Rules)
		s.specs = append(s.specs, spec)
	}
	return s
}

// IsIndexed reports whether attr has an index of the given kind.
func (s *IndexSet) IsIndexed(attr string, kind filter.IndexType) bool {
	if s == nil {
		return false
	}
	_, ok := s.kinds[strings.ToLower(attr)][kind]
	return ok
}

// IsIndexedByRule reports whether attr has an index for rule.
func (s *IndexSet) IsIndexedByRule(attr, rule string) bool {
	if s == nil {
		return false
	}
	_, ok := s.rules[strings.ToLower(attr)][strings.ToLower(rule)]
	return ok
}

// Has reports whether attr has any index.
func (s *IndexSet) Has(attr string) bool {
	if s == nil {
		return false
	}
	attr = strings.ToLower(attr)
	return len(s.kinds[attr]) > 0 || len(s.rules[attr]) > 0
}

// Count returns the number of indexes, counting each kind and rule of each
// attribute once.
func (s *IndexSet) Count() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Specs returns the merged index specs sorted by attribute.
func (s *IndexSet) Specs() []IndexSpec {
	if s == nil {
		return nil
	}
	return s.specs
}

// Attributes returns the indexed attribute names in sorted order.
func (s *IndexSet) Attributes() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.kinds)+len(s.rules))
	for a := range s.kinds {
		seen[a] = struct{}{}
	}
	for a := range s.rules {
		seen[a] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// EntryKeys returns every index key e contributes. When only is non-empty
// the keys are restricted to those attributes.
func (s *IndexSet) EntryKeys(e *Entry, only []string) []IndexKey {
	if s == nil || e == nil {
		return nil
	}
	var filterSet map[string]struct{}
	if len(only) > 0 {
		filterSet = make(map[string]struct{}, len(only))
		for _, a := range only {
			filterSet[strings.ToLower(a)] = struct{}{}
		}
	}

	seen := make(map[IndexKey]struct{})
	var keys []IndexKey
	add := func(k IndexKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, spec := range s.specs {
		if filterSet != nil {
			if _, ok := filterSet[spec.Attribute]; !ok {
				continue
			}
		}
		values := e.GetAttribute(spec.Attribute)
		if len(values) == 0 {
			continue
		}
		for _, kind := range spec.Types {
			for _, v := range values {
				for _, key := range IndexKeys(kind, v) {
					add(IndexKey{Attribute: spec.Attribute, Kind: kind, Key: key})
				}
			}
		}
		for _, rule := range spec.Rules {
			for _, v := range values {
				add(IndexKey{Attribute: spec.Attribute, Rule: rule, Key: RuleKey(v)})
			}
		}
	}
	return keys
}

// DiffKeys returns the keys present in newKeys but not oldKeys, and the
// keys present in oldKeys but not newKeys.
func DiffKeys(oldKeys, newKeys []IndexKey) (added, removed []IndexKey) {
	oldSet := make(map[IndexKey]struct{}, len(oldKeys))
	for _, k := range oldKeys {
		oldSet[k] = struct{}{}
	}
	newSet := make(map[IndexKey]struct{}, len(newKeys))
	for _, k := range newKeys {
		newSet[k] = struct{}{}
		if _, ok := oldSet[k]; !ok {
			added = append(added, k)
		}
	}
	for _, k := range oldKeys {
		if _, ok := newSet[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
