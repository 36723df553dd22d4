package schema

import (
	"sort"
	"strings"
	"sync"
)

// Schema is a registry of attribute types and matching rules. Lookups are
// case-insensitive and accept any registered name, alias or OID.
type Schema struct {
	mu             sync.RWMutex
	attributeTypes map[string]*AttributeType
	matchingRules  map[string]*MatchingRule
}

// MatchingRule defines how attribute values are compared.
type MatchingRule struct {
	OID   string
	Name  string
	Names []string // Aliases
	Kind  RuleKind
	// CaseSensitive is true for the caseExact family of rules.
	CaseSensitive bool
}

// RuleKind classifies a matching rule by the assertion it evaluates.
type RuleKind int

const (
	RuleEquality RuleKind = iota
	RuleOrdering
	RuleSubstring
)

// NewSchema creates an empty registry.
func NewSchema() *Schema {
	return &Schema{
		attributeTypes: make(map[string]*AttributeType),
		matchingRules:  make(map[string]*MatchingRule),
	}
}

// AddAttributeType registers an attribute type under its OID and all names.
func (s *Schema) AddAttributeType(at *AttributeType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.OID != "" {
		s.attributeTypes[at.OID] = at
	}
	for _, n := range at.allNames() {
		s.attributeTypes[strings.ToLower(n)] = at
	}
}

// AddMatchingRule registers a matching rule under its OID and all names.
func (s *Schema) AddMatchingRule(mr *MatchingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mr.OID != "" {
		s.matchingRules[mr.OID] = mr
	}
	if mr.Name != "" {
		s.matchingRules[strings.ToLower(mr.Name)] = mr
	}
	for _, n := range mr.Names {
		s.matchingRules[strings.ToLower(n)] = mr
	}
}

// GetAttributeType retrieves an attribute type by name, alias or OID.
// Returns nil if not found.
func (s *Schema) GetAttributeType(nameOrOID string) *AttributeType {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupAttribute(nameOrOID)
}

func (s *Schema) lookupAttribute(nameOrOID string) *AttributeType {
	if at, ok := s.attributeTypes[nameOrOID]; ok {
		return at
	}
	return s.attributeTypes[strings.ToLower(strings.TrimSpace(nameOrOID))]
}

// GetMatchingRule retrieves a matching rule by name, alias or OID.
// Returns nil if not found.
func (s *Schema) GetMatchingRule(nameOrOID string) *MatchingRule {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mr, ok := s.matchingRules[nameOrOID]; ok {
		return mr
	}
	return s.matchingRules[strings.ToLower(strings.TrimSpace(nameOrOID))]
}

// CanonicalName returns the lower-cased primary name of the attribute type.
// Unknown attributes are returned lower-cased so that callers can still key
// on them consistently.
func (s *Schema) CanonicalName(attr string) string {
	if at := s.GetAttributeType(attr); at != nil {
		return strings.ToLower(at.Name)
	}
	return strings.ToLower(strings.TrimSpace(attr))
}

// CanonicalRule returns the lower-cased primary name of a matching rule
// given its name or OID. Unknown rules are returned lower-cased.
func (s *Schema) CanonicalRule(rule string) string {
	if mr := s.GetMatchingRule(rule); mr != nil {
		return strings.ToLower(mr.Name)
	}
	return strings.ToLower(strings.TrimSpace(rule))
}

// DefaultEqualityRule returns the canonical equality matching rule of attr,
// following SUP links. It returns "" for unknown attributes and attributes
// without equality matching.
func (s *Schema) DefaultEqualityRule(attr string) string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := s.lookupAttribute(attr)
	seen := make(map[*AttributeType]bool)
	for at != nil && !seen[at] {
		seen[at] = true
		if at.Equality != "" {
			if mr, ok := s.matchingRules[strings.ToLower(at.Equality)]; ok {
				return strings.ToLower(mr.Name)
			}
			return strings.ToLower(at.Equality)
		}
		if at.Superior == "" {
			break
		}
		at = s.lookupAttribute(at.Superior)
	}
	return ""
}

// AttributeTypes returns every registered attribute type once, sorted by name.
func (s *Schema) AttributeTypes() []*AttributeType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[*AttributeType]bool)
	var out []*AttributeType
	for _, at := range s.attributeTypes {
		if !seen[at] {
			seen[at] = true
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
