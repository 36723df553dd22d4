package storage

import (
	"sort"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/filter"
)

// Entry represents an LDAP entry stored in an engine.
type Entry struct {
	// DN is the distinguished name of the entry.
	DN string
	// Attributes contains the entry's attribute values, keyed by lower-case
	// attribute name.
	Attributes map[string][][]byte
}

// NewEntry creates a new Entry with the given DN.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}
}

// GetAttribute returns the values for the given attribute name.
func (e *Entry) GetAttribute(name string) [][]byte {
	if e.Attributes == nil {
		return nil
	}
	return e.Attributes[strings.ToLower(name)]
}

// GetFirst returns the first value of the attribute as a string.
func (e *Entry) GetFirst(name string) string {
	values := e.GetAttribute(name)
	if len(values) == 0 {
		return ""
	}
	return string(values[0])
}

// HasAttribute returns true if the entry has the given attribute.
func (e *Entry) HasAttribute(name string) bool {
	return len(e.GetAttribute(name)) > 0
}

// SetAttribute sets the values for the given attribute name. Setting no
// values removes the attribute.
func (e *Entry) SetAttribute(name string, values ...[]byte) {
	if e.Attributes == nil {
		e.Attributes = make(map[string][][]byte)
	}
	name = strings.ToLower(name)
	if len(values) == 0 {
		delete(e.Attributes, name)
		return
	}
	e.Attributes[name] = values
}

// SetStringAttribute sets string values for the given attribute name.
func (e *Entry) SetStringAttribute(name string, values ...string) {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	e.SetAttribute(name, byteValues...)
}

// AddAttributeValue adds a value to the given attribute.
func (e *Entry) AddAttributeValue(name string, value []byte) {
	if e.Attributes == nil {
		e.Attributes = make(map[string][][]byte)
	}
	name = strings.ToLower(name)
	e.Attributes[name] = append(e.Attributes[name], value)
}

// AttributeNames returns the entry's attribute names in sorted order.
func (e *Entry) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name := range e.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone creates a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}

	clone := &Entry{
		DN:         e.DN,
		Attributes: make(map[string][][]byte, len(e.Attributes)),
	}

	for k, v := range e.Attributes {
		values := make([][]byte, len(v))
		for i, val := range v {
			values[i] = make([]byte, len(val))
			copy(values[i], val)
		}
		clone.Attributes[k] = values
	}

	return clone
}

// FilterEntry returns a view of the entry for filter evaluation. The view
// shares the attribute map.
func (e *Entry) FilterEntry() *filter.Entry {
	return &filter.Entry{DN: e.DN, Attributes: e.Attributes}
}
