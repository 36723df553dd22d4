package backend

import (
	"fmt"
	"strings"
)

// State is a backend lifecycle state. States only move forward.
type State int32

// Lifecycle states.
const (
	StateUnconfigured State = iota
	StateConfigured
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Capability is a set of administrative operations a backend supports.
type Capability uint8

// Capabilities.
const (
	CapIndexing Capability = 1 << iota
	CapLDIFExport
	CapLDIFImport
	CapBackup
	CapRestore
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapIndexing, "indexing"},
	{CapLDIFExport, "ldif-export"},
	{CapLDIFImport, "ldif-import"},
	{CapBackup, "backup"},
	{CapRestore, "restore"},
}

// Has reports whether every capability in o is in c.
func (c Capability) Has(o Capability) bool {
	return o != 0 && c&o == o
}

// Names lists the capability names in c.
func (c Capability) Names() []string {
	var names []string
	for _, cn := range capabilityNames {
		if c&cn.c != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Names(), ",")
}

// WritabilityMode controls which writes a backend accepts.
type WritabilityMode int

// Writability modes.
const (
	// WritabilityEnabled accepts all writes.
	WritabilityEnabled WritabilityMode = iota
	// WritabilityDisabled rejects all writes.
	WritabilityDisabled
	// WritabilityInternalOnly accepts only internal writes.
	WritabilityInternalOnly
)

func (m WritabilityMode) String() string {
	switch m {
	case WritabilityEnabled:
		return "enabled"
	case WritabilityDisabled:
		return "disabled"
	case WritabilityInternalOnly:
		return "internal-only"
	default:
		return "unknown"
	}
}

// ParseWritability parses a configured writability mode. The empty string
// means enabled.
func ParseWritability(s string) (WritabilityMode, error) {
	switch strings.ToLower(s) {
	case "", "enabled":
		return WritabilityEnabled, nil
	case "disabled":
		return WritabilityDisabled, nil
	case "internal-only":
		return WritabilityInternalOnly, nil
	}
	return 0, fmt.Errorf("backend: unknown writability mode %q", s)
}

// Allows reports whether a write with the given origin is accepted.
func (m WritabilityMode) Allows(internal bool) bool {
	switch m {
	case WritabilityEnabled:
		return true
	case WritabilityInternalOnly:
		return internal
	default:
		return false
	}
}

// ConditionResult is a three-valued answer.
type ConditionResult int

// Condition results.
const (
	ConditionUndefined ConditionResult = iota
	ConditionTrue
	ConditionFalse
)

func (r ConditionResult) String() string {
	switch r {
	case ConditionTrue:
		return "TRUE"
	case ConditionFalse:
		return "FALSE"
	default:
		return "UNDEFINED"
	}
}

func conditionOf(b bool) ConditionResult {
	if b {
		return ConditionTrue
	}
	return ConditionFalse
}

// OpContext describes the origin of a write.
type OpContext struct {
	// Internal marks writes issued by the server itself, such as
	// replication or configuration changes.
	Internal bool
	// RequestID correlates log lines. Empty means none.
	RequestID string
}

// Control and feature OIDs.
const (
	// PersistentSearchOID is the persistent search request control.
	PersistentSearchOID = "2.16.840.1.113730.3.4.3"
	// EntryChangeNotificationOID is the entry change notification response
	// control.
	EntryChangeNotificationOID = "2.16.840.1.113730.3.4.7"
	// AllOperationalAttributesOID advertises "+" in attribute lists (RFC 3673).
	AllOperationalAttributesOID = "1.3.6.1.4.1.4203.1.5.1"
)
