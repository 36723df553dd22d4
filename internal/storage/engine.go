package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
)

// Engine errors.
var (
	// ErrNotFound is returned when no entry exists for a DN.
	ErrNotFound = errors.New("storage: entry not found")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("storage: engine closed")
	// ErrStopScan may be returned by a scan callback to end the scan early
	// without error.
	ErrStopScan = errors.New("storage: stop scan")
	// ErrCorrupt is returned when stored data cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt record")
)

// Scope represents the LDAP search scope.
type Scope int

// Scope constants.
const (
	// ScopeBase returns only the base entry itself.
	ScopeBase Scope = iota
	// ScopeOneLevel returns only the immediate children of the base entry.
	ScopeOneLevel
	// ScopeSubtree returns the base entry and all its descendants.
	ScopeSubtree
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOneLevel:
		return "one"
	case ScopeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// ParseScope parses "base", "one" or "sub".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "base":
		return ScopeBase, nil
	case "one", "onelevel":
		return ScopeOneLevel, nil
	case "sub", "subtree":
		return ScopeSubtree, nil
	}
	return 0, fmt.Errorf("storage: unknown scope %q", s)
}

// InScope reports whether d is within base at the given scope.
func InScope(d, base dn.DN, scope Scope) bool {
	switch scope {
	case ScopeBase:
		return d.Equal(base)
	case ScopeOneLevel:
		return d.IsDirectChildOf(base)
	case ScopeSubtree:
		return d.IsDescendantOrSelf(base)
	}
	return false
}

// IndexSpec declares the indexes kept for one attribute. Attribute and
// Rules hold canonical, lower-cased names.
type IndexSpec struct {
	Attribute string
	Types     []filter.IndexType
	Rules     []string
}

// EngineStats contains statistics about the storage engine.
type EngineStats struct {
	// EntryCount is the total number of entries.
	EntryCount uint64
	// IndexCount is the number of (attribute, index type) pairs maintained.
	IndexCount int
	// SizeBytes is the engine's estimate of its on-disk or in-memory size.
	SizeBytes int64
}

// Engine is the storage engine adapter used by backends.
//
// Implementations must be safe for concurrent use. Put and Delete are not
// required to serialize writers to the same DN; callers hold a DN write
// lock for that.
type Engine interface {
	// Open attaches to the underlying store.
	Open(ctx context.Context) error
	// Close releases the store. Calling Close twice is not an error.
	Close() error

	// Get returns the entry with the given DN or ErrNotFound.
	Get(ctx context.Context, d dn.DN) (*Entry, error)
	// Put inserts or replaces the entry stored under e.DN.
	Put(ctx context.Context, e *Entry) error
	// Delete removes the entry or returns ErrNotFound.
	Delete(ctx context.Context, d dn.DN) error
	// HasChildren reports whether any entry is immediately below d.
	HasChildren(ctx context.Context, d dn.DN) (bool, error)

	// Scan calls fn for every entry within base at scope. The scan stops at
	// the first error from fn; ErrStopScan ends it without error. Scan
	// returns ctx.Err() when the context is done between entries.
	Scan(ctx context.Context, base dn.DN, scope Scope, fn func(*Entry) error) error

	// IsIndexed reports whether the engine maintains an index of the given
	// kind for attr.
	IsIndexed(attr string, kind filter.IndexType) bool
	// IsIndexedByRule reports whether the engine maintains an index that
	// serves extensible matches of attr with rule.
	IsIndexedByRule(attr, rule string) bool

	// Stats returns statistics about the engine.
	Stats() EngineStats
}

// Indexer is implemented by engines that can narrow searches.
type Indexer interface {
	// Candidates calls fn for every entry within base at scope that may
	// match f. It returns false without calling fn when the filter cannot be
	// narrowed by the engine's indexes.
	Candidates(ctx context.Context, base dn.DN, scope Scope, f *filter.Filter, fn func(*Entry) error) (bool, error)
	// RebuildIndexes recomputes the indexes of the given attributes, or of
	// every indexed attribute when attrs is empty. It returns the number of
	// entries processed.
	RebuildIndexes(ctx context.Context, attrs []string) (uint64, error)
	// VerifyIndexes checks the indexes of the given attributes against the
	// stored entries.
	VerifyIndexes(ctx context.Context, attrs []string) (VerifyReport, error)
}

// VerifyReport summarizes an index verification run.
type VerifyReport struct {
	EntriesChecked uint64
	// Missing counts index keys that should exist but do not.
	Missing uint64
	// Dangling counts index keys that point at entries that do not
	// carry the indexed value.
	Dangling uint64
}

// OK reports whether verification found no problems.
func (r VerifyReport) OK() bool {
	return r.Missing == 0 && r.Dangling == 0
}

// Snapshotter is implemented by engines that can copy their contents to a
// stream and replace their contents from one.
type Snapshotter interface {
	// Snapshot writes a consistent copy of the store to w and returns the
	// number of entries written.
	Snapshot(ctx context.Context, w io.Writer) (uint64, error)
	// Restore replaces the store's contents with a snapshot read from r.
	Restore(ctx context.Context, r io.Reader) error
}
