package backend

import (
	"context"
	"io"

	"github.com/KilimcininKorOglu/obadir/internal/backup"
	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Backend is a unit of directory storage serving one or more base DNs.
type Backend interface {
	Hierarchy

	// State returns the lifecycle state.
	State() State
	// Configure validates cfg and applies it. It never touches stored data.
	Configure(cfg *config.BackendConfig) error
	// IsConfigurationAcceptable validates cfg without applying it.
	IsConfigurationAcceptable(cfg *config.BackendConfig) []error
	// Open attaches the store. Open on an open backend is a no-op.
	Open(ctx context.Context) error
	// Close cancels persistent searches and releases the store. It is
	// idempotent and logs rather than returns failures.
	Close()

	// Writability returns the configured writability mode.
	Writability() WritabilityMode
	// IsPrivate reports whether the backend holds server-internal data.
	IsPrivate() bool
	// Supports reports whether the backend has the given capability.
	Supports(c Capability) bool
	// Capabilities returns every capability the backend has.
	Capabilities() Capability
	// IsIndexed reports whether attr has an index of the given kind.
	IsIndexed(attr string, kind filter.IndexType) bool
	// IsFilterIndexed reports whether f can be served from indexes.
	IsFilterIndexed(f *filter.Filter) bool

	Get(ctx context.Context, d dn.DN) (*storage.Entry, error)
	Exists(ctx context.Context, d dn.DN) (bool, error)
	Add(ctx context.Context, op OpContext, e *storage.Entry) error
	Delete(ctx context.Context, op OpContext, d dn.DN) error
	Replace(ctx context.Context, op OpContext, e *storage.Entry) error
	Rename(ctx context.Context, op OpContext, req RenameRequest) error
	Search(ctx context.Context, req SearchRequest, sink EntrySink) error

	HasSubordinates(ctx context.Context, d dn.DN) (ConditionResult, error)
	NumberOfChildren(ctx context.Context, d dn.DN) (int64, error)
	NumberOfEntriesInBaseDN(ctx context.Context, base dn.DN) (int64, error)
	EntryCount(ctx context.Context) (int64, error)
	SupportedControls() []string
	SupportsControl(oid string) bool
	SupportedFeatures() []string

	// RegisterPersistentSearch registers ps with the backend's registry.
	RegisterPersistentSearch(ps *PersistentSearch) error

	ExportLDIF(ctx context.Context, cfg ExportConfig) (ExportResult, error)
	ImportLDIF(ctx context.Context, cfg ImportConfig) (ImportResult, error)
	Verify(ctx context.Context, cfg VerifyConfig) (storage.VerifyReport, error)
	RebuildIndexes(ctx context.Context, attrs []string) (uint64, error)
	CreateBackup(ctx context.Context, cfg BackupConfig) (*backup.Descriptor, error)
	RemoveBackup(dir, id string) error
	RestoreBackup(ctx context.Context, cfg RestoreConfig) (*backup.Descriptor, error)
}

// EntrySink receives search results. Returning storage.ErrStopScan ends
// the search without error; any other error aborts it and is returned.
type EntrySink func(e *storage.Entry) error

// SearchRequest describes a search.
type SearchRequest struct {
	Base  dn.DN
	Scope storage.Scope
	// Filter selects entries. Nil matches everything.
	Filter *filter.Filter
	// SizeLimit stops the search after that many entries. Zero means no
	// limit.
	SizeLimit int
}

// RenameRequest moves an entry, and its subtree, to a new DN.
type RenameRequest struct {
	DN dn.DN
	// NewRDN is the new leaf RDN, e.g. "uid=bob".
	NewRDN string
	// DeleteOldRDN removes the old RDN value from the entry.
	DeleteOldRDN bool
	// NewSuperior is the new parent. The zero DN keeps the current parent.
	NewSuperior dn.DN
}

// ExportConfig controls ExportLDIF.
type ExportConfig struct {
	Writer io.Writer
	// IncludeBranches limits the export. Empty means the base DNs.
	IncludeBranches []dn.DN
	ExcludeBranches []dn.DN
	// ExcludeAttributes are left out of every entry.
	ExcludeAttributes []string
	// WrapColumn folds long lines. Zero uses the LDIF default and a negative
	// value disables folding.
	WrapColumn int
}

// ExportResult summarizes an export.
type ExportResult struct {
	Exported uint64
	Skipped  uint64
}

// ImportConfig controls ImportLDIF.
type ImportConfig struct {
	Reader io.Reader
	// IncludeBranches limits the import. Empty means the base DNs.
	IncludeBranches []dn.DN
	// ExcludeBranches are skipped, typically the base DNs of subordinate
	// backends.
	ExcludeBranches []dn.DN
	// Rejects, if set, receives every rejected entry preceded by a comment
	// naming the reason.
	Rejects io.Writer
	// ReplaceExisting overwrites entries that already exist instead of
	// rejecting them.
	ReplaceExisting bool
	// MaxEntriesPerSecond throttles the import. Zero disables throttling.
	MaxEntriesPerSecond int
}

// ImportResult summarizes an import.
type ImportResult struct {
	Read     uint64
	Imported uint64
	Skipped  uint64
	Rejected uint64
}

// VerifyConfig controls Verify.
type VerifyConfig struct {
	// Attributes limits verification. Empty means every indexed attribute.
	Attributes []string
}

// BackupConfig controls CreateBackup.
type BackupConfig struct {
	Directory string
	// ID names the backup. Empty generates one.
	ID string
	// CompressionLevel is a zstd level. Zero uses the default.
	CompressionLevel int
}

// RestoreConfig controls RestoreBackup.
type RestoreConfig struct {
	Directory string
	// ID names the backup. Empty restores the latest.
	ID string
	// VerifyOnly checks the archive without loading it.
	VerifyOnly bool
}
