package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/KilimcininKorOglu/obadir/internal/backup"
	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/ldif"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// importProgressEvery is how often ImportLDIF logs progress, in entries.
const importProgressEvery = 10000

// gate checks that an administrative operation needing c may run.
func (b *Local) gate(c Capability) error {
	switch b.State() {
	case StateUnconfigured:
		return &ConfigError{BackendID: b.ID(), Errs: []error{ErrNotConfigured}}
	case StateClosed:
		return ErrClosed
	}
	if !b.Supports(c) {
		return &UnsupportedError{BackendID: b.ID(), Capability: c}
	}
	return nil
}

// withStore runs fn against the backend's engine. A configured backend that
// is not open gets a fresh engine for the duration of fn; online reports
// which case applies.
func (b *Local) withStore(ctx context.Context, c Capability, fn func(engine storage.Engine, online bool) error) error {
	if err := b.gate(c); err != nil {
		return err
	}
	if b.State() == StateOpen {
		engine, err := b.store()
		if err != nil {
			return err
		}
		return fn(engine, true)
	}

	b.mu.RLock()
	cfg := *b.cfg
	b.mu.RUnlock()
	engine, err := b.factory(&cfg, EngineOptions{Schema: b.schema, Logger: b.logger})
	if err != nil {
		return &ConfigError{BackendID: b.ID(), Errs: []error{err}}
	}
	if err := engine.Open(ctx); err != nil {
		return &InitError{BackendID: b.ID(), Err: err}
	}
	defer func() {
		if err := engine.Close(); err != nil {
			b.logger.Error("failed to close offline storage engine", "error", err)
		}
	}()
	return fn(engine, false)
}

// ExportLDIF writes the entries under cfg.IncludeBranches, minus
// cfg.ExcludeBranches, to cfg.Writer.
func (b *Local) ExportLDIF(ctx context.Context, cfg ExportConfig) (res ExportResult, err error) {
	defer func(start time.Time) { observe(b.ID(), "exportLDIF", start, err) }(time.Now())

	if cfg.Writer == nil {
		return res, errors.New("backend: export requires a writer")
	}
	err = b.withStore(ctx, CapLDIFExport, func(engine storage.Engine, _ bool) error {
		include := cfg.IncludeBranches
		if len(include) == 0 {
			include = b.BaseDNs()
		}
		excluded := make([]string, 0, len(cfg.ExcludeAttributes))
		for _, a := range cfg.ExcludeAttributes {
			excluded = append(excluded, b.schema.CanonicalName(a))
		}
		opts := []ldif.WriterOption{ldif.WithExcludedAttributes(excluded...)}
		if cfg.WrapColumn != 0 {
			opts = append(opts, ldif.WithWrapColumn(cfg.WrapColumn))
		}
		w := ldif.NewWriter(cfg.Writer, opts...)

		for _, base := range b.BaseDNs() {
			err := engine.Scan(ctx, base, storage.ScopeSubtree, func(e *storage.Entry) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				d, err := dn.Parse(e.DN)
				if err != nil || !HandlesEntry(d, include, cfg.ExcludeBranches) {
					res.Skipped++
					return nil
				}
				if err := w.Write(e); err != nil {
					return fmt.Errorf("backend: write %q: %w", e.DN, err)
				}
				res.Exported++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return w.Flush()
	})
	if err != nil {
		return res, canceled(err)
	}
	b.logger.Info("LDIF export finished", "exported", res.Exported, "skipped", res.Skipped)
	return res, nil
}

// ImportLDIF reads entries from cfg.Reader and stores those under
// cfg.IncludeBranches and outside cfg.ExcludeBranches. Malformed records,
// existing entries (unless cfg.ReplaceExisting) and entries without a
// parent are rejected and, if cfg.Rejects is set, written there.
func (b *Local) ImportLDIF(ctx context.Context, cfg ImportConfig) (res ImportResult, err error) {
	defer func(start time.Time) { observe(b.ID(), "importLDIF", start, err) }(time.Now())

	if cfg.Reader == nil {
		return res, errors.New("backend: import requires a reader")
	}
	err = b.withStore(ctx, CapLDIFImport, func(engine storage.Engine, online bool) error {
		include := cfg.IncludeBranches
		if len(include) == 0 {
			include = b.BaseDNs()
		}
		var limiter *rate.Limiter
		if cfg.MaxEntriesPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.MaxEntriesPerSecond), cfg.MaxEntriesPerSecond)
		}
		var rejects *ldif.Writer
		if cfg.Rejects != nil {
			rejects = ldif.NewWriter(cfg.Rejects)
		}
		reject := func(e *storage.Entry, reason error) error {
			res.Rejected++
			b.logger.Debug("LDIF entry rejected", "reason", reason)
			if rejects == nil {
				return nil
			}
			if err := rejects.WriteComment(reason.Error()); err != nil {
				return err
			}
			if e != nil {
				return rejects.Write(e)
			}
			return nil
		}

		r := ldif.NewReader(cfg.Reader)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			var perr *ldif.ParseError
			if errors.As(err, &perr) {
				res.Read++
				if err := reject(nil, perr); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			res.Read++
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}

			change, err := b.importEntry(ctx, engine, entry, include, cfg)
			switch {
			case errors.Is(err, errSkip):
				res.Skipped++
				continue
			case errors.Is(err, ErrStorage):
				return err
			case errors.Is(err, ErrOperation):
				if err := reject(entry, err); err != nil {
					return err
				}
				continue
			case err != nil:
				return err
			}
			res.Imported++
			if online {
				b.notify(change)
			}
			if res.Read%importProgressEvery == 0 {
				b.logger.Info("LDIF import progress", "read", res.Read, "imported", res.Imported)
			}
		}
		if rejects != nil {
			return rejects.Flush()
		}
		return nil
	})
	if err != nil {
		return res, canceled(err)
	}
	b.logger.Info("LDIF import finished",
		"read", res.Read,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"rejected", res.Rejected,
	)
	return res, nil
}

var errSkip = errors.New("skip")

// importEntry stores one imported entry. Rejections are *OperationError.
func (b *Local) importEntry(ctx context.Context, engine storage.Engine, entry *storage.Entry, include []dn.DN, cfg ImportConfig) (Change, error) {
	d, err := dn.Parse(entry.DN)
	if err != nil {
		return Change{}, opError("import", entry.DN, ErrInvalidDN, err)
	}
	if !HandlesEntry(d, include, cfg.ExcludeBranches) {
		return Change{}, errSkip
	}
	existing, err := b.lookup(ctx, engine, "import", d)
	if err != nil {
		return Change{}, err
	}
	if existing != nil && !cfg.ReplaceExisting {
		return Change{}, opError("import", entry.DN, ErrEntryExists, nil)
	}
	if existing == nil && !b.isBase(d) {
		parent, err := b.lookup(ctx, engine, "import", d.Parent())
		if err != nil {
			return Change{}, err
		}
		if parent == nil {
			return Change{}, opError("import", entry.DN, ErrNoParent, nil)
		}
	}

	stored := canonicalEntry(entry, entry.DN, b.schema)
	stampCreate(stored, b.now())
	if err := engine.Put(ctx, stored); err != nil {
		return Change{}, storeErr("import", entry.DN, err)
	}
	if existing != nil {
		return Change{Type: ChangeModify, Entry: stored}, nil
	}
	return Change{Type: ChangeAdd, Entry: stored}, nil
}

// Verify checks the indexes of cfg.Attributes, or of every indexed
// attribute, against the stored entries.
func (b *Local) Verify(ctx context.Context, cfg VerifyConfig) (report storage.VerifyReport, err error) {
	defer func(start time.Time) { observe(b.ID(), "verify", start, err) }(time.Now())

	err = b.withStore(ctx, CapIndexing, func(engine storage.Engine, _ bool) error {
		ix, ok := engine.(storage.Indexer)
		if !ok {
			return &UnsupportedError{BackendID: b.ID(), Capability: CapIndexing}
		}
		var err error
		report, err = ix.VerifyIndexes(ctx, b.canonicalNames(cfg.Attributes))
		return err
	})
	if err != nil {
		return report, canceled(err)
	}
	b.logger.Info("index verification finished",
		"entries", report.EntriesChecked,
		"missing", report.Missing,
		"dangling", report.Dangling,
	)
	return report, nil
}

// RebuildIndexes recomputes the indexes of attrs, or of every indexed
// attribute, and returns the number of entries processed.
func (b *Local) RebuildIndexes(ctx context.Context, attrs []string) (n uint64, err error) {
	defer func(start time.Time) { observe(b.ID(), "rebuildIndexes", start, err) }(time.Now())

	err = b.withStore(ctx, CapIndexing, func(engine storage.Engine, _ bool) error {
		ix, ok := engine.(storage.Indexer)
		if !ok {
			return &UnsupportedError{BackendID: b.ID(), Capability: CapIndexing}
		}
		var err error
		n, err = ix.RebuildIndexes(ctx, b.canonicalNames(attrs))
		return err
	})
	if err != nil {
		return n, canceled(err)
	}
	b.logger.Info("index rebuild finished", "entries", n, "attributes", attrs)
	return n, nil
}

func (b *Local) canonicalNames(attrs []string) []string {
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, b.schema.CanonicalName(a))
	}
	return out
}

func (b *Local) backupManager(dir string, level int) *backup.Manager {
	format := ""
	if cfg := b.Config(); cfg != nil {
		format = cfg.Type
	}
	return backup.NewManager(dir,
		backup.WithCompressionLevel(level),
		backup.WithFormat(format),
		backup.WithLogger(b.logger),
	)
}

// CreateBackup writes a snapshot of the store to cfg.Directory.
func (b *Local) CreateBackup(ctx context.Context, cfg BackupConfig) (desc *backup.Descriptor, err error) {
	defer func(start time.Time) { observe(b.ID(), "createBackup", start, err) }(time.Now())

	err = b.withStore(ctx, CapBackup, func(engine storage.Engine, _ bool) error {
		snap, ok := engine.(storage.Snapshotter)
		if !ok {
			return &UnsupportedError{BackendID: b.ID(), Capability: CapBackup}
		}
		var err error
		desc, err = b.backupManager(cfg.Directory, cfg.CompressionLevel).Create(ctx, b.ID(), cfg.ID, func(w io.Writer) (uint64, error) {
			return snap.Snapshot(ctx, w)
		})
		return err
	})
	if err != nil {
		return nil, canceled(err)
	}
	return desc, nil
}

// RemoveBackup deletes backup id from dir.
func (b *Local) RemoveBackup(dir, id string) (err error) {
	defer func(start time.Time) { observe(b.ID(), "removeBackup", start, err) }(time.Now())

	if err := b.gate(CapBackup); err != nil {
		return err
	}
	return b.backupManager(dir, 0).Remove(b.ID(), id)
}

// RestoreBackup replaces the store's contents with backup cfg.ID, or the
// latest backup when cfg.ID is empty. With cfg.VerifyOnly the archive is
// checked and the store is left alone.
func (b *Local) RestoreBackup(ctx context.Context, cfg RestoreConfig) (desc *backup.Descriptor, err error) {
	defer func(start time.Time) { observe(b.ID(), "restoreBackup", start, err) }(time.Now())

	if err := b.gate(CapRestore); err != nil {
		return nil, err
	}
	mgr := b.backupManager(cfg.Directory, 0)
	id := cfg.ID
	if id == "" {
		latest, err := mgr.Latest(b.ID())
		if err != nil {
			return nil, err
		}
		id = latest.ID
	}
	if cfg.VerifyOnly {
		desc, err = mgr.Verify(ctx, b.ID(), id)
		return desc, canceled(err)
	}

	err = b.withStore(ctx, CapRestore, func(engine storage.Engine, online bool) error {
		snap, ok := engine.(storage.Snapshotter)
		if !ok {
			return &UnsupportedError{BackendID: b.ID(), Capability: CapRestore}
		}
		rc, d, err := mgr.Open(b.ID(), id)
		if err != nil {
			return err
		}
		defer rc.Close()
		if online {
			b.logger.Warn("restoring into an open backend; persistent searches see no changes", "backup", id)
		}
		if err := snap.Restore(ctx, rc); err != nil {
			return err
		}
		desc = d
		return nil
	})
	if err != nil {
		return nil, canceled(err)
	}
	b.logger.Info("backup restored", "backup", id, "entries", desc.EntryCount)
	return desc, nil
}
