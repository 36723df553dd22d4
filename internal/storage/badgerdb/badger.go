package badgerdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Key prefixes.
const (
	prefixEntry   = "e/"
	prefixID      = "n/"
	prefixPosting = "x/"
	sequenceKey   = "s/id"
)

const (
	hierarchySep = 0x00
	// maxRetries bounds the attempts of a write that hits a transaction
	// conflict.
	maxRetries = 16
	// sequenceBandwidth is the number of IDs leased from the sequence at a
	// time.
	sequenceBandwidth = 1000
)

// Options configures a Badger engine.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps the database in memory only.
	InMemory bool
	// SyncWrites makes every commit durable before returning.
	SyncWrites bool
	// Indexes lists the attribute indexes to maintain.
	Indexes []storage.IndexSpec
	// Resolver canonicalizes attribute and rule names in filters.
	Resolver filter.AttributeResolver
	// Logger receives Badger's own log output. Nil disables it.
	Logger logging.Logger
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// Engine is a storage engine backed by BadgerDB.
type Engine struct {
	opts    Options
	indexes *storage.IndexSet
	logger  logging.Logger

	// mu guards db, seq and gc against Close and Restore. Data operations
	// hold it for reading.
	mu     sync.RWMutex
	db     *badger.DB
	seq    *badger.Sequence
	gc     *gcRunner
	closed bool

	entries atomic.Int64
}

// Compile-time interface checks.
var (
	_ storage.Engine      = (*Engine)(nil)
	_ storage.Indexer     = (*Engine)(nil)
	_ storage.Snapshotter = (*Engine)(nil)
)

// New creates a Badger engine. It must be opened before use.
func New(opts Options) *Engine {
	if opts.GCDiscardRatio <= 0 || opts.GCDiscardRatio >= 1 {
		opts.GCDiscardRatio = 0.5
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		opts:    opts,
		indexes: storage.NewIndexSet(opts.Indexes),
		logger:  logger,
	}
}

// Open opens the database, creating the directory when needed.
func (e *Engine) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrClosed
	}
	if e.db != nil {
		return nil
	}
	if !e.opts.InMemory && e.opts.Path == "" {
		return errors.New("badgerdb: path is required for a persistent database")
	}

	var bopts badger.Options
	if e.opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(e.opts.Path, 0o750); err != nil {
			return fmt.Errorf("badgerdb: create directory %s: %w", e.opts.Path, err)
		}
		bopts = badger.DefaultOptions(e.opts.Path)
	}
	bopts = bopts.WithSyncWrites(e.opts.SyncWrites).WithNumVersionsToKeep(1)
	if e.opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: e.opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return fmt.Errorf("badgerdb: open: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("badgerdb: sequence: %w", err)
	}
	e.db = db
	e.seq = seq

	n, err := e.countEntries()
	if err != nil {
		_ = seq.Release()
		_ = db.Close()
		e.db, e.seq = nil, nil
		return err
	}
	e.entries.Store(n)

	if e.opts.GCInterval > 0 && !e.opts.InMemory {
		e.gc = newGCRunner(db, e.opts.GCInterval, e.opts.GCDiscardRatio, e.logger)
		e.gc.start()
	}
	return nil
}

// Close stops GC and closes the database. Calling Close again is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.db == nil {
		return nil
	}
	if e.gc != nil {
		e.gc.stop()
		e.gc = nil
	}
	var errs []error
	if e.seq != nil {
		if err := e.seq.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, err)
	}
	e.db, e.seq = nil, nil
	return errors.Join(errs...)
}

// acquire read-locks the engine for a data operation. The returned
// function releases it.
func (e *Engine) acquire() (*badger.DB, func(), error) {
	e.mu.RLock()
	if e.db == nil {
		e.mu.RUnlock()
		return nil, nil, storage.ErrClosed
	}
	return e.db, e.mu.RUnlock, nil
}

func entryKey(d dn.DN) []byte {
	return append([]byte(prefixEntry), d.HierarchyKey(hierarchySep)...)
}

func idKey(id uint32) []byte {
	k := make([]byte, len(prefixID)+4)
	copy(k, prefixID)
	binary.BigEndian.PutUint32(k[len(prefixID):], id)
	return k
}

// subtreePrefix returns the prefix shared by the entry keys of every strict
// descendant of d.
func subtreePrefix(d dn.DN) []byte {
	if d.IsRoot() {
		return []byte(prefixEntry)
	}
	return append(entryKey(d), hierarchySep)
}

func encodeRecord(id uint32, entry *storage.Entry) ([]byte, error) {
	data, err := storage.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, id)
	copy(buf[4:], data)
	return buf, nil
}

func decodeRecord(val []byte) (uint32, *storage.Entry, error) {
	if len(val) < 4 {
		return 0, nil, fmt.Errorf("%w: short record", storage.ErrCorrupt)
	}
	entry, err := storage.DecodeEntry(val[4:])
	if err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint32(val), entry, nil
}

// update runs fn in a read-write transaction, retrying on conflict.
func update(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt+1 >= maxRetries {
			return err
		}
	}
}

// Get returns the entry stored under d.
func (e *Engine) Get(ctx context.Context, d dn.DN) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var entry *storage.Entry
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(d))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			_, entry, err = decodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return entry, err
}

// Put stores entry, replacing any entry with the same DN, and updates the
// posting lists of its indexed attributes.
func (e *Engine) Put(ctx context.Context, entry *storage.Entry) error {
	d, err := dn.Parse(entry.DN)
	if err != nil {
		return err
	}
	db, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	key := entryKey(d)
	newKeys := e.indexes.EntryKeys(entry, nil)
	var created bool

	err = update(ctx, db, func(txn *badger.Txn) error {
		created = false
		var (
			id      uint32
			oldKeys []storage.IndexKey
		)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var old *storage.Entry
			if err := item.Value(func(val []byte) error {
				id, old, err = decodeRecord(val)
				return err
			}); err != nil {
				return err
			}
			oldKeys = e.indexes.EntryKeys(old, nil)
		case errors.Is(err, badger.ErrKeyNotFound):
			if e.seq == nil {
				return storage.ErrClosed
			}
			next, err := e.seq.Next()
			if err != nil {
				return err
			}
			// Sequence values start at zero; IDs start at one.
			id = uint32(next + 1)
			created = true
		default:
			return err
		}

		rec, err := encodeRecord(id, entry)
		if err != nil {
			return err
		}
		if err := txn.Set(key, rec); err != nil {
			return err
		}
		if created {
			if err := txn.Set(idKey(id), []byte(d.HierarchyKey(hierarchySep))); err != nil {
				return err
			}
		}
		added, removed := storage.DiffKeys(oldKeys, newKeys)
		return applyPostings(txn, id, added, removed)
	})
	if err == nil && created {
		e.entries.Add(1)
	}
	return err
}

// Delete removes the entry stored under d.
func (e *Engine) Delete(ctx context.Context, d dn.DN) error {
	db, release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	key := entryKey(d)
	err = update(ctx, db, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var (
			id  uint32
			old *storage.Entry
		)
		if err := item.Value(func(val []byte) error {
			id, old, err = decodeRecord(val)
			return err
		}); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(idKey(id)); err != nil {
			return err
		}
		return applyPostings(txn, id, nil, e.indexes.EntryKeys(old, nil))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err == nil {
		e.entries.Add(-1)
	}
	return err
}

// HasChildren reports whether any entry is immediately below d.
func (e *Engine) HasChildren(ctx context.Context, d dn.DN) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	db, release, err := e.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	prefix := subtreePrefix(d)
	var found bool
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// The root DN itself is stored under the bare prefix.
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if len(it.Item().Key()) > len(prefix) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// Scan calls fn for the entries within base at scope, parents before
// children. Entries are read in one transaction and delivered after it
// ends, so fn may call back into the engine.
func (e *Engine) Scan(ctx context.Context, base dn.DN, scope storage.Scope, fn func(*storage.Entry) error) error {
	db, release, err := e.acquire()
	if err != nil {
		return err
	}

	var entries []*storage.Entry
	err = db.View(func(txn *badger.Txn) error {
		var err error
		entries, err = scanTxn(ctx, txn, base, scope)
		return err
	})
	release()
	if err != nil {
		return err
	}
	return deliver(ctx, entries, fn)
}

func scanTxn(ctx context.Context, txn *badger.Txn, base dn.DN, scope storage.Scope) ([]*storage.Entry, error) {
	var entries []*storage.Entry
	if scope != storage.ScopeOneLevel {
		item, err := txn.Get(entryKey(base))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				_, entry, err := decodeRecord(val)
				if err == nil {
					entries = append(entries, entry)
				}
				return err
			}); err != nil {
				return nil, err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return nil, err
		}
		if scope == storage.ScopeBase {
			return entries, nil
		}
	}

	prefix := subtreePrefix(base)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		rest := item.Key()[len(prefix):]
		if len(rest) == 0 {
			continue
		}
		if scope == storage.ScopeOneLevel && bytes.IndexByte(rest, hierarchySep) >= 0 {
			continue
		}
		if err := item.Value(func(val []byte) error {
			_, entry, err := decodeRecord(val)
			if err == nil {
				entries = append(entries, entry)
			}
			return err
		}); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func deliver(ctx context.Context, entries []*storage.Entry, fn func(*storage.Entry) error) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			if errors.Is(err, storage.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// IsIndexed reports whether attr has an index of the given kind.
func (e *Engine) IsIndexed(attr string, kind filter.IndexType) bool {
	return e.indexes.IsIndexed(attr, kind)
}

// IsIndexedByRule reports whether attr has an index for rule.
func (e *Engine) IsIndexedByRule(attr, rule string) bool {
	return e.indexes.IsIndexedByRule(attr, rule)
}

// Stats returns statistics about the engine.
func (e *Engine) Stats() storage.EngineStats {
	stats := storage.EngineStats{
		EntryCount: uint64(max(e.entries.Load(), 0)),
		IndexCount: e.indexes.Count(),
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db != nil {
		lsm, vlog := e.db.Size()
		stats.SizeBytes = lsm + vlog
	}
	return stats
}

func (e *Engine) countEntries() (int64, error) {
	var n int64
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
