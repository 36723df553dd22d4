// Package memory provides a storage engine that keeps entries and their
// indexes in process memory. Contents are lost on Close.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Options configures a memory engine.
type Options struct {
	// Indexes lists the attribute indexes to maintain.
	Indexes []storage.IndexSpec
	// Resolver canonicalizes attribute and rule names in filters. It may be
	// nil, in which case names are lower-cased.
	Resolver filter.AttributeResolver
}

type record struct {
	id    uint32
	dn    dn.DN
	entry *storage.Entry
	keys  []storage.IndexKey
}

// Engine is an in-memory storage engine.
type Engine struct {
	mu       sync.RWMutex
	opts     Options
	indexes  *storage.IndexSet
	state    int
	nextID   uint32
	byKey    map[string]*record
	byID     map[uint32]*record
	children map[string]map[string]struct{}
	postings map[storage.IndexKey]*roaring.Bitmap
}

const (
	stateNew = iota
	stateOpen
	stateClosed
)

// Compile-time interface checks.
var (
	_ storage.Engine  = (*Engine)(nil)
	_ storage.Indexer = (*Engine)(nil)
)

// New creates a memory engine. It must be opened before use.
func New(opts Options) *Engine {
	return &Engine{
		opts:    opts,
		indexes: storage.NewIndexSet(opts.Indexes),
	}
}

// Open initializes the engine's maps.
func (e *Engine) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateOpen:
		return nil
	case stateClosed:
		return storage.ErrClosed
	}
	e.byKey = make(map[string]*record)
	e.byID = make(map[uint32]*record)
	e.children = make(map[string]map[string]struct{})
	e.postings = make(map[storage.IndexKey]*roaring.Bitmap)
	e.state = stateOpen
	return nil
}

// Close drops all entries.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = stateClosed
	e.byKey = nil
	e.byID = nil
	e.children = nil
	e.postings = nil
	return nil
}

func (e *Engine) checkOpen() error {
	if e.state != stateOpen {
		return storage.ErrClosed
	}
	return nil
}

// Get returns a copy of the entry stored under d.
func (e *Engine) Get(ctx context.Context, d dn.DN) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rec, ok := e.byKey[d.Key()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.entry.Clone(), nil
}

// Put stores a copy of entry, replacing any entry with the same DN.
func (e *Engine) Put(ctx context.Context, entry *storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := dn.Parse(entry.DN)
	if err != nil {
		return err
	}
	stored := entry.Clone()
	keys := e.indexes.EntryKeys(stored, nil)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	k := d.Key()
	rec, ok := e.byKey[k]
	if ok {
		added, removed := storage.DiffKeys(rec.keys, keys)
		e.unindex(rec.id, removed)
		e.index(rec.id, added)
		rec.dn = d
		rec.entry = stored
		rec.keys = keys
		return nil
	}

	e.nextID++
	rec = &record{id: e.nextID, dn: d, entry: stored, keys: keys}
	e.byKey[k] = rec
	e.byID[rec.id] = rec
	if !d.IsRoot() {
		pk := d.Parent().Key()
		if e.children[pk] == nil {
			e.children[pk] = make(map[string]struct{})
		}
		e.children[pk][k] = struct{}{}
	}
	e.index(rec.id, keys)
	return nil
}

// Delete removes the entry stored under d.
func (e *Engine) Delete(ctx context.Context, d dn.DN) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	k := d.Key()
	rec, ok := e.byKey[k]
	if !ok {
		return storage.ErrNotFound
	}
	e.unindex(rec.id, rec.keys)
	delete(e.byKey, k)
	delete(e.byID, rec.id)
	if !d.IsRoot() {
		pk := d.Parent().Key()
		delete(e.children[pk], k)
		if len(e.children[pk]) == 0 {
			delete(e.children, pk)
		}
	}
	return nil
}

// HasChildren reports whether any stored entry is immediately below d.
func (e *Engine) HasChildren(ctx context.Context, d dn.DN) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	return len(e.children[d.Key()]) > 0, nil
}

// Scan calls fn for copies of the entries within base at scope, parents
// before children. fn runs without the engine lock held.
func (e *Engine) Scan(ctx context.Context, base dn.DN, scope storage.Scope, fn func(*storage.Entry) error) error {
	e.mu.RLock()
	if err := e.checkOpen(); err != nil {
		e.mu.RUnlock()
		return err
	}
	recs := e.inScope(base, scope)
	entries := e.cloneAll(recs)
	e.mu.RUnlock()

	return deliver(ctx, entries, fn)
}

// inScope returns the records within base at scope in hierarchy order.
// The caller holds the lock.
func (e *Engine) inScope(base dn.DN, scope storage.Scope) []*record {
	var recs []*record
	switch scope {
	case storage.ScopeBase:
		if rec, ok := e.byKey[base.Key()]; ok {
			recs = append(recs, rec)
		}
		return recs
	case storage.ScopeOneLevel:
		for k := range e.children[base.Key()] {
			recs = append(recs, e.byKey[k])
		}
	default:
		for _, rec := range e.byKey {
			if rec.dn.IsDescendantOrSelf(base) {
				recs = append(recs, rec)
			}
		}
	}
	sortHierarchy(recs)
	return recs
}

func sortHierarchy(recs []*record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].dn.HierarchyKey(0) < recs[j].dn.HierarchyKey(0)
	})
}

func (e *Engine) cloneAll(recs []*record) []*storage.Entry {
	out := make([]*storage.Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry.Clone()
	}
	return out
}

func deliver(ctx context.Context, entries []*storage.Entry, fn func(*storage.Entry) error) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			if err == storage.ErrStopScan {
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
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := storage.EngineStats{
		EntryCount: uint64(len(e.byKey)),
		IndexCount: e.indexes.Count(),
	}
	for _, rec := range e.byKey {
		stats.SizeBytes += int64(len(rec.entry.DN))
		for name, values := range rec.entry.Attributes {
			stats.SizeBytes += int64(len(name))
			for _, v := range values {
				stats.SizeBytes += int64(len(v))
			}
		}
	}
	for _, bm := range e.postings {
		stats.SizeBytes += int64(bm.GetSizeInBytes())
	}
	return stats
}

// index adds id to the posting list of every key. The caller holds the
// write lock.
func (e *Engine) index(id uint32, keys []storage.IndexKey) {
	for _, k := range keys {
		bm, ok := e.postings[k]
		if !ok {
			bm = roaring.New()
			e.postings[k] = bm
		}
		bm.Add(id)
	}
}

func (e *Engine) unindex(id uint32, keys []storage.IndexKey) {
	for _, k := range keys {
		bm, ok := e.postings[k]
		if !ok {
			continue
		}
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(e.postings, k)
		}
	}
}
