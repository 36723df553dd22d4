package memory

import (
	"context"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// postingView reads posting lists. The caller holds the engine lock.
type postingView struct {
	e *Engine
}

func (v postingView) IsIndexed(attr string, kind filter.IndexType) bool {
	return v.e.indexes.IsIndexed(attr, kind)
}

func (v postingView) IsIndexedByRule(attr, rule string) bool {
	return v.e.indexes.IsIndexedByRule(attr, rule)
}

func (v postingView) Posting(attr string, kind filter.IndexType, key string) (*roaring.Bitmap, error) {
	return v.get(storage.IndexKey{Attribute: attr, Kind: kind, Key: key}), nil
}

func (v postingView) RulePosting(attr, rule, key string) (*roaring.Bitmap, error) {
	return v.get(storage.IndexKey{Attribute: attr, Rule: strings.ToLower(rule), Key: key}), nil
}

func (v postingView) RangePosting(attr, key string, ge bool) (*roaring.Bitmap, error) {
	out := roaring.New()
	for k, bm := range v.e.postings {
		if k.Rule != "" || k.Attribute != attr || k.Kind != filter.IndexOrdering {
			continue
		}
		if (ge && k.Key >= key) || (!ge && k.Key <= key) {
			out.Or(bm)
		}
	}
	return out, nil
}

func (v postingView) get(k storage.IndexKey) *roaring.Bitmap {
	if bm, ok := v.e.postings[k]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Candidates calls fn for the entries within base at scope whose IDs are
// in the filter's candidate set.
func (e *Engine) Candidates(ctx context.Context, base dn.DN, scope storage.Scope, f *filter.Filter, fn func(*storage.Entry) error) (bool, error) {
	e.mu.RLock()
	if err := e.checkOpen(); err != nil {
		e.mu.RUnlock()
		return false, err
	}
	bm, ok, err := storage.Candidates(f, postingView{e: e}, e.opts.Resolver)
	if err != nil || !ok {
		e.mu.RUnlock()
		return false, err
	}

	var recs []*record
	it := bm.Iterator()
	for it.HasNext() {
		rec, found := e.byID[it.Next()]
		if found && storage.InScope(rec.dn, base, scope) {
			recs = append(recs, rec)
		}
	}
	sortHierarchy(recs)
	entries := e.cloneAll(recs)
	e.mu.RUnlock()

	return true, deliver(ctx, entries, fn)
}

// RebuildIndexes recomputes the posting lists of attrs, or of every
// indexed attribute when attrs is empty.
func (e *Engine) RebuildIndexes(ctx context.Context, attrs []string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	only := attributeSet(attrs)
	for k := range e.postings {
		if only == nil || only[k.Attribute] {
			delete(e.postings, k)
		}
	}

	var n uint64
	for _, rec := range e.byID {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec.keys = e.indexes.EntryKeys(rec.entry, nil)
		var keys []storage.IndexKey
		for _, k := range rec.keys {
			if only == nil || only[k.Attribute] {
				keys = append(keys, k)
			}
		}
		e.index(rec.id, keys)
		n++
	}
	return n, nil
}

// VerifyIndexes compares the posting lists of attrs against the keys the
// stored entries produce.
func (e *Engine) VerifyIndexes(ctx context.Context, attrs []string) (storage.VerifyReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var report storage.VerifyReport
	if err := e.checkOpen(); err != nil {
		return report, err
	}

	only := attributeSet(attrs)
	expected := make(map[storage.IndexKey]*roaring.Bitmap)
	for _, rec := range e.byID {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for _, k := range e.indexes.EntryKeys(rec.entry, attrs) {
			bm, ok := expected[k]
			if !ok {
				bm = roaring.New()
				expected[k] = bm
			}
			bm.Add(rec.id)
		}
		report.EntriesChecked++
	}

	for k, want := range expected {
		have, ok := e.postings[k]
		if !ok {
			report.Missing += want.GetCardinality()
			continue
		}
		report.Missing += roaring.AndNot(want, have).GetCardinality()
	}
	for k, have := range e.postings {
		if only != nil && !only[k.Attribute] {
			continue
		}
		want, ok := expected[k]
		if !ok {
			report.Dangling += have.GetCardinality()
			continue
		}
		report.Dangling += roaring.AndNot(have, want).GetCardinality()
	}
	return report, nil
}

func attributeSet(attrs []string) map[string]bool {
	if len(attrs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		set[strings.ToLower(a)] = true
	}
	return set
}
