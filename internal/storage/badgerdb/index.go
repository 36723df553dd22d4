package badgerdb

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// listPrefix returns the prefix of every posting key of one index.
func listPrefix(attr string, kind filter.IndexType, rule string) []byte {
	var b bytes.Buffer
	b.WriteString(prefixPosting)
	b.WriteString(attr)
	b.WriteByte(0)
	if rule != "" {
		b.WriteByte('r')
		b.WriteString(rule)
	} else {
		b.WriteByte('k')
		b.WriteString(strconv.Itoa(int(kind)))
	}
	b.WriteByte(0)
	return b.Bytes()
}

func attrPrefix(attr string) []byte {
	return append([]byte(prefixPosting+attr), 0)
}

func postingKey(k storage.IndexKey) []byte {
	return append(listPrefix(k.Attribute, k.Kind, k.Rule), k.Key...)
}

// parsePostingKey is the inverse of postingKey.
func parsePostingKey(key []byte) (storage.IndexKey, bool) {
	var k storage.IndexKey
	rest := key[len(prefixPosting):]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return k, false
	}
	k.Attribute = string(rest[:i])
	rest = rest[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 1 {
		return k, false
	}
	tag := string(rest[1:j])
	switch rest[0] {
	case 'r':
		k.Rule = tag
	case 'k':
		n, err := strconv.Atoi(tag)
		if err != nil {
			return k, false
		}
		k.Kind = filter.IndexType(n)
	default:
		return k, false
	}
	k.Key = string(rest[j+1:])
	return k, true
}

func readBitmap(txn *badger.Txn, key []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return bm, nil
	}
	if err != nil {
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		_, err := bm.FromBuffer(val)
		if err != nil {
			return err
		}
		// FromBuffer aliases val, which is only valid inside this callback.
		bm = bm.Clone()
		return nil
	})
	return bm, err
}

func writeBitmap(txn *badger.Txn, key []byte, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return txn.Delete(key)
	}
	bm.RunOptimize()
	data, err := bm.ToBytes()
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// applyPostings adds id to the posting lists of added and removes it from
// those of removed.
func applyPostings(txn *badger.Txn, id uint32, added, removed []storage.IndexKey) error {
	for _, k := range added {
		key := postingKey(k)
		bm, err := readBitmap(txn, key)
		if err != nil {
			return err
		}
		bm.Add(id)
		if err := writeBitmap(txn, key, bm); err != nil {
			return err
		}
	}
	for _, k := range removed {
		key := postingKey(k)
		bm, err := readBitmap(txn, key)
		if err != nil {
			return err
		}
		bm.Remove(id)
		if err := writeBitmap(txn, key, bm); err != nil {
			return err
		}
	}
	return nil
}

// txnView reads posting lists inside a transaction.
type txnView struct {
	e   *Engine
	txn *badger.Txn
}

func (v txnView) IsIndexed(attr string, kind filter.IndexType) bool {
	return v.e.indexes.IsIndexed(attr, kind)
}

func (v txnView) IsIndexedByRule(attr, rule string) bool {
	return v.e.indexes.IsIndexedByRule(attr, rule)
}

func (v txnView) Posting(attr string, kind filter.IndexType, key string) (*roaring.Bitmap, error) {
	return readBitmap(v.txn, postingKey(storage.IndexKey{Attribute: attr, Kind: kind, Key: key}))
}

func (v txnView) RulePosting(attr, rule, key string) (*roaring.Bitmap, error) {
	return readBitmap(v.txn, postingKey(storage.IndexKey{Attribute: attr, Rule: strings.ToLower(rule), Key: key}))
}

func (v txnView) RangePosting(attr, key string, ge bool) (*roaring.Bitmap, error) {
	prefix := listPrefix(attr, filter.IndexOrdering, "")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := v.txn.NewIterator(opts)
	defer it.Close()

	out := roaring.New()
	start := prefix
	if ge {
		start = append(append([]byte{}, prefix...), key...)
	}
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := string(item.Key()[len(prefix):])
		if !ge && k > key {
			break
		}
		if err := item.Value(func(val []byte) error {
			bm := roaring.New()
			if _, err := bm.FromBuffer(val); err != nil {
				return err
			}
			out.Or(bm.Clone())
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Candidates calls fn for the entries within base at scope whose IDs are
// in the filter's candidate set.
func (e *Engine) Candidates(ctx context.Context, base dn.DN, scope storage.Scope, f *filter.Filter, fn func(*storage.Entry) error) (bool, error) {
	db, release, err := e.acquire()
	if err != nil {
		return false, err
	}

	type hit struct {
		key   string
		entry *storage.Entry
	}
	var (
		hits    []hit
		indexed bool
	)
	err = db.View(func(txn *badger.Txn) error {
		bm, ok, err := storage.Candidates(f, txnView{e: e, txn: txn}, e.opts.Resolver)
		if err != nil || !ok {
			return err
		}
		indexed = true

		it := bm.Iterator()
		for it.HasNext() {
			if err := ctx.Err(); err != nil {
				return err
			}
			hk, err := txn.Get(idKey(it.Next()))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			hkey, err := hk.ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(append([]byte(prefixEntry), hkey...))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var entry *storage.Entry
			if err := item.Value(func(val []byte) error {
				_, entry, err = decodeRecord(val)
				return err
			}); err != nil {
				return err
			}
			d, err := dn.Parse(entry.DN)
			if err != nil {
				return err
			}
			if storage.InScope(d, base, scope) {
				hits = append(hits, hit{key: string(hkey), entry: entry})
			}
		}
		return nil
	})
	release()
	if err != nil || !indexed {
		return false, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].key < hits[j].key })
	entries := make([]*storage.Entry, len(hits))
	for i, h := range hits {
		entries[i] = h.entry
	}
	return true, deliver(ctx, entries, fn)
}

// expectedPostings computes the posting lists the stored entries produce
// for attrs, and counts the entries read.
func (e *Engine) expectedPostings(ctx context.Context, db *badger.DB, attrs []string) (map[storage.IndexKey]*roaring.Bitmap, uint64, error) {
	expected := make(map[storage.IndexKey]*roaring.Bitmap)
	var n uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(func(val []byte) error {
				id, entry, err := decodeRecord(val)
				if err != nil {
					return err
				}
				for _, k := range e.indexes.EntryKeys(entry, attrs) {
					bm, ok := expected[k]
					if !ok {
						bm = roaring.New()
						expected[k] = bm
					}
					bm.Add(id)
				}
				return nil
			}); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return expected, n, err
}

// postingPrefixes returns the key prefixes covering the indexes of attrs,
// or every index when attrs is empty.
func postingPrefixes(attrs []string) [][]byte {
	if len(attrs) == 0 {
		return [][]byte{[]byte(prefixPosting)}
	}
	out := make([][]byte, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, attrPrefix(strings.ToLower(a)))
	}
	return out
}

// RebuildIndexes drops and recomputes the posting lists of attrs, or of
// every index when attrs is empty. Writes run concurrently with the
// rebuild may leave postings stale; callers quiesce the backend first.
func (e *Engine) RebuildIndexes(ctx context.Context, attrs []string) (uint64, error) {
	db, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if err := db.DropPrefix(postingPrefixes(attrs)...); err != nil {
		return 0, err
	}
	expected, n, err := e.expectedPostings(ctx, db, attrs)
	if err != nil {
		return n, err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for k, bm := range expected {
		bm.RunOptimize()
		data, err := bm.ToBytes()
		if err != nil {
			return n, err
		}
		if err := wb.Set(postingKey(k), data); err != nil {
			return n, err
		}
	}
	return n, wb.Flush()
}

// VerifyIndexes compares the stored posting lists of attrs with the ones
// the entries produce.
func (e *Engine) VerifyIndexes(ctx context.Context, attrs []string) (storage.VerifyReport, error) {
	var report storage.VerifyReport
	db, release, err := e.acquire()
	if err != nil {
		return report, err
	}
	defer release()

	expected, n, err := e.expectedPostings(ctx, db, attrs)
	report.EntriesChecked = n
	if err != nil {
		return report, err
	}

	seen := make(map[storage.IndexKey]bool, len(expected))
	err = db.View(func(txn *badger.Txn) error {
		for _, prefix := range postingPrefixes(attrs) {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				k, ok := parsePostingKey(item.Key())
				if !ok {
					continue
				}
				have := roaring.New()
				if err := item.Value(func(val []byte) error {
					_, err := have.FromBuffer(val)
					if err == nil {
						have = have.Clone()
					}
					return err
				}); err != nil {
					it.Close()
					return err
				}
				seen[k] = true
				want, ok := expected[k]
				if !ok {
					report.Dangling += have.GetCardinality()
					continue
				}
				report.Missing += roaring.AndNot(want, have).GetCardinality()
				report.Dangling += roaring.AndNot(have, want).GetCardinality()
			}
			it.Close()
		}
		return nil
	})
	for k, want := range expected {
		if !seen[k] {
			report.Missing += want.GetCardinality()
		}
	}
	return report, err
}
