package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Write operations assume the caller holds a write lock on every DN they
// name: the entry's DN for Add, Delete and Replace, and both the old and
// new DN for Rename. The backend does not lock DNs itself.

// Get returns the entry at d, or nil if there is none.
func (b *Local) Get(ctx context.Context, d dn.DN) (e *storage.Entry, err error) {
	defer func(start time.Time) { observe(b.ID(), "get", start, err) }(time.Now())

	engine, err := b.store()
	if err != nil {
		return nil, err
	}
	return b.lookup(ctx, engine, "get", d)
}

func (b *Local) lookup(ctx context.Context, engine storage.Engine, op string, d dn.DN) (*storage.Entry, error) {
	e, err := engine.Get(ctx, d)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, d.String(), err)
	}
	return e, nil
}

// Exists reports whether an entry exists at d.
func (b *Local) Exists(ctx context.Context, d dn.DN) (bool, error) {
	e, err := b.Get(ctx, d)
	return e != nil, err
}

// Add stores a new entry. Its parent must exist unless the entry is a base
// DN. entryUUID, createTimestamp and modifyTimestamp are set when absent.
// The caller holds the write lock on the entry's DN.
func (b *Local) Add(ctx context.Context, oc OpContext, entry *storage.Entry) (err error) {
	defer func(start time.Time) { observe(b.ID(), "add", start, err) }(time.Now())

	d, err := dn.Parse(entry.DN)
	if err != nil {
		return opError("add", entry.DN, ErrInvalidDN, err)
	}
	engine, err := b.store()
	if err != nil {
		return err
	}
	if err := b.checkWritable("add", entry.DN, oc); err != nil {
		return err
	}
	if !b.HandlesEntry(d) {
		return opError("add", entry.DN, ErrNotServed, nil)
	}
	existing, err := b.lookup(ctx, engine, "add", d)
	if err != nil {
		return err
	}
	if existing != nil {
		return opError("add", entry.DN, ErrEntryExists, nil)
	}
	if !b.isBase(d) {
		parent, err := b.lookup(ctx, engine, "add", d.Parent())
		if err != nil {
			return err
		}
		if parent == nil {
			return opError("add", entry.DN, ErrNoParent, nil)
		}
	}

	stored := canonicalEntry(entry, entry.DN, b.schema)
	stampCreate(stored, b.now())
	if err := engine.Put(ctx, stored); err != nil {
		return storeErr("add", entry.DN, err)
	}
	b.opLogger(oc).Debug("entry added", "dn", entry.DN)
	b.notify(Change{Type: ChangeAdd, Entry: stored})
	return nil
}

// Delete removes a leaf entry. The caller holds the write lock on d.
func (b *Local) Delete(ctx context.Context, oc OpContext, d dn.DN) (err error) {
	defer func(start time.Time) { observe(b.ID(), "delete", start, err) }(time.Now())

	engine, err := b.store()
	if err != nil {
		return err
	}
	if err := b.checkWritable("delete", d.String(), oc); err != nil {
		return err
	}
	existing, err := b.lookup(ctx, engine, "delete", d)
	if err != nil {
		return err
	}
	if existing == nil {
		return opError("delete", d.String(), ErrNoSuchEntry, nil)
	}
	hasChildren, err := engine.HasChildren(ctx, d)
	if err != nil {
		return storeErr("delete", d.String(), err)
	}
	if hasChildren {
		return opError("delete", d.String(), ErrNotAllowedOnNonLeaf, nil)
	}
	if err := engine.Delete(ctx, d); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return opError("delete", d.String(), ErrNoSuchEntry, nil)
		}
		return storeErr("delete", d.String(), err)
	}
	b.opLogger(oc).Debug("entry deleted", "dn", d.String())
	b.notify(Change{Type: ChangeDelete, Entry: existing})
	return nil
}

// Replace overwrites an existing entry with entry, keeping its entryUUID
// and createTimestamp. The caller holds the write lock on the entry's DN.
func (b *Local) Replace(ctx context.Context, oc OpContext, entry *storage.Entry) (err error) {
	defer func(start time.Time) { observe(b.ID(), "replace", start, err) }(time.Now())

	d, err := dn.Parse(entry.DN)
	if err != nil {
		return opError("replace", entry.DN, ErrInvalidDN, err)
	}
	engine, err := b.store()
	if err != nil {
		return err
	}
	if err := b.checkWritable("replace", entry.DN, oc); err != nil {
		return err
	}
	old, err := b.lookup(ctx, engine, "replace", d)
	if err != nil {
		return err
	}
	if old == nil {
		return opError("replace", entry.DN, ErrNoSuchEntry, nil)
	}

	stored := canonicalEntry(entry, old.DN, b.schema)
	stampModify(stored, old, b.now())
	if err := engine.Put(ctx, stored); err != nil {
		return storeErr("replace", entry.DN, err)
	}
	b.opLogger(oc).Debug("entry replaced", "dn", entry.DN)
	b.notify(Change{Type: ChangeModify, Entry: stored})
	return nil
}

// Rename moves the entry at req.DN, with its subtree, to a new RDN and
// optionally a new superior within this backend. The caller holds write
// locks on the old and the new DN.
func (b *Local) Rename(ctx context.Context, oc OpContext, req RenameRequest) (err error) {
	defer func(start time.Time) { observe(b.ID(), "rename", start, err) }(time.Now())

	oldDN := req.DN
	engine, err := b.store()
	if err != nil {
		return err
	}
	if err := b.checkWritable("rename", oldDN.String(), oc); err != nil {
		return err
	}
	entry, err := b.lookup(ctx, engine, "rename", oldDN)
	if err != nil {
		return err
	}
	if entry == nil {
		return opError("rename", oldDN.String(), ErrNoSuchEntry, nil)
	}
	if b.isBase(oldDN) {
		return opError("rename", oldDN.String(), ErrNotServed, errors.New("cannot rename a base DN"))
	}

	superior := oldDN.Parent()
	if !req.NewSuperior.IsRoot() {
		superior = req.NewSuperior
	}
	newDN, err := superior.Child(req.NewRDN)
	if err != nil {
		return opError("rename", oldDN.String(), ErrInvalidDN, err)
	}
	if newDN.IsDescendantOrSelf(oldDN) && !newDN.Equal(oldDN) {
		return opError("rename", oldDN.String(), ErrInvalidDN, errors.New("new superior is below the entry"))
	}
	if !b.HandlesEntry(newDN) {
		return opError("rename", newDN.String(), ErrNotServed, nil)
	}
	if !newDN.Equal(oldDN) {
		taken, err := b.lookup(ctx, engine, "rename", newDN)
		if err != nil {
			return err
		}
		if taken != nil {
			return opError("rename", newDN.String(), ErrEntryExists, nil)
		}
	}
	if !b.isBase(newDN) {
		parent, err := b.lookup(ctx, engine, "rename", newDN.Parent())
		if err != nil {
			return err
		}
		if parent == nil {
			return opError("rename", newDN.String(), ErrNoParent, nil)
		}
	}

	// Scan yields parents before children.
	var subtree []*storage.Entry
	err = engine.Scan(ctx, oldDN, storage.ScopeSubtree, func(e *storage.Entry) error {
		subtree = append(subtree, e)
		return nil
	})
	if err != nil {
		return storeErr("rename", oldDN.String(), err)
	}

	now := b.now()
	moved := make([]*storage.Entry, 0, len(subtree))
	previous := make([]string, 0, len(subtree))
	for i, e := range subtree {
		d, err := dn.Parse(e.DN)
		if err != nil {
			return storeErr("rename", e.DN, err)
		}
		target, ok := d.Rebase(oldDN, newDN)
		if !ok {
			return storeErr("rename", e.DN, fmt.Errorf("entry is outside %q", oldDN))
		}
		next := e.Clone()
		next.DN = target.String()
		if i == 0 {
			b.applyRDN(next, oldDN.RDN(), req.NewRDN, req.DeleteOldRDN)
			next.SetStringAttribute(AttrModifyTimestamp, FormatTimestamp(now))
		}
		moved = append(moved, next)
		previous = append(previous, e.DN)
	}

	for _, e := range moved {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		if err := engine.Put(ctx, e); err != nil {
			return storeErr("rename", e.DN, err)
		}
	}
	if !newDN.Equal(oldDN) {
		for i := len(subtree) - 1; i >= 0; i-- {
			d, _ := dn.Parse(subtree[i].DN)
			if err := engine.Delete(ctx, d); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return storeErr("rename", subtree[i].DN, err)
			}
		}
	}

	b.opLogger(oc).Debug("entry renamed",
		"dn", oldDN.String(),
		"newDN", newDN.String(),
		"subtree", len(moved),
	)
	for i, e := range moved {
		b.notify(Change{Type: ChangeModDN, Entry: e, PreviousDN: previous[i]})
	}
	return nil
}

// applyRDN adds the new RDN values to e and, if requested, removes the
// old ones.
func (b *Local) applyRDN(e *storage.Entry, oldRDN, newRDN string, deleteOld bool) {
	newPairs := splitRDN(newRDN)
	if deleteOld {
		for _, p := range splitRDN(oldRDN) {
			attr := b.schema.CanonicalName(p[0])
			keep := false
			for _, np := range newPairs {
				if b.schema.CanonicalName(np[0]) == attr && strings.EqualFold(np[1], p[1]) {
					keep = true
				}
			}
			if !keep {
				removeValue(e, attr, p[1])
			}
		}
	}
	for _, p := range newPairs {
		attr := b.schema.CanonicalName(p[0])
		if !hasValue(e, attr, p[1]) {
			e.AddAttributeValue(attr, []byte(p[1]))
		}
	}
}

// HasSubordinates reports whether the entry at d has children. It is
// ConditionUndefined when the answer cannot be determined.
func (b *Local) HasSubordinates(ctx context.Context, d dn.DN) (ConditionResult, error) {
	engine, err := b.store()
	if err != nil {
		return ConditionUndefined, err
	}
	e, err := b.lookup(ctx, engine, "hasSubordinates", d)
	if err != nil {
		return ConditionUndefined, err
	}
	if e == nil {
		return ConditionUndefined, opError("hasSubordinates", d.String(), ErrNoSuchEntry, nil)
	}
	has, err := engine.HasChildren(ctx, d)
	if err != nil {
		return ConditionUndefined, storeErr("hasSubordinates", d.String(), err)
	}
	return conditionOf(has), nil
}

// NumberOfChildren returns the number of entries immediately below d.
func (b *Local) NumberOfChildren(ctx context.Context, d dn.DN) (int64, error) {
	engine, err := b.store()
	if err != nil {
		return -1, err
	}
	e, err := b.lookup(ctx, engine, "numberOfChildren", d)
	if err != nil {
		return -1, err
	}
	if e == nil {
		return -1, opError("numberOfChildren", d.String(), ErrNoSuchEntry, nil)
	}
	return b.count(ctx, engine, "numberOfChildren", d, storage.ScopeOneLevel)
}

// NumberOfEntriesInBaseDN returns the number of entries at or below base,
// which must be one of the backend's base DNs.
func (b *Local) NumberOfEntriesInBaseDN(ctx context.Context, base dn.DN) (int64, error) {
	engine, err := b.store()
	if err != nil {
		return -1, err
	}
	if !b.isBase(base) {
		return -1, opError("numberOfEntries", base.String(), ErrNotServed, errors.New("not a base DN"))
	}
	return b.count(ctx, engine, "numberOfEntries", base, storage.ScopeSubtree)
}

func (b *Local) count(ctx context.Context, engine storage.Engine, op string, base dn.DN, scope storage.Scope) (int64, error) {
	var n int64
	err := engine.Scan(ctx, base, scope, func(*storage.Entry) error {
		n++
		return nil
	})
	if err != nil {
		return -1, storeErr(op, base.String(), err)
	}
	return n, nil
}

// EntryCount returns the number of entries in the backend.
func (b *Local) EntryCount(ctx context.Context) (int64, error) {
	engine, err := b.store()
	if err != nil {
		return -1, err
	}
	if err := ctx.Err(); err != nil {
		return -1, canceled(err)
	}
	return int64(engine.Stats().EntryCount), nil
}

func (b *Local) SupportedControls() []string {
	return []string{PersistentSearchOID, EntryChangeNotificationOID}
}

func (b *Local) SupportsControl(oid string) bool {
	for _, c := range b.SupportedControls() {
		if c == oid {
			return true
		}
	}
	return false
}

func (b *Local) SupportedFeatures() []string {
	return []string{AllOperationalAttributesOID}
}

// RegisterPersistentSearch registers ps. The backend must be open and
// ps.Base must be one of its entries' DNs.
func (b *Local) RegisterPersistentSearch(ps *PersistentSearch) error {
	switch b.State() {
	case StateOpen:
	case StateClosed:
		b.registry.cancel(ps, ErrRegistryClosed)
		return ErrClosed
	default:
		return ErrNotOpen
	}
	if !dn.ContainsAny(b.BaseDNs(), ps.Base) {
		return opError("persistentSearch", ps.Base.String(), ErrNotServed, nil)
	}
	return b.registry.Register(ps)
}
