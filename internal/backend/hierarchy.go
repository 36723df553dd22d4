package backend

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// Router maps DNs to the backend that owns them. Backends are arranged in
// a tree by base DN: a backend whose base DN lies below another backend's
// base DN is that backend's subordinate, and claims its branch.
//
// Route reads immutable snapshots and never waits for Register or
// Deregister.
type Router struct {
	logger logging.Logger

	mu   sync.Mutex
	byID map[string]Backend
	top  atomic.Pointer[[]Backend]
}

// NewRouter creates an empty router.
func NewRouter(logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Router{
		logger: logger,
		byID:   make(map[string]Backend),
	}
	empty := []Backend{}
	r.top.Store(&empty)
	return r
}

// Route returns the backend owning d, or nil.
func (r *Router) Route(d dn.DN) Backend {
	for _, b := range *r.top.Load() {
		if got := route(b, d); got != nil {
			return got
		}
	}
	return nil
}

func route(b Backend, d dn.DN) Backend {
	if !dn.ContainsAny(b.BaseDNs(), d) {
		return nil
	}
	for _, s := range b.Subordinates() {
		if got := route(s, d); got != nil {
			return got
		}
	}
	return b
}

// Get returns the backend with the given ID.
func (r *Router) Get(id string) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	return b, ok
}

// Backends returns every registered backend sorted by ID.
func (r *Router) Backends() []Backend {
	r.mu.Lock()
	out := make([]Backend, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TopLevel returns the backends without a parent.
func (r *Router) TopLevel() []Backend {
	return *r.top.Load()
}

// Register places b in the tree. Its parent is the backend with the deepest
// base DN above b's base DNs; registered backends whose base DNs all lie
// below b's become b's subordinates. A duplicate ID or a base DN served
// twice is a *ConfigError.
func (r *Router) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := b.ID()
	if _, ok := r.byID[id]; ok {
		return &ConfigError{BackendID: id, Errs: []error{fmt.Errorf("backend %q is already registered", id)}}
	}
	bases := b.BaseDNs()
	if len(bases) == 0 {
		return &ConfigError{BackendID: id, Errs: []error{fmt.Errorf("backend has no base DNs")}}
	}
	for _, o := range r.byID {
		for _, ob := range o.BaseDNs() {
			for _, bd := range bases {
				if bd.Equal(ob) {
					return &ConfigError{BackendID: id, Errs: []error{
						fmt.Errorf("base DN %q is already served by backend %q", bd, o.ID()),
					}}
				}
			}
		}
	}

	parent, err := r.parentFor(id, bases)
	if err != nil {
		return err
	}

	// Siblings-to-be whose branches fall inside b move below it.
	var adopted []Backend
	for _, c := range r.childrenOf(parent) {
		inside, outside := 0, 0
		for _, cb := range c.BaseDNs() {
			if underAny(cb, bases) {
				inside++
			} else {
				outside++
			}
		}
		switch {
		case inside > 0 && outside > 0:
			return &ConfigError{BackendID: id, Errs: []error{
				fmt.Errorf("backend %q has base DNs both inside and outside this backend", c.ID()),
			}}
		case inside > 0:
			adopted = append(adopted, c)
		}
	}

	for _, c := range adopted {
		b.AddSubordinate(c)
		c.SetParent(b)
	}
	b.SetParent(parent)
	if parent != nil {
		parent.AddSubordinate(b)
	} else {
		r.addTop(b)
	}
	for _, c := range adopted {
		if parent != nil {
			parent.RemoveSubordinate(c.ID())
		} else {
			r.removeTop(c.ID())
		}
	}
	r.byID[id] = b

	r.logger.Debug("backend registered",
		"backend", id,
		"parent", idOf(parent),
		"adopted", len(adopted),
	)
	return nil
}

// Deregister removes the backend with the given ID. Its subordinates move
// to its parent. It reports whether the backend was registered.
func (r *Router) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byID[id]
	if !ok {
		return false
	}
	parent := b.Parent()
	subs := append([]Backend(nil), b.Subordinates()...)
	for _, s := range subs {
		s.SetParent(parent)
		if parent != nil {
			parent.AddSubordinate(s)
		} else {
			r.addTop(s)
		}
	}
	if parent != nil {
		parent.RemoveSubordinate(id)
	} else {
		r.removeTop(id)
	}
	for _, s := range subs {
		b.RemoveSubordinate(s.ID())
	}
	b.SetParent(nil)
	delete(r.byID, id)

	r.logger.Debug("backend deregistered", "backend", id, "parent", idOf(parent))
	return true
}

// ImportExcludes returns the base DNs of other backends that lie strictly
// below the base DNs of backend id, sorted. An import into id must skip
// these branches.
func (r *Router) ImportExcludes(id string) []dn.DN {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byID[id]
	if !ok {
		return nil
	}
	bases := b.BaseDNs()
	var out []dn.DN
	for oid, o := range r.byID {
		if oid == id {
			continue
		}
		for _, ob := range o.BaseDNs() {
			if underAny(ob, bases) {
				out = append(out, ob)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// parentFor returns the registered backend with the deepest base DN
// strictly above every one of bases. Base DNs with different parents are a
// configuration error.
func (r *Router) parentFor(id string, bases []dn.DN) (Backend, error) {
	var parent Backend
	for i, bd := range bases {
		var best Backend
		bestDepth := -1
		for _, o := range r.byID {
			for _, ob := range o.BaseDNs() {
				if bd.IsDescendantOf(ob) && ob.Depth() > bestDepth {
					best, bestDepth = o, ob.Depth()
				}
			}
		}
		if i == 0 {
			parent = best
			continue
		}
		if idOf(best) != idOf(parent) {
			return nil, &ConfigError{BackendID: id, Errs: []error{
				fmt.Errorf("base DNs fall under different backends (%q and %q)", idOf(parent), idOf(best)),
			}}
		}
	}
	return parent, nil
}

func (r *Router) childrenOf(parent Backend) []Backend {
	if parent == nil {
		return *r.top.Load()
	}
	return parent.Subordinates()
}

func (r *Router) addTop(b Backend) {
	cur := *r.top.Load()
	next := make([]Backend, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, b)
	r.top.Store(&next)
}

func (r *Router) removeTop(id string) {
	cur := *r.top.Load()
	next := make([]Backend, 0, len(cur))
	for _, b := range cur {
		if b.ID() != id {
			next = append(next, b)
		}
	}
	r.top.Store(&next)
}

func underAny(d dn.DN, bases []dn.DN) bool {
	for _, b := range bases {
		if d.IsDescendantOf(b) {
			return true
		}
	}
	return false
}

func idOf(b Backend) string {
	if b == nil {
		return ""
	}
	return b.ID()
}
