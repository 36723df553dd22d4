package backend

import (
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// Hierarchy is the part of a backend the Router works with.
type Hierarchy interface {
	// ID returns the backend identifier. It never changes.
	ID() string
	// BaseDNs returns the base DNs the backend serves.
	BaseDNs() []dn.DN
	// Parent returns the backend this one is subordinate to, or nil.
	Parent() Backend
	// Subordinates returns the backends directly below this one.
	Subordinates() []Backend
	// SetParent replaces the parent link. Nil detaches the backend.
	SetParent(p Backend)
	// AddSubordinate appends b unless a backend with the same ID is
	// already present. It reports whether b was added.
	AddSubordinate(b Backend) bool
	// RemoveSubordinate removes the subordinate with the given ID and
	// reports whether it was present.
	RemoveSubordinate(id string) bool
	// HandlesEntry reports whether d is under one of the base DNs and not
	// claimed by a subordinate.
	HandlesEntry(d dn.DN) bool
}

type parentRef struct {
	b Backend
}

// Node carries the state every backend shares: identity, base DNs, the
// hierarchy links, the lifecycle state and the persistent search registry.
// Backends embed a *Node.
//
// Parent and subordinate links are replaced under mu and read from atomic
// snapshots, so HandlesEntry and routing never block on writers.
type Node struct {
	id       string
	logger   logging.Logger
	registry *Registry

	mu      sync.Mutex
	baseDNs atomic.Pointer[[]dn.DN]
	parent  atomic.Pointer[parentRef]
	subs    atomic.Pointer[[]Backend]
	state   atomic.Int32
}

// NewNode creates an unconfigured node.
func NewNode(id string, logger logging.Logger) *Node {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithFields("backend", id)
	n := &Node{
		id:       id,
		logger:   logger,
		registry: NewRegistry(id, logger),
	}
	empty := []Backend{}
	n.subs.Store(&empty)
	return n
}

func (n *Node) ID() string {
	return n.id
}

// BaseDNs returns a copy of the base DN set.
func (n *Node) BaseDNs() []dn.DN {
	p := n.baseDNs.Load()
	if p == nil {
		return nil
	}
	return append([]dn.DN(nil), (*p)...)
}

func (n *Node) setBaseDNs(bases []dn.DN) {
	cp := append([]dn.DN(nil), bases...)
	n.baseDNs.Store(&cp)
}

func (n *Node) Parent() Backend {
	if p := n.parent.Load(); p != nil {
		return p.b
	}
	return nil
}

func (n *Node) SetParent(p Backend) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p == nil {
		n.parent.Store(nil)
		return
	}
	n.parent.Store(&parentRef{b: p})
}

// Subordinates returns the current snapshot. Callers must not modify it.
func (n *Node) Subordinates() []Backend {
	return *n.subs.Load()
}

func (n *Node) AddSubordinate(b Backend) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	cur := *n.subs.Load()
	for _, s := range cur {
		if s.ID() == b.ID() {
			return false
		}
	}
	next := make([]Backend, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, b)
	n.subs.Store(&next)
	return true
}

func (n *Node) RemoveSubordinate(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	cur := *n.subs.Load()
	next := make([]Backend, 0, len(cur))
	for _, s := range cur {
		if s.ID() != id {
			next = append(next, s)
		}
	}
	if len(next) == len(cur) {
		return false
	}
	n.subs.Store(&next)
	return true
}

// HandlesEntry reports whether d belongs to this node rather than to one
// of its subordinates.
func (n *Node) HandlesEntry(d dn.DN) bool {
	bases := n.baseDNs.Load()
	if bases == nil || !dn.ContainsAny(*bases, d) {
		return false
	}
	for _, s := range n.Subordinates() {
		if dn.ContainsAny(s.BaseDNs(), d) {
			return false
		}
	}
	return true
}

// State returns the lifecycle state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// advance moves the state to next if the current state is one of from.
// It returns the state observed before the attempt.
func (n *Node) advance(next State, from ...State) (State, bool) {
	for {
		cur := State(n.state.Load())
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return cur, false
		}
		if n.state.CompareAndSwap(int32(cur), int32(next)) {
			return cur, true
		}
	}
}

// Registry returns the node's persistent search registry.
func (n *Node) Registry() *Registry {
	return n.registry
}

// Logger returns the node's logger.
func (n *Node) Logger() logging.Logger {
	return n.logger
}

// HandlesEntry reports whether d is under one of bases and under none of
// excludes. An exclude wins at any depth. An empty base set matches nothing.
func HandlesEntry(d dn.DN, bases, excludes []dn.DN) bool {
	return dn.ContainsAny(bases, d) && !dn.ContainsAny(excludes, d)
}
