package backend

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// Persistent search errors.
var (
	// ErrRegistryClosed is the cancellation reason of searches registered
	// after the backend started closing.
	ErrRegistryClosed = errors.New("backend: persistent search registry closed")
	// ErrSubscriberTooSlow is the cancellation reason of a search whose
	// event buffer overflowed.
	ErrSubscriberTooSlow = errors.New("backend: persistent search buffer full")
	// ErrSearchCanceled is the cancellation reason of a search canceled by
	// its client.
	ErrSearchCanceled = errors.New("backend: persistent search canceled")
)

// DefaultEventBuffer is the event buffer size of a persistent search.
const DefaultEventBuffer = 256

// ChangeType is a set of change kinds, using the bit values of the
// persistent search control.
type ChangeType uint8

// Change types.
const (
	ChangeAdd    ChangeType = 1
	ChangeDelete ChangeType = 2
	ChangeModify ChangeType = 4
	ChangeModDN  ChangeType = 8

	ChangeAll = ChangeAdd | ChangeDelete | ChangeModify | ChangeModDN
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeModify:
		return "modify"
	case ChangeModDN:
		return "modDN"
	default:
		return fmt.Sprintf("changes(%d)", uint8(c))
	}
}

// Change describes a committed write.
type Change struct {
	Type ChangeType
	// Entry is the entry after the change, or the removed entry for deletes.
	Entry *storage.Entry
	// PreviousDN is set for ChangeModDN.
	PreviousDN string
	// ChangeNumber increases with every change the backend publishes.
	ChangeNumber uint64
	Time         time.Time
}

// PersistentSearch is a long-lived search that receives matching changes.
type PersistentSearch struct {
	Base        dn.DN
	Scope       storage.Scope
	Filter      *filter.Filter
	ChangeTypes ChangeType

	id      atomic.Uint64
	events  chan Change
	done    chan struct{}
	dropped atomic.Uint64

	mu       sync.Mutex
	canceled bool
	reason   error
	hooks    []func()
}

// NewPersistentSearch creates a search over base at scope. A nil filter
// matches every entry; a zero change mask selects every change type.
func NewPersistentSearch(base dn.DN, scope storage.Scope, f *filter.Filter, types ChangeType, buffer int) *PersistentSearch {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if types == 0 {
		types = ChangeAll
	}
	return &PersistentSearch{
		Base:        base,
		Scope:       scope,
		Filter:      f,
		ChangeTypes: types,
		events:      make(chan Change, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the identifier assigned on registration, or zero.
func (ps *PersistentSearch) ID() uint64 {
	return ps.id.Load()
}

// Events returns the channel changes are delivered on. It is never closed;
// select on Done as well.
func (ps *PersistentSearch) Events() <-chan Change {
	return ps.events
}

// Done is closed once the search is canceled.
func (ps *PersistentSearch) Done() <-chan struct{} {
	return ps.done
}

// Err returns the cancellation reason, or nil while the search is active.
func (ps *PersistentSearch) Err() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.reason
}

// Dropped returns the number of changes that could not be delivered.
func (ps *PersistentSearch) Dropped() uint64 {
	return ps.dropped.Load()
}

// OnCancel adds a hook run when the search is canceled. If the search is
// already canceled the hook runs immediately.
func (ps *PersistentSearch) OnCancel(fn func()) {
	ps.mu.Lock()
	if !ps.canceled {
		ps.hooks = append(ps.hooks, fn)
		ps.mu.Unlock()
		return
	}
	ps.mu.Unlock()
	_ = runHook(fn)
}

// Cancel ends the search with the given reason. Only the first call has an
// effect; it closes Done and runs every hook once. A panicking hook does not
// stop the others; the panics are returned.
func (ps *PersistentSearch) Cancel(reason error) error {
	if reason == nil {
		reason = ErrSearchCanceled
	}
	ps.mu.Lock()
	if ps.canceled {
		ps.mu.Unlock()
		return nil
	}
	ps.canceled = true
	ps.reason = reason
	hooks := ps.hooks
	ps.hooks = nil
	close(ps.done)
	ps.mu.Unlock()

	var errs []error
	for _, fn := range hooks {
		if err := runHook(fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runHook(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend: persistent search hook panicked: %v", r)
		}
	}()
	fn()
	return nil
}

// Matches reports whether the change falls within the search.
func (ps *PersistentSearch) Matches(c Change, ev *filter.Evaluator) bool {
	if ps.ChangeTypes&c.Type == 0 || c.Entry == nil {
		return false
	}
	d, err := dn.Parse(c.Entry.DN)
	if err != nil || !storage.InScope(d, ps.Base, ps.Scope) {
		return false
	}
	if ps.Filter == nil || ev == nil {
		return true
	}
	return ev.Evaluate(ps.Filter, c.Entry.FilterEntry())
}

// deliver queues c without blocking. It reports false when the buffer is
// full or the search is canceled.
func (ps *PersistentSearch) deliver(c Change) bool {
	select {
	case <-ps.done:
		return false
	default:
	}
	select {
	case ps.events <- c:
		return true
	default:
		ps.dropped.Add(1)
		return false
	}
}

// Registry tracks the persistent searches of one backend.
type Registry struct {
	backendID string
	logger    logging.Logger
	searches  *xsync.MapOf[uint64, *PersistentSearch]
	nextID    atomic.Uint64
	changeNum atomic.Uint64
	closed    atomic.Bool
	evaluator atomic.Pointer[filter.Evaluator]
}

// NewRegistry creates an empty registry.
func NewRegistry(backendID string, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		backendID: backendID,
		logger:    logger,
		searches:  xsync.NewMapOf[uint64, *PersistentSearch](),
	}
}

// SetEvaluator sets the evaluator used to match change entries against
// search filters.
func (r *Registry) SetEvaluator(ev *filter.Evaluator) {
	r.evaluator.Store(ev)
}

// Register adds ps to the registry and arranges for it to be removed when
// it is canceled. If the registry is closed, or closes while Register runs,
// ps is canceled with ErrRegistryClosed and that error is returned.
func (r *Registry) Register(ps *PersistentSearch) error {
	if r.closed.Load() {
		r.cancel(ps, ErrRegistryClosed)
		return ErrRegistryClosed
	}
	id := r.nextID.Add(1)
	ps.id.Store(id)
	r.searches.Store(id, ps)
	persistentSearches.WithLabelValues(r.backendID).Inc()
	ps.OnCancel(func() {
		if _, ok := r.searches.LoadAndDelete(id); ok {
			persistentSearches.WithLabelValues(r.backendID).Dec()
		}
	})

	// CancelAll may have swept the map before the Store above.
	if r.closed.Load() {
		r.cancel(ps, ErrRegistryClosed)
		return ErrRegistryClosed
	}
	return nil
}

// cancel cancels ps and logs hook panics.
func (r *Registry) cancel(ps *PersistentSearch, reason error) {
	if err := ps.Cancel(reason); err != nil {
		r.logger.Error("persistent search cancellation hook failed",
			"search", ps.ID(),
			"error", err,
		)
	}
}

// CancelAll closes the registry and cancels every registered search with
// reason. Hook panics are logged. It returns the number of searches it
// canceled.
func (r *Registry) CancelAll(reason error) int {
	r.closed.Store(true)
	n := 0
	r.searches.Range(func(id uint64, ps *PersistentSearch) bool {
		r.cancel(ps, reason)
		n++
		return true
	})
	return n
}

// Closed reports whether CancelAll has been called.
func (r *Registry) Closed() bool {
	return r.closed.Load()
}

// Len returns the number of registered searches.
func (r *Registry) Len() int {
	return r.searches.Size()
}

// Snapshot returns the registered searches in no particular order.
func (r *Registry) Snapshot() []*PersistentSearch {
	out := make([]*PersistentSearch, 0, r.searches.Size())
	r.searches.Range(func(_ uint64, ps *PersistentSearch) bool {
		out = append(out, ps)
		return true
	})
	return out
}

// Notify delivers c to every matching search and returns the number of
// searches it reached. A search whose buffer is full is canceled with
// ErrSubscriberTooSlow.
func (r *Registry) Notify(c Change) int {
	if r.closed.Load() {
		return 0
	}
	c.ChangeNumber = r.changeNum.Add(1)
	if c.Time.IsZero() {
		c.Time = time.Now()
	}
	if r.searches.Size() == 0 {
		return 0
	}
	ev := r.evaluator.Load()
	delivered := 0
	r.searches.Range(func(id uint64, ps *PersistentSearch) bool {
		if !ps.Matches(c, ev) {
			return true
		}
		if ps.deliver(c) {
			delivered++
			return true
		}
		select {
		case <-ps.Done():
			return true
		default:
		}
		if err := ps.Cancel(ErrSubscriberTooSlow); err != nil {
			r.logger.Error("persistent search cancellation hook failed", "search", id, "error", err)
		}
		r.logger.Warn("persistent search dropped", "search", id, "reason", ErrSubscriberTooSlow)
		return true
	})
	return delivered
}
