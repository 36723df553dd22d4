package backend

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/schema"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

func newSearch(base string, scope storage.Scope, f string, types ChangeType, buffer int) *PersistentSearch {
	var flt *filter.Filter
	if f != "" {
		flt = filter.MustParse(f)
	}
	return NewPersistentSearch(dn.MustParse(base), scope, flt, types, buffer)
}

func change(t ChangeType, d string, attrs ...string) Change {
	e := storage.NewEntry(d)
	for i := 0; i+1 < len(attrs); i += 2 {
		e.AddAttributeValue(attrs[i], []byte(attrs[i+1]))
	}
	return Change{Type: t, Entry: e}
}

func TestCancelRunsHooksOnce(t *testing.T) {
	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	var calls atomic.Int32
	ps.OnCancel(func() { calls.Add(1) })
	ps.OnCancel(func() { calls.Add(1) })

	require.NoError(t, ps.Cancel(nil))
	require.NoError(t, ps.Cancel(errors.New("again")))
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, ps.Err(), ErrSearchCanceled)

	select {
	case <-ps.Done():
	default:
		t.Fatal("Done not closed")
	}

	ps.OnCancel(func() { calls.Add(1) })
	assert.Equal(t, int32(3), calls.Load())
}

func TestCancelRecoversHookPanic(t *testing.T) {
	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	ran := false
	ps.OnCancel(func() { panic("boom") })
	ps.OnCancel(func() { ran = true })

	err := ps.Cancel(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, ran)
}

func TestRegistryRegisterAndCancel(t *testing.T) {
	r := NewRegistry("test", nil)
	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	require.NoError(t, r.Register(ps))
	assert.NotZero(t, ps.ID())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []*PersistentSearch{ps}, r.Snapshot())

	ps.Cancel(nil)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRegisterAfterClose(t *testing.T) {
	r := NewRegistry("test", nil)
	assert.Equal(t, 0, r.CancelAll(ErrRegistryClosed))
	assert.True(t, r.Closed())

	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	err := r.Register(ps)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.ErrorIs(t, ps.Err(), ErrRegistryClosed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryLogsHookPanicOnLateRegister(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry("test", logging.NewWithWriter(logging.Config{Level: "debug", Format: "json"}, &buf))
	r.CancelAll(ErrRegistryClosed)

	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	ps.OnCancel(func() { panic("hook exploded") })
	assert.ErrorIs(t, r.Register(ps), ErrRegistryClosed)
	assert.Contains(t, buf.String(), "persistent search cancellation hook failed")
	assert.Contains(t, buf.String(), "hook exploded")
}

func TestRegistryDrainWhileRegistering(t *testing.T) {
	const n = 200
	r := NewRegistry("test", nil)

	searches := make([]*PersistentSearch, n)
	counts := make([]atomic.Int32, n)
	for i := range searches {
		searches[i] = newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
		searches[i].OnCancel(func() { counts[i].Add(1) })
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range searches {
		wg.Add(1)
		go func(ps *PersistentSearch) {
			defer wg.Done()
			<-start
			_ = r.Register(ps)
		}(searches[i])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		r.CancelAll(ErrRegistryClosed)
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for i, ps := range searches {
		assert.Equal(t, int32(1), counts[i].Load(), "search %d", i)
		assert.ErrorIs(t, ps.Err(), ErrRegistryClosed)
	}
}

func TestRegistryNotifyMatches(t *testing.T) {
	r := NewRegistry("test", nil)
	r.SetEvaluator(filter.NewEvaluator(schema.Default()))

	all := newSearch("dc=example", storage.ScopeSubtree, "", 0, 8)
	people := newSearch("ou=people,dc=example", storage.ScopeOneLevel, "(objectClass=person)", 0, 8)
	deletes := newSearch("dc=example", storage.ScopeSubtree, "", ChangeDelete, 8)
	for _, ps := range []*PersistentSearch{all, people, deletes} {
		require.NoError(t, r.Register(ps))
	}

	assert.Equal(t, 2, r.Notify(change(ChangeAdd, "uid=a,ou=people,dc=example", "objectClass", "person")))
	assert.Equal(t, 1, r.Notify(change(ChangeAdd, "ou=groups,dc=example", "objectClass", "organizationalUnit")))
	assert.Equal(t, 2, r.Notify(change(ChangeDelete, "cn=g,ou=groups,dc=example")))
	assert.Equal(t, 0, r.Notify(change(ChangeAdd, "dc=other")))

	assert.Len(t, all.Events(), 3)
	assert.Len(t, people.Events(), 1)
	assert.Len(t, deletes.Events(), 1)

	first := <-all.Events()
	second := <-all.Events()
	assert.Equal(t, ChangeAdd, first.Type)
	assert.Less(t, first.ChangeNumber, second.ChangeNumber)
	assert.False(t, first.Time.IsZero())
}

func TestRegistryNotifyCancelsSlowSubscriber(t *testing.T) {
	r := NewRegistry("test", nil)
	ps := newSearch("dc=example", storage.ScopeSubtree, "", 0, 1)
	require.NoError(t, r.Register(ps))

	assert.Equal(t, 1, r.Notify(change(ChangeAdd, "cn=a,dc=example")))
	assert.Equal(t, 0, r.Notify(change(ChangeAdd, "cn=b,dc=example")))

	assert.ErrorIs(t, ps.Err(), ErrSubscriberTooSlow)
	assert.Equal(t, uint64(1), ps.Dropped())
	assert.Equal(t, 0, r.Len())
}
