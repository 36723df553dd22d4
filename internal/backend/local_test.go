package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func memoryConfig(id string, bases ...string) *config.BackendConfig {
	return &config.BackendConfig{
		ID:      id,
		Type:    TypeMemory,
		BaseDNs: bases,
		Indexes: []config.IndexConfig{
			{Attribute: "uid", Types: []string{"equality"}},
			{Attribute: "cn", Types: []string{"substring", "equality"}},
			{Attribute: "objectClass", Types: []string{"equality", "presence"}},
		},
	}
}

func openLocal(t *testing.T, cfg *config.BackendConfig) *Local {
	t.Helper()
	b := NewLocal(cfg.ID, LocalOptions{Now: func() time.Time { return fixedNow }})
	require.NoError(t, b.Configure(cfg))
	require.NoError(t, b.Open(context.Background()))
	t.Cleanup(b.Close)
	return b
}

func entry(d string, attrs ...string) *storage.Entry {
	e := storage.NewEntry(d)
	for i := 0; i+1 < len(attrs); i += 2 {
		e.AddAttributeValue(attrs[i], []byte(attrs[i+1]))
	}
	return e
}

// seedPeople builds:
//
//	dc=example
//	  ou=people
//	    uid=alice, uid=bob, uid=carol
//	  ou=groups
func seedPeople(t *testing.T, b *Local) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []*storage.Entry{
		entry("dc=example", "objectClass", "domain", "dc", "example"),
		entry("ou=people,dc=example", "objectClass", "organizationalUnit", "ou", "people"),
		entry("uid=alice,ou=people,dc=example", "objectClass", "person", "uid", "alice", "cn", "Alice Smith"),
		entry("uid=bob,ou=people,dc=example", "objectClass", "person", "uid", "bob", "cn", "Bob Jones"),
		entry("uid=carol,ou=people,dc=example", "objectClass", "person", "uid", "carol", "cn", "Carol Smith", "description", "manager"),
		entry("ou=groups,dc=example", "objectClass", "organizationalUnit", "ou", "groups"),
	} {
		require.NoError(t, b.Add(ctx, OpContext{}, e))
	}
}

type failingEngine struct {
	storage.Engine
	err error
}

func (f *failingEngine) Open(context.Context) error { return f.err }
func (f *failingEngine) Close() error               { return nil }

func TestLifecycleIsMonotonic(t *testing.T) {
	ctx := context.Background()
	b := NewLocal("userRoot", LocalOptions{})
	assert.Equal(t, StateUnconfigured, b.State())

	err := b.Open(ctx)
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = b.Get(ctx, dn.MustParse("dc=example"))
	assert.ErrorIs(t, err, ErrNotOpen)

	err = b.Configure(&config.BackendConfig{ID: "userRoot", Type: TypeMemory})
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.NotEmpty(t, cerr.Errs)
	assert.Equal(t, StateUnconfigured, b.State())

	err = b.Configure(memoryConfig("other", "dc=example"))
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, StateUnconfigured, b.State())

	require.NoError(t, b.Configure(memoryConfig("userRoot", "dc=example")))
	assert.Equal(t, StateConfigured, b.State())
	require.NoError(t, b.Open(ctx))
	assert.Equal(t, StateOpen, b.State())
	require.NoError(t, b.Open(ctx))

	assert.ErrorIs(t, b.Configure(memoryConfig("userRoot", "dc=example")), ErrConfig)
	assert.Equal(t, StateOpen, b.State())

	ps := NewPersistentSearch(dn.MustParse("dc=example"), storage.ScopeSubtree, nil, ChangeAll, 1)
	var cancels atomic.Int32
	ps.OnCancel(func() { cancels.Add(1) })
	require.NoError(t, b.RegisterPersistentSearch(ps))

	b.Close()
	assert.Equal(t, StateClosed, b.State())
	b.Close()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int32(1), cancels.Load(), "search canceled once across both closes")
	assert.ErrorIs(t, ps.Err(), ErrRegistryClosed)

	assert.ErrorIs(t, b.Open(ctx), ErrClosed)
	assert.ErrorIs(t, b.Configure(memoryConfig("userRoot", "dc=example")), ErrConfig)
	_, err = b.Get(ctx, dn.MustParse("dc=example"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, b.State())
}

func TestCloseBeforeOpen(t *testing.T) {
	b := NewLocal("userRoot", LocalOptions{})
	b.Close()
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Open(context.Background()), ErrClosed)
}

type gatedEngine struct {
	storage.Engine
	entered chan struct{}
	release chan struct{}
	opened  atomic.Int32
	closed  atomic.Int32
}

func (g *gatedEngine) Open(context.Context) error {
	close(g.entered)
	<-g.release
	g.opened.Add(1)
	return nil
}

func (g *gatedEngine) Close() error {
	g.closed.Add(1)
	return nil
}

func TestCloseDuringOpen(t *testing.T) {
	engine := &gatedEngine{entered: make(chan struct{}), release: make(chan struct{})}
	b := NewLocal("userRoot", LocalOptions{
		EngineFactory: func(*config.BackendConfig, EngineOptions) (storage.Engine, error) {
			return engine, nil
		},
	})
	require.NoError(t, b.Configure(memoryConfig("userRoot", "dc=example")))

	opened := make(chan error, 1)
	go func() { opened <- b.Open(context.Background()) }()
	<-engine.entered

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool { return b.State() == StateClosed }, time.Second, time.Millisecond)
	close(engine.release)

	assert.ErrorIs(t, <-opened, ErrClosed)
	<-closed
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, int32(1), engine.opened.Load())
	assert.Equal(t, int32(1), engine.closed.Load(), "engine opened by the losing Open is closed")
}

func TestInitErrorIsPermanent(t *testing.T) {
	boom := errors.New("disk on fire")
	calls := 0
	b := NewLocal("userRoot", LocalOptions{
		EngineFactory: func(*config.BackendConfig, EngineOptions) (storage.Engine, error) {
			calls++
			return &failingEngine{err: boom}, nil
		},
	})
	require.NoError(t, b.Configure(memoryConfig("userRoot", "dc=example")))

	err := b.Open(context.Background())
	var ierr *InitError
	require.True(t, errors.As(err, &ierr))
	assert.ErrorIs(t, err, ErrInit)
	assert.ErrorIs(t, err, boom)

	again := b.Open(context.Background())
	assert.Same(t, err, again)
	assert.Equal(t, StateConfigured, b.State())
	assert.Equal(t, 1, calls)
}

func TestOpenConfigErrorIsRecoverable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := &config.BackendConfig{ID: "userRoot", Type: TypeBadger, BaseDNs: []string{"dc=example"}, Path: file}
	b := NewLocal("userRoot", LocalOptions{})
	require.NoError(t, b.Configure(cfg))
	err := b.Open(context.Background())
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, StateConfigured, b.State())

	cfg.Path = filepath.Join(dir, "db")
	require.NoError(t, b.Configure(cfg))
	require.NoError(t, b.Open(context.Background()))
	b.Close()
}

func TestCapabilitiesAndIndexQueries(t *testing.T) {
	b := NewLocal("userRoot", LocalOptions{})
	assert.False(t, b.Supports(CapIndexing))
	assert.False(t, b.IsIndexed("uid", filter.IndexEquality))

	require.NoError(t, b.Configure(memoryConfig("userRoot", "dc=example")))
	assert.True(t, b.Supports(CapIndexing))
	assert.True(t, b.Supports(CapLDIFExport|CapLDIFImport))
	assert.False(t, b.Supports(CapBackup))
	assert.False(t, b.Supports(CapRestore))

	assert.True(t, b.IsIndexed("UID", filter.IndexEquality))
	assert.True(t, b.IsIndexed("commonName", filter.IndexSubstring))
	assert.False(t, b.IsIndexed("uid", filter.IndexSubstring))

	tests := []struct {
		filter string
		want   bool
	}{
		{"(uid=alice)", true},
		{"(&(uid=alice)(description=x))", true},
		{"(|(uid=alice)(cn=*ali*))", true},
		{"(|(uid=alice)(description=x))", false},
		{"(!(uid=alice))", false},
		{"(description=x)", false},
		{"(objectClass=*)", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.IsFilterIndexed(filter.MustParse(tt.filter)), tt.filter)
	}
	assert.False(t, b.IsFilterIndexed(filter.NewOrFilter()))
}

func TestAddGetDelete(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	got, err := b.Get(ctx, dn.MustParse("UID=Alice,ou=people,dc=example"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice Smith", got.GetFirst("cn"))
	assert.Equal(t, "20240102030405Z", got.GetFirst(AttrCreateTimestamp))
	assert.Equal(t, "20240102030405Z", got.GetFirst(AttrModifyTimestamp))
	_, err = uuid.Parse(got.GetFirst(AttrEntryUUID))
	assert.NoError(t, err)

	missing, err := b.Get(ctx, dn.MustParse("uid=nobody,ou=people,dc=example"))
	require.NoError(t, err)
	assert.Nil(t, missing)
	ok, err := b.Exists(ctx, dn.MustParse("ou=groups,dc=example"))
	require.NoError(t, err)
	assert.True(t, ok)

	tests := []struct {
		name string
		e    *storage.Entry
		want error
	}{
		{"duplicate", entry("uid=alice,ou=people,dc=example", "uid", "alice"), ErrEntryExists},
		{"orphan", entry("uid=x,ou=missing,dc=example", "uid", "x"), ErrNoParent},
		{"outside", entry("dc=other", "dc", "other"), ErrNotServed},
		{"bad dn", entry("not a dn", "x", "y"), ErrInvalidDN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Add(ctx, OpContext{}, tt.e)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrOperation)
		})
	}

	err = b.Delete(ctx, OpContext{}, dn.MustParse("ou=people,dc=example"))
	assert.ErrorIs(t, err, ErrNotAllowedOnNonLeaf)
	require.NoError(t, b.Delete(ctx, OpContext{}, dn.MustParse("uid=bob,ou=people,dc=example")))
	err = b.Delete(ctx, OpContext{}, dn.MustParse("uid=bob,ou=people,dc=example"))
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestAddCanonicalizesAttributeNames(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	require.NoError(t, b.Add(ctx, OpContext{}, entry("dc=example", "objectClass", "domain")))
	require.NoError(t, b.Add(ctx, OpContext{}, entry("cn=x,dc=example", "commonName", "Xavier")))

	got, err := b.Get(ctx, dn.MustParse("cn=x,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, "Xavier", got.GetFirst("cn"))
	assert.False(t, got.HasAttribute("commonname"))
}

func TestWritability(t *testing.T) {
	tests := []struct {
		mode     string
		internal bool
		allowed  bool
	}{
		{"enabled", false, true},
		{"enabled", true, true},
		{"internal-only", false, false},
		{"internal-only", true, true},
		{"disabled", false, false},
		{"disabled", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := memoryConfig("userRoot", "dc=example")
			cfg.Writability = tt.mode
			b := openLocal(t, cfg)
			err := b.Add(context.Background(), OpContext{Internal: tt.internal}, entry("dc=example", "dc", "example"))
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrReadOnly)
			}
		})
	}
}

func TestReplaceKeepsOperationalAttributes(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)
	d := dn.MustParse("uid=alice,ou=people,dc=example")
	before, err := b.Get(ctx, d)
	require.NoError(t, err)

	later := fixedNow.Add(time.Hour)
	b.now = func() time.Time { return later }
	require.NoError(t, b.Replace(ctx, OpContext{}, entry(d.String(), "objectClass", "person", "uid", "alice", "cn", "Alice Cooper")))

	after, err := b.Get(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", after.GetFirst("cn"))
	assert.Equal(t, before.GetFirst(AttrEntryUUID), after.GetFirst(AttrEntryUUID))
	assert.Equal(t, "20240102030405Z", after.GetFirst(AttrCreateTimestamp))
	assert.Equal(t, FormatTimestamp(later), after.GetFirst(AttrModifyTimestamp))

	err = b.Replace(ctx, OpContext{}, entry("uid=nobody,ou=people,dc=example", "uid", "nobody"))
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestRenameMovesSubtree(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	err := b.Rename(ctx, OpContext{}, RenameRequest{
		DN:           dn.MustParse("ou=people,dc=example"),
		NewRDN:       "ou=staff",
		DeleteOldRDN: true,
	})
	require.NoError(t, err)

	old, err := b.Get(ctx, dn.MustParse("ou=people,dc=example"))
	require.NoError(t, err)
	assert.Nil(t, old)
	oldChild, err := b.Get(ctx, dn.MustParse("uid=alice,ou=people,dc=example"))
	require.NoError(t, err)
	assert.Nil(t, oldChild)

	staff, err := b.Get(ctx, dn.MustParse("ou=staff,dc=example"))
	require.NoError(t, err)
	require.NotNil(t, staff)
	assert.Equal(t, [][]byte{[]byte("staff")}, staff.GetAttribute("ou"))

	alice, err := b.Get(ctx, dn.MustParse("uid=alice,ou=staff,dc=example"))
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "uid=alice,ou=staff,dc=example", alice.DN)

	n, err := b.NumberOfChildren(ctx, dn.MustParse("ou=staff,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Move bob under groups, keeping the old RDN value.
	err = b.Rename(ctx, OpContext{}, RenameRequest{
		DN:          dn.MustParse("uid=bob,ou=staff,dc=example"),
		NewRDN:      "cn=bob",
		NewSuperior: dn.MustParse("ou=groups,dc=example"),
	})
	require.NoError(t, err)
	bob, err := b.Get(ctx, dn.MustParse("cn=bob,ou=groups,dc=example"))
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.Equal(t, "bob", bob.GetFirst("uid"))
	assert.ElementsMatch(t, [][]byte{[]byte("Bob Jones"), []byte("bob")}, bob.GetAttribute("cn"))
}

func TestRenameErrors(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	tests := []struct {
		name string
		req  RenameRequest
		want error
	}{
		{"missing", RenameRequest{DN: dn.MustParse("uid=x,ou=people,dc=example"), NewRDN: "uid=y"}, ErrNoSuchEntry},
		{"taken", RenameRequest{DN: dn.MustParse("uid=alice,ou=people,dc=example"), NewRDN: "uid=bob"}, ErrEntryExists},
		{"no parent", RenameRequest{DN: dn.MustParse("uid=alice,ou=people,dc=example"), NewRDN: "uid=alice", NewSuperior: dn.MustParse("ou=nowhere,dc=example")}, ErrNoParent},
		{"below itself", RenameRequest{DN: dn.MustParse("ou=people,dc=example"), NewRDN: "ou=x", NewSuperior: dn.MustParse("uid=alice,ou=people,dc=example")}, ErrInvalidDN},
		{"base DN", RenameRequest{DN: dn.MustParse("dc=example"), NewRDN: "dc=renamed"}, ErrNotServed},
		{"other backend", RenameRequest{DN: dn.MustParse("uid=alice,ou=people,dc=example"), NewRDN: "uid=alice", NewSuperior: dn.MustParse("dc=other")}, ErrNotServed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, b.Rename(ctx, OpContext{}, tt.req), tt.want)
		})
	}
}

func searchDNs(t *testing.T, b *Local, req SearchRequest) []string {
	t.Helper()
	var out []string
	err := b.Search(context.Background(), req, func(e *storage.Entry) error {
		out = append(out, e.DN)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestSearch(t *testing.T) {
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)
	people := dn.MustParse("ou=people,dc=example")

	tests := []struct {
		name   string
		base   dn.DN
		scope  storage.Scope
		filter string
		want   []string
	}{
		{"indexed equality", people, storage.ScopeSubtree, "(uid=alice)", []string{"uid=alice,ou=people,dc=example"}},
		{"indexed substring", people, storage.ScopeOneLevel, "(cn=*smith)", []string{"uid=alice,ou=people,dc=example", "uid=carol,ou=people,dc=example"}},
		{"unindexed", dn.MustParse("dc=example"), storage.ScopeSubtree, "(description=manager)", []string{"uid=carol,ou=people,dc=example"}},
		{"and with unindexed part", people, storage.ScopeSubtree, "(&(cn=*smith*)(!(uid=alice)))", []string{"uid=carol,ou=people,dc=example"}},
		{"base scope", people, storage.ScopeBase, "(objectClass=*)", []string{"ou=people,dc=example"}},
		{"no filter one level", dn.MustParse("dc=example"), storage.ScopeOneLevel, "", []string{"ou=groups,dc=example", "ou=people,dc=example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := SearchRequest{Base: tt.base, Scope: tt.scope}
			if tt.filter != "" {
				req.Filter = filter.MustParse(tt.filter)
			}
			assert.Equal(t, tt.want, searchDNs(t, b, req))
		})
	}
}

func TestSearchStopsAndLimits(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)
	req := SearchRequest{Base: dn.MustParse("dc=example"), Scope: storage.ScopeSubtree}

	n := 0
	err := b.Search(ctx, req, func(*storage.Entry) error {
		n++
		if n == 2 {
			return storage.ErrStopScan
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	boom := errors.New("client went away")
	err = b.Search(ctx, req, func(*storage.Entry) error { return boom })
	assert.Same(t, boom, err)

	req.SizeLimit = 3
	n = 0
	err = b.Search(ctx, req, func(*storage.Entry) error {
		n++
		return nil
	})
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
	assert.Equal(t, 3, n)

	err = b.Search(ctx, SearchRequest{Base: dn.MustParse("ou=missing,dc=example")}, func(*storage.Entry) error { return nil })
	assert.ErrorIs(t, err, ErrNoSuchEntry)
	err = b.Search(ctx, SearchRequest{Base: dn.MustParse("dc=other")}, func(*storage.Entry) error { return nil })
	assert.ErrorIs(t, err, ErrNotServed)
}

func TestSearchCanceled(t *testing.T) {
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	for _, f := range []string{"", "(objectClass=person)"} {
		ctx, cancel := context.WithCancel(context.Background())
		req := SearchRequest{Base: dn.MustParse("dc=example"), Scope: storage.ScopeSubtree}
		if f != "" {
			req.Filter = filter.MustParse(f)
		}
		n := 0
		err := b.Search(ctx, req, func(*storage.Entry) error {
			n++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, ErrCanceled, f)
		assert.ErrorIs(t, err, context.Canceled, f)
		assert.Equal(t, 1, n, f)
		cancel()
	}
}

func TestSubordinateCounts(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	has, err := b.HasSubordinates(ctx, dn.MustParse("ou=people,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, ConditionTrue, has)
	has, err = b.HasSubordinates(ctx, dn.MustParse("ou=groups,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, ConditionFalse, has)
	has, err = b.HasSubordinates(ctx, dn.MustParse("ou=missing,dc=example"))
	assert.ErrorIs(t, err, ErrNoSuchEntry)
	assert.Equal(t, ConditionUndefined, has)

	n, err := b.NumberOfChildren(ctx, dn.MustParse("dc=example"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = b.NumberOfEntriesInBaseDN(ctx, dn.MustParse("dc=example"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	_, err = b.NumberOfEntriesInBaseDN(ctx, dn.MustParse("ou=people,dc=example"))
	assert.ErrorIs(t, err, ErrNotServed)
	n, err = b.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	assert.True(t, b.SupportsControl(PersistentSearchOID))
	assert.False(t, b.SupportsControl("1.2.3"))
	assert.Contains(t, b.SupportedFeatures(), AllOperationalAttributesOID)
}

func TestWritesNotifyPersistentSearches(t *testing.T) {
	ctx := context.Background()
	b := openLocal(t, memoryConfig("userRoot", "dc=example"))
	seedPeople(t, b)

	ps := NewPersistentSearch(dn.MustParse("ou=people,dc=example"), storage.ScopeSubtree,
		filter.MustParse("(objectClass=person)"), ChangeAdd|ChangeDelete|ChangeModDN, 16)
	require.NoError(t, b.RegisterPersistentSearch(ps))
	assert.Equal(t, 1, b.Registry().Len())

	require.NoError(t, b.Add(ctx, OpContext{}, entry("uid=dave,ou=people,dc=example", "objectClass", "person", "uid", "dave")))
	require.NoError(t, b.Add(ctx, OpContext{}, entry("cn=admins,ou=groups,dc=example", "objectClass", "groupOfNames")))
	require.NoError(t, b.Replace(ctx, OpContext{}, entry("uid=dave,ou=people,dc=example", "objectClass", "person", "uid", "dave", "cn", "Dave")))
	require.NoError(t, b.Rename(ctx, OpContext{}, RenameRequest{DN: dn.MustParse("uid=dave,ou=people,dc=example"), NewRDN: "uid=david"}))
	require.NoError(t, b.Delete(ctx, OpContext{}, dn.MustParse("uid=bob,ou=people,dc=example")))

	var got []Change
	for len(ps.Events()) > 0 {
		got = append(got, <-ps.Events())
	}
	require.Len(t, got, 3)
	assert.Equal(t, ChangeAdd, got[0].Type)
	assert.Equal(t, "uid=dave,ou=people,dc=example", got[0].Entry.DN)
	assert.Equal(t, ChangeModDN, got[1].Type)
	assert.Equal(t, "uid=dave,ou=people,dc=example", got[1].PreviousDN)
	assert.Equal(t, "uid=david,ou=people,dc=example", got[1].Entry.DN)
	assert.Equal(t, ChangeDelete, got[2].Type)

	b.Close()
	assert.ErrorIs(t, ps.Err(), ErrRegistryClosed)
	assert.Equal(t, 0, b.Registry().Len())

	late := NewPersistentSearch(dn.MustParse("dc=example"), storage.ScopeSubtree, nil, 0, 1)
	assert.ErrorIs(t, b.RegisterPersistentSearch(late), ErrClosed)
	assert.ErrorIs(t, late.Err(), ErrRegistryClosed)
}

func TestBuildOpenAllCloseAll(t *testing.T) {
	r := NewRouter(nil)
	backends, err := Build([]config.BackendConfig{
		*memoryConfig("userRoot", "dc=example"),
		*memoryConfig("archive", "ou=archive,dc=example"),
	}, LocalOptions{}, r)
	require.NoError(t, err)
	require.Len(t, backends, 2)

	require.NoError(t, OpenAll(context.Background(), backends))
	for _, b := range backends {
		assert.Equal(t, StateOpen, b.State())
	}
	assert.Equal(t, "archive", r.Route(dn.MustParse("cn=x,ou=archive,dc=example")).ID())

	CloseAll(backends)
	for _, b := range backends {
		assert.Equal(t, StateClosed, b.State())
	}

	_, err = Build([]config.BackendConfig{
		*memoryConfig("one", "dc=dup"),
		*memoryConfig("two", "dc=dup"),
	}, LocalOptions{}, r)
	assert.ErrorIs(t, err, ErrConfig)
	_, ok := r.Get("one")
	assert.False(t, ok)
}
