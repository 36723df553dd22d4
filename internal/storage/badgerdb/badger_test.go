package badgerdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

var testIndexes = []storage.IndexSpec{
	{Attribute: "uid", Types: []filter.IndexType{filter.IndexEquality}},
	{Attribute: "cn", Types: []filter.IndexType{filter.IndexSubstring, filter.IndexApproximate}},
	{Attribute: "uidnumber", Types: []filter.IndexType{filter.IndexOrdering}},
	{Attribute: "objectclass", Types: []filter.IndexType{filter.IndexEquality, filter.IndexPresence}},
	{Attribute: "sn", Rules: []string{"caseIgnoreMatch"}},
}

func openEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Path == "" {
		opts.InMemory = true
	}
	if opts.Indexes == nil {
		opts.Indexes = testIndexes
	}
	e := New(opts)
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func put(t *testing.T, e *Engine, d string, attrs ...string) {
	t.Helper()
	entry := storage.NewEntry(d)
	for i := 0; i+1 < len(attrs); i += 2 {
		entry.AddAttributeValue(attrs[i], []byte(attrs[i+1]))
	}
	require.NoError(t, e.Put(context.Background(), entry))
}

func seed(t *testing.T, e *Engine) {
	put(t, e, "dc=example", "objectClass", "domain")
	put(t, e, "ou=users,dc=example", "objectClass", "organizationalUnit")
	put(t, e, "uid=alice,ou=users,dc=example", "objectClass", "person", "uid", "alice", "cn", "Alice Smith", "sn", "Smith", "uidNumber", "1001")
	put(t, e, "uid=bob,ou=users,dc=example", "objectClass", "person", "uid", "bob", "cn", "Bob Jones", "sn", "Jones", "uidNumber", "1002")
	put(t, e, "ou=groups,dc=example", "objectClass", "organizationalUnit")
	put(t, e, "dc=example2", "objectClass", "domain")
}

func scanDNs(t *testing.T, e *Engine, base string, scope storage.Scope) []string {
	t.Helper()
	var out []string
	err := e.Scan(context.Background(), dn.MustParse(base), scope, func(entry *storage.Entry) error {
		out = append(out, entry.DN)
		return nil
	})
	require.NoError(t, err)
	return out
}

func candidates(t *testing.T, e *Engine, base, expr string) ([]string, bool) {
	t.Helper()
	var out []string
	ok, err := e.Candidates(context.Background(), dn.MustParse(base), storage.ScopeSubtree, filter.MustParse(expr), func(entry *storage.Entry) error {
		out = append(out, entry.DN)
		return nil
	})
	require.NoError(t, err)
	return out, ok
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, Options{})
	seed(t, e)

	got, err := e.Get(ctx, dn.MustParse("uid=ALICE,ou=users,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", got.GetFirst("cn"))
	assert.Equal(t, uint64(6), e.Stats().EntryCount)

	require.NoError(t, e.Delete(ctx, dn.MustParse("uid=alice,ou=users,dc=example")))
	_, err = e.Get(ctx, dn.MustParse("uid=alice,ou=users,dc=example"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, e.Delete(ctx, dn.MustParse("uid=alice,ou=users,dc=example")), storage.ErrNotFound)
	assert.Equal(t, uint64(5), e.Stats().EntryCount)

	_, ok := candidates(t, e, "dc=example", "(uid=alice)")
	assert.True(t, ok)
	got2, _ := candidates(t, e, "dc=example", "(uid=alice)")
	assert.Empty(t, got2)
}

func TestScanScopes(t *testing.T) {
	e := openEngine(t, Options{})
	seed(t, e)

	assert.Equal(t, []string{"dc=example"}, scanDNs(t, e, "dc=example", storage.ScopeBase))
	assert.Equal(t, []string{
		"uid=alice,ou=users,dc=example",
		"uid=bob,ou=users,dc=example",
	}, scanDNs(t, e, "ou=users,dc=example", storage.ScopeOneLevel))
	assert.Equal(t, []string{
		"dc=example",
		"ou=groups,dc=example",
		"ou=users,dc=example",
		"uid=alice,ou=users,dc=example",
		"uid=bob,ou=users,dc=example",
	}, scanDNs(t, e, "dc=example", storage.ScopeSubtree))
	assert.Equal(t, []string{"dc=example", "dc=example2"}, scanDNs(t, e, "", storage.ScopeOneLevel))
	assert.Len(t, scanDNs(t, e, "", storage.ScopeSubtree), 6)
	assert.Empty(t, scanDNs(t, e, "ou=missing,dc=example", storage.ScopeSubtree))
}

func TestHasChildren(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, Options{})
	seed(t, e)

	for d, want := range map[string]bool{
		"dc=example":                    true,
		"ou=users,dc=example":           true,
		"ou=groups,dc=example":          false,
		"uid=alice,ou=users,dc=example": false,
		"":                              true,
	} {
		has, err := e.HasChildren(ctx, dn.MustParse(d))
		require.NoError(t, err)
		assert.Equal(t, want, has, d)
	}
}

func TestCandidates(t *testing.T) {
	e := openEngine(t, Options{})
	seed(t, e)

	tests := []struct {
		expr string
		want []string
		ok   bool
	}{
		{"(uid=bob)", []string{"uid=bob,ou=users,dc=example"}, true},
		{"(cn=*smi*)", []string{"uid=alice,ou=users,dc=example"}, true},
		{"(cn~=bob   jones)", []string{"uid=bob,ou=users,dc=example"}, true},
		{"(uidNumber>=1002)", []string{"uid=bob,ou=users,dc=example"}, true},
		{"(uidNumber<=1001)", []string{"uid=alice,ou=users,dc=example"}, true},
		{"(sn:caseIgnoreMatch:=jones)", []string{"uid=bob,ou=users,dc=example"}, true},
		{"(&(objectClass=domain)(description=x))", []string{"dc=example"}, true},
		{"(|(uid=alice)(objectClass=organizationalUnit))", []string{
			"ou=groups,dc=example",
			"ou=users,dc=example",
			"uid=alice,ou=users,dc=example",
		}, true},
		{"(!(uid=bob))", nil, false},
		{"(|(uid=bob)(mail=x))", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := candidates(t, e, "dc=example", tt.expr)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplaceAndVerify(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, Options{})
	seed(t, e)

	put(t, e, "uid=alice,ou=users,dc=example", "objectClass", "person", "uid", "alicia")
	assert.Equal(t, uint64(6), e.Stats().EntryCount)

	got, ok := candidates(t, e, "dc=example", "(uid=alice)")
	require.True(t, ok)
	assert.Empty(t, got)
	got, _ = candidates(t, e, "dc=example", "(uid=alicia)")
	assert.Equal(t, []string{"uid=alice,ou=users,dc=example"}, got)

	report, err := e.VerifyIndexes(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, uint64(6), report.EntriesChecked)
}

func TestRebuildIndexes(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t, Options{})
	seed(t, e)

	require.NoError(t, e.db.DropPrefix(attrPrefix("uid")))
	report, err := e.VerifyIndexes(ctx, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.Missing)

	n, err := e.RebuildIndexes(ctx, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	report, err = e.VerifyIndexes(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)

	got, _ := candidates(t, e, "dc=example", "(uid=alice)")
	assert.Equal(t, []string{"uid=alice,ou=users,dc=example"}, got)
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := openEngine(t, Options{})
	seed(t, src)

	var buf bytes.Buffer
	n, err := src.Snapshot(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	dst := openEngine(t, Options{})
	put(t, dst, "dc=other", "objectClass", "domain")
	require.NoError(t, dst.Restore(ctx, &buf))

	assert.Equal(t, uint64(6), dst.Stats().EntryCount)
	_, err = dst.Get(ctx, dn.MustParse("dc=other"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, ok := candidates(t, dst, "dc=example", "(uid=bob)")
	require.True(t, ok)
	assert.Equal(t, []string{"uid=bob,ou=users,dc=example"}, got)

	// New IDs must not collide with restored ones.
	put(t, dst, "uid=carol,ou=users,dc=example", "uid", "carol")
	got, _ = candidates(t, dst, "dc=example", "(|(uid=bob)(uid=carol))")
	assert.Equal(t, []string{"uid=bob,ou=users,dc=example", "uid=carol,ou=users,dc=example"}, got)
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := New(Options{Path: dir, Indexes: testIndexes})
	require.NoError(t, e.Open(ctx))
	seed(t, e)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Open(ctx), storage.ErrClosed)

	reopened := New(Options{Path: dir, Indexes: testIndexes})
	require.NoError(t, reopened.Open(ctx))
	defer reopened.Close()

	assert.Equal(t, uint64(6), reopened.Stats().EntryCount)
	got, err := reopened.Get(ctx, dn.MustParse("uid=bob,ou=users,dc=example"))
	require.NoError(t, err)
	assert.Equal(t, "bob", got.GetFirst("uid"))
}

func TestPostingKeyRoundTrip(t *testing.T) {
	for _, k := range []storage.IndexKey{
		{Attribute: "cn", Kind: filter.IndexSubstring, Key: "abc"},
		{Attribute: "sn", Rule: "caseignorematch", Key: "smith"},
		{Attribute: "mail", Kind: filter.IndexPresence},
	} {
		got, ok := parsePostingKey(postingKey(k))
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e := New(Options{InMemory: true})
	_, err := e.Get(ctx, dn.MustParse("dc=x"))
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.Error(t, New(Options{}).Open(ctx))
}
