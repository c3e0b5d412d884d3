package module

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/query"
	"github.com/roach88/fsidx/internal/testutil"
)

func newModule(t *testing.T, mutate func(*config.Config)) (*Module, *testutil.MemStore) {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db"))
	if mutate != nil {
		mutate(cfg)
	}
	store := testutil.NewMemStore()
	m, err := New(context.Background(), cfg, Options{
		Logger: testutil.DiscardLogger(),
		Store:  store,
		Clock:  testutil.NewManualClock(time.Time{}),
		Tokens: testutil.NewSequentialTokens("s"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = m.Shutdown(context.Background()) })
	return m, store
}

func find(t *testing.T, m *Module, fields []string, conds string) []string {
	t.Helper()
	cs, err := query.ParseConditions(conds)
	require.NoError(t, err)
	res, err := m.FindObjects(context.Background(), fields, 100, query.New(cs...))
	require.NoError(t, err)
	return res.PIDs()
}

func TestUpdate_FeedsBothPaths(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, nil)
	store.PutDC("demo:1", "title", "Neuromancer", "identifier", "urn:isbn:0441569595")
	store.PutDC("demo:2", "title", "Count Zero", "identifier", "urn:isbn:0441117732")
	require.NoError(t, m.Update(ctx, "demo:1"))
	require.NoError(t, m.Update(ctx, "demo:2"))

	assert.Equal(t, []string{"demo:2"}, find(t, m, []string{"pid"}, "identifier=urn:isbn:0441117732"))
	assert.Equal(t, []string{"demo:2"}, find(t, m, []string{"pid", "title"}, "identifier=urn:isbn:0441117732"))
	assert.Equal(t, []string{"demo:1"}, find(t, m, []string{"pid"}, "title~neuro*"))

	pids, err := m.LookupIdentifier(ctx, "urn:isbn:0441569595")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:1"}, pids)
}

func TestUpdate_EngineFailureSkipsResync(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, nil)
	store.PutNonInlineDC("demo:1")

	err := m.Update(ctx, "demo:1")
	assert.True(t, fserr.IsIntegrity(err))

	err = m.Update(ctx, "missing:1")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
	assert.True(t, fserr.IsObjectNotFound(err))
}

func TestDelete_ClearsBothIndexes(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, nil)
	store.PutDC("demo:1", "title", "Gone", "identifier", "oai:gone")
	require.NoError(t, m.Update(ctx, "demo:1"))

	require.NoError(t, m.Delete(ctx, "demo:1"))
	assert.Empty(t, find(t, m, []string{"pid"}, "identifier=oai:gone"))
	assert.Empty(t, find(t, m, []string{"pid"}, "title=Gone"))

	require.NoError(t, m.Delete(ctx, "demo:1"), "deleting an unindexed object is not an error")
}

func TestDelete_IndexFailureStillDeletesFields(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, nil)
	store.PutDC("demo:1", "title", "Orphan", "identifier", "oai:orphan")
	require.NoError(t, m.Update(ctx, "demo:1"))

	conn, err := m.Pool().AcquireReadWrite(ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "DROP TABLE doIdentifiers")
	m.Pool().Release(conn)
	require.NoError(t, err)

	err = m.Delete(ctx, "demo:1")
	require.Error(t, err)
	assert.True(t, fserr.IsStorage(err))
	assert.Empty(t, find(t, m, []string{"pid"}, "title=Orphan"))
}

func TestResume_ThroughModule(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, func(c *config.Config) { c.Search.MaxResults = 1 })
	store.PutDC("demo:1")
	store.PutDC("demo:2")
	require.NoError(t, m.Update(ctx, "demo:1"))
	require.NoError(t, m.Update(ctx, "demo:2"))

	res, err := m.FindObjects(ctx, []string{"pid", "state"}, 10, query.Query{})
	require.NoError(t, err)
	assert.Equal(t, "s-1", res.Token)

	res, err = m.ResumeFindObjects(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:2"}, res.PIDs())
	assert.Empty(t, res.Token)
}

func TestRegistry_GathersComponents(t *testing.T) {
	ctx := context.Background()
	m, store := newModule(t, nil)
	store.PutIdentifiers("demo:1", "oai:1")
	require.NoError(t, m.Update(ctx, "demo:1"))
	find(t, m, []string{"pid"}, "identifier=oai:1")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"fsidx_dispatch_routes_total",
		"fsidx_index_resyncs_total",
		"fsidx_search_updates_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNew_Configuration(t *testing.T) {
	ctx := context.Background()

	t.Run("no object store", func(t *testing.T) {
		cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db"))
		_, err := New(ctx, cfg, Options{Logger: testutil.DiscardLogger()})
		assert.Equal(t, fserr.CodeConfiguration, fserr.CodeOf(err))
	})

	t.Run("directory store", func(t *testing.T) {
		cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db"))
		cfg.Objects.Dir = filepath.Join(t.TempDir(), "objects")
		m, err := New(ctx, cfg, Options{Logger: testutil.DiscardLogger()})
		require.NoError(t, err)
		defer m.Shutdown(ctx)
		assert.IsType(t, &objstore.DirStore{}, m.Store())
	})

	t.Run("unknown fast path rule", func(t *testing.T) {
		cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db"))
		cfg.Search.FastPathRule = "sometimes"
		_, err := New(ctx, cfg, Options{Logger: testutil.DiscardLogger(), Store: testutil.NewMemStore()})
		assert.Equal(t, fserr.CodeConfiguration, fserr.CodeOf(err))
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db"))
		cfg.Pool.Driver = "oracle"
		_, err := New(ctx, cfg, Options{Logger: testutil.DiscardLogger(), Store: testutil.NewMemStore()})
		assert.Equal(t, fserr.CodeConfiguration, fserr.CodeOf(err))
	})
}
