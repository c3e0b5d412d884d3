package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/module"
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/testutil"
)

// workspace is a database file and object directory for one test.
type workspace struct {
	db      string
	objects string
	store   *objstore.DirStore
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	store, err := objstore.NewDirStore(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	return &workspace{db: filepath.Join(dir, "fsidx.db"), objects: store.Dir(), store: store}
}

func (w *workspace) put(t *testing.T, pid string, pairs ...string) {
	t.Helper()
	content, err := objstore.NewDCRecord(pairs...).Marshal()
	require.NoError(t, err)
	require.NoError(t, w.store.Put(context.Background(), &objstore.Object{
		PID:   pid,
		Label: "Object " + pid,
		State: "A",
		Datastreams: []objstore.Datastream{
			{ID: objstore.DCDatastream, Control: objstore.ControlInline, Content: content},
		},
	}))
}

func (w *workspace) putManagedDC(t *testing.T, pid string) {
	t.Helper()
	require.NoError(t, w.store.Put(context.Background(), &objstore.Object{
		PID: pid,
		Datastreams: []objstore.Datastream{
			{ID: objstore.DCDatastream, Control: "M", Ref: "http://example.org/" + pid},
		},
	}))
}

// run executes an fsidx command against the workspace.
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := execute(t, append([]string{"--db", w.db, "--objects", w.objects}, args...)...)
	return out, err
}

// runJSON executes an fsidx command with --format json and decodes the
// response data into data.
func (w *workspace) runJSON(t *testing.T, data any, args ...string) (CLIResponse, error) {
	t.Helper()
	out, err := w.run(t, append([]string{"--format", "json"}, args...)...)
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse, err
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestInit(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Index ready (sqlite3): tables doIdentifiers, doFields")

	var res InitResult
	resp, err := w.runJSON(t, &res, "init")
	require.NoError(t, err, "init is idempotent")
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"doIdentifiers", "doFields"}, res.Tables)
	assert.Equal(t, w.objects, res.Objects)
}

func TestInit_MissingDatabase(t *testing.T) {
	_, _, err := execute(t, "init")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--config or --db")
}

func TestInit_ConfigFile(t *testing.T) {
	w := newWorkspace(t)
	cfgPath := filepath.Join(t.TempDir(), "fsidx.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
pool:
  driver: sqlite3
  url: `+w.db+`
objects:
  dir: `+w.objects+`
search:
  fastPathRule: equals-or-contains
`), 0o644))

	out, _, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "objects in "+w.objects)
}

func TestResyncAndFind(t *testing.T) {
	w := newWorkspace(t)
	w.put(t, "demo:1", "title", "Neuromancer", "identifier", "urn:isbn:0441569595")
	w.put(t, "demo:2", "title", "Count Zero", "identifier", "urn:isbn:0441117732", "identifier", "oai:2")

	var batchRes BatchResult
	_, err := w.runJSON(t, &batchRes, "resync", "--all")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:1", "demo:2"}, batchRes.Succeeded)
	assert.Empty(t, batchRes.Failed)

	out, err := w.run(t, "find", "identifier=oai:2")
	require.NoError(t, err)
	assert.Equal(t, "demo:2\n1 of 1 objects\n", out)

	out, err = w.run(t, "find", "--fields", "pid,title", "title~'count z*'")
	require.NoError(t, err)
	assert.Equal(t, "demo:2\ttitle=Count Zero\n1 of 1 objects\n", out)

	var found FindResult
	_, err = w.runJSON(t, &found, "find", "--fields", "pid,identifier", "pid=demo:2")
	require.NoError(t, err)
	require.Len(t, found.Pages, 1)
	require.Len(t, found.Pages[0].Objects, 1)
	assert.Equal(t, []string{"urn:isbn:0441117732", "oai:2"}, found.Pages[0].Objects[0].Fields["identifier"])
}

func TestResync_NamedObjects(t *testing.T) {
	w := newWorkspace(t)
	w.put(t, "demo:1", "identifier", "a")
	w.put(t, "demo:2", "identifier", "b")

	out, err := w.run(t, "resync", "demo:1")
	require.NoError(t, err)
	assert.Contains(t, out, "resync: 1 ok, 0 failed")

	out, err = w.run(t, "find", "identifier=b")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 objects")
}

func TestResync_Failures(t *testing.T) {
	w := newWorkspace(t)
	w.put(t, "demo:1", "identifier", "a")
	w.putManagedDC(t, "demo:2")

	var res BatchResult
	_, err := w.runJSON(t, &res, "resync", "--all", "--workers", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, []string{"demo:1"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "demo:2", res.Failed[0].PID)
	assert.Equal(t, "INTEGRITY", res.Failed[0].Code)

	_, err = w.runJSON(t, &res, "resync", "missing:1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing:1", res.Failed[0].PID)
	assert.Equal(t, "OBJECT_NOT_FOUND", res.Failed[0].Code)
}

func TestResync_Usage(t *testing.T) {
	w := newWorkspace(t)
	tests := [][]string{
		{"resync"},
		{"resync", "--all", "demo:1"},
		{"resync", "--workers", "0", "demo:1"},
	}
	for _, args := range tests {
		_, err := w.run(t, args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), args)
	}
}

func TestDelete(t *testing.T) {
	w := newWorkspace(t)
	w.put(t, "demo:1", "identifier", "a")
	w.put(t, "demo:2", "identifier", "b")
	_, err := w.run(t, "resync", "--all")
	require.NoError(t, err)

	out, err := w.run(t, "delete", "demo:1")
	require.NoError(t, err)
	assert.Contains(t, out, "delete: 1 ok, 0 failed")
	_, err = w.store.Object(context.Background(), "demo:1")
	assert.ErrorIs(t, err, objstore.ErrNotFound)

	out, err = w.run(t, "delete", "--keep-object", "demo:2")
	require.NoError(t, err)
	assert.Contains(t, out, "delete: 1 ok")
	_, err = w.store.Object(context.Background(), "demo:2")
	assert.NoError(t, err)

	out, err = w.run(t, "find")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0 objects")

	_, err = w.run(t, "delete", "never:1")
	assert.NoError(t, err, "deleting an unknown object is not an error")
}

func TestFind_Paging(t *testing.T) {
	w := newWorkspace(t)
	for _, pid := range []string{"demo:1", "demo:2", "demo:3"} {
		w.put(t, pid)
	}
	_, err := w.run(t, "resync", "--all")
	require.NoError(t, err)

	out, err := w.run(t, "find", "--max", "2")
	require.NoError(t, err)
	assert.Equal(t, "demo:1\ndemo:2\n2 of 3 objects (more with --all)\n", out)

	var res FindResult
	_, err = w.runJSON(t, &res, "find", "--max", "1", "--all", "pid~demo*")
	require.NoError(t, err)
	require.Len(t, res.Pages, 3)
	assert.NotEmpty(t, res.Pages[0].Token)
	assert.NotNil(t, res.Pages[0].Expires)
	assert.Equal(t, int64(2), res.Pages[2].Cursor)
	assert.Empty(t, res.Pages[2].Token)
	assert.Equal(t, "pid~demo*", res.Query)
}

func TestFind_Errors(t *testing.T) {
	w := newWorkspace(t)

	resp, err := w.runJSON(t, nil, "find", "title")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)

	resp, err = w.runJSON(t, nil, "find", "colour=red")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNRECOGNIZED_FIELD", resp.Error.Code)

	_, err = w.run(t, "find", "--fields", "pid,colour")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStats(t *testing.T) {
	w := newWorkspace(t)
	w.put(t, "demo:1", "identifier", "a", "identifier", "b")
	_, err := w.run(t, "resync", "--all")
	require.NoError(t, err)

	out, err := w.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "identifiers: 2 rows for 1 objects")
	assert.NotContains(t, out, "# HELP")

	var res StatsResult
	_, err = w.runJSON(t, &res, "stats", "--metrics")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Identifiers.Rows)
	assert.Equal(t, int64(1), res.Fields.Objects)
	assert.Contains(t, res.Samples, "fsidx_pool_active_connections")

	out, err = w.run(t, "stats", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "# TYPE fsidx_pool_active_connections gauge")
}

func TestApplyChange(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	cfg := config.Default(w.db)
	cfg.Objects.Dir = w.objects
	m, err := module.New(ctx, cfg, module.Options{Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	handle := applyChange(m)
	w.put(t, "demo:1", "identifier", "oai:1")
	require.NoError(t, handle(ctx, objstore.Change{Kind: objstore.Changed, PID: "demo:1"}))

	pids, err := m.LookupIdentifier(ctx, "oai:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:1"}, pids)

	require.NoError(t, w.store.Remove(ctx, "demo:1"))
	require.NoError(t, handle(ctx, objstore.Change{Kind: objstore.Removed, PID: "demo:1"}))
	pids, err = m.LookupIdentifier(ctx, "oai:1")
	require.NoError(t, err)
	assert.Empty(t, pids)

	assert.Error(t, handle(ctx, objstore.Change{Kind: objstore.Changed, PID: "gone:1"}))
}

func TestWatch_StopsWithContext(t *testing.T) {
	w := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", w.db, "--objects", w.objects, "watch", "--debounce", "10ms"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
