package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dcObject(t *testing.T, pid string, ids ...string) *Object {
	t.Helper()
	var pairs []string
	for _, id := range ids {
		pairs = append(pairs, "identifier", id)
	}
	content, err := NewDCRecord(pairs...).Marshal()
	require.NoError(t, err)
	return &Object{
		PID:   pid,
		State: "A",
		Datastreams: []Datastream{
			{ID: DCDatastream, Control: ControlInline, Content: content},
		},
	}
}

func TestDirStore_PutObjectRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, dcObject(t, "demo:1", "oai:1", "oai:2")))
	assert.FileExists(t, filepath.Join(s.Dir(), "demo%3A1.xml"))

	ids, err := Identifiers(ctx, s, "demo:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"oai:1", "oai:2"}, ids)

	require.NoError(t, s.Remove(ctx, "demo:1"))
	_, err = s.Object(ctx, "demo:1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "demo:1"), ErrNotFound)
}

func TestDirStore_ListFindsNestedDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, dcObject(t, "demo:2")))
	nested := filepath.Join(dir, "batch", "2024")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	fixture, err := os.ReadFile("testdata/demo1.xml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "anything.xml"), fixture, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml"), []byte("<nope/>"), 0o644))

	pids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:1", "demo:2"}, pids)

	// Listing resolved the nested file, so it can be read by pid.
	obj, err := s.Object(ctx, "demo:1")
	require.NoError(t, err)
	assert.Equal(t, "Demo object", obj.Label)
}

func TestDirStore_ObjectRejectsMismatchedPID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	fixture, err := os.ReadFile("testdata/demo1.xml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo%3A9.xml"), fixture, 0o644))

	_, err = s.Object(ctx, "demo:9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStore_Matches(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	assert.True(t, s.Matches(filepath.Join(dir, "a.xml")))
	assert.True(t, s.Matches(filepath.Join(dir, "x", "y", "a.xml")))
	assert.False(t, s.Matches(filepath.Join(dir, "a.xml.tmp")))
	assert.False(t, s.Matches(filepath.Join(filepath.Dir(dir), "outside.xml")))
}

func TestDirStore_ForgetFallsBackToFileName(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	pid, ok := s.Forget(filepath.Join(s.Dir(), "demo%3A7.xml"))
	assert.True(t, ok)
	assert.Equal(t, "demo:7", pid)
}

func TestNewDirStore_RequiresDir(t *testing.T) {
	_, err := NewDirStore("")
	assert.Error(t, err)
}
