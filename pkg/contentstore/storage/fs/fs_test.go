package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-store/pkg/contentstore"
	"github.com/tendant/content-store/pkg/contentstore/objectkey"
)

func write(t *testing.T, res contentstore.Resource, data string) {
	t.Helper()
	w, err := res.Create(context.Background())
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, res contentstore.Resource) string {
	t.Helper()
	rc, err := res.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(got)
}

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := backend.Resource(ctx, contentstore.Location{Key: "C/parent/child/file.txt"})
	require.NoError(t, err)
	path := filepath.Join(tmp, "C", "parent", "child", "file.txt")
	assert.Equal(t, "file://"+filepath.ToSlash(path), res.Location())

	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = res.Open(ctx)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	_, err = res.ContentLength(ctx)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)

	// missing parents are created
	write(t, res, "hello fs")
	assert.FileExists(t, path)

	size, err := res.ContentLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
	mod, err := res.LastModified(ctx)
	require.NoError(t, err)
	assert.False(t, mod.IsZero())
	assert.Equal(t, "hello fs", read(t, res))

	require.NoError(t, res.Delete(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	// empty directories are pruned, the base directory stays
	assert.NoDirExists(t, filepath.Join(tmp, "C"))
	assert.DirExists(t, tmp)

	// second delete is silent
	require.NoError(t, res.Delete(ctx))
}

func TestFSBackend_OverwriteTruncates(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	res, err := backend.Resource(context.Background(), contentstore.Location{Key: "doc"})
	require.NoError(t, err)

	write(t, res, "a much longer first version")
	write(t, res, "short")
	assert.Equal(t, "short", read(t, res))
}

func TestFSBackend_DeleteKeepsSiblings(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)
	ctx := context.Background()

	a, _ := backend.Resource(ctx, contentstore.Location{Key: "dir/a"})
	b, _ := backend.Resource(ctx, contentstore.Location{Key: "dir/b"})
	write(t, a, "a")
	write(t, b, "b")

	require.NoError(t, a.Delete(ctx))
	assert.DirExists(t, filepath.Join(tmp, "dir"))
	assert.Equal(t, "b", read(t, b))
}

func TestFSBackend_ParentIsFile(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(tmp, "blocker"), []byte("x"), 0644))
	res, err := backend.Resource(ctx, contentstore.Location{Key: "blocker/child"})
	require.NoError(t, err)

	_, err = res.Create(ctx)
	assert.Error(t, err)
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../etc/passwd", "/abs", "a/../../b"} {
		_, err := backend.Resource(ctx, contentstore.Location{Key: key})
		assert.ErrorIs(t, err, contentstore.ErrConfiguration, key)
	}
	_, err = backend.Resource(ctx, contentstore.Location{Bucket: "..", Key: "k"})
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestFSBackend_ShardedLayoutAndBucket(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp, Keys: objectkey.NewSharded()})
	require.NoError(t, err)

	res, err := backend.Resource(context.Background(), contentstore.Location{Bucket: "docs", Key: "abcdef"})
	require.NoError(t, err)
	write(t, res, "x")
	assert.FileExists(t, filepath.Join(tmp, "docs", "ab", "cdef"))
}

func TestFSBackend_ThroughStore(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	store, err := contentstore.New(backend)
	require.NoError(t, err)
	assert.Equal(t, "fs", store.Backend())

	ctx := context.Background()
	doc := &contentstore.Fields{}
	require.NoError(t, store.SetContent(ctx, doc, strings.NewReader("payload")))
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(7), doc.Length)

	rc, found, err := store.GetContent(ctx, doc)
	require.NoError(t, err)
	require.True(t, found)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "payload", string(got))

	require.NoError(t, store.UnsetContent(ctx, doc))
	assert.Empty(t, doc.ID)
	assert.Zero(t, doc.Length)
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}
