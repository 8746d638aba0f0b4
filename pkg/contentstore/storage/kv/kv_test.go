package kv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/content-store/pkg/contentstore"
)

func openTestBackend(t *testing.T, config Config) *Backend {
	t.Helper()
	config.Dir = t.TempDir()
	backend, err := Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func store(t *testing.T, res contentstore.Resource, data []byte) {
	t.Helper()
	w, err := res.Create(context.Background())
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func load(t *testing.T, res contentstore.Resource) []byte {
	t.Helper()
	rc, err := res.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestKVBackend_BasicOps(t *testing.T) {
	backend := openTestBackend(t, Config{ChunkSize: 1024})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return fixed }
	ctx := context.Background()

	res, err := backend.Resource(ctx, contentstore.Location{Key: "docs/a"})
	require.NoError(t, err)
	assert.Equal(t, "kv://docs/a", res.Location())

	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = res.Open(ctx)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)

	data := bytes.Repeat([]byte("abcdefg"), 1000) // spans several chunks
	store(t, res, data)

	size, err := res.ContentLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	mod, err := res.LastModified(ctx)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(mod))
	assert.Equal(t, data, load(t, res))

	require.NoError(t, res.Delete(ctx))
	exists, _ = res.Exists(ctx)
	assert.False(t, exists)
	require.NoError(t, res.Delete(ctx))
}

func TestKVBackend_OverwriteDropsStaleChunks(t *testing.T) {
	backend := openTestBackend(t, Config{ChunkSize: 4})
	res, err := backend.Resource(context.Background(), contentstore.Location{Key: "k"})
	require.NoError(t, err)

	store(t, res, []byte("a long first version"))
	store(t, res, []byte("short"))
	assert.Equal(t, "short", string(load(t, res)))
}

func TestKVBackend_EmptyContent(t *testing.T) {
	backend := openTestBackend(t, Config{})
	res, err := backend.Resource(context.Background(), contentstore.Location{Key: "empty"})
	require.NoError(t, err)

	store(t, res, nil)
	exists, err := res.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Empty(t, load(t, res))
}

func TestKVBackend_NestedKeysDoNotCollide(t *testing.T) {
	backend := openTestBackend(t, Config{ChunkSize: 2})
	ctx := context.Background()

	parent, _ := backend.Resource(ctx, contentstore.Location{Key: "a"})
	child, _ := backend.Resource(ctx, contentstore.Location{Key: "a/c"})
	store(t, child, []byte("child"))
	store(t, parent, []byte("parent"))

	require.NoError(t, parent.Delete(ctx))
	assert.Equal(t, "child", string(load(t, child)))
}

func TestKVBackend_AbortKeepsPrevious(t *testing.T) {
	backend := openTestBackend(t, Config{})
	ctx := context.Background()
	res, _ := backend.Resource(ctx, contentstore.Location{Key: "k"})
	store(t, res, []byte("committed"))

	w, err := res.Create(ctx)
	require.NoError(t, err)
	_, _ = w.Write([]byte("half"))
	assert.Error(t, w.(contentstore.Aborter).CloseWithError(errors.New("stop")))
	assert.Equal(t, "committed", string(load(t, res)))
}

func TestKVBackend_CloseBeforeEOF(t *testing.T) {
	backend := openTestBackend(t, Config{ChunkSize: 8})
	ctx := context.Background()
	res, _ := backend.Resource(ctx, contentstore.Location{Key: "k"})
	store(t, res, bytes.Repeat([]byte("x"), 100))

	rc, err := res.Open(ctx)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// the rest of the buffered chunk is dropped
	n, err := rc.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errReaderClosed)
	assert.NoError(t, rc.Close())
}

func TestKVBackend_Buckets(t *testing.T) {
	backend := openTestBackend(t, Config{})
	ctx := context.Background()

	a, err := backend.Resource(ctx, contentstore.Location{Bucket: "one", Key: "k"})
	require.NoError(t, err)
	b, err := backend.Resource(ctx, contentstore.Location{Bucket: "two", Key: "k"})
	require.NoError(t, err)
	store(t, a, []byte("x"))

	exists, _ := b.Exists(ctx)
	assert.False(t, exists)

	_, err = backend.Resource(ctx, contentstore.Location{Bucket: "a/b", Key: "k"})
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestKVBackend_ThroughStore(t *testing.T) {
	backend := openTestBackend(t, Config{})
	s, err := contentstore.New(backend)
	require.NoError(t, err)
	assert.Equal(t, "kv", s.Backend())
	ctx := context.Background()

	doc := &contentstore.Fields{}
	require.NoError(t, s.SetContent(ctx, doc, strings.NewReader("kv payload")))
	assert.Equal(t, int64(10), doc.Length)

	st, err := s.Stat(ctx, doc)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, int64(10), st.Size)

	require.NoError(t, s.UnsetContent(ctx, doc))
	_, found, err := s.GetContent(ctx, &contentstore.Fields{ID: st.Location[len("kv://"):]})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}
