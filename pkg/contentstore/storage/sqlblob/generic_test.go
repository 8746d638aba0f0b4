package sqlblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tendant/content-store/pkg/contentstore"
)

func newSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE BLOBS (id INTEGER PRIMARY KEY AUTOINCREMENT, content BLOB)`)
	require.NoError(t, err)
	return db
}

func newGenericLoader(t *testing.T) (*Loader, *sqlx.DB) {
	t.Helper()
	db := newSQLite(t)
	loader, err := NewGeneric(db)
	require.NoError(t, err)
	return loader, db
}

func writeBlob(t *testing.T, res contentstore.Resource, data []byte) {
	t.Helper()
	w, err := res.Create(context.Background())
	require.NoError(t, err)
	_, err = io.Copy(w, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readBlob(t *testing.T, res contentstore.Resource) []byte {
	t.Helper()
	rc, err := res.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func countBlobs(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM BLOBS"))
	return n
}

func TestGeneric_InsertAssignsGeneratedKey(t *testing.T) {
	loader, db := newGenericLoader(t)
	ctx := context.Background()

	r, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	res := r.(*Resource)

	_, ok := res.ID()
	assert.False(t, ok)
	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	writeBlob(t, res, []byte("first row"))

	id, ok := res.ID()
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Equal(t, "sql://BLOBS/1", res.Location())
	assert.Equal(t, 1, countBlobs(t, db))

	exists, err = res.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	size, err := res.ContentLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
	assert.Equal(t, "first row", string(readBlob(t, res)))
}

func TestGeneric_IDInFlightUntilCommit(t *testing.T) {
	loader, _ := newGenericLoader(t)
	ctx := context.Background()

	r, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	res := r.(*Resource)

	w, err := res.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("pending"))
	require.NoError(t, err)

	_, ok := res.ID()
	assert.False(t, ok, "id must not be observable while the write is in flight")

	awaited := make(chan string, 1)
	go func() {
		id, err := res.AwaitID(ctx)
		if err != nil {
			awaited <- "error: " + err.Error()
			return
		}
		awaited <- id
	}()

	require.NoError(t, w.Close())
	assert.Equal(t, "1", <-awaited)
}

func TestGeneric_UpdateInPlace(t *testing.T) {
	loader, db := newGenericLoader(t)
	ctx := context.Background()

	first, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	writeBlob(t, first, []byte("version one"))
	id, _ := first.(*Resource).ID()

	res, err := loader.Resource(ctx, contentstore.Location{Key: id})
	require.NoError(t, err)
	writeBlob(t, res, []byte("v2"))

	after, ok := res.(*Resource).ID()
	require.True(t, ok)
	assert.Equal(t, id, after)
	assert.Equal(t, 1, countBlobs(t, db))
	assert.Equal(t, "v2", string(readBlob(t, res)))
}

func TestGeneric_MissingRow(t *testing.T) {
	loader, db := newGenericLoader(t)
	ctx := context.Background()

	res, err := loader.Resource(ctx, contentstore.Location{Key: "999"})
	require.NoError(t, err)

	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = res.Open(ctx)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	_, err = res.ContentLength(ctx)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
	require.NoError(t, res.Delete(ctx))

	// writing to a vanished id inserts a new row under a generated key
	writeBlob(t, res, []byte("x"))
	id, ok := res.(*Resource).ID()
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Equal(t, 1, countBlobs(t, db))
}

func TestGeneric_EmptyContent(t *testing.T) {
	loader, _ := newGenericLoader(t)
	ctx := context.Background()

	res, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	writeBlob(t, res, nil)

	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	size, err := res.ContentLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Empty(t, readBlob(t, res))
}

func TestGeneric_Delete(t *testing.T) {
	loader, db := newGenericLoader(t)
	ctx := context.Background()

	res, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	writeBlob(t, res, []byte("gone soon"))
	require.NoError(t, res.Delete(ctx))

	assert.Equal(t, 0, countBlobs(t, db))
	exists, err := res.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGeneric_AbortedWriteRollsBack(t *testing.T) {
	loader, db := newGenericLoader(t)
	ctx := context.Background()

	res, err := loader.Resource(ctx, contentstore.Location{})
	require.NoError(t, err)
	w, err := res.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	cause := errors.New("client disconnected")
	err = w.(contentstore.Aborter).CloseWithError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, countBlobs(t, db))

	_, err = res.(*Resource).AwaitID(ctx)
	assert.ErrorIs(t, err, cause)
}

func TestGeneric_ResourceValidation(t *testing.T) {
	loader, _ := newGenericLoader(t)

	_, err := loader.Resource(context.Background(), contentstore.Location{Key: "not-a-number"})
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)

	_, err = NewGeneric(newSQLite(t), WithTable("blobs; DROP TABLE x"))
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)

	_, err = NewGeneric(nil)
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestGeneric_MissingTable(t *testing.T) {
	db := newSQLite(t)
	loader, err := NewGeneric(db, WithTable("NOPE"))
	require.NoError(t, err)
	store, err := contentstore.New(loader, contentstore.BackendAssignedIDs())
	require.NoError(t, err)

	doc := &contentstore.Fields{}
	err = store.SetContent(context.Background(), doc, strings.NewReader("data"))
	require.Error(t, err)
	assert.Empty(t, doc.ID)
	assert.Zero(t, doc.Length)
}

func TestGeneric_Store(t *testing.T) {
	loader, db := newGenericLoader(t)
	store, err := contentstore.New(loader, contentstore.BackendAssignedIDs())
	require.NoError(t, err)
	ctx := context.Background()

	doc := &contentstore.Fields{}
	require.NoError(t, store.SetContent(ctx, doc, strings.NewReader("hello blob")))
	assert.Equal(t, "1", doc.ID)
	assert.Equal(t, int64(10), doc.Length)

	// replacing keeps the row
	require.NoError(t, store.SetContent(ctx, doc, strings.NewReader("bye")))
	assert.Equal(t, "1", doc.ID)
	assert.Equal(t, int64(3), doc.Length)
	assert.Equal(t, 1, countBlobs(t, db))

	rc, found, err := store.GetContent(ctx, doc)
	require.NoError(t, err)
	require.True(t, found)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "bye", string(got))

	other := &contentstore.Fields{}
	require.NoError(t, store.Associate(ctx, other, "1"))
	assert.Equal(t, int64(3), other.Length)

	require.NoError(t, store.UnsetContent(ctx, doc))
	assert.Empty(t, doc.ID)
	assert.Zero(t, doc.Length)
	assert.Equal(t, 0, countBlobs(t, db))

	_, found, err = store.GetContent(ctx, other)
	require.NoError(t, err)
	assert.False(t, found)
}

// keyedBlob uses its blob id as its primary key
type keyedBlob struct {
	contentstore.Fields
}

func (b *keyedBlob) ContentIDIsIdentity() bool { return true }

func TestGeneric_IdentityBoundIDWithoutRow(t *testing.T) {
	loader, db := newGenericLoader(t)
	store, err := contentstore.New(loader, contentstore.BackendAssignedIDs())
	require.NoError(t, err)
	ctx := context.Background()

	doc := &keyedBlob{}
	doc.ID = "42"
	err = store.SetContent(ctx, doc, strings.NewReader("payload"))
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
	assert.Equal(t, "42", doc.ID)
	assert.Zero(t, doc.Length)
	assert.Equal(t, 0, countBlobs(t, db))

	// a plain entity adopts the generated key instead
	plain := &contentstore.Fields{ID: "42"}
	require.NoError(t, store.SetContent(ctx, plain, strings.NewReader("payload")))
	assert.NotEqual(t, "42", plain.ID)
	assert.Equal(t, int64(7), plain.Length)
	assert.Equal(t, 1, countBlobs(t, db))
}

func TestGeneric_ConcurrentWriters(t *testing.T) {
	loader, db := newGenericLoader(t)
	store, err := contentstore.New(loader, contentstore.BackendAssignedIDs())
	require.NoError(t, err)
	ctx := context.Background()

	const writers = 8
	docs := make([]*contentstore.Fields, writers)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range docs {
		docs[i] = &contentstore.Fields{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := strings.Repeat(fmt.Sprintf("writer-%d;", i), 1000)
			errs <- store.SetContent(ctx, docs[i], strings.NewReader(payload))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for i, doc := range docs {
		assert.False(t, seen[doc.ID], "duplicate id %s", doc.ID)
		seen[doc.ID] = true

		rc, found, err := store.GetContent(ctx, doc)
		require.NoError(t, err)
		require.True(t, found)
		got, _ := io.ReadAll(rc)
		rc.Close()
		assert.Equal(t, strings.Repeat(fmt.Sprintf("writer-%d;", i), 1000), string(got))
	}
	assert.Equal(t, writers, countBlobs(t, db))
}
