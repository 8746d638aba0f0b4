// Package kv stores content in an embedded Pebble key/value store.
//
// Each resource owns a metadata record and a run of fixed-size chunk
// records under a common prefix:
//
//	b\x00<key>\x00m             size and modification time
//	b\x00<key>\x00c<seq:uint32> content chunks in order
//
// A write replaces the whole run in a single synced batch.
package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/tendant/content-store/internal/pipe"
	"github.com/tendant/content-store/pkg/contentstore"
	"github.com/tendant/content-store/pkg/contentstore/objectkey"
)

// DefaultChunkSize is the size of each content record
const DefaultChunkSize = 64 * 1024

// Config options for the KV backend
type Config struct {
	Dir       string              // Pebble data directory
	Keys      objectkey.Generator // Converts content ids to keys (default: flat)
	ChunkSize int                 // Chunk size in bytes (default: 64 KiB)
	Logger    *zap.Logger
}

// Backend is a Pebble implementation of the contentstore.Loader interface
type Backend struct {
	db        *pebble.DB
	keys      objectkey.Generator
	chunkSize int
	logger    *zap.Logger
	now       func() time.Time
}

var _ contentstore.Loader = (*Backend)(nil)

// Open opens or creates the store in config.Dir
func Open(config Config) (*Backend, error) {
	if config.Dir == "" {
		return nil, contentstore.ConfigError("kv data directory is required")
	}
	db, err := pebble.Open(config.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	keys := config.Keys
	if keys == nil {
		keys = objectkey.NewFlat()
	}
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		db:        db,
		keys:      keys,
		chunkSize: chunkSize,
		logger:    logger.With(zap.String("backend", "kv")),
		now:       time.Now,
	}, nil
}

// Close closes the underlying database
func (b *Backend) Close() error {
	return b.db.Close()
}

// Backend returns the backend name
func (b *Backend) Backend() string {
	return "kv"
}

// Resource maps the location to a record prefix. The bucket, when set,
// becomes the first key segment.
func (b *Backend) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	key, err := b.keys.Key(loc.Key)
	if err != nil {
		return nil, err
	}
	if loc.Bucket != "" {
		if strings.Contains(loc.Bucket, "/") {
			return nil, contentstore.ConfigError("invalid bucket %q", loc.Bucket)
		}
		key = loc.Bucket + "/" + key
	}
	if strings.IndexByte(key, 0) >= 0 {
		return nil, contentstore.ConfigError("content key %q contains a NUL byte", key)
	}

	prefix := "b\x00" + key + "\x00"
	return &Resource{
		backend: b,
		key:     key,
		meta:    []byte(prefix + "m"),
		chunks:  []byte(prefix + "c"),
	}, nil
}

// Resource is one record run in a KV Backend
type Resource struct {
	backend *Backend
	key     string
	meta    []byte
	chunks  []byte
}

func (r *Resource) Location() string {
	return "kv://" + r.key
}

func (r *Resource) chunkKey(seq uint32) []byte {
	k := make([]byte, len(r.chunks)+4)
	copy(k, r.chunks)
	binary.BigEndian.PutUint32(k[len(r.chunks):], seq)
	return k
}

// chunkEnd is the exclusive upper bound of the chunk records
func (r *Resource) chunkEnd() []byte {
	end := append([]byte(nil), r.chunks...)
	end[len(end)-1]++
	return end
}

type metadata struct {
	size     int64
	modified time.Time
}

func (r *Resource) stat() (metadata, error) {
	value, closer, err := r.backend.db.Get(r.meta)
	if errors.Is(err, pebble.ErrNotFound) {
		return metadata{}, contentstore.ErrNotFound
	} else if err != nil {
		return metadata{}, r.failed("stat", err)
	}
	defer closer.Close()

	if len(value) != 16 {
		return metadata{}, r.failed("stat", fmt.Errorf("corrupt metadata record (%d bytes)", len(value)))
	}
	return metadata{
		size:     int64(binary.BigEndian.Uint64(value[:8])),
		modified: time.Unix(0, int64(binary.BigEndian.Uint64(value[8:]))),
	}, nil
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	_, err := r.stat()
	if errors.Is(err, contentstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Resource) ContentLength(ctx context.Context) (int64, error) {
	m, err := r.stat()
	return m.size, err
}

func (r *Resource) LastModified(ctx context.Context) (time.Time, error) {
	m, err := r.stat()
	return m.modified, err
}

// Open streams the chunks through an iterator that lives as long as the
// returned reader
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	if _, err := r.stat(); err != nil {
		return nil, err
	}

	iter, err := r.backend.db.NewIter(&pebble.IterOptions{
		LowerBound: r.chunks,
		UpperBound: r.chunkEnd(),
	})
	if err != nil {
		return nil, r.failed("read", err)
	}
	iter.First()
	return &chunkReader{iter: iter}, nil
}

// Create buffers the written chunks in a batch that replaces the previous
// chunks and metadata when Close commits it
func (r *Resource) Create(ctx context.Context) (io.WriteCloser, error) {
	return pipe.Start(ctx, pipe.DefaultBufferSize, func(ctx context.Context, body io.Reader) error {
		batch := r.backend.db.NewBatch()
		defer batch.Close()

		if err := batch.DeleteRange(r.chunks, r.chunkEnd(), nil); err != nil {
			return r.failed("write", err)
		}

		buf := make([]byte, r.backend.chunkSize)
		var size int64
		for seq := uint32(0); ; seq++ {
			n, rerr := io.ReadFull(body, buf)
			if n > 0 {
				if err := batch.Set(r.chunkKey(seq), buf[:n], nil); err != nil {
					return r.failed("write", err)
				}
				size += int64(n)
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}

		meta := make([]byte, 16)
		binary.BigEndian.PutUint64(meta[:8], uint64(size))
		binary.BigEndian.PutUint64(meta[8:], uint64(r.backend.now().UnixNano()))
		if err := batch.Set(r.meta, meta, nil); err != nil {
			return r.failed("write", err)
		}

		if err := batch.Commit(pebble.Sync); err != nil {
			return r.failed("commit", err)
		}
		r.backend.logger.Debug("stored content", zap.String("key", r.key), zap.Int64("size", size))
		return nil
	}), nil
}

// Delete removes the metadata and chunk records; a missing run is skipped
func (r *Resource) Delete(ctx context.Context) error {
	batch := r.backend.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(r.chunks, r.chunkEnd(), nil); err != nil {
		return r.failed("delete", err)
	}
	if err := batch.Delete(r.meta, nil); err != nil {
		return r.failed("delete", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return r.failed("delete", err)
	}
	return nil
}

func (r *Resource) failed(op string, err error) error {
	return &contentstore.StorageError{Backend: "kv", Key: r.Location(), Op: op, Err: err}
}

var errReaderClosed = errors.New("read from closed content stream")

// chunkReader reads consecutive chunk values. The iterator is closed on
// EOF, on error and on Close.
type chunkReader struct {
	iter   *pebble.Iterator
	buf    []byte
	err    error
	closed bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.closed {
		return 0, errReaderClosed
	}
	for len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		if !c.iter.Valid() {
			c.err = c.release(io.EOF)
			return 0, c.err
		}
		// the value is only valid until the iterator moves
		c.buf = append(c.buf[:0], c.iter.Value()...)
		c.iter.Next()
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *chunkReader) release(result error) error {
	if c.iter == nil {
		return result
	}
	err := c.iter.Error()
	if cerr := c.iter.Close(); err == nil {
		err = cerr
	}
	c.iter = nil
	if err != nil {
		return err
	}
	return result
}

func (c *chunkReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf = nil
	if c.err != nil {
		return nil
	}
	c.err = errReaderClosed
	return c.release(nil)
}
