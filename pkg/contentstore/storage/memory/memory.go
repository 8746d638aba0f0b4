package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tendant/content-store/pkg/contentstore"
)

type object struct {
	data     []byte
	modified time.Time
}

// Backend is an in-memory implementation of the contentstore.Loader interface
type Backend struct {
	mu      sync.RWMutex
	objects map[contentstore.Location]object
	now     func() time.Time
}

var _ contentstore.Loader = (*Backend)(nil)

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[contentstore.Location]object),
		now:     time.Now,
	}
}

// Backend returns the backend name
func (b *Backend) Backend() string {
	return "memory"
}

// Resource returns a resource for the location. Objects are keyed by bucket
// and key separately.
func (b *Backend) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	if loc.Key == "" {
		return nil, contentstore.ConfigError("memory backend requires a content key")
	}
	if strings.Contains(loc.Bucket, "/") {
		return nil, contentstore.ConfigError("invalid bucket %q", loc.Bucket)
	}
	return &Resource{backend: b, loc: loc}, nil
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Resource is one key in a memory Backend
type Resource struct {
	backend *Backend
	loc     contentstore.Location
}

func (r *Resource) Location() string {
	return "memory://" + r.loc.String()
}

func (r *Resource) lookup() (object, bool) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	obj, ok := r.backend.objects[r.loc]
	return obj, ok
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	_, ok := r.lookup()
	return ok, nil
}

func (r *Resource) ContentLength(ctx context.Context) (int64, error) {
	obj, ok := r.lookup()
	if !ok {
		return 0, contentstore.ErrNotFound
	}
	return int64(len(obj.data)), nil
}

func (r *Resource) LastModified(ctx context.Context) (time.Time, error) {
	obj, ok := r.lookup()
	if !ok {
		return time.Time{}, contentstore.ErrNotFound
	}
	return obj.modified, nil
}

// Open returns a reader over a snapshot of the content
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	obj, ok := r.lookup()
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Create returns a sink whose content becomes visible on Close
func (r *Resource) Create(ctx context.Context) (io.WriteCloser, error) {
	return &sink{resource: r}, nil
}

// Delete removes the content; missing content is not an error
func (r *Resource) Delete(ctx context.Context) error {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	delete(r.backend.objects, r.loc)
	return nil
}

var errSinkClosed = errors.New("memory sink closed")

type sink struct {
	resource *Resource
	buf      bytes.Buffer
	closed   bool
}

func (s *sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errSinkClosed
	}
	return s.buf.Write(p)
}

func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	b := s.resource.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[s.resource.loc] = object{data: s.buf.Bytes(), modified: b.now()}
	return nil
}

// CloseWithError discards the buffered content
func (s *sink) CloseWithError(err error) error {
	s.closed = true
	s.buf.Reset()
	return nil
}
