package contentstore

import (
	"context"
	"io"
	"time"
)

// Resource is a handle to one piece of content in one backend. A Resource is
// bound to a single location for its lifetime and must not be shared between
// goroutines.
type Resource interface {
	// Location returns the backend-specific location string, e.g. s3://bucket/key
	Location() string

	// Exists reports whether content is stored at the location
	Exists(ctx context.Context) (bool, error)

	// ContentLength returns the stored size in bytes
	ContentLength(ctx context.Context) (int64, error)

	// LastModified returns the modification time, or the zero time when the
	// backend does not track one
	LastModified(ctx context.Context) (time.Time, error)

	// Open returns a stream over the content. It fails with ErrNotFound when
	// nothing is stored at the location.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Create returns a sink that creates the content or replaces it. Close
	// blocks until the backend has committed the write and returns the
	// commit error.
	Create(ctx context.Context) (io.WriteCloser, error)

	// Delete removes the content
	Delete(ctx context.Context) error
}

// Loader hands out resources for locations in one backend.
type Loader interface {
	Resource(ctx context.Context, loc Location) (Resource, error)
}

// Named is implemented by loaders that report a backend name for logs and metrics.
type Named interface {
	Backend() string
}

// IDAwaiter is implemented by resources whose id is assigned by the backend
// when a write commits. AwaitID blocks until no write is in flight.
type IDAwaiter interface {
	AwaitID(ctx context.Context) (string, error)
}

// Aborter is implemented by sinks that can discard a partially written body.
// io.PipeWriter has the same method.
type Aborter interface {
	CloseWithError(err error) error
}

// Placer converts an entity or a raw content id into a backend location.
type Placer interface {
	Locate(entity Entity, id string) (Location, error)
	LocateID(id string) (Location, error)
}

// Location identifies where content lives in a backend. Bucket is empty for
// backends without buckets.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Bucket == "" {
		return l.Key
	}
	return l.Bucket + "/" + l.Key
}

// Stat is a snapshot of resource metadata.
type Stat struct {
	Location     string
	Exists       bool
	Size         int64
	LastModified time.Time
}
