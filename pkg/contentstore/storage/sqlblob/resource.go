// Package sqlblob stores content in a BLOB column of a relational table.
//
// Rows are addressed by an integer primary key that the database generates
// on insert. Writing to a resource without an id inserts a new row; writing
// to an existing row replaces its content in place. The resource id is a
// future: it is in flight from Create until the write commits, and
// resolves to the row key the database confirmed.
//
// The table is expected to exist:
//
//	CREATE TABLE BLOBS (id BIGSERIAL PRIMARY KEY, content BYTEA)          -- PostgreSQL
//	CREATE TABLE BLOBS (id INTEGER PRIMARY KEY AUTOINCREMENT, content BLOB) -- SQLite
//
// # Size limits
//
// Neither driver is meant for very large objects. The generic driver binds
// the content as a single parameter, so each write holds the whole body in
// memory. The Postgres driver appends each chunk with content || $2, which
// rewrites the stored bytea (and its TOAST rows) on every append: a write of
// n chunks costs O(n²) bytes of I/O and leaves n dead row versions until
// VACUUM. bytea values are capped at 1 GB; in practice bodies should stay
// in the tens of megabytes, with WithChunkSize raised so that a body spans
// few chunks. Use the filesystem, KV or S3 backends for larger content.
package sqlblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tendant/content-store/internal/pipe"
	"github.com/tendant/content-store/pkg/contentstore"
)

// DefaultTable is the table used when no other is configured
const DefaultTable = "BLOBS"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// dialect runs the statements of one database family against one table.
type dialect interface {
	name() string
	exists(ctx context.Context, id int64) (bool, error)
	length(ctx context.Context, id int64) (int64, error)
	open(ctx context.Context, id int64) (io.ReadCloser, error)
	remove(ctx context.Context, id int64) error
	// write stores body under id, or under a new row when id is absent or
	// no longer exists, and returns the key of the row written.
	write(ctx context.Context, id int64, hasID bool, body io.Reader) (int64, error)
}

// Option configures a Loader
type Option func(*options)

type options struct {
	table     string
	chunkSize int
	spoolDir  string
	logger    *zap.Logger
}

// WithTable sets the blob table name (default BLOBS)
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithChunkSize sets the size of the chunks streamed to and from the
// database by drivers that stream (default 1 MiB)
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithSpoolDir sets the directory read spools are created in
func WithSpoolDir(dir string) Option {
	return func(o *options) { o.spoolDir = dir }
}

// WithLogger sets the driver logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) (options, error) {
	o := options{table: DefaultTable, chunkSize: 1 << 20, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if !tableName.MatchString(o.table) {
		return o, contentstore.ConfigError("invalid blob table name %q", o.table)
	}
	if o.chunkSize <= 0 {
		return o, contentstore.ConfigError("chunk size must be positive")
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// Loader hands out blob resources for one database
type Loader struct {
	d      dialect
	table  string
	logger *zap.Logger
}

var _ contentstore.Loader = (*Loader)(nil)

func newLoader(d dialect, o options) *Loader {
	return &Loader{
		d:      d,
		table:  o.table,
		logger: o.logger.With(zap.String("backend", d.name()), zap.String("table", o.table)),
	}
}

// Backend returns the driver name
func (l *Loader) Backend() string {
	return l.d.name()
}

// Resource returns the blob resource for the row key in loc.Key. An empty key
// yields a resource that inserts a new row on its first write. Buckets are
// ignored.
func (l *Loader) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	r := &Resource{loader: l}
	if loc.Key == "" {
		return r, nil
	}
	id, err := strconv.ParseInt(loc.Key, 10, 64)
	if err != nil {
		return nil, contentstore.ConfigError("blob id %q is not an integer", loc.Key)
	}
	r.id, r.hasID = id, true
	return r, nil
}

// Resource is one row of the blob table
type Resource struct {
	loader *Loader

	mu       sync.Mutex
	id       int64
	hasID    bool
	inflight chan struct{}
	err      error
}

var (
	_ contentstore.Resource  = (*Resource)(nil)
	_ contentstore.IDAwaiter = (*Resource)(nil)
)

// ID returns the current row key without blocking. ok is false while a
// write is in flight or before the first write of a new row.
func (r *Resource) ID() (id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight != nil || !r.hasID {
		return "", false
	}
	return strconv.FormatInt(r.id, 10), true
}

// AwaitID blocks until no write is in flight and returns the row key. It
// returns the error of the last write when that write failed.
func (r *Resource) AwaitID(ctx context.Context) (string, error) {
	r.mu.Lock()
	wait := r.inflight
	r.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if !r.hasID {
		return "", nil
	}
	return strconv.FormatInt(r.id, 10), nil
}

func (r *Resource) current() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id, r.hasID
}

func (r *Resource) Location() string {
	id, _ := r.ID()
	return fmt.Sprintf("%s://%s/%s", r.loader.d.name(), r.loader.table, id)
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	id, ok := r.current()
	if !ok {
		return false, nil
	}
	exists, err := r.loader.d.exists(ctx, id)
	if err != nil {
		return false, r.failed("exists", err)
	}
	return exists, nil
}

func (r *Resource) ContentLength(ctx context.Context) (int64, error) {
	id, ok := r.current()
	if !ok {
		return 0, contentstore.ErrNotFound
	}
	n, err := r.loader.d.length(ctx, id)
	if err != nil {
		return 0, r.failed("length", err)
	}
	return n, nil
}

// LastModified returns the zero time; the blob table has no timestamp column
func (r *Resource) LastModified(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	id, ok := r.current()
	if !ok {
		return nil, contentstore.ErrNotFound
	}
	rc, err := r.loader.d.open(ctx, id)
	if err != nil {
		return nil, r.failed("read", err)
	}
	return rc, nil
}

// Create starts a write. The returned sink feeds a worker that runs the
// insert or update in its own transaction; Close waits for the commit.
func (r *Resource) Create(ctx context.Context) (io.WriteCloser, error) {
	r.mu.Lock()
	if r.inflight != nil {
		r.mu.Unlock()
		return nil, errors.New("a write is already in flight for this resource")
	}
	id, hasID := r.id, r.hasID
	done := make(chan struct{})
	r.inflight = done
	r.mu.Unlock()

	return pipe.Start(ctx, pipe.DefaultBufferSize, func(ctx context.Context, body io.Reader) error {
		written, err := r.loader.d.write(ctx, id, hasID, body)
		r.resolve(done, written, err)
		if err != nil {
			r.loader.logger.Debug("blob write failed", zap.Int64("id", id), zap.Error(err))
			return r.failed("write", err)
		}
		return nil
	}), nil
}

func (r *Resource) resolve(done chan struct{}, id int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.id, r.hasID = id, true
	}
	r.err = err
	r.inflight = nil
	close(done)
}

func (r *Resource) Delete(ctx context.Context) error {
	id, ok := r.current()
	if !ok {
		return nil
	}
	if err := r.loader.d.remove(ctx, id); err != nil {
		return r.failed("delete", err)
	}
	return nil
}

func (r *Resource) failed(op string, err error) error {
	if errors.Is(err, contentstore.ErrNotFound) || contentstore.IsSurfaced(err) {
		return err
	}
	var se *contentstore.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &contentstore.StorageError{Backend: r.loader.d.name(), Key: r.Location(), Op: op, Err: err}
}
