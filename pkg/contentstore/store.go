package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Store associates entities with content held by one Loader. A Store is safe
// for concurrent use; every operation resolves its own Resource.
type Store struct {
	loader  Loader
	placer  Placer
	logger  *zap.Logger
	metrics *Metrics
	backend string
	newID   func() string
}

// New creates a Store over loader.
func New(loader Loader, opts ...Option) (*Store, error) {
	if loader == nil {
		return nil, ConfigError("loader is required")
	}

	s := &Store{
		loader: loader,
		placer: keyPlacer{},
		logger: zap.NewNop(),
		newID:  newUUID,
	}
	if n, ok := loader.(Named); ok {
		s.backend = n.Backend()
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.backend == "" {
		s.backend = "unknown"
	}
	s.logger = s.logger.With(zap.String("backend", s.backend))
	return s, nil
}

// Backend returns the backend label of the store.
func (s *Store) Backend() string {
	return s.backend
}

// Resource returns the resource for a raw content id.
func (s *Store) Resource(ctx context.Context, id string) (Resource, error) {
	if id == "" {
		return nil, ConfigError("content id is required")
	}
	loc, err := s.placer.LocateID(id)
	if err != nil {
		return nil, fmt.Errorf("locate content %s: %w", id, err)
	}
	return s.loader.Resource(ctx, loc)
}

// ResourceFor returns the resource the entity's content lives in. It fails
// with ErrNotFound when the entity has no content id.
func (s *Store) ResourceFor(ctx context.Context, entity Entity) (Resource, error) {
	if entity == nil {
		return nil, ConfigError("entity is nil")
	}
	id := entity.ContentID()
	if id == "" {
		return nil, fmt.Errorf("entity has no content id: %w", ErrNotFound)
	}
	return s.resourceFor(ctx, entity, id)
}

func (s *Store) resourceFor(ctx context.Context, entity Entity, id string) (Resource, error) {
	loc, err := s.placer.Locate(entity, id)
	if err != nil {
		return nil, fmt.Errorf("locate content %s: %w", id, err)
	}
	return s.loader.Resource(ctx, loc)
}

// SetContent stores content for the entity and writes the backend-confirmed
// content id and length onto it. A missing id is allocated first. The
// entity is left unchanged when any step fails. An identity-bound entity
// whose id the backend replaces is rejected with ErrConfiguration and the
// newly written content is deleted.
func (s *Store) SetContent(ctx context.Context, entity Entity, content io.Reader) (err error) {
	started := time.Now()
	defer func() { s.metrics.observe("set", s.backend, resultOf(err), started) }()

	if entity == nil {
		return ConfigError("entity is nil")
	}
	if content == nil {
		content = bytes.NewReader(nil)
	}

	current := entity.ContentID()
	id := current
	if id == "" {
		id = s.newID()
	}

	res, err := s.resourceFor(ctx, entity, id)
	if err != nil {
		return err
	}

	sink, err := res.Create(ctx)
	if err != nil {
		return &StorageError{Backend: s.backend, Key: res.Location(), Op: "create", Err: err}
	}

	n, err := io.Copy(sink, content)
	if err != nil {
		if aerr := abort(sink, err); aerr != nil && !errors.Is(aerr, err) {
			s.logger.Warn("abort write", zap.String("location", res.Location()), zap.Error(aerr))
		}
		return &StorageError{Backend: s.backend, Key: res.Location(), Op: "write", Err: err}
	}
	if err := sink.Close(); err != nil {
		return &StorageError{Backend: s.backend, Key: res.Location(), Op: "commit", Err: err}
	}

	if aw, ok := res.(IDAwaiter); ok {
		confirmed, err := aw.AwaitID(ctx)
		if err != nil {
			return &StorageError{Backend: s.backend, Key: res.Location(), Op: "commit", Err: err}
		}
		id = confirmed
	}

	if current != "" && id != current && isIdentity(entity) {
		s.discard(ctx, entity, id)
		return ConfigError("backend assigned id %s to content of identity-bound entity %s", id, current)
	}

	entity.SetContentID(id)
	entity.SetContentLength(n)
	s.metrics.written(s.backend, n)
	return nil
}

// GetContent opens the entity's content. found is false when the entity has
// no content or the backend holds none; backend I/O failures are logged and
// also reported as not found. Configuration and access errors are returned.
func (s *Store) GetContent(ctx context.Context, entity Entity) (rc io.ReadCloser, found bool, err error) {
	started := time.Now()
	defer func() {
		result := resultOf(err)
		if err == nil && !found {
			result = resultAbsent
		}
		s.metrics.observe("get", s.backend, result, started)
	}()

	if entity == nil || entity.ContentID() == "" {
		return nil, false, nil
	}
	id := entity.ContentID()

	res, err := s.resourceFor(ctx, entity, id)
	if err != nil {
		if IsSurfaced(err) {
			return nil, false, err
		}
		s.logger.Error("resolve content resource", zap.String("content_id", id), zap.Error(err))
		return nil, false, nil
	}

	rc, err = res.Open(ctx)
	switch {
	case err == nil:
		return rc, true, nil
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case IsSurfaced(err):
		return nil, false, err
	default:
		s.logger.Error("open content", zap.String("content_id", id), zap.String("location", res.Location()), zap.Error(err))
		return nil, false, nil
	}
}

// UnsetContent deletes the entity's content and clears its content fields.
// Backend deletion failures are logged, not returned: clearing the entity
// takes precedence over confirming removal.
func (s *Store) UnsetContent(ctx context.Context, entity Entity) (err error) {
	started := time.Now()
	defer func() { s.metrics.observe("unset", s.backend, resultOf(err), started) }()

	if entity == nil {
		return nil
	}

	if id := entity.ContentID(); id != "" {
		res, err := s.resourceFor(ctx, entity, id)
		if err != nil {
			if IsSurfaced(err) {
				return err
			}
			s.logger.Error("resolve content resource", zap.String("content_id", id), zap.Error(err))
		} else if err := res.Delete(ctx); err != nil {
			s.logger.Error("delete content", zap.String("content_id", id), zap.String("location", res.Location()), zap.Error(err))
		}
	}

	s.Unassociate(entity)
	return nil
}

// Associate binds the entity to content already stored under id. The
// content length is taken from the backend when the content exists.
func (s *Store) Associate(ctx context.Context, entity Entity, id string) error {
	if entity == nil {
		return ConfigError("entity is nil")
	}
	if id == "" {
		return ConfigError("content id is required")
	}

	res, err := s.resourceFor(ctx, entity, id)
	if err != nil {
		return err
	}

	entity.SetContentID(id)

	size, err := res.ContentLength(ctx)
	switch {
	case err == nil:
		entity.SetContentLength(size)
	case errors.Is(err, ErrNotFound):
		entity.SetContentLength(0)
	default:
		entity.SetContentLength(0)
		s.logger.Error("read content length", zap.String("content_id", id), zap.Error(err))
	}
	return nil
}

// Unassociate clears the entity's content id, unless it is the entity's
// identity, and resets its length to zero.
func (s *Store) Unassociate(entity Entity) {
	if entity == nil {
		return
	}
	if !isIdentity(entity) {
		entity.SetContentID("")
	}
	entity.SetContentLength(0)
}

// Stat reports the backend state of the entity's content.
func (s *Store) Stat(ctx context.Context, entity Entity) (Stat, error) {
	res, err := s.ResourceFor(ctx, entity)
	if err != nil {
		return Stat{}, err
	}

	st := Stat{Location: res.Location()}
	if st.Exists, err = res.Exists(ctx); err != nil || !st.Exists {
		return st, err
	}
	if st.Size, err = res.ContentLength(ctx); err != nil {
		return st, err
	}
	st.LastModified, err = res.LastModified(ctx)
	return st, err
}

// discard removes content written under an id the entity cannot adopt
func (s *Store) discard(ctx context.Context, entity Entity, id string) {
	res, err := s.resourceFor(ctx, entity, id)
	if err == nil {
		err = res.Delete(ctx)
	}
	if err != nil {
		s.logger.Error("discard orphaned content", zap.String("content_id", id), zap.Error(err))
	}
}

func abort(sink io.WriteCloser, cause error) error {
	if a, ok := sink.(Aborter); ok {
		return a.CloseWithError(cause)
	}
	return sink.Close()
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}
