// Package placement resolves entities and raw content ids to backend
// locations.
//
// A Service holds an ordered set of converters. Entity converters are
// registered per Go type and take precedence over the default rule, which
// uses the content id as the key and the entity's bucket (see Bucketed) or
// the configured default bucket.
package placement

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tendant/content-store/pkg/contentstore"
)

// Bucketed is implemented by entities that name their own bucket.
type Bucketed interface {
	ContentBucket() string
}

// EntityConverter converts an entity and its (possibly newly allocated)
// content id into a location.
type EntityConverter func(entity contentstore.Entity, id string) (contentstore.Location, error)

// IDConverter converts a raw content id into a location.
type IDConverter func(id string) (contentstore.Location, error)

// Service implements contentstore.Placer.
type Service struct {
	mu            sync.RWMutex
	defaultBucket string
	requireBucket bool
	entities      map[reflect.Type]EntityConverter
	ids           []IDConverter
}

var _ contentstore.Placer = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithDefaultBucket sets the bucket used when neither a converter nor the
// entity supplies one.
func WithDefaultBucket(bucket string) Option {
	return func(s *Service) {
		s.defaultBucket = bucket
	}
}

// RequireBucket makes an unresolvable bucket a per-operation error.
func RequireBucket() Option {
	return func(s *Service) {
		s.requireBucket = true
	}
}

// WithIDConverter appends a raw-id converter. Converters are tried in
// registration order; a converter returning an empty key passes.
func WithIDConverter(fn IDConverter) Option {
	return func(s *Service) {
		s.ids = append(s.ids, fn)
	}
}

// New creates a placement service.
func New(opts ...Option) *Service {
	s := &Service{entities: make(map[reflect.Type]EntityConverter)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds a converter for entities of type T.
func Register[T contentstore.Entity](s *Service, fn func(entity T, id string) (contentstore.Location, error)) {
	t := reflect.TypeFor[T]()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[t] = func(entity contentstore.Entity, id string) (contentstore.Location, error) {
		return fn(entity.(T), id)
	}
}

// DefaultBucket returns the configured default bucket.
func (s *Service) DefaultBucket() string {
	return s.defaultBucket
}

// Locate resolves the location of an entity's content.
func (s *Service) Locate(entity contentstore.Entity, id string) (contentstore.Location, error) {
	if entity == nil {
		return contentstore.Location{}, contentstore.ConfigError("entity is nil")
	}

	s.mu.RLock()
	conv, ok := s.entities[reflect.TypeOf(entity)]
	s.mu.RUnlock()

	var loc contentstore.Location
	if ok {
		var err error
		if loc, err = conv(entity, id); err != nil {
			return contentstore.Location{}, fmt.Errorf("%w: convert %T: %v", contentstore.ErrConfiguration, entity, err)
		}
	} else {
		loc.Key = id
		if b, ok := entity.(Bucketed); ok {
			loc.Bucket = b.ContentBucket()
		}
	}
	return s.finish(loc)
}

// LocateID resolves the location of a raw content id.
func (s *Service) LocateID(id string) (contentstore.Location, error) {
	loc := contentstore.Location{Key: id}
	for _, conv := range s.ids {
		l, err := conv(id)
		if err != nil {
			return contentstore.Location{}, fmt.Errorf("%w: convert id %s: %v", contentstore.ErrConfiguration, id, err)
		}
		if l.Key != "" {
			loc = l
			break
		}
	}
	return s.finish(loc)
}

func (s *Service) finish(loc contentstore.Location) (contentstore.Location, error) {
	if loc.Bucket == "" {
		loc.Bucket = s.defaultBucket
	}
	if loc.Bucket == "" && s.requireBucket {
		return contentstore.Location{}, contentstore.ErrBucketNotSet
	}
	return loc, nil
}

// SplitBucketKey is an IDConverter for ids of the form "bucket/key". Ids
// without a slash yield an empty location so that later converters apply.
func SplitBucketKey(id string) (contentstore.Location, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(id, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return contentstore.Location{}, nil
	}
	return contentstore.Location{Bucket: bucket, Key: key}, nil
}
