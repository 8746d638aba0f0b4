package contentstore

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Store.
type Option func(*Store) error

// WithPlacer sets the placement service. Without one the content id is used
// as the location key with no bucket.
func WithPlacer(p Placer) Option {
	return func(s *Store) error {
		if p == nil {
			return ConfigError("placer is nil")
		}
		s.placer = p
		return nil
	}
}

// WithLogger sets the logger used for swallowed and absorbed errors.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) error {
		s.metrics = m
		return nil
	}
}

// WithBackendName overrides the backend label used in logs and metrics.
func WithBackendName(name string) Option {
	return func(s *Store) error {
		s.backend = name
		return nil
	}
}

// WithIDGenerator sets the function that allocates ids for entities without one.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) error {
		if fn == nil {
			return ConfigError("id generator is nil")
		}
		s.newID = fn
		return nil
	}
}

// BackendAssignedIDs leaves the id of new content empty so that the backend
// allocates it on commit, as the SQL blob drivers do.
func BackendAssignedIDs() Option {
	return func(s *Store) error {
		s.newID = func() string { return "" }
		return nil
	}
}

func newUUID() string {
	return uuid.NewString()
}

type keyPlacer struct{}

func (keyPlacer) Locate(_ Entity, id string) (Location, error) { return Location{Key: id}, nil }
func (keyPlacer) LocateID(id string) (Location, error) { return Location{Key: id}, nil }
