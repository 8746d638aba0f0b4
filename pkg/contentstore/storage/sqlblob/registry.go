package sqlblob

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tendant/content-store/pkg/contentstore"
)

// Factory builds the loader of a registered driver
type Factory func(ctx context.Context) (contentstore.Loader, error)

// Registration binds a database product to a driver factory. Match defaults
// to MatchProduct(Name).
type Registration struct {
	Name  string
	Match func(product string) bool
	New   Factory
}

// MatchProduct matches product names equal to or containing name, ignoring case
func MatchProduct(name string) func(product string) bool {
	name = strings.ToLower(name)
	return func(product string) bool {
		product = strings.ToLower(product)
		return product == name || strings.Contains(product, name)
	}
}

// Registry is an ordered list of driver registrations with a mandatory
// fallback. The first registration matching the product name wins.
type Registry struct {
	mu       sync.RWMutex
	entries  []Registration
	fallback Factory
}

// NewRegistry creates a registry whose fallback serves every product no
// registration matches.
func NewRegistry(fallback Factory) (*Registry, error) {
	if fallback == nil {
		return nil, contentstore.ConfigError("a fallback driver is required")
	}
	return &Registry{fallback: fallback}, nil
}

// Register appends a registration
func (r *Registry) Register(reg Registration) error {
	if reg.New == nil {
		return contentstore.ConfigError("driver %q has no factory", reg.Name)
	}
	if reg.Match == nil {
		if reg.Name == "" {
			return contentstore.ConfigError("driver registration needs a name or a match function")
		}
		reg.Match = MatchProduct(reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, reg)
	return nil
}

// Select returns the name and factory of the driver for product. The name
// is "generic" when the fallback is chosen.
func (r *Registry) Select(product string) (string, Factory) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.entries {
		if reg.Match(product) {
			return reg.Name, reg.New
		}
	}
	return "generic", r.fallback
}

// Prober reports the product name of a database
type Prober interface {
	Product(ctx context.Context) (string, error)
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) (string, error)

func (f ProberFunc) Product(ctx context.Context) (string, error) {
	return f(ctx)
}

// ProbeSQLX reports a product name derived from the database/sql driver name
func ProbeSQLX(db *sqlx.DB) Prober {
	return ProberFunc(func(ctx context.Context) (string, error) {
		switch name := strings.ToLower(db.DriverName()); name {
		case "pgx", "postgres", "postgresql":
			return "PostgreSQL", nil
		case "sqlite", "sqlite3":
			return "SQLite", nil
		case "mysql":
			return "MySQL", nil
		case "sqlserver", "mssql":
			return "Microsoft SQL Server", nil
		default:
			return name, nil
		}
	})
}

// ProbePool asks the server for its version string, which starts with the
// product name ("PostgreSQL 16.2 on ...")
func ProbePool(pool *pgxpool.Pool) Prober {
	return ProberFunc(func(ctx context.Context) (string, error) {
		var version string
		if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
			return "", fmt.Errorf("probe database version: %w", err)
		}
		return version, nil
	})
}

// DelegatingLoader picks a driver from a registry on first use and
// delegates to it for its lifetime. Registrations added after the choice
// is made do not affect it.
type DelegatingLoader struct {
	registry *Registry
	prober   Prober
	logger   *zap.Logger

	mu       sync.Mutex
	selected contentstore.Loader
	name     string
}

var _ contentstore.Loader = (*DelegatingLoader)(nil)

// NewDelegatingLoader creates a loader that selects its driver through prober
func NewDelegatingLoader(registry *Registry, prober Prober, logger *zap.Logger) (*DelegatingLoader, error) {
	if registry == nil || prober == nil {
		return nil, contentstore.ConfigError("registry and prober are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelegatingLoader{registry: registry, prober: prober, logger: logger}, nil
}

// Select probes the database and builds the matching driver once. Later
// calls return the cached loader.
func (d *DelegatingLoader) Select(ctx context.Context) (contentstore.Loader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selected != nil {
		return d.selected, nil
	}

	product, err := d.prober.Product(ctx)
	if err != nil {
		return nil, err
	}
	name, factory := d.registry.Select(product)
	loader, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s blob driver: %w", name, err)
	}
	if loader == nil {
		return nil, contentstore.ConfigError("%s blob driver factory returned no loader", name)
	}

	d.logger.Info("selected blob driver", zap.String("product", product), zap.String("driver", name))
	d.selected, d.name = loader, name
	return loader, nil
}

// Backend returns the selected driver's backend name, or "sqlblob" before
// selection
func (d *DelegatingLoader) Backend() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.selected.(contentstore.Named); ok {
		return n.Backend()
	}
	return "sqlblob"
}

// Driver returns the registration name of the selected driver
func (d *DelegatingLoader) Driver() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *DelegatingLoader) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	loader, err := d.Select(ctx)
	if err != nil {
		return nil, err
	}
	return loader.Resource(ctx, loc)
}

// DefaultRegistry registers the Postgres driver over pool, when given, in
// front of the generic driver over db.
func DefaultRegistry(db *sqlx.DB, pool *pgxpool.Pool, opts ...Option) (*Registry, error) {
	reg, err := NewRegistry(func(ctx context.Context) (contentstore.Loader, error) {
		return NewGeneric(db, opts...)
	})
	if err != nil {
		return nil, err
	}
	if pool != nil {
		err := reg.Register(Registration{
			Name: "PostgreSQL",
			New: func(ctx context.Context) (contentstore.Loader, error) {
				return NewPostgres(pool, opts...)
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}
