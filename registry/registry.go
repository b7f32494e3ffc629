package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/migration"
)

// Driver bundles everything the engine needs from one database backend: a
// live connection, its capability descriptor, a schema introspector and a
// shadow database provider.
type Driver interface {
	Type() dialect.Type
	Descriptor() *dialect.Descriptor
	DB() *sql.DB
	Introspector() migration.Introspector
	ShadowProvider() migration.ShadowProvider
	Close() error
}

// DriverFactory creates a driver from a datasource URI.
type DriverFactory func(uri string) (Driver, error)

var (
	drivers = make(map[dialect.Type]DriverFactory)
	mu      sync.RWMutex
)

// Register registers a driver factory. Drivers register themselves from
// their package init; importing a driver package for side effects wires it in.
func Register(t dialect.Type, factory DriverFactory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := drivers[t]; exists {
		panic(fmt.Sprintf("driver %s already registered", t))
	}
	drivers[t] = factory
}

// Get retrieves a registered driver factory.
func Get(t dialect.Type) (DriverFactory, error) {
	mu.RLock()
	defer mu.RUnlock()

	factory, exists := drivers[t]
	if !exists {
		return nil, fmt.Errorf("driver %s not registered", t)
	}
	return factory, nil
}

// Open resolves a datasource URI's scheme to a registered driver and opens it.
func Open(uri string) (Driver, error) {
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return nil, fmt.Errorf("datasource URI %q has no scheme", uri)
	}
	t, err := dialect.FromScheme(scheme)
	if err != nil {
		return nil, err
	}
	factory, err := Get(t)
	if err != nil {
		return nil, err
	}
	return factory(uri)
}
