// Package postgresql provides the PostgreSQL driver: connection handling,
// schema introspection through information_schema and the catalogs, and
// shadow databases created as throwaway databases on the same server.
// Importing the package registers it for postgres:// datasource URIs.
package postgresql

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/registry"
)

func init() {
	registry.Register(dialect.PostgreSQL, func(uri string) (registry.Driver, error) {
		return New(uri)
	})
}

// Driver is the PostgreSQL backend.
type Driver struct {
	uri  string
	db   *sql.DB
	desc *dialect.Descriptor
}

// New opens a PostgreSQL driver from a postgres:// datasource URI. lib/pq
// accepts the URI form directly.
func New(uri string) (*Driver, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported scheme in %q, expected postgres://", uri)
	}
	desc, err := dialect.Get(dialect.PostgreSQL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return &Driver{uri: uri, db: db, desc: desc}, nil
}

func (d *Driver) Type() dialect.Type {
	return dialect.PostgreSQL
}

func (d *Driver) Descriptor() *dialect.Descriptor {
	return d.desc
}

func (d *Driver) DB() *sql.DB {
	return d.db
}

func (d *Driver) Introspector() migration.Introspector {
	return &Introspector{}
}

func (d *Driver) ShadowProvider() migration.ShadowProvider {
	return &ShadowProvider{uri: d.uri}
}

func (d *Driver) Close() error {
	return d.db.Close()
}
