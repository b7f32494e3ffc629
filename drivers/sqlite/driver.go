// Package sqlite provides the SQLite driver: connection handling, schema
// introspection and file-based shadow databases. Importing the package
// registers it for sqlite:// datasource URIs.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/registry"
)

func init() {
	registry.Register(dialect.SQLite, func(uri string) (registry.Driver, error) {
		return New(uri)
	})
}

// Driver is the SQLite backend.
type Driver struct {
	path string
	db   *sql.DB
	desc *dialect.Descriptor
}

// New opens a SQLite driver from a sqlite:// datasource URI.
func New(uri string) (*Driver, error) {
	path, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	desc, err := dialect.Get(dialect.SQLite)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &Driver{path: path, db: db, desc: desc}, nil
}

func (d *Driver) Type() dialect.Type {
	return dialect.SQLite
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
	return &ShadowProvider{}
}

func (d *Driver) Close() error {
	return d.db.Close()
}
