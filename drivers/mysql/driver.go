// Package mysql provides the MySQL driver: connection handling, schema
// introspection through information_schema, and shadow databases created as
// throwaway sibling databases on the same server. Importing the package
// registers it for mysql:// datasource URIs.
package mysql

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/registry"
)

func init() {
	registry.Register(dialect.MySQL, func(uri string) (registry.Driver, error) {
		return New(uri)
	})
}

// Driver is the MySQL backend.
type Driver struct {
	cfg  *mysql.Config
	db   *sql.DB
	desc *dialect.Descriptor
}

// New opens a MySQL driver from a mysql:// datasource URI.
func New(uri string) (*Driver, error) {
	cfg, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	desc, err := dialect.Get(dialect.MySQL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	return &Driver{cfg: cfg, db: db, desc: desc}, nil
}

func (d *Driver) Type() dialect.Type {
	return dialect.MySQL
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
	return &ShadowProvider{cfg: d.cfg}
}

func (d *Driver) Close() error {
	return d.db.Close()
}
