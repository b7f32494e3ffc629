package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/rediwo/redi-migrate/migration"
)

// ShadowProvider creates throwaway sibling databases on the same server.
// Administrative statements run through the maintenance database, so the
// connecting user needs CREATEDB privileges.
type ShadowProvider struct {
	uri string
}

type shadowDatabase struct {
	db    *sql.DB
	admin *sql.DB
	name  string
}

func (p *ShadowProvider) Acquire(ctx context.Context) (migration.ShadowDatabase, error) {
	name := "shadow_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	adminURI, err := replaceDatabase(p.uri, "postgres")
	if err != nil {
		return nil, err
	}
	admin, err := sql.Open("postgres", adminURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for shadow database creation: %w", err)
	}
	if _, err := admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE "%s"`, name)); err != nil {
		admin.Close()
		return nil, fmt.Errorf("failed to create shadow database: %w", err)
	}

	shadowURI, err := replaceDatabase(p.uri, name)
	if err != nil {
		admin.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE "%s"`, name))
		admin.Close()
		return nil, err
	}
	db, err := sql.Open("postgres", shadowURI)
	if err != nil {
		admin.ExecContext(ctx, fmt.Sprintf(`DROP DATABASE "%s"`, name))
		admin.Close()
		return nil, fmt.Errorf("failed to open shadow database: %w", err)
	}
	return &shadowDatabase{db: db, admin: admin, name: name}, nil
}

func (s *shadowDatabase) DB() *sql.DB {
	return s.db
}

func (s *shadowDatabase) Close() error {
	err := s.db.Close()
	if _, dropErr := s.admin.Exec(fmt.Sprintf(`DROP DATABASE "%s"`, s.name)); err == nil {
		err = dropErr
	}
	if closeErr := s.admin.Close(); err == nil {
		err = closeErr
	}
	return err
}

// replaceDatabase swaps the database segment of a postgres:// URI.
func replaceDatabase(uri, name string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}
