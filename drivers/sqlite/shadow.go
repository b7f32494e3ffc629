package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rediwo/redi-migrate/migration"
)

// ShadowProvider hands out throwaway file-backed SQLite databases. A file
// rather than :memory: keeps behavior identical to the real target,
// including cross-connection visibility.
type ShadowProvider struct {
	// Dir overrides the temp directory the shadow files live in.
	Dir string
}

type shadowDatabase struct {
	db   *sql.DB
	path string
}

func (p *ShadowProvider) Acquire(ctx context.Context) (migration.ShadowDatabase, error) {
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("shadow_%s.db", uuid.New().String()))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shadow database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create shadow database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return &shadowDatabase{db: db, path: path}, nil
}

func (s *shadowDatabase) DB() *sql.DB {
	return s.db
}

func (s *shadowDatabase) Close() error {
	err := s.db.Close()
	if removeErr := os.Remove(s.path); err == nil {
		err = removeErr
	}
	return err
}
