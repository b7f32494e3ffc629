package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rediwo/redi-migrate/migration"
)

// ShadowProvider creates throwaway sibling databases on the same server.
// The connecting user needs CREATE/DROP DATABASE privileges.
type ShadowProvider struct {
	cfg *mysql.Config
}

type shadowDatabase struct {
	db    *sql.DB
	admin *sql.DB
	name  string
}

func (p *ShadowProvider) Acquire(ctx context.Context) (migration.ShadowDatabase, error) {
	name := "shadow_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	adminCfg := p.cfg.Clone()
	adminCfg.DBName = ""
	admin, err := sql.Open("mysql", adminCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect for shadow database creation: %w", err)
	}
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", name)); err != nil {
		admin.Close()
		return nil, fmt.Errorf("failed to create shadow database: %w", err)
	}

	shadowCfg := p.cfg.Clone()
	shadowCfg.DBName = name
	db, err := sql.Open("mysql", shadowCfg.FormatDSN())
	if err != nil {
		admin.ExecContext(ctx, fmt.Sprintf("DROP DATABASE `%s`", name))
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
	if _, dropErr := s.admin.Exec(fmt.Sprintf("DROP DATABASE `%s`", s.name)); err == nil {
		err = dropErr
	}
	if closeErr := s.admin.Close(); err == nil {
		err = closeErr
	}
	return err
}
