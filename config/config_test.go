package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
datasource: sqlite://./app.db
schema_file: db/schema.json
migrations_dir: db/migrations
allow_destructive: true
log_level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlite://./app.db", cfg.Datasource)
	assert.Equal(t, "db/schema.json", cfg.SchemaFile)
	assert.Equal(t, "db/migrations", cfg.MigrationsDir)
	assert.True(t, cfg.AllowDestructive)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("datasource: \"sqlite://:memory:\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "schema.json", cfg.SchemaFile)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.AllowDestructive)
}

func TestParseMissingDatasource(t *testing.T) {
	_, err := Parse([]byte("migrations_dir: migrations\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Datasource")
}

func TestParseBadLogLevel(t *testing.T) {
	_, err := Parse([]byte("datasource: \"sqlite://:memory:\"\nlog_level: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("datasource: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("datasource: sqlite://./app.db\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://./app.db", cfg.Datasource)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
