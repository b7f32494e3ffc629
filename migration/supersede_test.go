package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// tableCatalogIntrospector reads real table names out of a SQLite database,
// so replayed scripts shape the snapshots the supersession scan compares.
type tableCatalogIntrospector struct{}

func (tableCatalogIntrospector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ? ORDER BY name",
		HistoryTableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s := schema.New()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		s.AddTable(schema.NewTable(name).AddColumn(schema.Column{Name: "id", Type: schema.TypeInt}))
	}
	return s, rows.Err()
}

// newSupersedeEngine wires an engine over a real SQLite ledger with three
// handcrafted applied migrations: create a, create b, drop b.
func newSupersedeEngine(t *testing.T) (*Engine, *HistoryStore) {
	t.Helper()
	live := openTestDB(t)
	desc, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)

	scripts := NewDirSource(filepath.Join(t.TempDir(), "migrations"))
	engine, err := NewEngine(EngineConfig{
		DB:           live,
		Descriptor:   desc,
		Introspector: tableCatalogIntrospector{},
		Shadow:       &memoryShadowProvider{},
		Scripts:      scripts,
	})
	require.NoError(t, err)

	history := NewHistoryStore(live, desc)
	require.NoError(t, history.EnsureTable(context.Background()))

	applied := []struct {
		id     string
		script string
	}{
		{"1700000000000_create_a", "CREATE TABLE `a` (id INTEGER)"},
		{"1700000001000_create_b", "CREATE TABLE `b` (id INTEGER)"},
		{"1700000002000_drop_b", "DROP TABLE `b`"},
	}
	for _, m := range applied {
		require.NoError(t, scripts.WriteScript(m.id, m.script))
		require.NoError(t, history.Record(context.Background(), HistoryEntry{
			ID:        m.id,
			Name:      m.id,
			Checksum:  ChecksumScript(m.script),
			AppliedAt: time.Now().UTC(),
		}))
	}
	return engine, history
}

func TestSupersededMigrations(t *testing.T) {
	engine, _ := newSupersedeEngine(t)

	// b was created and later dropped again: creating it is moot. a still
	// exists, and the final drop is never scanned.
	ids, err := engine.SupersededMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000001000_create_b"}, ids)
}

func TestSupersededMigrationsSkipsRolledBack(t *testing.T) {
	engine, history := newSupersedeEngine(t)
	require.NoError(t, history.MarkRolledBack(context.Background(), "1700000001000_create_b"))

	ids, err := engine.SupersededMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSupersededMigrationsShortHistory(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	ids, err := engine.SupersededMigrations(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestEffectSurvives(t *testing.T) {
	final := schema.New().AddTable(
		schema.NewTable("a").AddColumn(schema.Column{Name: "id", Type: schema.TypeInt}),
	)

	assert.True(t, effectSurvives(SchemaChange{Type: ChangeTypeCreateTable, Table: "a"}, final))
	assert.False(t, effectSurvives(SchemaChange{Type: ChangeTypeCreateTable, Table: "b"}, final))
	assert.True(t, effectSurvives(SchemaChange{Type: ChangeTypeDropTable, Table: "b"}, final))
	assert.True(t, effectSurvives(SchemaChange{Type: ChangeTypeAddColumn, Table: "a", Column: "id"}, final))
	assert.False(t, effectSurvives(SchemaChange{Type: ChangeTypeAddColumn, Table: "a", Column: "bio"}, final))
	// A drop on a table that was itself dropped later left nothing behind.
	assert.False(t, effectSurvives(SchemaChange{Type: ChangeTypeDropColumn, Table: "b", Column: "bio"}, final))
}
