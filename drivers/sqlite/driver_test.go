package sqlite

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/registry"
	"github.com/rediwo/redi-migrate/schema"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "sqlite://:memory:", want: ":memory:"},
		{uri: "sqlite:///var/data/app.db", want: "/var/data/app.db"},
		{uri: "sqlite://./app.db", want: "./app.db"},
		{uri: "sqlite3://./app.db", want: "./app.db"},
		{uri: "sqlite://", wantErr: true},
		{uri: "mysql://localhost/db", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseURI(tt.uri)
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got, tt.uri)
	}
}

func TestDriverRegistered(t *testing.T) {
	driver, err := registry.Open("sqlite://:memory:")
	require.NoError(t, err)
	defer driver.Close()

	assert.Equal(t, dialect.SQLite, driver.Type())
	assert.Equal(t, dialect.SQLite, driver.Descriptor().Dialect)
	require.NoError(t, driver.DB().Ping())
}

func blogDesired() *schema.Schema {
	s := schema.New()
	s.AddEnum(&schema.Enum{Name: "role", Variants: []string{"admin", "member"}})
	s.AddTable(schema.NewTable("posts").
		AddColumn(schema.Column{Name: "id", Type: schema.TypeInt, AutoIncrement: true}).
		AddColumn(schema.Column{Name: "title", Type: schema.TypeString, Default: "untitled"}).
		AddColumn(schema.Column{Name: "author_id", Type: schema.TypeInt}).
		WithPrimaryKey("id").
		AddForeignKey(schema.ForeignKey{
			Name:              "fk_posts_author",
			Columns:           []string{"author_id"},
			ReferencedTable:   "users",
			ReferencedColumns: []string{"id"},
			OnDelete:          schema.ActionCascade,
		}))
	s.AddTable(schema.NewTable("users").
		AddColumn(schema.Column{Name: "id", Type: schema.TypeInt, AutoIncrement: true}).
		AddColumn(schema.Column{Name: "email", Type: schema.TypeString}).
		AddColumn(schema.Column{Name: "role", Type: schema.TypeEnum, EnumName: "role"}).
		AddColumn(schema.Column{Name: "bio", Type: schema.TypeString, Nullable: true}).
		WithPrimaryKey("id").
		AddIndex(schema.Index{Name: "idx_users_email", Columns: []string{"email"}, Unique: true}))
	return s
}

// applyPlan runs a rendered plan's statements directly, the way the engine
// would.
func applyPlan(t *testing.T, db *sql.DB, plan *migration.Plan) {
	t.Helper()
	for _, step := range plan.Steps {
		if len(step.SQL) >= 2 && step.SQL[:2] == "--" {
			continue
		}
		_, err := db.Exec(step.SQL)
		require.NoError(t, err, step.SQL)
	}
}

func TestIntrospectorRoundTrip(t *testing.T) {
	desired := blogDesired()
	desc, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)

	plan, err := migration.NewPlan("init", migration.Diff(schema.New(), desired, migration.RenameHints{}), desc)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	applyPlan(t, db, plan)

	observed, err := (&Introspector{}).Introspect(context.Background(), db)
	require.NoError(t, err)

	// A faithful introspection produces no further changes against the
	// schema the plan was generated from.
	drift := migration.Diff(observed, desired, migration.RenameHints{})
	assert.Empty(t, drift.Changes, "unexpected drift: %+v", drift.Changes)

	// Spot-check the recovered structure.
	users := observed.Table("users")
	require.NotNil(t, users)
	assert.True(t, users.Column("id").AutoIncrement)
	assert.Equal(t, schema.TypeEnum, users.Column("role").Type)
	assert.Equal(t, "role", users.Column("role").EnumName)
	require.NotNil(t, observed.Enum("role"))
	assert.Equal(t, []string{"admin", "member"}, observed.Enum("role").Variants)

	posts := observed.Table("posts")
	require.NotNil(t, posts)
	require.Len(t, posts.ForeignKeys, 1)
	assert.Equal(t, "fk_posts_author", posts.ForeignKeys[0].Name)
	assert.Equal(t, schema.ActionCascade, posts.ForeignKeys[0].OnDelete)
}

func TestIntrospectorSkipsHistoryTable(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE `" + migration.HistoryTableName + "` (`id` TEXT PRIMARY KEY)")
	require.NoError(t, err)

	observed, err := (&Introspector{}).Introspect(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, observed.Tables)
}

func TestShadowProvider(t *testing.T) {
	provider := &ShadowProvider{Dir: t.TempDir()}

	shadow, err := provider.Acquire(context.Background())
	require.NoError(t, err)

	_, err = shadow.DB().Exec("CREATE TABLE `t` (`id` INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	entries, err := os.ReadDir(provider.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, shadow.Close())
	entries, err = os.ReadDir(provider.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "shadow database file must be removed on close")
}
