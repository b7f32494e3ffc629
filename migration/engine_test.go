package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// stubIntrospector answers differently for the live connection and for
// shadow databases, so tests can steer the differ without a real
// introspection layer.
type stubIntrospector struct {
	live     *sql.DB
	onLive   *schema.Schema
	onShadow *schema.Schema
}

func (s *stubIntrospector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	if db == s.live {
		return s.onLive, nil
	}
	return s.onShadow, nil
}

func newTestEngine(t *testing.T) (*Engine, *stubIntrospector, *DirSource, *sql.DB) {
	t.Helper()
	live := openTestDB(t)
	desc, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)

	intro := &stubIntrospector{live: live, onLive: schema.New(), onShadow: schema.New()}
	scripts := NewDirSource(filepath.Join(t.TempDir(), "migrations"))

	engine, err := NewEngine(EngineConfig{
		DB:           live,
		Descriptor:   desc,
		Introspector: intro,
		Shadow:       &memoryShadowProvider{},
		Scripts:      scripts,
	})
	require.NoError(t, err)
	return engine, intro, scripts, live
}

func TestEngineCreateMigrationNoChanges(t *testing.T) {
	engine, intro, _, _ := newTestEngine(t)
	intro.onLive = userSchema()

	plan, err := engine.CreateMigration(context.Background(), "noop", userSchema(), Options{})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestEngineCreateMigrationDraftOnly(t *testing.T) {
	ctx := context.Background()
	engine, intro, scripts, live := newTestEngine(t)
	intro.onShadow = userSchema()

	plan, err := engine.CreateMigration(ctx, "init", userSchema(), Options{})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, StateValidated, plan.State)

	// The script is persisted but nothing touched the real database.
	script, err := scripts.Script(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Script(), script)

	var count int
	require.NoError(t, live.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'").Scan(&count))
	assert.Zero(t, count)

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Applied)
	assert.Equal(t, []string{plan.ID}, status.Pending)
}

func TestEngineCreateMigrationApply(t *testing.T) {
	ctx := context.Background()
	engine, intro, _, live := newTestEngine(t)
	intro.onShadow = userSchema()

	plan, err := engine.CreateMigration(ctx, "init", userSchema(), Options{Apply: true})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, StateApplied, plan.State)

	var count int
	require.NoError(t, live.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'").Scan(&count))
	assert.Equal(t, 1, count)

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Applied, 1)
	assert.Equal(t, plan.ID, status.Applied[0].ID)
	assert.Equal(t, plan.Checksum, status.Applied[0].Checksum)
	assert.Empty(t, status.Pending)
}

func TestEngineDestructiveRequiresForce(t *testing.T) {
	ctx := context.Background()
	engine, intro, _, live := newTestEngine(t)

	intro.onShadow = userSchema()
	_, err := engine.CreateMigration(ctx, "init", userSchema(), Options{Apply: true})
	require.NoError(t, err)

	intro.onLive = userSchema()
	intro.onShadow = schema.New()

	_, err = engine.CreateMigration(ctx, "drop_users", schema.New(), Options{Apply: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destructive")

	plan, err := engine.CreateMigration(ctx, "drop_users", schema.New(), Options{Apply: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, plan.State)

	var count int
	require.NoError(t, live.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'").Scan(&count))
	assert.Zero(t, count)
}

func TestEngineDetectsEditedScript(t *testing.T) {
	ctx := context.Background()
	engine, intro, scripts, _ := newTestEngine(t)

	intro.onShadow = userSchema()
	plan, err := engine.CreateMigration(ctx, "init", userSchema(), Options{Apply: true})
	require.NoError(t, err)

	require.NoError(t, scripts.WriteScript(plan.ID, "DROP TABLE `users`;\n"))
	intro.onLive = userSchema()

	_, err = engine.CreateMigration(ctx, "next", userSchema(), Options{})
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, plan.ID, mismatch.MigrationID)
}

func TestEngineEvaluateDataLoss(t *testing.T) {
	ctx := context.Background()
	engine, intro, _, _ := newTestEngine(t)
	intro.onLive = userSchema()

	report, err := engine.EvaluateDataLoss(ctx, schema.New(), RenameHints{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.PlanSteps)
	require.Len(t, report.Destructive, 1)
	assert.Equal(t, ChangeTypeDropTable, report.Destructive[0].Change.Type)
	assert.Empty(t, report.Warnings)
}

func TestEngineDiagnoseMigrationHistory(t *testing.T) {
	ctx := context.Background()
	engine, intro, _, _ := newTestEngine(t)

	intro.onShadow = userSchema()
	_, err := engine.CreateMigration(ctx, "init", userSchema(), Options{Apply: true})
	require.NoError(t, err)

	// No out-of-band changes: replaying history matches the live schema.
	intro.onLive = userSchema()
	report, err := engine.DiagnoseMigrationHistory(ctx)
	require.NoError(t, err)
	assert.True(t, report.Empty())

	// Someone added a column by hand.
	drifted := userSchema()
	drifted.Table("users").AddColumn(schema.Column{Name: "bio", Type: schema.TypeString, Nullable: true})
	intro.onLive = drifted

	report, err = engine.DiagnoseMigrationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, ChangeTypeAddColumn, report.Changes[0].Type)
	assert.Equal(t, "bio", report.Changes[0].Column)
}

func TestEngineMarkRolledBack(t *testing.T) {
	ctx := context.Background()
	engine, intro, _, _ := newTestEngine(t)

	intro.onShadow = userSchema()
	plan, err := engine.CreateMigration(ctx, "init", userSchema(), Options{Apply: true})
	require.NoError(t, err)

	require.NoError(t, engine.MarkRolledBack(ctx, plan.ID))

	status, err := engine.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Applied, 1)
	assert.True(t, status.Applied[0].RolledBack)
}
