package migration

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// memoryShadow hands out in-memory SQLite databases and counts teardowns so
// tests can prove the shadow is released on every exit path.
type memoryShadow struct {
	db     *sql.DB
	closed bool
}

func (s *memoryShadow) DB() *sql.DB { return s.db }

func (s *memoryShadow) Close() error {
	s.closed = true
	return s.db.Close()
}

type memoryShadowProvider struct {
	acquired []*memoryShadow
}

func (p *memoryShadowProvider) Acquire(ctx context.Context) (ShadowDatabase, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	s := &memoryShadow{db: db}
	p.acquired = append(p.acquired, s)
	return s, nil
}

func (p *memoryShadowProvider) allClosed() bool {
	for _, s := range p.acquired {
		if !s.closed {
			return false
		}
	}
	return len(p.acquired) > 0
}

// fixedIntrospector returns a canned schema instead of reading the database.
type fixedIntrospector struct {
	schema *schema.Schema
	err    error
}

func (f *fixedIntrospector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	return f.schema, f.err
}

func sqlitePlan(t *testing.T, name string, before, after *schema.Schema) *Plan {
	t.Helper()
	desc, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)
	plan, err := NewPlan(name, Diff(before, after, RenameHints{}), desc)
	require.NoError(t, err)
	return plan
}

func TestValidatorValidatesCandidate(t *testing.T) {
	provider := &memoryShadowProvider{}
	v := NewValidator(provider, nil, nil)
	plan := sqlitePlan(t, "init", schema.New(), userSchema())

	err := v.Validate(context.Background(), nil, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, plan.State)
	assert.True(t, provider.allClosed())
}

func TestValidatorReplaysHistoryFirst(t *testing.T) {
	provider := &memoryShadowProvider{}
	v := NewValidator(provider, nil, nil)

	init := sqlitePlan(t, "init", schema.New(), userSchema())
	history := []AppliedMigration{{
		Entry:  HistoryEntry{ID: "1700000000_init"},
		Script: init.Script(),
	}}

	// The candidate only works if the replayed history created users first.
	after := userSchema()
	after.Table("users").AddColumn(schema.Column{Name: "bio", Type: schema.TypeString, Nullable: true})
	plan := sqlitePlan(t, "add_bio", userSchema(), after)

	require.NoError(t, v.Validate(context.Background(), history, plan, nil))
	assert.Equal(t, StateValidated, plan.State)
}

func TestValidatorReplayFailure(t *testing.T) {
	provider := &memoryShadowProvider{}
	v := NewValidator(provider, nil, nil)
	plan := sqlitePlan(t, "init", schema.New(), userSchema())

	history := []AppliedMigration{{
		Entry:  HistoryEntry{ID: "1700000000_bad"},
		Script: "CREATE BROKEN SYNTAX;\n",
	}}

	err := v.Validate(context.Background(), history, plan, nil)
	var replayErr *ShadowReplayError
	require.ErrorAs(t, err, &replayErr)
	assert.Equal(t, "1700000000_bad", replayErr.MigrationID)
	assert.Equal(t, StateDrafted, plan.State)
	assert.True(t, provider.allClosed(), "shadow must be torn down on failure")
}

func TestValidatorApplyFailure(t *testing.T) {
	provider := &memoryShadowProvider{}
	v := NewValidator(provider, nil, nil)

	// Draft a plan against an empty shadow that assumes users already
	// exists: the add column step must fail.
	after := userSchema()
	after.Table("users").AddColumn(schema.Column{Name: "bio", Type: schema.TypeString, Nullable: true})
	plan := sqlitePlan(t, "add_bio", userSchema(), after)

	err := v.Validate(context.Background(), nil, plan, nil)
	var applyErr *ShadowApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.NotEmpty(t, applyErr.Step.SQL)
	assert.Equal(t, StateDrafted, plan.State)
	assert.True(t, provider.allClosed(), "shadow must be torn down on failure")
}

func TestValidatorPostApplyDrift(t *testing.T) {
	provider := &memoryShadowProvider{}
	// The introspector claims the shadow ended up empty while the desired
	// schema has a table: a planner defect.
	v := NewValidator(provider, &fixedIntrospector{schema: schema.New()}, nil)
	plan := sqlitePlan(t, "init", schema.New(), userSchema())

	err := v.Validate(context.Background(), nil, plan, userSchema())
	var driftErr *PostApplyDriftError
	require.ErrorAs(t, err, &driftErr)
	assert.False(t, driftErr.Drift.Empty())
	assert.Equal(t, StateDrafted, plan.State)
}

func TestValidatorSkipsCommentOnlySteps(t *testing.T) {
	provider := &memoryShadowProvider{}
	v := NewValidator(provider, nil, nil)

	plan := &Plan{
		Name:  "noop",
		State: StateDrafted,
		Steps: []Step{{ID: 1, SQL: "-- enum role is encoded in column definitions on this dialect"}},
	}

	require.NoError(t, v.Validate(context.Background(), nil, plan, nil))
	assert.Equal(t, StateValidated, plan.State)
}

func TestSplitStatements(t *testing.T) {
	script := "CREATE TABLE `a` (`id` INTEGER);\n-- comment only;\nINSERT INTO `a` (`id`) SELECT 1;\n"
	stmts := splitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE `a` (`id` INTEGER)",
		"INSERT INTO `a` (`id`) SELECT 1",
	}, stmts)
}
