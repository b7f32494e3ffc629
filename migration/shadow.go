package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
)

// Introspector reads the live structure of a database back into a schema
// snapshot. Implementations are dialect-specific.
type Introspector interface {
	Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error)
}

// ShadowDatabase is a disposable, isolated database instance. It exists
// only to prove a candidate plan applies cleanly and is torn down on every
// exit path.
type ShadowDatabase interface {
	DB() *sql.DB
	Close() error
}

// ShadowProvider acquires shadow databases. Acquisition failure aborts
// validation before any apply is attempted.
type ShadowProvider interface {
	Acquire(ctx context.Context) (ShadowDatabase, error)
}

// Validator replays migration history plus a candidate plan against a
// shadow database before the candidate is allowed near the real one.
type Validator struct {
	provider     ShadowProvider
	introspector Introspector
	log          logger.Logger
}

// NewValidator creates a shadow validator. The introspector may be nil to
// skip the post-apply consistency self-check.
func NewValidator(provider ShadowProvider, introspector Introspector, log logger.Logger) *Validator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Validator{provider: provider, introspector: introspector, log: log}
}

// Validate proves the candidate plan is mechanically applicable: replay
// every applied migration's stored SQL in order, then apply the candidate.
// On success the plan transitions Drafted -> Validated. On failure the
// failing step and its verbatim error are reported and the plan stays
// Drafted; the real database is never touched either way.
//
// When an introspector is configured and a desired schema is given, the
// shadow's post-apply structure is diffed against the desired schema; any
// difference is a planner defect surfaced as PostApplyDriftError.
func (v *Validator) Validate(ctx context.Context, history []AppliedMigration, plan *Plan, desired *schema.Schema) error {
	shadow, err := v.provider.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire shadow database: %w", err)
	}
	defer func() {
		if closeErr := shadow.Close(); closeErr != nil {
			v.log.Warn("failed to tear down shadow database: %v", closeErr)
		}
	}()

	db := shadow.DB()

	for _, m := range history {
		v.log.Debug("replaying migration %s on shadow database", m.Entry.ID)
		if err := executeScript(ctx, db, m.Script); err != nil {
			return &ShadowReplayError{MigrationID: m.Entry.ID, Err: err}
		}
	}

	for _, step := range plan.Steps {
		if isCommentOnly(step.SQL) {
			continue
		}
		v.log.Debug("shadow-applying step %d: %s", step.ID, step.Change.Type)
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			return &ShadowApplyError{Step: step, Err: err}
		}
	}

	if v.introspector != nil && desired != nil {
		observed, err := v.introspector.Introspect(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to introspect shadow database: %w", err)
		}
		drift := Diff(observed, desired, RenameHints{})
		if !drift.Empty() {
			return &PostApplyDriftError{Drift: &DriftReport{Changes: drift.Changes}}
		}
	}

	return plan.Transition(StateValidated)
}

// executeScript runs a stored migration script statement by statement.
// Scripts are rendered with one statement per ";\n" terminator.
func executeScript(ctx context.Context, db *sql.DB, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %q failed: %w", stmt, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, raw := range strings.Split(script, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(raw, ";"))
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func isCommentOnly(sql string) bool {
	return strings.HasPrefix(strings.TrimSpace(sql), "--")
}
