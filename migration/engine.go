package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/logger"
	"github.com/rediwo/redi-migrate/schema"
)

// ScriptStore is a ScriptSource that can also persist new scripts.
type ScriptStore interface {
	ScriptSource
	WriteScript(id, script string) error
	IDs() ([]string, error)
}

// Options controls a CreateMigration run.
type Options struct {
	// Apply runs the validated plan against the real database. Without it
	// the migration is drafted, validated and persisted only.
	Apply bool
	// Force allows applying a plan that contains destructive steps.
	Force bool
	// Hints carries explicit rename intent from the desired schema.
	Hints RenameHints
}

// Engine drives the introspect -> diff -> plan -> validate -> apply ->
// record pipeline for one target database. All database-facing operations
// are serialized per engine: concurrent planning against a moving target
// produces inconsistent diffs.
type Engine struct {
	mu           sync.Mutex
	db           *sql.DB
	desc         *dialect.Descriptor
	introspector Introspector
	shadow       ShadowProvider
	history      *HistoryStore
	scripts      ScriptStore
	validator    *Validator
	log          logger.Logger
}

// EngineConfig bundles the engine's collaborators.
type EngineConfig struct {
	DB           *sql.DB
	Descriptor   *dialect.Descriptor
	Introspector Introspector
	Shadow       ShadowProvider
	Scripts      ScriptStore
	Logger       logger.Logger
}

// NewEngine creates an engine for one target database.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("engine requires an open database connection")
	}
	if cfg.Descriptor == nil {
		return nil, fmt.Errorf("engine requires a capability descriptor")
	}
	if cfg.Introspector == nil {
		return nil, fmt.Errorf("engine requires an introspector")
	}
	if cfg.Shadow == nil {
		return nil, fmt.Errorf("engine requires a shadow database provider")
	}
	if cfg.Scripts == nil {
		return nil, fmt.Errorf("engine requires a script store")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}

	return &Engine{
		db:           cfg.DB,
		desc:         cfg.Descriptor,
		introspector: cfg.Introspector,
		shadow:       cfg.Shadow,
		history:      NewHistoryStore(cfg.DB, cfg.Descriptor),
		scripts:      cfg.Scripts,
		validator:    NewValidator(cfg.Shadow, cfg.Introspector, log),
		log:          log,
	}, nil
}

// CreateMigration drafts a migration that moves the database toward the
// desired schema, validates it against a shadow database, persists its
// script, and optionally applies it. A nil plan with a nil error means the
// database already matches the desired schema.
func (e *Engine) CreateMigration(ctx context.Context, name string, desired *schema.Schema, opts Options) (*Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := desired.Validate(); err != nil {
		return nil, fmt.Errorf("invalid desired schema: %w", err)
	}

	applied, err := e.loadVerifiedHistory(ctx)
	if err != nil {
		return nil, err
	}

	current, err := e.introspector.Introspect(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect current schema: %w", err)
	}

	delta := Diff(current, desired, opts.Hints)
	for _, cand := range delta.RenameCandidates {
		e.log.Info("possible rename detected: %s.%s -> %s (add an explicit hint to make it a rename)",
			cand.Table, cand.From, cand.To)
	}
	if delta.Empty() {
		e.log.Info("no schema changes detected")
		return nil, nil
	}

	plan, err := NewPlan(name, delta, e.desc)
	if err != nil {
		return nil, err
	}
	plan.ID = GenerateID(name, plan.CreatedAt)

	e.log.Info("drafted migration %s with %d step(s)", plan.ID, len(plan.Steps))

	if err := e.validator.Validate(ctx, applied, plan, desired); err != nil {
		return nil, err
	}
	e.log.Info("migration %s validated against shadow database", plan.ID)

	if err := e.scripts.WriteScript(plan.ID, plan.Script()); err != nil {
		return nil, err
	}

	if !opts.Apply {
		return plan, nil
	}

	if plan.MaxDestructiveness() == Destructive && !opts.Force {
		return nil, fmt.Errorf("migration %s contains destructive steps; re-run with force to apply", plan.ID)
	}

	if err := e.applyPlan(ctx, plan); err != nil {
		return plan, err
	}

	entry := HistoryEntry{
		ID:        plan.ID,
		Name:      plan.Name,
		Checksum:  plan.Checksum,
		AppliedAt: time.Now().UTC(),
	}
	if err := e.history.Record(ctx, entry); err != nil {
		return plan, err
	}
	if err := plan.Transition(StateApplied); err != nil {
		return plan, err
	}
	e.log.Info("migration %s applied", plan.ID)
	return plan, nil
}

// applyPlan executes a validated plan against the real database. Dialects
// with transactional DDL run the whole plan in one transaction; others run
// step by step, and a failure reports the executed-so-far list without
// retrying or undoing anything. Cancellation is honored between steps only:
// a single DDL statement is never interrupted mid-flight.
func (e *Engine) applyPlan(ctx context.Context, plan *Plan) error {
	if e.desc.SupportsTransactionalDDL {
		return e.applyTransactional(ctx, plan)
	}

	var executed []Step
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return &RealApplyError{Executed: executed, Failed: step, Err: err}
		}
		if isCommentOnly(step.SQL) {
			continue
		}
		if _, err := e.db.ExecContext(ctx, step.SQL); err != nil {
			return &RealApplyError{Executed: executed, Failed: step, Err: err}
		}
		executed = append(executed, step)
	}
	return nil
}

func (e *Engine) applyTransactional(ctx context.Context, plan *Plan) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return &RealApplyError{Failed: step, Err: err}
		}
		if isCommentOnly(step.SQL) {
			continue
		}
		if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
			// The transaction rolls back: nothing remains applied.
			e.log.Warn("migration %s rolled back after step %d failed", plan.ID, step.ID)
			return &RealApplyError{Failed: step, Err: err}
		}
	}
	return tx.Commit()
}

// DiagnoseMigrationHistory detects drift: it rebuilds the schema implied by
// replaying the recorded history on a shadow database and diffs it against
// the live schema. A non-empty report means out-of-band changes occurred.
func (e *Engine) DiagnoseMigrationHistory(ctx context.Context) (*DriftReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.loadVerifiedHistory(ctx)
	if err != nil {
		return nil, err
	}

	shadow, err := e.shadow.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire shadow database: %w", err)
	}
	defer func() {
		if closeErr := shadow.Close(); closeErr != nil {
			e.log.Warn("failed to tear down shadow database: %v", closeErr)
		}
	}()

	for _, m := range applied {
		if err := executeScript(ctx, shadow.DB(), m.Script); err != nil {
			return nil, &ShadowReplayError{MigrationID: m.Entry.ID, Err: err}
		}
	}

	implied, err := e.introspector.Introspect(ctx, shadow.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to introspect shadow database: %w", err)
	}
	actual, err := e.introspector.Introspect(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect live database: %w", err)
	}

	delta := Diff(implied, actual, RenameHints{})
	return &DriftReport{Changes: delta.Changes}, nil
}

// DataLossReport summarizes what applying a plan would risk, without
// applying anything.
type DataLossReport struct {
	PlanSteps   int
	Warnings    []Step
	Destructive []Step
}

// EvaluateDataLoss runs the planner in dry-run mode against the live schema
// and surfaces every step that could fail on existing rows or discard data.
func (e *Engine) EvaluateDataLoss(ctx context.Context, desired *schema.Schema, hints RenameHints) (*DataLossReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := desired.Validate(); err != nil {
		return nil, fmt.Errorf("invalid desired schema: %w", err)
	}

	current, err := e.introspector.Introspect(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect current schema: %w", err)
	}

	delta := Diff(current, desired, hints)
	plan, err := NewPlan("evaluate_data_loss", delta, e.desc)
	if err != nil {
		return nil, err
	}

	report := &DataLossReport{PlanSteps: len(plan.Steps)}
	for _, step := range plan.Steps {
		switch step.Destructiveness {
		case Warning:
			report.Warnings = append(report.Warnings, step)
		case Destructive:
			report.Destructive = append(report.Destructive, step)
		}
	}
	return report, nil
}

// Status reports the ledger plus any scripts on disk not yet applied.
type Status struct {
	Applied []HistoryEntry
	Pending []string
}

// Status returns the applied ledger and pending script ids.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.history.EnsureTable(ctx); err != nil {
		return nil, err
	}
	entries, err := e.history.List(ctx)
	if err != nil {
		return nil, err
	}

	appliedIDs := make(map[string]bool, len(entries))
	for _, entry := range entries {
		appliedIDs[entry.ID] = true
	}

	ids, err := e.scripts.IDs()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, id := range ids {
		if !appliedIDs[id] {
			pending = append(pending, id)
		}
	}

	return &Status{Applied: entries, Pending: pending}, nil
}

// MarkRolledBack records that a migration was manually rolled back outside
// the engine.
func (e *Engine) MarkRolledBack(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.MarkRolledBack(ctx, id)
}

// loadVerifiedHistory lists the ledger and cross-checks every entry's
// script checksum before anything else runs. An edited applied migration is
// fatal and reported before any database mutation.
func (e *Engine) loadVerifiedHistory(ctx context.Context) ([]AppliedMigration, error) {
	if err := e.history.EnsureTable(ctx); err != nil {
		return nil, err
	}
	entries, err := e.history.List(ctx)
	if err != nil {
		return nil, err
	}
	return VerifyScripts(entries, e.scripts)
}
