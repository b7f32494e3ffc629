package migration

import (
	"fmt"
	"strings"
)

// UnsupportedChangeError is returned when the target dialect cannot express
// a requested change and no rewrite rule applies. The planner fails rather
// than emit approximate SQL.
type UnsupportedChangeError struct {
	Change SchemaChange
	Detail string
}

func (e *UnsupportedChangeError) Error() string {
	subject := e.Change.Table
	if e.Change.Column != "" {
		subject = e.Change.Table + "." + e.Change.Column
	}
	return fmt.Sprintf("unsupported change %s on %s: %s", e.Change.Type, subject, e.Detail)
}

// ChecksumMismatchError is returned when an applied migration's stored SQL
// no longer matches the checksum recorded in the history ledger. This means
// the migration file was edited after being applied; it is never
// auto-resolved.
type ChecksumMismatchError struct {
	MigrationID string
	Recorded    string
	Computed    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("migration %s was modified after being applied: recorded checksum %s, computed %s",
		e.MigrationID, e.Recorded, e.Computed)
}

// ShadowApplyError is returned when a candidate plan fails against the
// shadow database. The candidate never reached the real database; the
// underlying DDL error is surfaced verbatim.
type ShadowApplyError struct {
	Step Step
	Err  error
}

func (e *ShadowApplyError) Error() string {
	return fmt.Sprintf("shadow apply failed at step %d (%s): %v", e.Step.ID, e.Step.Change.Type, e.Err)
}

func (e *ShadowApplyError) Unwrap() error {
	return e.Err
}

// ShadowReplayError is returned when replaying an already-applied
// migration's stored SQL fails on the shadow database.
type ShadowReplayError struct {
	MigrationID string
	Err         error
}

func (e *ShadowReplayError) Error() string {
	return fmt.Sprintf("shadow replay of migration %s failed: %v", e.MigrationID, e.Err)
}

func (e *ShadowReplayError) Unwrap() error {
	return e.Err
}

// PostApplyDriftError is returned when the shadow database's schema after a
// successful apply does not match the desired schema. It signals a planner
// or differ defect, not a user error.
type PostApplyDriftError struct {
	Drift *DriftReport
}

func (e *PostApplyDriftError) Error() string {
	kinds := make([]string, 0, len(e.Drift.Changes))
	for _, c := range e.Drift.Changes {
		kinds = append(kinds, string(c.Type))
	}
	return fmt.Sprintf("schema drift detected after shadow apply (engine defect): %s", strings.Join(kinds, ", "))
}

// RealApplyError is returned when applying a validated plan to the real
// database fails partway. Executed steps are not retried or rolled back
// automatically; the failure point and the executed-so-far list are
// reported so the caller can decide how to proceed.
type RealApplyError struct {
	Executed []Step
	Failed   Step
	Err      error
}

func (e *RealApplyError) Error() string {
	return fmt.Sprintf("apply failed at step %d (%s) after %d completed step(s): %v",
		e.Failed.ID, e.Failed.Change.Type, len(e.Executed), e.Err)
}

func (e *RealApplyError) Unwrap() error {
	return e.Err
}
