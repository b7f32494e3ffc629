package migration

import (
	"time"

	"github.com/rediwo/redi-migrate/schema"
)

const (
	// HistoryTableName is the bookkeeping table that stores the applied
	// migration ledger inside the target database.
	HistoryTableName = "redi_migrations"
)

// ChangeType represents the type of a structural change.
type ChangeType string

const (
	ChangeTypeCreateTable  ChangeType = "CREATE_TABLE"
	ChangeTypeDropTable    ChangeType = "DROP_TABLE"
	ChangeTypeRenameTable  ChangeType = "RENAME_TABLE"
	ChangeTypeAddColumn    ChangeType = "ADD_COLUMN"
	ChangeTypeDropColumn   ChangeType = "DROP_COLUMN"
	ChangeTypeAlterColumn  ChangeType = "ALTER_COLUMN"
	ChangeTypeRenameColumn ChangeType = "RENAME_COLUMN"
	ChangeTypeCreateIndex  ChangeType = "CREATE_INDEX"
	ChangeTypeDropIndex    ChangeType = "DROP_INDEX"
	ChangeTypeAddFK        ChangeType = "ADD_FOREIGN_KEY"
	ChangeTypeDropFK       ChangeType = "DROP_FOREIGN_KEY"
	ChangeTypeCreateEnum   ChangeType = "CREATE_ENUM"
	ChangeTypeDropEnum     ChangeType = "DROP_ENUM"
	ChangeTypeAlterEnum    ChangeType = "ALTER_ENUM"
)

// SchemaChange is one typed record of a structural delta. A record carries
// enough identity and before/after detail to be rendered and classified on
// its own, independent of planner state.
type SchemaChange struct {
	Type   ChangeType
	Table  string
	Column string

	// NewName is the target name for rename records.
	NewName string

	// Before and After carry the column definitions for alter records.
	Before *schema.Column
	After  *schema.Column

	// TargetTable is the desired definition of the table this change lands
	// on. Create-table records carry the table to create; column and
	// foreign-key records carry it so dialects without in-place ALTER can
	// render a full table redefine.
	TargetTable *schema.Table

	Index      *schema.Index
	ForeignKey *schema.ForeignKey

	// PrimaryKeyChanged marks an ALTER_COLUMN record that stands for a
	// primary key change on the target table. Before/After describe the
	// leading primary key column.
	PrimaryKeyChanged bool

	Enum *schema.Enum
	// AddedVariants and DroppedVariants describe an ALTER_ENUM record.
	// Dropped variants can discard data and mark the record destructive.
	AddedVariants   []string
	DroppedVariants []string

	// ImpliedBy points at the record that forced this one, e.g. a DROP_TABLE
	// implies dropping foreign keys on other tables that reference it. The
	// planner orders implied records ahead of their source.
	ImpliedBy *SchemaChange
}

// RenameCandidate is a heuristic guess that a dropped column and an added
// column are really one renamed column. Candidates are reported, never acted
// on: only an explicit hint turns a drop/add pair into a rename.
type RenameCandidate struct {
	Table string
	From  string
	To    string
}

// RenameHints carries explicit rename intent from the caller, derived from
// stable identifiers in the desired schema. Hints are authoritative.
type RenameHints struct {
	// Tables maps old table name to new table name.
	Tables map[string]string
	// Columns maps table name (the new name, if the table is also renamed)
	// to a map of old column name to new column name.
	Columns map[string]map[string]string
}

func (h RenameHints) tableHint(oldName string) (string, bool) {
	newName, ok := h.Tables[oldName]
	return newName, ok
}

func (h RenameHints) columnHint(table, oldName string) (string, bool) {
	cols, ok := h.Columns[table]
	if !ok {
		return "", false
	}
	newName, ok := cols[oldName]
	return newName, ok
}

// StructuralDelta is the differ's output: an ordered set of change records
// plus the rename candidates the heuristic offered. Desired is the immutable
// after-snapshot the delta was computed against; the planner reads it for
// enum variant lookups and never mutates it.
type StructuralDelta struct {
	Changes          []SchemaChange
	RenameCandidates []RenameCandidate
	Desired          *schema.Schema
}

// Empty reports whether the delta contains no changes.
func (d *StructuralDelta) Empty() bool {
	return len(d.Changes) == 0
}

// Destructiveness classifies a rendered step's capacity to discard data.
type Destructiveness string

const (
	// Safe steps never remove existing data.
	Safe Destructiveness = "safe"
	// Warning steps can fail at apply time on existing rows, e.g. adding a
	// NOT NULL column without a default.
	Warning Destructiveness = "warning"
	// Destructive steps discard data.
	Destructive Destructiveness = "destructive"
)

// Step is a single dialect-rendered DDL statement, owned by the Plan that
// produced it and immutable once rendered.
type Step struct {
	ID              int
	SQL             string
	Change          SchemaChange
	Destructiveness Destructiveness
}

// Plan is an ordered sequence of rendered steps plus generation metadata.
// A plan is created by the planner in state Drafted and consumed exactly
// once by the shadow validator and apply.
type Plan struct {
	ID        string
	Name      string
	Steps     []Step
	Checksum  string
	CreatedAt time.Time
	State     State
}

// MaxDestructiveness returns the most severe classification across steps.
func (p *Plan) MaxDestructiveness() Destructiveness {
	result := Safe
	for _, s := range p.Steps {
		switch s.Destructiveness {
		case Destructive:
			return Destructive
		case Warning:
			result = Warning
		}
	}
	return result
}

// HistoryEntry is one row of the applied-migration ledger. Entries are
// append-only; the only mutation ever made is flagging a rollback.
type HistoryEntry struct {
	ID         string
	Name       string
	Checksum   string
	AppliedAt  time.Time
	RolledBack bool
}

// AppliedMigration pairs a ledger entry with its stored SQL script, as
// assembled from the migrations directory by the caller. The shadow
// validator replays these in order.
type AppliedMigration struct {
	Entry  HistoryEntry
	Script string
}

// DriftReport is the result of comparing the schema implied by replaying
// history against the live, introspected schema. Non-empty only when
// out-of-band changes occurred.
type DriftReport struct {
	Changes []SchemaChange
}

// Empty reports whether no drift was detected.
func (r *DriftReport) Empty() bool {
	return r == nil || len(r.Changes) == 0
}
