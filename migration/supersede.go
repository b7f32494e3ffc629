package migration

import (
	"context"
	"fmt"

	"github.com/rediwo/redi-migrate/schema"
)

// SupersededMigrations reports applied migrations whose effects a later
// migration rendered moot: replaying history on a shadow database yields a
// per-migration delta, and a migration is superseded when none of its
// delta's effects are still observable in the final schema. Supersession is
// computed on demand; the ledger never stores it.
func (e *Engine) SupersededMigrations(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := e.loadVerifiedHistory(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) < 2 {
		return nil, nil
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

	snapshots := make([]*schema.Schema, 0, len(applied)+1)
	current, err := e.introspector.Introspect(ctx, shadow.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to introspect shadow database: %w", err)
	}
	snapshots = append(snapshots, current)
	for _, m := range applied {
		if err := executeScript(ctx, shadow.DB(), m.Script); err != nil {
			return nil, &ShadowReplayError{MigrationID: m.Entry.ID, Err: err}
		}
		if current, err = e.introspector.Introspect(ctx, shadow.DB()); err != nil {
			return nil, fmt.Errorf("failed to introspect shadow database: %w", err)
		}
		snapshots = append(snapshots, current)
	}

	final := snapshots[len(snapshots)-1]
	var ids []string
	// The latest migration's effects are by definition current; it is never
	// superseded, so it is excluded from the scan.
	for i, m := range applied[:len(applied)-1] {
		if m.Entry.RolledBack {
			continue
		}
		delta := Diff(snapshots[i], snapshots[i+1], RenameHints{})
		if supersededBy(delta.Changes, final) {
			ids = append(ids, m.Entry.ID)
		}
	}
	return ids, nil
}

// supersededBy reports whether none of the changes' effects survive in the
// final schema. A migration whose replay changed nothing observable is
// vacuously superseded.
func supersededBy(changes []SchemaChange, final *schema.Schema) bool {
	for _, c := range changes {
		if effectSurvives(c, final) {
			return false
		}
	}
	return true
}

// effectSurvives checks one change's effect against the final schema. The
// checks lean toward survival: a doubtful case keeps the migration
// non-superseded.
func effectSurvives(c SchemaChange, final *schema.Schema) bool {
	t := final.Table(c.Table)
	switch c.Type {
	case ChangeTypeCreateTable:
		return t != nil
	case ChangeTypeDropTable:
		return t == nil
	case ChangeTypeRenameTable:
		return final.Table(c.NewName) != nil
	case ChangeTypeAddColumn:
		return t != nil && t.Column(c.Column) != nil
	case ChangeTypeDropColumn:
		return t != nil && t.Column(c.Column) == nil
	case ChangeTypeAlterColumn:
		if t == nil || c.After == nil {
			return false
		}
		col := t.Column(c.After.Name)
		return col != nil && schema.ColumnDefinitionsEqual(*col, *c.After)
	case ChangeTypeRenameColumn:
		return t != nil && t.Column(c.NewName) != nil
	case ChangeTypeCreateIndex:
		return t != nil && t.Index(c.Index.Name) != nil
	case ChangeTypeDropIndex:
		return t != nil && t.Index(c.Index.Name) == nil
	case ChangeTypeAddFK:
		return t != nil && t.ForeignKey(c.ForeignKey.Name) != nil
	case ChangeTypeDropFK:
		return t != nil && t.ForeignKey(c.ForeignKey.Name) == nil
	case ChangeTypeCreateEnum, ChangeTypeAlterEnum:
		return final.Enum(c.Enum.Name) != nil
	case ChangeTypeDropEnum:
		return final.Enum(c.Enum.Name) == nil
	default:
		return true
	}
}
