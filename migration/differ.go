package migration

import (
	"github.com/rediwo/redi-migrate/schema"
)

// EnumColumnRef names a column that draws its values from an enum, together
// with the desired definition of its table. Enum records carry these so
// dialects without native enum types can rewrite the affected columns.
type EnumColumnRef struct {
	Table  *schema.Table
	Column string
}

// Diff computes the structural delta between two schema snapshots. It is a
// pure function of (before, after, hints): no database access, no planner
// state. Explicit rename hints are authoritative; the positional heuristic
// only reports candidates and never changes the emitted records.
func Diff(before, after *schema.Schema, hints RenameHints) *StructuralDelta {
	d := &StructuralDelta{Desired: after}

	diffTables(d, before, after, hints)
	diffEnums(d, before, after)

	return d
}

func diffTables(d *StructuralDelta, before, after *schema.Schema, hints RenameHints) {
	// Pair up tables surviving from before to after, following rename hints.
	type tablePair struct {
		before *schema.Table
		after  *schema.Table
	}
	var pairs []tablePair
	pairedAfter := make(map[string]bool)

	for _, bt := range before.Tables {
		target := bt.Name
		if hinted, ok := hints.tableHint(bt.Name); ok {
			target = hinted
		}
		at := after.Table(target)
		if at == nil {
			continue
		}
		pairs = append(pairs, tablePair{before: bt, after: at})
		pairedAfter[at.Name] = true

		if bt.Name != at.Name {
			d.Changes = append(d.Changes, SchemaChange{
				Type:    ChangeTypeRenameTable,
				Table:   bt.Name,
				NewName: at.Name,
			})
		}
	}

	// Dropped tables, plus the implied foreign-key drops on every other
	// table still referencing them.
	droppedTables := make(map[string]bool)
	for _, bt := range before.Tables {
		if at, ok := hints.tableHint(bt.Name); ok && after.Table(at) != nil {
			continue
		}
		if after.Table(bt.Name) != nil {
			continue
		}
		droppedTables[bt.Name] = true
	}

	for _, bt := range before.Tables {
		if !droppedTables[bt.Name] {
			continue
		}

		drop := &SchemaChange{Type: ChangeTypeDropTable, Table: bt.Name}
		for _, ref := range before.ReferencingKeys(bt.Name) {
			fk := ref.ForeignKey
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropFK,
				Table:       ref.Table,
				ForeignKey:  &fk,
				TargetTable: after.Table(ref.Table),
				ImpliedBy:   drop,
			})
		}
		d.Changes = append(d.Changes, *drop)
	}

	// Created tables. Foreign keys and secondary indexes are emitted as
	// separate records so the planner can order them after every referenced
	// table exists.
	for _, at := range after.Tables {
		if pairedAfter[at.Name] {
			continue
		}
		d.Changes = append(d.Changes, SchemaChange{
			Type:        ChangeTypeCreateTable,
			Table:       at.Name,
			TargetTable: at,
		})
		for i := range at.Indexes {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeCreateIndex,
				Table:       at.Name,
				Index:       &at.Indexes[i],
				TargetTable: at,
			})
		}
		for i := range at.ForeignKeys {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeAddFK,
				Table:       at.Name,
				ForeignKey:  &at.ForeignKeys[i],
				TargetTable: at,
			})
		}
	}

	for _, pair := range pairs {
		diffTablePair(d, pair.before, pair.after, hints, droppedTables)
	}
}

func diffTablePair(d *StructuralDelta, bt, at *schema.Table, hints RenameHints, droppedTables map[string]bool) {
	renamedTo := make(map[string]string)   // old column -> new column
	renameTarget := make(map[string]bool)  // new columns claimed by a rename
	var droppedColumns []string

	// Columns present before: renamed, altered, or dropped.
	for i := range bt.Columns {
		bc := bt.Columns[i]

		if newName, ok := hints.columnHint(at.Name, bc.Name); ok {
			if ac := at.Column(newName); ac != nil {
				renamedTo[bc.Name] = newName
				renameTarget[newName] = true
				d.Changes = append(d.Changes, SchemaChange{
					Type:        ChangeTypeRenameColumn,
					Table:       at.Name,
					Column:      bc.Name,
					NewName:     newName,
					TargetTable: at,
				})
				// A rename hint only carries the name; a simultaneous
				// definition change is still an alter on the new name.
				if !schema.ColumnDefinitionsEqual(bc, *ac) {
					d.Changes = append(d.Changes, alterColumn(at, bc, *ac))
				}
				continue
			}
		}

		ac := at.Column(bc.Name)
		if ac == nil {
			droppedColumns = append(droppedColumns, bc.Name)
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropColumn,
				Table:       at.Name,
				Column:      bc.Name,
				Before:      &bt.Columns[i],
				TargetTable: at,
			})
			continue
		}

		// A same-name column with a changed definition is always an alter,
		// never a rename guess.
		if !schema.ColumnDefinitionsEqual(bc, *ac) {
			d.Changes = append(d.Changes, alterColumn(at, bc, *ac))
		}
	}

	// Columns only present after.
	var addedColumns []string
	for i := range at.Columns {
		ac := at.Columns[i]
		if renameTarget[ac.Name] || bt.Column(ac.Name) != nil {
			continue
		}
		addedColumns = append(addedColumns, ac.Name)
		d.Changes = append(d.Changes, SchemaChange{
			Type:        ChangeTypeAddColumn,
			Table:       at.Name,
			Column:      ac.Name,
			After:       &at.Columns[i],
			TargetTable: at,
		})
	}

	// Positional heuristic: a dropped column and an added column of the
	// same scalar type at the same declaration position are offered as a
	// rename candidate. Best-effort UX only.
	for _, from := range droppedColumns {
		bc := bt.Column(from)
		for _, to := range addedColumns {
			ac := at.Column(to)
			if bc.Type == ac.Type && bt.ColumnIndex(from) == at.ColumnIndex(to) {
				d.RenameCandidates = append(d.RenameCandidates, RenameCandidate{
					Table: at.Name,
					From:  from,
					To:    to,
				})
			}
		}
	}

	// Primary key change is represented as an alter on its leading column.
	if !primaryKeysMatch(bt, at, renamedTo) {
		change := SchemaChange{
			Type:              ChangeTypeAlterColumn,
			Table:             at.Name,
			TargetTable:       at,
			PrimaryKeyChanged: true,
		}
		if at.PrimaryKey != nil && len(at.PrimaryKey.Columns) > 0 {
			change.Column = at.PrimaryKey.Columns[0]
			change.After = at.Column(change.Column)
		} else if bt.PrimaryKey != nil && len(bt.PrimaryKey.Columns) > 0 {
			change.Column = bt.PrimaryKey.Columns[0]
			change.Before = bt.Column(change.Column)
		}
		d.Changes = append(d.Changes, change)
	}

	diffIndexes(d, bt, at)
	diffForeignKeys(d, bt, at, droppedTables)
}

func alterColumn(at *schema.Table, before, after schema.Column) SchemaChange {
	b := before
	a := after
	return SchemaChange{
		Type:        ChangeTypeAlterColumn,
		Table:       at.Name,
		Column:      after.Name,
		Before:      &b,
		After:       &a,
		TargetTable: at,
	}
}

// primaryKeysMatch compares primary keys across a table pair, translating
// renamed columns before comparing.
func primaryKeysMatch(bt, at *schema.Table, renamedTo map[string]string) bool {
	bpk := bt.PrimaryKey
	if bpk != nil && len(renamedTo) > 0 {
		translated := make([]string, len(bpk.Columns))
		for i, col := range bpk.Columns {
			if newName, ok := renamedTo[col]; ok {
				translated[i] = newName
			} else {
				translated[i] = col
			}
		}
		bpk = &schema.PrimaryKey{Columns: translated}
	}
	return schema.PrimaryKeysEqual(bpk, at.PrimaryKey)
}

func diffIndexes(d *StructuralDelta, bt, at *schema.Table) {
	for i := range bt.Indexes {
		bi := bt.Indexes[i]
		ai := at.Index(bi.Name)
		if ai == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropIndex,
				Table:       at.Name,
				Index:       &bt.Indexes[i],
				TargetTable: at,
			})
			continue
		}
		if !schema.IndexesEqual(bi, *ai) {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropIndex,
				Table:       at.Name,
				Index:       &bt.Indexes[i],
				TargetTable: at,
			})
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeCreateIndex,
				Table:       at.Name,
				Index:       ai,
				TargetTable: at,
			})
		}
	}
	for i := range at.Indexes {
		if bt.Index(at.Indexes[i].Name) == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeCreateIndex,
				Table:       at.Name,
				Index:       &at.Indexes[i],
				TargetTable: at,
			})
		}
	}
}

func diffForeignKeys(d *StructuralDelta, bt, at *schema.Table, droppedTables map[string]bool) {
	for i := range bt.ForeignKeys {
		bfk := bt.ForeignKeys[i]
		// Keys pointing at a dropped table were already emitted as implied
		// drops alongside the DROP_TABLE record.
		if droppedTables[bfk.ReferencedTable] {
			continue
		}
		afk := at.ForeignKey(bfk.Name)
		if afk == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropFK,
				Table:       at.Name,
				ForeignKey:  &bt.ForeignKeys[i],
				TargetTable: at,
			})
			continue
		}
		if !schema.ForeignKeysEqual(bfk, *afk) {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeDropFK,
				Table:       at.Name,
				ForeignKey:  &bt.ForeignKeys[i],
				TargetTable: at,
			})
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeAddFK,
				Table:       at.Name,
				ForeignKey:  afk,
				TargetTable: at,
			})
		}
	}
	for i := range at.ForeignKeys {
		if bt.ForeignKey(at.ForeignKeys[i].Name) == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type:        ChangeTypeAddFK,
				Table:       at.Name,
				ForeignKey:  &at.ForeignKeys[i],
				TargetTable: at,
			})
		}
	}
}

func diffEnums(d *StructuralDelta, before, after *schema.Schema) {
	for _, be := range before.Enums {
		ae := after.Enum(be.Name)
		if ae == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type: ChangeTypeDropEnum,
				Enum: be,
			})
			continue
		}

		added, dropped := variantDelta(be.Variants, ae.Variants)
		reordered := len(added) == 0 && len(dropped) == 0 && !sameOrder(be.Variants, ae.Variants)
		if len(added) > 0 || len(dropped) > 0 || reordered {
			d.Changes = append(d.Changes, SchemaChange{
				Type:            ChangeTypeAlterEnum,
				Enum:            ae,
				AddedVariants:   added,
				DroppedVariants: dropped,
			})
		}
	}
	for _, ae := range after.Enums {
		if before.Enum(ae.Name) == nil {
			d.Changes = append(d.Changes, SchemaChange{
				Type: ChangeTypeCreateEnum,
				Enum: ae,
			})
		}
	}
}

func variantDelta(before, after []string) (added, dropped []string) {
	beforeSet := make(map[string]bool, len(before))
	for _, v := range before {
		beforeSet[v] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, v := range after {
		afterSet[v] = true
	}
	for _, v := range after {
		if !beforeSet[v] {
			added = append(added, v)
		}
	}
	for _, v := range before {
		if !afterSet[v] {
			dropped = append(dropped, v)
		}
	}
	return added, dropped
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
