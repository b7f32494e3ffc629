package migration

import (
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// redefineGroup collects every change on one table that a limited dialect
// can only express by recreating the table: create a shadow copy with the
// desired definition, copy the surviving rows across, drop the original and
// rename the copy into place.
type redefineGroup struct {
	table      *schema.Table // desired definition
	sourceName string        // current name in the database
	trigger    SchemaChange  // first change that forced the redefine
	// copySources maps desired column name to the source column it is
	// populated from; columns added by this migration are absent.
	copySources map[string]string
}

// redefineGroups decides which tables need the drop-and-recreate rewrite for
// this dialect and builds one group per such table.
func redefineGroups(changes []SchemaChange, delta *StructuralDelta, desc *dialect.Descriptor) map[string]*redefineGroup {
	groups := make(map[string]*redefineGroup)

	ensure := func(table *schema.Table, trigger SchemaChange) {
		if table == nil {
			return
		}
		if _, ok := groups[table.Name]; !ok {
			groups[table.Name] = &redefineGroup{table: table, sourceName: table.Name, trigger: trigger}
		}
	}

	for _, c := range changes {
		switch c.Type {
		case ChangeTypeAlterColumn:
			if desc.AlterColumnStyle == dialect.AlterRedefine {
				ensure(c.TargetTable, c)
			} else if c.PrimaryKeyChanged && !desc.SupportsAlterForeignKey {
				ensure(c.TargetTable, c)
			}
		case ChangeTypeDropColumn:
			if !desc.SupportsDropColumn {
				ensure(c.TargetTable, c)
			}
		case ChangeTypeAddFK:
			if !desc.SupportsAlterForeignKey && !tableCreated(changes, c.Table) {
				ensure(c.TargetTable, c)
			}
		case ChangeTypeDropFK:
			// TargetTable is nil when the owning table is itself dropped;
			// its inline key dies with the table. A surviving referencer
			// must be rebuilt without the key, implied drop or not.
			if !desc.SupportsAlterForeignKey {
				ensure(c.TargetTable, c)
			}
		case ChangeTypeAlterEnum:
			if desc.EnumStyle == dialect.EnumCheck && delta.Desired != nil {
				for _, t := range delta.Desired.Tables {
					for _, col := range t.Columns {
						if col.Type == schema.TypeEnum && col.EnumName == c.Enum.Name {
							ensure(t, c)
							break
						}
					}
				}
			}
		}
	}

	if len(groups) == 0 {
		return groups
	}

	// Fill in copy sources and the pre-rename source table name.
	for _, c := range changes {
		switch c.Type {
		case ChangeTypeRenameTable:
			if g, ok := groups[c.NewName]; ok {
				g.sourceName = c.Table
			}
		}
	}
	for name, g := range groups {
		g.copySources = make(map[string]string, len(g.table.Columns))
		for _, col := range g.table.Columns {
			g.copySources[col.Name] = col.Name
		}
		for _, c := range changes {
			if c.Table != name {
				continue
			}
			switch c.Type {
			case ChangeTypeAddColumn:
				delete(g.copySources, c.Column)
			case ChangeTypeRenameColumn:
				if _, ok := g.copySources[c.NewName]; ok {
					g.copySources[c.NewName] = c.Column
				}
			}
		}
	}

	return groups
}

func tableCreated(changes []SchemaChange, table string) bool {
	for _, c := range changes {
		if c.Type == ChangeTypeCreateTable && c.Table == table {
			return true
		}
	}
	return false
}

// findGroup returns the redefine group a change is absorbed into, or nil.
// Index changes are absorbed too: the redefine drops the old table with its
// indexes and recreates every desired index afterwards.
func findGroup(groups map[string]*redefineGroup, c SchemaChange) *redefineGroup {
	if len(groups) == 0 {
		return nil
	}
	switch c.Type {
	case ChangeTypeRenameTable:
		return groups[c.NewName]
	case ChangeTypeAddColumn, ChangeTypeDropColumn, ChangeTypeAlterColumn, ChangeTypeRenameColumn,
		ChangeTypeAddFK, ChangeTypeDropFK, ChangeTypeCreateIndex, ChangeTypeDropIndex:
		return groups[c.Table]
	default:
		return nil
	}
}

// redefineTable renders the full shadow-copy sequence for one table. Only
// the DROP TABLE step is classified destructive; the copy preserves every
// surviving row.
func (r *renderer) redefineTable(g *redefineGroup) ([]rendered, error) {
	tmp := &schema.Table{
		Name:        "new_" + g.table.Name,
		Columns:     g.table.Columns,
		PrimaryKey:  g.table.PrimaryKey,
		ForeignKeys: g.table.ForeignKeys,
	}

	var out []rendered
	if r.desc.PreRedefineSQL != "" {
		out = append(out, rendered{sql: r.desc.PreRedefineSQL, destructiveness: Safe})
	}

	createSQL, err := r.createTable(tmp)
	if err != nil {
		return nil, err
	}
	out = append(out, rendered{sql: createSQL, destructiveness: Safe})

	var destCols, srcCols []string
	for _, col := range g.table.Columns {
		src, ok := g.copySources[col.Name]
		if !ok {
			continue
		}
		destCols = append(destCols, r.desc.QuoteIdent(col.Name))
		srcCols = append(srcCols, r.desc.QuoteIdent(src))
	}
	if len(destCols) > 0 {
		out = append(out, rendered{
			sql: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
				r.desc.QuoteIdent(tmp.Name), strings.Join(destCols, ", "), strings.Join(srcCols, ", "), r.desc.QuoteIdent(g.sourceName)),
			destructiveness: Safe,
		})
	}

	out = append(out, rendered{
		sql:             "DROP TABLE " + r.desc.QuoteIdent(g.sourceName),
		destructiveness: Destructive,
	})
	out = append(out, rendered{
		sql:             r.desc.RenameTableSQL(tmp.Name, g.table.Name),
		destructiveness: Safe,
	})

	// Indexes did not survive the drop; recreate the desired set.
	for i := range g.table.Indexes {
		idx := g.table.Indexes[i]
		out = append(out, r.createIndex(SchemaChange{
			Type:  ChangeTypeCreateIndex,
			Table: g.table.Name,
			Index: &idx,
		}))
	}

	if r.desc.PostRedefineSQL != "" {
		out = append(out, rendered{sql: r.desc.PostRedefineSQL, destructiveness: Safe})
	}
	return out, nil
}
