package migration

import (
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/schema"
)

// renderer turns structural change records into dialect SQL. It is driven
// entirely by the capability descriptor: there is no per-dialect branching
// outside the descriptor's data.
type renderer struct {
	desc    *dialect.Descriptor
	desired *schema.Schema
}

// rendered is one DDL statement plus its destructiveness classification.
type rendered struct {
	sql             string
	destructiveness Destructiveness
}

func (r *renderer) enum(name string) (*schema.Enum, error) {
	if r.desired != nil {
		if e := r.desired.Enum(name); e != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("enum %s not present in desired schema", name)
}

// columnDefinition renders "name type [clauses]" for CREATE TABLE, ADD
// COLUMN and MODIFY COLUMN positions.
func (r *renderer) columnDefinition(t *schema.Table, col schema.Column) (string, error) {
	var parts []string
	parts = append(parts, r.desc.QuoteIdent(col.Name))

	native, err := r.columnType(col)
	if err != nil {
		return "", err
	}
	parts = append(parts, native)

	inlinePK := r.desc.InlineAutoIncrementPK && col.AutoIncrement && singleColumnPK(t, col.Name)
	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
	}
	if col.AutoIncrement && r.desc.AutoIncrementClause != "" {
		parts = append(parts, r.desc.AutoIncrementClause)
	}
	if !col.Nullable && !inlinePK {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, "DEFAULT "+renderDefault(col.Default))
	}
	if col.Type == schema.TypeEnum && r.desc.EnumStyle == dialect.EnumCheck {
		e, err := r.enum(col.EnumName)
		if err != nil {
			return "", err
		}
		// The constraint name carries the enum name so introspection can
		// reconstruct the enum from the stored table definition.
		parts = append(parts, fmt.Sprintf("CONSTRAINT %s CHECK (%s IN (%s))",
			r.desc.QuoteIdent("enum_"+e.Name), r.desc.QuoteIdent(col.Name), quotedVariants(e.Variants)))
	}

	return strings.Join(parts, " "), nil
}

func (r *renderer) columnType(col schema.Column) (string, error) {
	if col.Type == schema.TypeEnum && col.NativeType == "" {
		e, err := r.enum(col.EnumName)
		if err != nil {
			return "", err
		}
		return r.desc.EnumColumnType(e), nil
	}
	return r.desc.NativeType(col)
}

func renderDefault(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quotedVariants(variants []string) string {
	quoted := make([]string, len(variants))
	for i, v := range variants {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func singleColumnPK(t *schema.Table, column string) bool {
	return t != nil && t.PrimaryKey != nil &&
		len(t.PrimaryKey.Columns) == 1 && t.PrimaryKey.Columns[0] == column
}

func (r *renderer) createTable(t *schema.Table) (string, error) {
	var lines []string
	for _, col := range t.Columns {
		def, err := r.columnDefinition(t, col)
		if err != nil {
			return "", err
		}
		lines = append(lines, "    "+def)
	}

	if t.PrimaryKey != nil && !r.pkRenderedInline(t) {
		lines = append(lines, "    PRIMARY KEY ("+r.quoteJoin(t.PrimaryKey.Columns)+")")
	}

	// Dialects without ALTER TABLE ADD FOREIGN KEY get their keys inline;
	// the planner skips the separate ADD_FOREIGN_KEY steps for this table.
	if !r.desc.SupportsAlterForeignKey {
		for i := range t.ForeignKeys {
			lines = append(lines, "    "+r.foreignKeyConstraint(&t.ForeignKeys[i]))
		}
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", r.desc.QuoteIdent(t.Name), strings.Join(lines, ",\n")), nil
}

func (r *renderer) pkRenderedInline(t *schema.Table) bool {
	return r.desc.InlineAutoIncrementPK &&
		len(t.PrimaryKey.Columns) == 1 &&
		t.Column(t.PrimaryKey.Columns[0]) != nil &&
		t.Column(t.PrimaryKey.Columns[0]).AutoIncrement
}

func (r *renderer) foreignKeyConstraint(fk *schema.ForeignKey) string {
	s := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		r.desc.QuoteIdent(fk.Name),
		r.quoteJoin(fk.Columns),
		r.desc.QuoteIdent(fk.ReferencedTable),
		r.quoteJoin(fk.ReferencedColumns))
	if fk.OnDelete != "" {
		s += " ON DELETE " + string(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		s += " ON UPDATE " + string(fk.OnUpdate)
	}
	return s
}

func (r *renderer) quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = r.desc.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func (r *renderer) addColumn(c SchemaChange) (rendered, error) {
	def, err := r.columnDefinition(c.TargetTable, *c.After)
	if err != nil {
		return rendered{}, err
	}
	class := Safe
	if !c.After.Nullable && c.After.Default == nil && !c.After.AutoIncrement {
		// Fails at apply time if the table already has rows.
		class = Warning
	}
	return rendered{
		sql:             fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", r.desc.QuoteIdent(c.Table), def),
		destructiveness: class,
	}, nil
}

func (r *renderer) dropColumn(c SchemaChange) (rendered, error) {
	if !r.desc.SupportsDropColumn {
		return rendered{}, &UnsupportedChangeError{Change: c, Detail: "dialect cannot drop columns in place"}
	}
	return rendered{
		sql:             fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", r.desc.QuoteIdent(c.Table), r.desc.QuoteIdent(c.Column)),
		destructiveness: Destructive,
	}, nil
}

// alterColumn renders an in-place column change. The planner routes the
// change through a table redefine instead when the descriptor says so.
func (r *renderer) alterColumn(c SchemaChange) ([]rendered, error) {
	if c.PrimaryKeyChanged {
		return r.alterPrimaryKey(c)
	}

	class := alterClassification(c)

	switch r.desc.AlterColumnStyle {
	case dialect.AlterModify:
		def, err := r.columnDefinition(c.TargetTable, *c.After)
		if err != nil {
			return nil, err
		}
		return []rendered{{
			sql:             fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", r.desc.QuoteIdent(c.Table), def),
			destructiveness: class,
		}}, nil

	case dialect.AlterPerProperty:
		return r.alterColumnPerProperty(c, class)

	default:
		return nil, &UnsupportedChangeError{Change: c, Detail: "dialect cannot alter columns in place"}
	}
}

func (r *renderer) alterColumnPerProperty(c SchemaChange, class Destructiveness) ([]rendered, error) {
	table := r.desc.QuoteIdent(c.Table)
	column := r.desc.QuoteIdent(c.Column)
	var out []rendered

	beforeType, err := r.columnType(*c.Before)
	if err != nil {
		return nil, err
	}
	afterType, err := r.columnType(*c.After)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(beforeType, afterType) {
		out = append(out, rendered{
			sql:             fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", table, column, afterType),
			destructiveness: class,
		})
	}
	if c.Before.Nullable != c.After.Nullable {
		verb := "SET"
		if c.After.Nullable {
			verb = "DROP"
		}
		out = append(out, rendered{
			sql:             fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL", table, column, verb),
			destructiveness: class,
		})
	}
	if !schema.DefaultsEqual(c.Before.Default, c.After.Default) {
		if c.After.Default == nil {
			out = append(out, rendered{
				sql:             fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, column),
				destructiveness: Safe,
			})
		} else {
			out = append(out, rendered{
				sql:             fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, column, renderDefault(c.After.Default)),
				destructiveness: Safe,
			})
		}
	}
	return out, nil
}

func (r *renderer) alterPrimaryKey(c SchemaChange) ([]rendered, error) {
	if !r.desc.SupportsAlterForeignKey {
		return nil, &UnsupportedChangeError{Change: c, Detail: "dialect cannot change a primary key in place"}
	}

	table := r.desc.QuoteIdent(c.Table)
	var out []rendered

	if c.Before != nil || c.TargetTable == nil || c.TargetTable.PrimaryKey == nil {
		drop := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, r.desc.QuoteIdent(c.Table+"_pkey"))
		if r.desc.DropForeignKeyClause == "FOREIGN KEY" {
			drop = fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", table)
		}
		out = append(out, rendered{sql: drop, destructiveness: Warning})
	}
	if c.TargetTable != nil && c.TargetTable.PrimaryKey != nil {
		out = append(out, rendered{
			sql:             fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table, r.quoteJoin(c.TargetTable.PrimaryKey.Columns)),
			destructiveness: Warning,
		})
	}
	return out, nil
}

func alterClassification(c SchemaChange) Destructiveness {
	if c.Before != nil && c.After != nil &&
		c.Before.Nullable && !c.After.Nullable && c.After.Default == nil {
		return Warning
	}
	return Safe
}

func (r *renderer) renameColumn(c SchemaChange) (rendered, error) {
	if !r.desc.SupportsRenameColumn {
		return rendered{}, &UnsupportedChangeError{Change: c, Detail: "dialect cannot rename columns in place"}
	}
	return rendered{
		sql: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			r.desc.QuoteIdent(c.Table), r.desc.QuoteIdent(c.Column), r.desc.QuoteIdent(c.NewName)),
		destructiveness: Safe,
	}, nil
}

func (r *renderer) createIndex(c SchemaChange) rendered {
	unique := ""
	if c.Index.Unique {
		unique = "UNIQUE "
	}
	return rendered{
		sql: fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
			unique, r.desc.QuoteIdent(c.Index.Name), r.desc.QuoteIdent(c.Table), r.quoteJoin(c.Index.Columns)),
		destructiveness: Safe,
	}
}

func (r *renderer) dropIndex(c SchemaChange) rendered {
	sql := "DROP INDEX " + r.desc.QuoteIdent(c.Index.Name)
	if r.desc.DropIndexRequiresTable {
		sql += " ON " + r.desc.QuoteIdent(c.Table)
	}
	return rendered{sql: sql, destructiveness: Safe}
}

func (r *renderer) addForeignKey(c SchemaChange) (rendered, error) {
	if !r.desc.SupportsAlterForeignKey {
		return rendered{}, &UnsupportedChangeError{Change: c, Detail: "dialect cannot add foreign keys to existing tables"}
	}
	return rendered{
		sql:             fmt.Sprintf("ALTER TABLE %s ADD %s", r.desc.QuoteIdent(c.Table), r.foreignKeyConstraint(c.ForeignKey)),
		destructiveness: Safe,
	}, nil
}

func (r *renderer) dropForeignKey(c SchemaChange) (rendered, error) {
	if !r.desc.SupportsAlterForeignKey {
		if c.ImpliedBy != nil && c.ImpliedBy.Type == ChangeTypeDropTable {
			// Both ends of the key are being dropped. The owning table's
			// inline key goes with it; nothing to render.
			return rendered{
				sql:             fmt.Sprintf("-- foreign key %s drops with table %s", c.ForeignKey.Name, c.ImpliedBy.Table),
				destructiveness: Safe,
			}, nil
		}
		return rendered{}, &UnsupportedChangeError{Change: c, Detail: "dialect cannot drop foreign keys from existing tables"}
	}
	return rendered{
		sql: fmt.Sprintf("ALTER TABLE %s DROP %s %s",
			r.desc.QuoteIdent(c.Table), r.desc.DropForeignKeyClause, r.desc.QuoteIdent(c.ForeignKey.Name)),
		destructiveness: Safe,
	}, nil
}

func (r *renderer) createEnum(c SchemaChange) rendered {
	if r.desc.EnumStyle != dialect.EnumNative {
		return rendered{
			sql:             fmt.Sprintf("-- enum %s is encoded in column definitions on this dialect", c.Enum.Name),
			destructiveness: Safe,
		}
	}
	return rendered{
		sql:             fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", r.desc.QuoteIdent(c.Enum.Name), quotedVariants(c.Enum.Variants)),
		destructiveness: Safe,
	}
}

func (r *renderer) dropEnum(c SchemaChange) rendered {
	if r.desc.EnumStyle != dialect.EnumNative {
		return rendered{
			sql:             fmt.Sprintf("-- enum %s had no standalone representation on this dialect", c.Enum.Name),
			destructiveness: Safe,
		}
	}
	return rendered{
		sql:             "DROP TYPE " + r.desc.QuoteIdent(c.Enum.Name),
		destructiveness: Safe,
	}
}

// enumColumnRefs finds every desired column drawing values from the named
// enum, with its table definition.
func (r *renderer) enumColumnRefs(enumName string) []EnumColumnRef {
	var refs []EnumColumnRef
	if r.desired == nil {
		return nil
	}
	for _, t := range r.desired.Tables {
		for _, col := range t.Columns {
			if col.Type == schema.TypeEnum && col.EnumName == enumName {
				refs = append(refs, EnumColumnRef{Table: t, Column: col.Name})
			}
		}
	}
	return refs
}

// alterEnum renders enum variant changes. Additions are cheap on native-enum
// dialects; removals and reorders force a type recreate with the previous
// type renamed out of the way first.
func (r *renderer) alterEnum(c SchemaChange) ([]rendered, error) {
	affected := r.enumColumnRefs(c.Enum.Name)
	class := Safe
	if len(c.DroppedVariants) > 0 {
		class = Destructive
	}

	switch r.desc.EnumStyle {
	case dialect.EnumNative:
		if len(c.DroppedVariants) == 0 && len(c.AddedVariants) > 0 {
			out := make([]rendered, 0, len(c.AddedVariants))
			for _, v := range c.AddedVariants {
				out = append(out, rendered{
					sql:             fmt.Sprintf("ALTER TYPE %s ADD VALUE '%s'", r.desc.QuoteIdent(c.Enum.Name), strings.ReplaceAll(v, "'", "''")),
					destructiveness: Safe,
				})
			}
			return out, nil
		}

		name := r.desc.QuoteIdent(c.Enum.Name)
		oldName := r.desc.QuoteIdent(c.Enum.Name + "_old")
		out := []rendered{
			{sql: fmt.Sprintf("ALTER TYPE %s RENAME TO %s", name, oldName), destructiveness: class},
			{sql: fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", name, quotedVariants(c.Enum.Variants)), destructiveness: class},
		}
		for _, ref := range affected {
			out = append(out, rendered{
				sql: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::text::%s",
					r.desc.QuoteIdent(ref.Table.Name), r.desc.QuoteIdent(ref.Column), name, r.desc.QuoteIdent(ref.Column), name),
				destructiveness: class,
			})
		}
		out = append(out, rendered{sql: "DROP TYPE " + oldName, destructiveness: class})
		return out, nil

	case dialect.EnumInline:
		var out []rendered
		for _, ref := range affected {
			col := ref.Table.Column(ref.Column)
			if col == nil {
				continue
			}
			def, err := r.columnDefinition(ref.Table, *col)
			if err != nil {
				return nil, err
			}
			out = append(out, rendered{
				sql:             fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", r.desc.QuoteIdent(ref.Table.Name), def),
				destructiveness: class,
			})
		}
		return out, nil

	default:
		// CHECK-encoded enums need the constraint rebuilt, which is a table
		// redefine. The planner routes those through redefine groups.
		return nil, &UnsupportedChangeError{Change: c, Detail: "check-encoded enums require a table redefine"}
	}
}
