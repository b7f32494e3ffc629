package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/schema"
)

// Introspector reads a SQLite database's structure back into a schema
// snapshot. Everything comes from sqlite_master plus the table PRAGMAs;
// constraint names and enum encodings, which the PRAGMAs do not expose, are
// recovered from the stored CREATE TABLE text.
type Introspector struct{}

var (
	enumCheckRe   = regexp.MustCompile("CONSTRAINT `enum_([^`]+)` CHECK \\(`([^`]+)` IN \\(([^)]*)\\)\\)")
	fkNameRe      = regexp.MustCompile("CONSTRAINT `([^`]+)` FOREIGN KEY \\(([^)]*)\\)")
	autoIncClause = "PRIMARY KEY AUTOINCREMENT"
)

func (i *Introspector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	s := schema.New()

	rows, err := db.QueryContext(ctx,
		"SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	type tableRow struct {
		name string
		ddl  string
	}
	var tableRows []tableRow
	for rows.Next() {
		var tr tableRow
		var ddl sql.NullString
		if err := rows.Scan(&tr.name, &ddl); err != nil {
			rows.Close()
			return nil, err
		}
		tr.ddl = ddl.String
		tableRows = append(tableRows, tr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, tr := range tableRows {
		if tr.name == migration.HistoryTableName {
			continue
		}
		table, err := i.introspectTable(ctx, db, tr.name, tr.ddl, s)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect table %s: %w", tr.name, err)
		}
		s.AddTable(table)
	}
	return s, nil
}

func (i *Introspector) introspectTable(ctx context.Context, db *sql.DB, name, ddl string, s *schema.Schema) (*schema.Table, error) {
	table := schema.NewTable(name)

	enumCols := parseEnumChecks(ddl, s)

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(`%s`)", name))
	if err != nil {
		return nil, err
	}
	type pkCol struct {
		name  string
		order int
	}
	var pkCols []pkCol
	for rows.Next() {
		var cid, notNull, pk int
		var colName, declared string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &declared, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}

		col := schema.Column{Name: colName}
		col.Type, col.NativeType = scalarFromNative(declared)
		col.Nullable = notNull == 0 && pk == 0
		if dflt.Valid {
			col.Default = dflt.String
		}
		if enumName, ok := enumCols[colName]; ok {
			col.Type = schema.TypeEnum
			col.EnumName = enumName
			col.NativeType = ""
		}
		if pk > 0 {
			pkCols = append(pkCols, pkCol{name: colName, order: pk})
			if strings.EqualFold(declared, "INTEGER") && strings.Contains(ddl, autoIncClause) {
				col.AutoIncrement = true
			}
		}
		table.AddColumn(col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(pkCols) > 0 {
		sort.Slice(pkCols, func(a, b int) bool { return pkCols[a].order < pkCols[b].order })
		names := make([]string, len(pkCols))
		for j, pc := range pkCols {
			names[j] = pc.name
		}
		table.PrimaryKey = &schema.PrimaryKey{Columns: names}
	}

	if err := i.introspectIndexes(ctx, db, table); err != nil {
		return nil, err
	}
	if err := i.introspectForeignKeys(ctx, db, table, ddl); err != nil {
		return nil, err
	}
	return table, nil
}

func (i *Introspector) introspectIndexes(ctx context.Context, db *sql.DB, table *schema.Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(`%s`)", table.Name))
	if err != nil {
		return err
	}
	type indexRow struct {
		name   string
		unique bool
	}
	var indexRows []indexRow
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return err
		}
		// Origin "c" is CREATE INDEX; "pk" and "u" are implicit constraint
		// indexes already represented on the table itself.
		if origin != "c" {
			continue
		}
		indexRows = append(indexRows, indexRow{name: name, unique: unique == 1})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ir := range indexRows {
		cols, err := indexColumns(ctx, db, ir.name)
		if err != nil {
			return err
		}
		table.AddIndex(schema.Index{Name: ir.name, Columns: cols, Unique: ir.unique})
	}
	return nil
}

func indexColumns(ctx context.Context, db *sql.DB, indexName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(`%s`)", indexName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		cols = append(cols, name.String)
	}
	return cols, rows.Err()
}

func (i *Introspector) introspectForeignKeys(ctx context.Context, db *sql.DB, table *schema.Table, ddl string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(`%s`)", table.Name))
	if err != nil {
		return err
	}
	type fkGroup struct {
		id         int
		refTable   string
		cols       []string
		refCols    []string
		onUpdate   string
		onDelete   string
	}
	groups := make(map[int]*fkGroup)
	var ids []int
	for rows.Next() {
		var id, seq int
		var refTable, from, onUpdate, onDelete, match string
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return err
		}
		g, ok := groups[id]
		if !ok {
			g = &fkGroup{id: id, refTable: refTable, onUpdate: onUpdate, onDelete: onDelete}
			groups[id] = g
			ids = append(ids, id)
		}
		g.cols = append(g.cols, from)
		g.refCols = append(g.refCols, to.String)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	names := parseForeignKeyNames(ddl)
	sort.Ints(ids)
	for _, id := range ids {
		g := groups[id]
		name, ok := names[strings.Join(g.cols, ",")]
		if !ok {
			name = fmt.Sprintf("fk_%s_%s", table.Name, g.refTable)
		}
		table.AddForeignKey(schema.ForeignKey{
			Name:              name,
			Columns:           g.cols,
			ReferencedTable:   g.refTable,
			ReferencedColumns: g.refCols,
			OnDelete:          normalizeAction(g.onDelete),
			OnUpdate:          normalizeAction(g.onUpdate),
		})
	}
	return nil
}

// parseEnumChecks recovers enum-valued columns from the named CHECK
// constraints the renderer emits, registering each enum on the schema once.
func parseEnumChecks(ddl string, s *schema.Schema) map[string]string {
	cols := make(map[string]string)
	for _, m := range enumCheckRe.FindAllStringSubmatch(ddl, -1) {
		enumName, colName, rawVariants := m[1], m[2], m[3]
		cols[colName] = enumName
		if s.Enum(enumName) == nil {
			s.AddEnum(&schema.Enum{Name: enumName, Variants: parseQuotedList(rawVariants)})
		}
	}
	return cols
}

// parseForeignKeyNames maps a foreign key's joined column list to the
// constraint name declared in the table DDL.
func parseForeignKeyNames(ddl string) map[string]string {
	names := make(map[string]string)
	for _, m := range fkNameRe.FindAllStringSubmatch(ddl, -1) {
		name, rawCols := m[1], m[2]
		var cols []string
		for _, c := range strings.Split(rawCols, ",") {
			cols = append(cols, strings.Trim(strings.TrimSpace(c), "`"))
		}
		names[strings.Join(cols, ",")] = name
	}
	return names
}

func parseQuotedList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'")
		out = append(out, strings.ReplaceAll(part, "''", "'"))
	}
	return out
}

func normalizeAction(action string) schema.ReferentialAction {
	switch strings.ToUpper(action) {
	case "", "NO ACTION":
		return schema.ActionNoAction
	case "RESTRICT":
		return schema.ActionRestrict
	case "CASCADE":
		return schema.ActionCascade
	case "SET NULL":
		return schema.ActionSetNull
	default:
		return schema.ReferentialAction(strings.ToUpper(action))
	}
}

// scalarFromNative maps a declared SQLite type back to a scalar type. Types
// outside the renderer's own mapping survive as a native override so they
// round-trip without spurious diffs.
func scalarFromNative(declared string) (schema.ScalarType, string) {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "INTEGER":
		return schema.TypeInt, ""
	case "TEXT":
		return schema.TypeString, ""
	case "REAL":
		return schema.TypeFloat, ""
	case "DECIMAL":
		return schema.TypeDecimal, ""
	case "BOOLEAN":
		return schema.TypeBool, ""
	case "DATETIME":
		return schema.TypeDateTime, ""
	case "BLOB":
		return schema.TypeBytes, ""
	default:
		return schema.TypeString, declared
	}
}
