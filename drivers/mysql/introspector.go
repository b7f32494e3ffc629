package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/schema"
)

// Introspector reads a MySQL database's structure from information_schema.
//
// MySQL enums are anonymous column types, so recovered enums are named
// <table>_<column>; desired schemas targeting MySQL should follow the same
// convention to avoid spurious diffs.
type Introspector struct{}

func (i *Introspector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	s := schema.New()

	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		if name == migration.HistoryTableName {
			continue
		}
		table, err := i.introspectTable(ctx, db, name, s)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect table %s: %w", name, err)
		}
		s.AddTable(table)
	}
	return s, nil
}

func (i *Introspector) introspectTable(ctx context.Context, db *sql.DB, name string, s *schema.Schema) (*schema.Table, error) {
	table := schema.NewTable(name)

	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var colName, dataType, columnType, isNullable, extra string
		var dflt sql.NullString
		if err := rows.Scan(&colName, &dataType, &columnType, &isNullable, &dflt, &extra); err != nil {
			rows.Close()
			return nil, err
		}

		col := schema.Column{
			Name:          colName,
			Nullable:      strings.EqualFold(isNullable, "YES"),
			AutoIncrement: strings.Contains(extra, "auto_increment"),
		}
		if dflt.Valid {
			col.Default = dflt.String
		}
		if strings.EqualFold(dataType, "enum") {
			enumName := name + "_" + colName
			col.Type = schema.TypeEnum
			col.EnumName = enumName
			if s.Enum(enumName) == nil {
				s.AddEnum(&schema.Enum{Name: enumName, Variants: parseEnumColumnType(columnType)})
			}
		} else {
			col.Type, col.NativeType = scalarFromNative(dataType, columnType)
		}
		table.AddColumn(col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := i.introspectPrimaryKey(ctx, db, table); err != nil {
		return nil, err
	}
	fkNames, err := i.introspectForeignKeys(ctx, db, table)
	if err != nil {
		return nil, err
	}
	return table, i.introspectIndexes(ctx, db, table, fkNames)
}

func (i *Introspector) introspectPrimaryKey(ctx context.Context, db *sql.DB, table *schema.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`, table.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		cols = append(cols, col)
	}
	if len(cols) > 0 {
		table.PrimaryKey = &schema.PrimaryKey{Columns: cols}
	}
	return rows.Err()
}

func (i *Introspector) introspectForeignKeys(ctx context.Context, db *sql.DB, table *schema.Table) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME,
		       rc.UPDATE_RULE, rc.DELETE_RULE
		FROM information_schema.KEY_COLUMN_USAGE kcu
		JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
		  ON rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA AND rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		WHERE kcu.TABLE_SCHEMA = DATABASE() AND kcu.TABLE_NAME = ? AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]bool)
	var current *schema.ForeignKey
	flush := func() {
		if current != nil {
			table.AddForeignKey(*current)
			current = nil
		}
	}
	for rows.Next() {
		var constraint, column, refTable, refColumn, updateRule, deleteRule string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn, &updateRule, &deleteRule); err != nil {
			return nil, err
		}
		names[constraint] = true
		if current == nil || current.Name != constraint {
			flush()
			current = &schema.ForeignKey{
				Name:            constraint,
				ReferencedTable: refTable,
				OnUpdate:        schema.ReferentialAction(updateRule),
				OnDelete:        schema.ReferentialAction(deleteRule),
			}
		}
		current.Columns = append(current.Columns, column)
		current.ReferencedColumns = append(current.ReferencedColumns, refColumn)
	}
	flush()
	return names, rows.Err()
}

func (i *Introspector) introspectIndexes(ctx context.Context, db *sql.DB, table *schema.Table, fkNames map[string]bool) error {
	rows, err := db.QueryContext(ctx, `
		SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND INDEX_NAME != 'PRIMARY'
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current *schema.Index
	flush := func() {
		// Indexes MySQL creates automatically to back foreign keys are not
		// part of the declared schema.
		if current != nil && !fkNames[current.Name] {
			table.AddIndex(*current)
		}
		current = nil
	}
	for rows.Next() {
		var indexName, column string
		var nonUnique int
		if err := rows.Scan(&indexName, &nonUnique, &column); err != nil {
			return err
		}
		if current == nil || current.Name != indexName {
			flush()
			current = &schema.Index{Name: indexName, Unique: nonUnique == 0}
		}
		current.Columns = append(current.Columns, column)
	}
	flush()
	return rows.Err()
}

// parseEnumColumnType pulls the variant list out of a COLUMN_TYPE like
// enum('a','b').
func parseEnumColumnType(columnType string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(columnType, "enum("), ")")
	var variants []string
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "'")
		variants = append(variants, strings.ReplaceAll(part, "''", "'"))
	}
	return variants
}

// scalarFromNative maps an information_schema type pair back to a scalar
// type. Column types outside the renderer's own mapping survive as a native
// override.
func scalarFromNative(dataType, columnType string) (schema.ScalarType, string) {
	switch strings.ToLower(dataType) {
	case "int":
		return schema.TypeInt, ""
	case "bigint":
		return schema.TypeBigInt, ""
	case "double":
		return schema.TypeFloat, ""
	case "decimal":
		if strings.EqualFold(columnType, "decimal(65,30)") {
			return schema.TypeDecimal, ""
		}
		return schema.TypeDecimal, strings.ToUpper(columnType)
	case "tinyint":
		if strings.EqualFold(columnType, "tinyint(1)") {
			return schema.TypeBool, ""
		}
		return schema.TypeInt, strings.ToUpper(columnType)
	case "datetime":
		return schema.TypeDateTime, ""
	case "json":
		return schema.TypeJSON, ""
	case "longblob":
		return schema.TypeBytes, ""
	case "varchar":
		if strings.EqualFold(columnType, "varchar(191)") {
			return schema.TypeString, ""
		}
		return schema.TypeString, strings.ToUpper(columnType)
	default:
		return schema.TypeString, strings.ToUpper(columnType)
	}
}
