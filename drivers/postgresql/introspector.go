package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/migration"
	"github.com/rediwo/redi-migrate/schema"
)

// Introspector reads a PostgreSQL database's structure from
// information_schema plus the pg_enum catalog. Only the public schema is
// considered.
type Introspector struct{}

func (i *Introspector) Introspect(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	s := schema.New()

	if err := i.introspectEnums(ctx, db, s); err != nil {
		return nil, fmt.Errorf("failed to introspect enums: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		ORDER BY tablename`)
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

func (i *Introspector) introspectEnums(ctx context.Context, db *sql.DB, s *schema.Schema) error {
	rows, err := db.QueryContext(ctx, `
		SELECT t.typname, e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON e.enumtypid = t.oid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = 'public'
		ORDER BY t.typname, e.enumsortorder`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current *schema.Enum
	flush := func() {
		if current != nil {
			s.AddEnum(current)
			current = nil
		}
	}
	for rows.Next() {
		var name, label string
		if err := rows.Scan(&name, &label); err != nil {
			return err
		}
		if current == nil || current.Name != name {
			flush()
			current = &schema.Enum{Name: name}
		}
		current.Variants = append(current.Variants, label)
	}
	flush()
	return rows.Err()
}

func (i *Introspector) introspectTable(ctx context.Context, db *sql.DB, name string, s *schema.Schema) (*schema.Table, error) {
	table := schema.NewTable(name)

	rows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, udt_name, is_nullable, is_identity, column_default,
		       character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var colName, dataType, udtName, isNullable, isIdentity string
		var dflt sql.NullString
		var charLen sql.NullInt64
		if err := rows.Scan(&colName, &dataType, &udtName, &isNullable, &isIdentity, &dflt, &charLen); err != nil {
			rows.Close()
			return nil, err
		}

		col := schema.Column{
			Name:     colName,
			Nullable: strings.EqualFold(isNullable, "YES"),
		}
		switch {
		case strings.EqualFold(isIdentity, "YES"):
			col.AutoIncrement = true
		case dflt.Valid && strings.HasPrefix(dflt.String, "nextval("):
			col.AutoIncrement = true
		case dflt.Valid:
			col.Default = stripCast(dflt.String)
		}
		if dataType == "USER-DEFINED" && s.Enum(udtName) != nil {
			col.Type = schema.TypeEnum
			col.EnumName = udtName
		} else {
			col.Type, col.NativeType = scalarFromNative(dataType, udtName, charLen)
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
	if err := i.introspectForeignKeys(ctx, db, table); err != nil {
		return nil, err
	}
	return table, i.introspectIndexes(ctx, db, table)
}

func (i *Introspector) introspectPrimaryKey(ctx context.Context, db *sql.DB, table *schema.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_schema = tc.constraint_schema AND kcu.constraint_name = tc.constraint_name
		WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`, table.Name)
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

func (i *Introspector) introspectForeignKeys(ctx context.Context, db *sql.DB, table *schema.Table) error {
	// confkey/conkey from pg_constraint keep referencing and referenced
	// columns aligned per position, which information_schema does not
	// guarantee for composite keys.
	rows, err := db.QueryContext(ctx, `
		SELECT c.conname,
		       a.attname,
		       cr.relname,
		       ar.attname,
		       c.confupdtype,
		       c.confdeltype,
		       k.ord
		FROM pg_constraint c
		JOIN pg_class ct ON ct.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = ct.relnamespace
		JOIN pg_class cr ON cr.oid = c.confrelid
		CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute ar ON ar.attrelid = c.confrelid AND ar.attnum = k.refattnum
		WHERE n.nspname = 'public' AND ct.relname = $1 AND c.contype = 'f'
		ORDER BY c.conname, k.ord`, table.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current *schema.ForeignKey
	flush := func() {
		if current != nil {
			table.AddForeignKey(*current)
			current = nil
		}
	}
	for rows.Next() {
		var constraint, column, refTable, refColumn, updateType, deleteType string
		var ord int
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn, &updateType, &deleteType, &ord); err != nil {
			return err
		}
		if current == nil || current.Name != constraint {
			flush()
			current = &schema.ForeignKey{
				Name:            constraint,
				ReferencedTable: refTable,
				OnUpdate:        actionFromCode(updateType),
				OnDelete:        actionFromCode(deleteType),
			}
		}
		current.Columns = append(current.Columns, column)
		current.ReferencedColumns = append(current.ReferencedColumns, refColumn)
	}
	flush()
	return rows.Err()
}

func (i *Introspector) introspectIndexes(ctx context.Context, db *sql.DB, table *schema.Table) error {
	rows, err := db.QueryContext(ctx, `
		SELECT ic.relname, ix.indisunique, a.attname
		FROM pg_index ix
		JOIN pg_class c ON c.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		WHERE n.nspname = 'public' AND c.relname = $1
		  AND NOT ix.indisprimary
		  AND NOT EXISTS (
			SELECT 1 FROM pg_constraint pc WHERE pc.conindid = ix.indexrelid
		  )
		ORDER BY ic.relname, k.ord`, table.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current *schema.Index
	flush := func() {
		if current != nil {
			table.AddIndex(*current)
			current = nil
		}
	}
	for rows.Next() {
		var indexName, column string
		var unique bool
		if err := rows.Scan(&indexName, &unique, &column); err != nil {
			return err
		}
		if current == nil || current.Name != indexName {
			flush()
			current = &schema.Index{Name: indexName, Unique: unique}
		}
		current.Columns = append(current.Columns, column)
	}
	flush()
	return rows.Err()
}

// stripCast removes the trailing ::type cast PostgreSQL attaches to stored
// defaults, so 'draft'::text comes back as 'draft'.
func stripCast(dflt string) string {
	if idx := strings.Index(dflt, "::"); idx >= 0 {
		return dflt[:idx]
	}
	return dflt
}

// actionFromCode maps a pg_constraint confupdtype/confdeltype code to a
// referential action.
func actionFromCode(code string) schema.ReferentialAction {
	switch code {
	case "c":
		return schema.ActionCascade
	case "n":
		return schema.ActionSetNull
	case "d":
		return schema.ReferentialAction("SET DEFAULT")
	case "r":
		return schema.ActionRestrict
	default:
		return schema.ActionNoAction
	}
}

// scalarFromNative maps an information_schema type back to a scalar type.
// Types outside the renderer's own mapping survive as a native override.
func scalarFromNative(dataType, udtName string, charLen sql.NullInt64) (schema.ScalarType, string) {
	switch strings.ToLower(dataType) {
	case "text":
		return schema.TypeString, ""
	case "character varying":
		if charLen.Valid {
			return schema.TypeString, fmt.Sprintf("VARCHAR(%d)", charLen.Int64)
		}
		return schema.TypeString, "VARCHAR"
	case "integer":
		return schema.TypeInt, ""
	case "bigint":
		return schema.TypeBigInt, ""
	case "double precision":
		return schema.TypeFloat, ""
	case "numeric":
		return schema.TypeDecimal, ""
	case "boolean":
		return schema.TypeBool, ""
	case "timestamp without time zone":
		return schema.TypeDateTime, ""
	case "jsonb":
		return schema.TypeJSON, ""
	case "bytea":
		return schema.TypeBytes, ""
	default:
		return schema.TypeString, strings.ToUpper(udtName)
	}
}
