package dialect

import "github.com/rediwo/redi-migrate/schema"

// postgresDescriptor is the capability table for PostgreSQL.
func postgresDescriptor() *Descriptor {
	return &Descriptor{
		Dialect: PostgreSQL,
		TypeMap: map[schema.ScalarType]string{
			schema.TypeString:   "TEXT",
			schema.TypeInt:      "INTEGER",
			schema.TypeBigInt:   "BIGINT",
			schema.TypeFloat:    "DOUBLE PRECISION",
			schema.TypeDecimal:  "DECIMAL(65,30)",
			schema.TypeBool:     "BOOLEAN",
			schema.TypeDateTime: "TIMESTAMP(3)",
			schema.TypeJSON:     "JSONB",
			schema.TypeBytes:    "BYTEA",
		},
		SupportsAlterColumnType:  true,
		SupportsRenameColumn:     true,
		SupportsDropColumn:       true,
		SupportsAlterForeignKey:  true,
		SupportsTransactionalDDL: true,
		AlterColumnStyle:         AlterPerProperty,
		EnumStyle:                EnumNative,
		AutoIncrementClause:      "GENERATED BY DEFAULT AS IDENTITY",
		DropForeignKeyClause:     "CONSTRAINT",
		quote:                    '"',
		dollarArgs:               true,
		renameTable:              "ALTER TABLE %s RENAME TO %s",
	}
}
