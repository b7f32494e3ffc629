package dialect

import "github.com/rediwo/redi-migrate/schema"

// sqliteDescriptor is the capability table for SQLite.
//
// SQLite cannot alter a column's type in place and cannot add or drop a
// foreign key on an existing table; both are rewritten by the planner into
// a table redefine (create shadow table, copy rows, drop, rename).
func sqliteDescriptor() *Descriptor {
	return &Descriptor{
		Dialect: SQLite,
		TypeMap: map[schema.ScalarType]string{
			schema.TypeString:   "TEXT",
			schema.TypeInt:      "INTEGER",
			schema.TypeBigInt:   "INTEGER",
			schema.TypeFloat:    "REAL",
			schema.TypeDecimal:  "DECIMAL",
			schema.TypeBool:     "BOOLEAN",
			schema.TypeDateTime: "DATETIME",
			schema.TypeJSON:     "TEXT",
			schema.TypeBytes:    "BLOB",
		},
		SupportsAlterColumnType:  false,
		SupportsRenameColumn:     true,
		SupportsDropColumn:       true,
		SupportsAlterForeignKey:  false,
		SupportsTransactionalDDL: true,
		AlterColumnStyle:         AlterRedefine,
		EnumStyle:                EnumCheck,
		AutoIncrementClause:      "AUTOINCREMENT",
		InlineAutoIncrementPK:    true,
		DropForeignKeyClause:     "CONSTRAINT",
		PreRedefineSQL:           "PRAGMA foreign_keys=OFF",
		PostRedefineSQL:          "PRAGMA foreign_keys=ON",
		quote:                    '`',
		renameTable:              "ALTER TABLE %s RENAME TO %s",
	}
}
