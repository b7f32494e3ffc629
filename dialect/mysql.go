package dialect

import "github.com/rediwo/redi-migrate/schema"

// mysqlDescriptor is the capability table for MySQL 8+.
//
// MySQL DDL is not transactional: every statement implicitly commits, so a
// failed apply leaves the steps before the failure in place. The engine
// reports the executed-so-far list instead of pretending to roll back.
func mysqlDescriptor() *Descriptor {
	return &Descriptor{
		Dialect: MySQL,
		TypeMap: map[schema.ScalarType]string{
			schema.TypeString:   "VARCHAR(191)",
			schema.TypeInt:      "INT",
			schema.TypeBigInt:   "BIGINT",
			schema.TypeFloat:    "DOUBLE",
			schema.TypeDecimal:  "DECIMAL(65,30)",
			schema.TypeBool:     "TINYINT(1)",
			schema.TypeDateTime: "DATETIME(3)",
			schema.TypeJSON:     "JSON",
			schema.TypeBytes:    "LONGBLOB",
		},
		SupportsAlterColumnType:  true,
		SupportsRenameColumn:     true,
		SupportsDropColumn:       true,
		SupportsAlterForeignKey:  true,
		SupportsTransactionalDDL: false,
		AlterColumnStyle:         AlterModify,
		EnumStyle:                EnumInline,
		AutoIncrementClause:      "AUTO_INCREMENT",
		DropIndexRequiresTable:   true,
		DropForeignKeyClause:     "FOREIGN KEY",
		quote:                    '`',
		renameTable:              "RENAME TABLE %s TO %s",
	}
}
