// Package dialect describes, per SQL dialect, which structural operations
// are natively expressible and how. Descriptors are pure data: the planner
// stays generic over a descriptor value and never branches on dialect names.
package dialect

import (
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/schema"
)

// Type identifies a supported dialect. The set is closed: adding a dialect
// means adding a descriptor value here, not implementing a plugin interface.
type Type string

const (
	SQLite     Type = "sqlite"
	MySQL      Type = "mysql"
	PostgreSQL Type = "postgresql"
)

func (t Type) String() string {
	return string(t)
}

// AlterColumnStyle is how a dialect expresses an in-place column change.
type AlterColumnStyle string

const (
	// AlterModify dialects rewrite the whole column definition in one
	// statement (ALTER TABLE ... MODIFY COLUMN ...).
	AlterModify AlterColumnStyle = "modify"
	// AlterPerProperty dialects change type, nullability and default in
	// separate ALTER COLUMN clauses.
	AlterPerProperty AlterColumnStyle = "per-property"
	// AlterRedefine dialects cannot alter a column in place at all; the
	// planner rewrites the change into a table redefine.
	AlterRedefine AlterColumnStyle = "redefine"
)

// EnumStyle is how a dialect encodes enum columns.
type EnumStyle string

const (
	// EnumNative dialects have first-class enum types (CREATE TYPE ... AS ENUM).
	EnumNative EnumStyle = "native"
	// EnumInline dialects encode the variant list in the column type.
	EnumInline EnumStyle = "inline"
	// EnumCheck dialects encode enums as text plus a CHECK constraint.
	EnumCheck EnumStyle = "check"
)

// Descriptor is the capability table for one dialect.
type Descriptor struct {
	Dialect Type

	// TypeMap maps scalar types to the dialect's default native types.
	TypeMap map[schema.ScalarType]string

	// Capability flags. A false flag means the planner must rewrite the
	// change (usually into a table redefine) or reject it, never emit the
	// unsupported statement.
	SupportsAlterColumnType  bool
	SupportsRenameColumn     bool
	SupportsDropColumn       bool
	SupportsAlterForeignKey  bool // ADD/DROP FOREIGN KEY via ALTER TABLE
	SupportsTransactionalDDL bool

	AlterColumnStyle AlterColumnStyle
	EnumStyle        EnumStyle

	// AutoIncrementClause is appended to an auto-increment column
	// definition, e.g. AUTO_INCREMENT or GENERATED BY DEFAULT AS IDENTITY.
	AutoIncrementClause string
	// InlineAutoIncrementPK forces a single-column auto-increment primary
	// key to be declared on the column itself rather than as a table-level
	// constraint (SQLite's INTEGER PRIMARY KEY AUTOINCREMENT rule).
	InlineAutoIncrementPK bool
	// DropIndexRequiresTable means DROP INDEX needs an ON <table> clause.
	DropIndexRequiresTable bool
	// DropForeignKeyClause is the keyword between DROP and the constraint
	// name: FOREIGN KEY on MySQL, CONSTRAINT elsewhere.
	DropForeignKeyClause string

	// PreRedefineSQL and PostRedefineSQL bracket a table redefine sequence,
	// e.g. toggling foreign key enforcement while rows are copied.
	PreRedefineSQL  string
	PostRedefineSQL string

	quote       byte
	dollarArgs  bool
	renameTable string // statement template with two %s verbs
}

// UnsupportedCapabilityError reports a malformed or incomplete capability
// table. It indicates a configuration bug, not a user error.
type UnsupportedCapabilityError struct {
	Dialect Type
	Detail  string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("dialect %s: unsupported capability: %s", e.Dialect, e.Detail)
}

// Get returns the descriptor for a dialect type.
func Get(t Type) (*Descriptor, error) {
	switch t {
	case SQLite:
		return sqliteDescriptor(), nil
	case MySQL:
		return mysqlDescriptor(), nil
	case PostgreSQL:
		return postgresDescriptor(), nil
	default:
		return nil, &UnsupportedCapabilityError{Dialect: t, Detail: "unknown dialect"}
	}
}

// FromScheme resolves a datasource URI scheme to a dialect type.
func FromScheme(scheme string) (Type, error) {
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql":
		return PostgreSQL, nil
	default:
		return "", fmt.Errorf("unknown datasource scheme %q", scheme)
	}
}

// QuoteIdent quotes an identifier with the dialect's quote character.
func (d *Descriptor) QuoteIdent(name string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Placeholder returns the bind parameter marker for a 1-based position.
func (d *Descriptor) Placeholder(index int) string {
	if d.dollarArgs {
		return fmt.Sprintf("$%d", index)
	}
	return "?"
}

// NativeType resolves a column's rendered type. An explicit NativeType
// override on the column wins; otherwise the scalar type is looked up in the
// descriptor's type map. A missing mapping is a capability gap.
func (d *Descriptor) NativeType(col schema.Column) (string, error) {
	if col.NativeType != "" {
		return col.NativeType, nil
	}
	if col.Type == schema.TypeEnum {
		return "", &UnsupportedCapabilityError{Dialect: d.Dialect, Detail: "enum columns are resolved through EnumColumnType"}
	}
	native, ok := d.TypeMap[col.Type]
	if !ok {
		return "", &UnsupportedCapabilityError{
			Dialect: d.Dialect,
			Detail:  fmt.Sprintf("no native type mapping for scalar type %s", col.Type),
		}
	}
	return native, nil
}

// EnumColumnType renders the column type for an enum-valued column.
func (d *Descriptor) EnumColumnType(e *schema.Enum) string {
	switch d.EnumStyle {
	case EnumNative:
		return d.QuoteIdent(e.Name)
	case EnumInline:
		quoted := make([]string, len(e.Variants))
		for i, v := range e.Variants {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return "ENUM(" + strings.Join(quoted, ", ") + ")"
	default:
		return d.TypeMap[schema.TypeString]
	}
}

// RenameTableSQL renders the dialect's table rename statement.
func (d *Descriptor) RenameTableSQL(from, to string) string {
	return fmt.Sprintf(d.renameTable, d.QuoteIdent(from), d.QuoteIdent(to))
}
