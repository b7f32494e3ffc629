package schema

import (
	"fmt"
)

// ScalarType is a connector-agnostic column type. Dialects map scalar types
// to native types through their capability descriptor.
type ScalarType string

const (
	TypeString   ScalarType = "string"
	TypeInt      ScalarType = "int"
	TypeBigInt   ScalarType = "bigint"
	TypeFloat    ScalarType = "float"
	TypeDecimal  ScalarType = "decimal"
	TypeBool     ScalarType = "bool"
	TypeDateTime ScalarType = "datetime"
	TypeJSON     ScalarType = "json"
	TypeBytes    ScalarType = "bytes"
	// TypeEnum columns carry the enum name in Column.EnumName.
	TypeEnum ScalarType = "enum"
)

// ReferentialAction is the ON DELETE / ON UPDATE behavior of a foreign key.
type ReferentialAction string

const (
	ActionNoAction ReferentialAction = "NO ACTION"
	ActionRestrict ReferentialAction = "RESTRICT"
	ActionCascade  ReferentialAction = "CASCADE"
	ActionSetNull  ReferentialAction = "SET NULL"
)

// Column describes a single table column.
type Column struct {
	Name          string     `json:"name"`
	Type          ScalarType `json:"type"`
	Nullable      bool       `json:"nullable,omitempty"`
	AutoIncrement bool       `json:"autoIncrement,omitempty"`
	Default       any        `json:"default,omitempty"`
	// NativeType overrides the dialect's default scalar-to-native mapping,
	// e.g. "VARCHAR(32)" instead of the descriptor's TEXT mapping.
	NativeType string `json:"nativeType,omitempty"`
	// EnumName names the enum this column draws values from (Type == TypeEnum).
	EnumName string `json:"enumName,omitempty"`
}

// PrimaryKey is an ordered set of column names.
type PrimaryKey struct {
	Columns []string `json:"columns"`
}

// Index describes a secondary index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ForeignKey references another table by name, never by pointer, so cyclic
// references between tables stay representable.
type ForeignKey struct {
	Name              string            `json:"name"`
	Columns           []string          `json:"columns"`
	ReferencedTable   string            `json:"referencedTable"`
	ReferencedColumns []string          `json:"referencedColumns"`
	OnDelete          ReferentialAction `json:"onDelete,omitempty"`
	OnUpdate          ReferentialAction `json:"onUpdate,omitempty"`
}

// Table is one table in a schema snapshot. Column order is declaration order
// and is significant: the differ uses it for rename-candidate detection and
// the planner uses it for deterministic output.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  *PrimaryKey  `json:"primaryKey,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`
}

// Enum is a named, ordered set of variants.
type Enum struct {
	Name     string   `json:"name"`
	Variants []string `json:"variants"`
}

// Schema is a complete snapshot of a database's structure. It is
// connector-agnostic: both the desired schema (from the declaration
// front-end) and the current schema (from introspection) use this shape,
// so the differ never special-cases the source.
type Schema struct {
	Tables []*Table `json:"tables"`
	Enums  []*Enum  `json:"enums,omitempty"`
}

// New creates an empty schema snapshot.
func New() *Schema {
	return &Schema{}
}

func (s *Schema) AddTable(t *Table) *Schema {
	s.Tables = append(s.Tables, t)
	return s
}

func (s *Schema) AddEnum(e *Enum) *Schema {
	s.Enums = append(s.Enums, e)
	return s
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Enum returns the named enum, or nil.
func (s *Schema) Enum(name string) *Enum {
	for _, e := range s.Enums {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// ReferencingKeys returns, for every table other than tableName, the foreign
// keys pointing at tableName. The result preserves table declaration order.
func (s *Schema) ReferencingKeys(tableName string) []TableForeignKey {
	var refs []TableForeignKey
	for _, t := range s.Tables {
		if t.Name == tableName {
			continue
		}
		for i := range t.ForeignKeys {
			if t.ForeignKeys[i].ReferencedTable == tableName {
				refs = append(refs, TableForeignKey{Table: t.Name, ForeignKey: t.ForeignKeys[i]})
			}
		}
	}
	return refs
}

// TableForeignKey pairs a foreign key with the table that declares it.
type TableForeignKey struct {
	Table      string
	ForeignKey ForeignKey
}

// NewTable creates a table with no columns.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

func (t *Table) AddColumn(c Column) *Table {
	t.Columns = append(t.Columns, c)
	return t
}

func (t *Table) WithPrimaryKey(columns ...string) *Table {
	t.PrimaryKey = &PrimaryKey{Columns: columns}
	return t
}

func (t *Table) AddIndex(idx Index) *Table {
	t.Indexes = append(t.Indexes, idx)
	return t
}

func (t *Table) AddForeignKey(fk ForeignKey) *Table {
	t.ForeignKeys = append(t.ForeignKeys, fk)
	return t
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnIndex returns the declaration position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// Index returns the named index, or nil.
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if t.Indexes[i].Name == name {
			return &t.Indexes[i]
		}
	}
	return nil
}

// ForeignKey returns the named foreign key, or nil.
func (t *Table) ForeignKey(name string) *ForeignKey {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Name == name {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}

// IsPrimaryKeyColumn reports whether the named column is part of the
// table's primary key.
func (t *Table) IsPrimaryKeyColumn(name string) bool {
	if t.PrimaryKey == nil {
		return false
	}
	for _, c := range t.PrimaryKey.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Validate checks the snapshot's internal consistency: names unique within
// their scope, primary key and index columns exist, and every foreign key
// resolves to an existing table and column pair in this same snapshot.
func (s *Schema) Validate() error {
	tableNames := make(map[string]bool)
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("table name cannot be empty")
		}
		if tableNames[t.Name] {
			return fmt.Errorf("duplicate table %s", t.Name)
		}
		tableNames[t.Name] = true

		if err := t.validate(); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}

	enumNames := make(map[string]bool)
	for _, e := range s.Enums {
		if e.Name == "" {
			return fmt.Errorf("enum name cannot be empty")
		}
		if enumNames[e.Name] {
			return fmt.Errorf("duplicate enum %s", e.Name)
		}
		enumNames[e.Name] = true
		if len(e.Variants) == 0 {
			return fmt.Errorf("enum %s has no variants", e.Name)
		}
	}

	// Cross-table references are checked after all tables are known.
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.Type == TypeEnum && s.Enum(c.EnumName) == nil {
				return fmt.Errorf("table %s: column %s references unknown enum %s", t.Name, c.Name, c.EnumName)
			}
		}
		for _, fk := range t.ForeignKeys {
			ref := s.Table(fk.ReferencedTable)
			if ref == nil {
				return fmt.Errorf("table %s: foreign key %s references unknown table %s", t.Name, fk.Name, fk.ReferencedTable)
			}
			if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.ReferencedColumns) {
				return fmt.Errorf("table %s: foreign key %s has mismatched column lists", t.Name, fk.Name)
			}
			for _, col := range fk.Columns {
				if t.Column(col) == nil {
					return fmt.Errorf("table %s: foreign key %s uses unknown column %s", t.Name, fk.Name, col)
				}
			}
			for _, col := range fk.ReferencedColumns {
				if ref.Column(col) == nil {
					return fmt.Errorf("table %s: foreign key %s references unknown column %s.%s", t.Name, fk.Name, fk.ReferencedTable, col)
				}
			}
		}
	}

	return nil
}

func (t *Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}

	columnNames := make(map[string]bool)
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("column name cannot be empty")
		}
		if columnNames[c.Name] {
			return fmt.Errorf("duplicate column %s", c.Name)
		}
		columnNames[c.Name] = true
	}

	if t.PrimaryKey != nil {
		for _, col := range t.PrimaryKey.Columns {
			if !columnNames[col] {
				return fmt.Errorf("primary key uses unknown column %s", col)
			}
		}
	}

	indexNames := make(map[string]bool)
	for _, idx := range t.Indexes {
		if indexNames[idx.Name] {
			return fmt.Errorf("duplicate index %s", idx.Name)
		}
		indexNames[idx.Name] = true
		for _, col := range idx.Columns {
			if !columnNames[col] {
				return fmt.Errorf("index %s uses unknown column %s", idx.Name, col)
			}
		}
	}

	fkNames := make(map[string]bool)
	for _, fk := range t.ForeignKeys {
		if fkNames[fk.Name] {
			return fmt.Errorf("duplicate foreign key %s", fk.Name)
		}
		fkNames[fk.Name] = true
	}

	return nil
}
