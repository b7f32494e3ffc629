package schema

import (
	"fmt"
	"strings"
)

// ColumnsEqual reports whether two columns have the same definition.
// Comparison is structural: name, scalar type, nullability, auto-increment,
// native type override and default value.
func ColumnsEqual(a, b Column) bool {
	return a.Name == b.Name && ColumnDefinitionsEqual(a, b)
}

// ColumnDefinitionsEqual compares everything about two columns except their
// names. The differ uses it to decide between alter and rename.
func ColumnDefinitionsEqual(a, b Column) bool {
	if a.Type != b.Type || a.Nullable != b.Nullable || a.AutoIncrement != b.AutoIncrement {
		return false
	}
	if !strings.EqualFold(a.NativeType, b.NativeType) {
		return false
	}
	if a.EnumName != b.EnumName {
		return false
	}
	return DefaultsEqual(a.Default, b.Default)
}

// DefaultsEqual compares default values by their rendered representation.
// Introspected defaults come back as strings, so a literal 0 and "0" are
// treated as equal.
func DefaultsEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return normalizeDefault(a) == normalizeDefault(b)
}

func normalizeDefault(v any) string {
	s := fmt.Sprintf("%v", v)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "'\"")
	// Engines report booleans inconsistently.
	switch strings.ToLower(s) {
	case "true":
		return "1"
	case "false":
		return "0"
	}
	return s
}

// IndexesEqual compares index signatures, ignoring names.
func IndexesEqual(a, b Index) bool {
	if a.Unique != b.Unique || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	return true
}

// ForeignKeysEqual compares foreign key signatures, ignoring names.
func ForeignKeysEqual(a, b ForeignKey) bool {
	if a.ReferencedTable != b.ReferencedTable {
		return false
	}
	if !stringSlicesEqual(a.Columns, b.Columns) || !stringSlicesEqual(a.ReferencedColumns, b.ReferencedColumns) {
		return false
	}
	return normalizeAction(a.OnDelete) == normalizeAction(b.OnDelete) &&
		normalizeAction(a.OnUpdate) == normalizeAction(b.OnUpdate)
}

// PrimaryKeysEqual compares primary keys; nil equals nil.
func PrimaryKeysEqual(a, b *PrimaryKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return stringSlicesEqual(a.Columns, b.Columns)
}

func normalizeAction(a ReferentialAction) ReferentialAction {
	if a == "" {
		return ActionNoAction
	}
	return ReferentialAction(strings.ToUpper(string(a)))
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
