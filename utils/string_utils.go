package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a camelCase or PascalCase string to snake_case.
// Spaces and dashes are folded into underscores so human migration names
// like "Add user table" become valid identifiers.
func ToSnakeCase(s string) string {
	if s == "" {
		return s
	}

	var result strings.Builder
	result.Grow(len(s) + 5)

	lastUnderscore := false
	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && !lastUnderscore {
				result.WriteRune('_')
			}
			result.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case r == ' ' || r == '-' || r == '_':
			if !lastUnderscore && result.Len() > 0 {
				result.WriteRune('_')
			}
			lastUnderscore = true
		default:
			result.WriteRune(r)
			lastUnderscore = false
		}
	}

	return strings.Trim(result.String(), "_")
}
