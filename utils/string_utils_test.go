package utils

import "testing"

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"addUserTable", "add_user_table"},
		{"AddUserTable", "add_user_table"},
		{"Add user table", "add_user_table"},
		{"add-user-table", "add_user_table"},
		{"already_snake", "already_snake"},
		{"  trimmed  ", "trimmed"},
	}

	for _, tt := range tests {
		if got := ToSnakeCase(tt.input); got != tt.expected {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
