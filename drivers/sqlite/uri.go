package sqlite

import (
	"fmt"
	"strings"
)

// ParseURI converts a sqlite:// datasource URI to a driver DSN.
// Supported formats:
//   - sqlite://:memory:
//   - sqlite:///absolute/path/app.db
//   - sqlite://./relative/path/app.db
func ParseURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "sqlite://")
	if !ok {
		if rest, ok = strings.CutPrefix(uri, "sqlite3://"); !ok {
			return "", fmt.Errorf("unsupported scheme in %q, expected sqlite://", uri)
		}
	}
	if rest == "" {
		return "", fmt.Errorf("sqlite URI %q has no path", uri)
	}
	if rest == ":memory:" {
		return ":memory:", nil
	}
	return rest, nil
}
