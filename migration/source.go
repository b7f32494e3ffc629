package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource is a ScriptSource over a flat migrations directory with one
// <id>.sql file per migration.
type DirSource struct {
	baseDir string
}

// NewDirSource creates a script source rooted at baseDir.
func NewDirSource(baseDir string) *DirSource {
	return &DirSource{baseDir: baseDir}
}

// EnsureDirectory creates the migrations directory if needed.
func (d *DirSource) EnsureDirectory() error {
	return os.MkdirAll(d.baseDir, 0755)
}

// Script returns the stored SQL for a migration id.
func (d *DirSource) Script(id string) (string, error) {
	data, err := os.ReadFile(d.path(id))
	if err != nil {
		return "", fmt.Errorf("failed to read migration script %s: %w", id, err)
	}
	return string(data), nil
}

// WriteScript persists a plan's rendered script under its id.
func (d *DirSource) WriteScript(id, script string) error {
	if err := d.EnsureDirectory(); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	if err := os.WriteFile(d.path(id), []byte(script), 0644); err != nil {
		return fmt.Errorf("failed to write migration script %s: %w", id, err)
	}
	return nil
}

// IDs lists the migration ids present in the directory, sorted. Ids embed
// their creation timestamp, so the sort is creation order.
func (d *DirSource) IDs() ([]string, error) {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".sql"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *DirSource) path(id string) string {
	return filepath.Join(d.baseDir, id+".sql")
}
