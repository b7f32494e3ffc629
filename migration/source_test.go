package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSourceRoundTrip(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "migrations"))

	script := "CREATE TABLE `users` (`id` INTEGER);\n"
	require.NoError(t, src.WriteScript("1700000000_init", script))

	got, err := src.Script("1700000000_init")
	require.NoError(t, err)
	assert.Equal(t, script, got)
}

func TestDirSourceMissingScript(t *testing.T) {
	src := NewDirSource(t.TempDir())

	_, err := src.Script("1700000000_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1700000000_missing")
}

func TestDirSourceIDs(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)

	require.NoError(t, src.WriteScript("1700000100_add_posts", "-- b\n"))
	require.NoError(t, src.WriteScript("1700000000_init", "-- a\n"))
	// Non-SQL files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0644))

	ids, err := src.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000_init", "1700000100_add_posts"}, ids)
}

func TestDirSourceIDsMissingDirectory(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "does-not-exist"))

	ids, err := src.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
