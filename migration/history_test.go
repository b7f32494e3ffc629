package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sqliteHistoryStore(t *testing.T) (*HistoryStore, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	desc, err := dialect.Get(dialect.SQLite)
	require.NoError(t, err)
	return NewHistoryStore(db, desc), db
}

func TestHistoryStoreRecordAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := sqliteHistoryStore(t)

	require.NoError(t, store.EnsureTable(ctx))
	// EnsureTable is idempotent.
	require.NoError(t, store.EnsureTable(ctx))

	first := HistoryEntry{
		ID:        "1700000000_init",
		Name:      "init",
		Checksum:  checksumScript("CREATE TABLE `users` (`id` INTEGER);\n"),
		AppliedAt: time.Now().UTC(),
	}
	second := HistoryEntry{
		ID:        "1700000100_add_posts",
		Name:      "add posts",
		Checksum:  checksumScript("CREATE TABLE `posts` (`id` INTEGER);\n"),
		AppliedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Record(ctx, second))
	require.NoError(t, store.Record(ctx, first))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Timestamp-first ids mean id order is creation order.
	assert.Equal(t, "1700000000_init", entries[0].ID)
	assert.Equal(t, "1700000100_add_posts", entries[1].ID)
	assert.False(t, entries[0].RolledBack)
}

func TestHistoryStoreMarkRolledBack(t *testing.T) {
	ctx := context.Background()
	store, _ := sqliteHistoryStore(t)
	require.NoError(t, store.EnsureTable(ctx))

	entry := HistoryEntry{ID: "1700000000_init", Name: "init", Checksum: "abc", AppliedAt: time.Now().UTC()}
	require.NoError(t, store.Record(ctx, entry))

	require.NoError(t, store.MarkRolledBack(ctx, entry.ID))
	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RolledBack)

	err = store.MarkRolledBack(ctx, "1700000001_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in history")
}

type mapScriptSource map[string]string

func (m mapScriptSource) Script(id string) (string, error) {
	script, ok := m[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	return script, nil
}

func TestVerifyScripts(t *testing.T) {
	script := "CREATE TABLE `users` (`id` INTEGER);\n"
	entries := []HistoryEntry{{ID: "1700000000_init", Checksum: checksumScript(script)}}

	applied, err := VerifyScripts(entries, mapScriptSource{"1700000000_init": script})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, script, applied[0].Script)
}

func TestVerifyScriptsChecksumMismatch(t *testing.T) {
	entries := []HistoryEntry{{ID: "1700000000_init", Checksum: checksumScript("original")}}

	_, err := VerifyScripts(entries, mapScriptSource{"1700000000_init": "edited after apply"})
	require.Error(t, err)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "1700000000_init", mismatch.MigrationID)
	assert.NotEqual(t, mismatch.Recorded, mismatch.Computed)
}

func TestGenerateID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "1700000000123_add_user_table", GenerateID("Add User Table", at))
}

func TestGenerateIDOrdersWithinOneSecond(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	first := GenerateID("zz last by name", at)
	second := GenerateID("aa first by name", at.Add(time.Millisecond))
	assert.Less(t, first, second)
}
