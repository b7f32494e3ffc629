package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rediwo/redi-migrate/dialect"
	"github.com/rediwo/redi-migrate/utils"
)

// HistoryStore is the append-only ledger of applied migrations, kept in a
// bookkeeping table inside the target database. Entries are never rewritten;
// the single permitted mutation is flagging a rollback.
type HistoryStore struct {
	db   *sql.DB
	desc *dialect.Descriptor
}

// NewHistoryStore creates a history store over an open connection.
func NewHistoryStore(db *sql.DB, desc *dialect.Descriptor) *HistoryStore {
	return &HistoryStore{db: db, desc: desc}
}

// EnsureTable creates the bookkeeping table if it does not exist. The table
// shape round-trips across engine versions; columns are only ever added.
func (h *HistoryStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    checksum VARCHAR(64) NOT NULL,
    applied_at TIMESTAMP NOT NULL,
    rolled_back BOOLEAN NOT NULL DEFAULT FALSE
)`, h.desc.QuoteIdent(HistoryTableName))

	_, err := h.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to ensure history table: %w", err)
	}
	return nil
}

// Record appends one entry to the ledger.
func (h *HistoryStore) Record(ctx context.Context, entry HistoryEntry) error {
	query := fmt.Sprintf("INSERT INTO %s (id, name, checksum, applied_at, rolled_back) VALUES (%s, %s, %s, %s, %s)",
		h.desc.QuoteIdent(HistoryTableName),
		h.desc.Placeholder(1), h.desc.Placeholder(2), h.desc.Placeholder(3), h.desc.Placeholder(4), h.desc.Placeholder(5))

	_, err := h.db.ExecContext(ctx, query, entry.ID, entry.Name, entry.Checksum, entry.AppliedAt, entry.RolledBack)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", entry.ID, err)
	}
	return nil
}

// List returns every ledger entry ordered by id. Ids embed their creation
// timestamp, so id order is application order.
func (h *HistoryStore) List(ctx context.Context) ([]HistoryEntry, error) {
	query := fmt.Sprintf("SELECT id, name, checksum, applied_at, rolled_back FROM %s ORDER BY id",
		h.desc.QuoteIdent(HistoryTableName))

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Checksum, &e.AppliedAt, &e.RolledBack); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkRolledBack flags an entry as rolled back. The rollback itself is
// performed outside this engine; only the flag is recorded here.
func (h *HistoryStore) MarkRolledBack(ctx context.Context, id string) error {
	query := fmt.Sprintf("UPDATE %s SET rolled_back = %s WHERE id = %s",
		h.desc.QuoteIdent(HistoryTableName), h.desc.Placeholder(1), h.desc.Placeholder(2))

	result, err := h.db.ExecContext(ctx, query, true, id)
	if err != nil {
		return fmt.Errorf("failed to mark migration %s rolled back: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("migration %s not found in history", id)
	}
	return nil
}

// ScriptSource resolves a migration id to its stored SQL script. File naming
// and directory layout belong to the caller; the engine only needs content.
type ScriptSource interface {
	Script(id string) (string, error)
}

// VerifyScripts checks every recorded entry's script against its recorded
// checksum. A mismatch means the script was edited after being applied and
// is fatal: it is reported, never repaired.
func VerifyScripts(entries []HistoryEntry, source ScriptSource) ([]AppliedMigration, error) {
	applied := make([]AppliedMigration, 0, len(entries))
	for _, e := range entries {
		script, err := source.Script(e.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load script for migration %s: %w", e.ID, err)
		}
		if computed := checksumScript(script); computed != e.Checksum {
			return nil, &ChecksumMismatchError{
				MigrationID: e.ID,
				Recorded:    e.Checksum,
				Computed:    computed,
			}
		}
		applied = append(applied, AppliedMigration{Entry: e, Script: script})
	}
	return applied, nil
}

// GenerateID builds a migration id from the creation time and a normalized
// human name. Timestamp-first ids keep the ledger's id order equal to
// creation order; millisecond precision keeps that order for migrations
// generated within the same second.
func GenerateID(name string, at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), utils.ToSnakeCase(name))
}
