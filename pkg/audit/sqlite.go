package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive persists trail entries to a local SQLite database so
// the audit history survives restarts.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLiteArchive opens (or creates) the archive at path and runs
// the schema migration. Use ":memory:" for an ephemeral archive.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit archive: %w", err)
	}
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewSQLiteArchive wraps an existing database handle.
func NewSQLiteArchive(db *sql.DB) (*SQLiteArchive, error) {
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_entries (
        entry_id TEXT PRIMARY KEY,
        sequence INTEGER NOT NULL,
        timestamp DATETIME,
        event_type TEXT,
        actor TEXT,
        action TEXT,
        resource TEXT,
        payload JSON,
        payload_hash TEXT,
        previous_hash TEXT NOT NULL DEFAULT '',
        entry_hash TEXT,
        metadata JSON
    );`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Store inserts a trail entry into the archive.
func (a *SQLiteArchive) Store(ctx context.Context, e *Entry) error {
	query := `INSERT INTO audit_entries (
        entry_id, sequence, timestamp, event_type, actor, action, resource, payload, payload_hash, previous_hash, entry_hash, metadata
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(e.Metadata)
	timestamp := e.Timestamp.UTC().Format(time.RFC3339Nano)

	_, err := a.db.ExecContext(ctx, query,
		e.EntryID, e.Sequence, timestamp, string(e.EventType), e.Actor, e.Action, e.Resource, string(e.Payload), e.PayloadHash, e.PreviousHash, e.EntryHash, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Get retrieves an archived entry by ID.
func (a *SQLiteArchive) Get(ctx context.Context, entryID string) (*Entry, error) {
	query := `
        SELECT entry_id, sequence, timestamp, event_type, actor, action, resource, payload, payload_hash, previous_hash, entry_hash, metadata
        FROM audit_entries
        WHERE entry_id = ?
    `
	row := a.db.QueryRowContext(ctx, query, entryID)
	return scanEntryRow(row)
}

// List returns the most recent archived entries.
func (a *SQLiteArchive) List(ctx context.Context, limit int) ([]*Entry, error) {
	query := `
        SELECT entry_id, sequence, timestamp, event_type, actor, action, resource, payload, payload_hash, previous_hash, entry_hash, metadata
        FROM audit_entries
        ORDER BY sequence DESC
        LIMIT ?
    `
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of archived entries.
func (a *SQLiteArchive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntryRow(row rowScanner) (*Entry, error) {
	var (
		e         Entry
		eventType string
		timestamp string
		payload   sql.NullString
		metaJSON  sql.NullString
	)
	err := row.Scan(&e.EntryID, &e.Sequence, &timestamp, &eventType, &e.Actor, &e.Action, &e.Resource, &payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.EventType = EventType(eventType)
	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		e.Timestamp = ts
	}
	if payload.Valid && payload.String != "" {
		e.Payload = json.RawMessage(payload.String)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return &e, nil
}
