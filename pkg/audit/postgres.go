package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresArchive persists trail entries to PostgreSQL for
// deployments that centralize audit history.
type PostgresArchive struct {
	db *sql.DB
}

// OpenPostgresArchive connects with the given DSN and runs the schema
// migration.
func OpenPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit archive: %w", err)
	}
	a := &PostgresArchive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewPostgresArchive wraps an existing database handle without
// running migrations. Intended for tests and managed schemas.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (a *PostgresArchive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_entries (
        entry_id TEXT PRIMARY KEY,
        sequence BIGINT NOT NULL,
        timestamp TIMESTAMPTZ,
        event_type TEXT,
        actor TEXT,
        action TEXT,
        resource TEXT,
        payload JSONB,
        payload_hash TEXT,
        previous_hash TEXT NOT NULL DEFAULT '',
        entry_hash TEXT,
        metadata JSONB
    );`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Store inserts a trail entry. Replays of the same entry are ignored
// so archive forwarding can be retried safely.
func (a *PostgresArchive) Store(ctx context.Context, e *Entry) error {
	query := `
        INSERT INTO audit_entries (entry_id, sequence, timestamp, event_type, actor, action, resource, payload, payload_hash, previous_hash, entry_hash, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (entry_id) DO NOTHING
    `
	metaJSON, _ := json.Marshal(e.Metadata)
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}

	_, err := a.db.ExecContext(ctx, query,
		e.EntryID, e.Sequence, e.Timestamp.UTC(), string(e.EventType), e.Actor, e.Action, e.Resource, string(payload), e.PayloadHash, e.PreviousHash, e.EntryHash, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Get retrieves an archived entry by ID.
func (a *PostgresArchive) Get(ctx context.Context, entryID string) (*Entry, error) {
	query := `
        SELECT entry_id, sequence, timestamp, event_type, actor, action, resource, payload, payload_hash, previous_hash, entry_hash, metadata
        FROM audit_entries
        WHERE entry_id = $1
    `
	row := a.db.QueryRowContext(ctx, query, entryID)

	var (
		e         Entry
		eventType string
		timestamp time.Time
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
	e.Timestamp = timestamp
	if payload.Valid && payload.String != "" && payload.String != "null" {
		e.Payload = json.RawMessage(payload.String)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return &e, nil
}

// Close closes the underlying database.
func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
