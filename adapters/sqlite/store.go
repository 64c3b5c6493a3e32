// Package sqlite persists event streams, snapshots and views in SQLite.
// Optimistic concurrency maps to a unique index on
// (aggregate_type, aggregate_id, sequence) for events and version-guarded
// updates for views.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/parrrate/cqrs/core/cqrs"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	row_id         TEXT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	sequence       INTEGER NOT NULL,
	event_id       TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_version  TEXT NOT NULL,
	payload        BLOB NOT NULL,
	metadata       BLOB,
	UNIQUE (aggregate_type, aggregate_id, sequence)
);

CREATE TABLE IF NOT EXISTS snapshots (
	aggregate_type   TEXT NOT NULL,
	aggregate_id     TEXT NOT NULL,
	current_sequence INTEGER NOT NULL,
	snapshot_version TEXT NOT NULL,
	payload          BLOB NOT NULL,
	checksum         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (aggregate_type, aggregate_id)
);

CREATE TABLE IF NOT EXISTS views (
	view_type TEXT NOT NULL,
	view_id   TEXT NOT NULL,
	version   INTEGER NOT NULL,
	payload   BLOB NOT NULL,
	context   BLOB NOT NULL,
	PRIMARY KEY (view_type, view_id)
);
`

// Open opens (or creates) a SQLite database at path and applies the schema.
// Use ":memory:" for an in-process throwaway database.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids table-lock errors under concurrent writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Repository implements the event and snapshot storage ports over a SQLite
// database.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) LoadEvents(ctx context.Context, aggregateType, aggregateID string) ([]cqrs.SerializedEvent, error) {
	return r.LoadEventsFrom(ctx, aggregateType, aggregateID, 0)
}

func (r *Repository) LoadEventsFrom(ctx context.Context, aggregateType, aggregateID string, lastSequence uint64) ([]cqrs.SerializedEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, sequence, event_type, event_version, payload, metadata
		 FROM events
		 WHERE aggregate_type = ? AND aggregate_id = ? AND sequence > ?
		 ORDER BY sequence ASC`,
		aggregateType, aggregateID, lastSequence)
	if err != nil {
		return nil, fmt.Errorf("query events for %s/%s: %w", aggregateType, aggregateID, err)
	}
	defer rows.Close()

	var out []cqrs.SerializedEvent
	for rows.Next() {
		rec := cqrs.SerializedEvent{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
		}
		var version string
		var metadata []byte
		if err := rows.Scan(&rec.EventID, &rec.Sequence, &rec.EventType, &version, &rec.Payload, &metadata); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if rec.EventVersion, err = cqrs.ParseSemanticVersion(version); err != nil {
			return nil, fmt.Errorf("event %s: %w", rec.EventID, err)
		}
		if len(metadata) > 0 {
			if err := unmarshalJSON(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("event %s metadata: %w", rec.EventID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) PersistEvents(ctx context.Context, aggregateType, aggregateID string, expectedSequence uint64, events []cqrs.SerializedEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID).Scan(&last)
	if err != nil {
		return fmt.Errorf("read stream head for %s/%s: %w", aggregateType, aggregateID, err)
	}
	if last != expectedSequence {
		return fmt.Errorf("%w: %s/%s at sequence %d, expected %d",
			cqrs.ErrAggregateConflict, aggregateType, aggregateID, last, expectedSequence)
	}

	for _, rec := range events {
		metadata, err := marshalJSON(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", rec.EventID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (row_id, aggregate_type, aggregate_id, sequence, event_id, event_type, event_version, payload, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), aggregateType, aggregateID, rec.Sequence,
			rec.EventID, rec.EventType, rec.EventVersion.String(), []byte(rec.Payload), metadata)
		if err != nil {
			if isUniqueViolation(err) {
				// the unique (type, id, sequence) index is the real guard;
				// the head check above is just a cheaper first look
				return fmt.Errorf("%w: %s/%s sequence %d already taken",
					cqrs.ErrAggregateConflict, aggregateType, aggregateID, rec.Sequence)
			}
			return fmt.Errorf("insert event %s: %w", rec.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", cqrs.ErrAggregateConflict, aggregateType, aggregateID)
		}
		return fmt.Errorf("commit events for %s/%s: %w", aggregateType, aggregateID, err)
	}
	return nil
}

func (r *Repository) LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (cqrs.SerializedSnapshot, error) {
	snap := cqrs.SerializedSnapshot{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
	}
	var version string
	err := r.db.QueryRowContext(ctx,
		`SELECT current_sequence, snapshot_version, payload, checksum
		 FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID).
		Scan(&snap.CurrentSequence, &version, &snap.Payload, &snap.Checksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cqrs.SerializedSnapshot{}, cqrs.ErrSnapshotNotFound
		}
		return cqrs.SerializedSnapshot{}, fmt.Errorf("query snapshot for %s/%s: %w", aggregateType, aggregateID, err)
	}
	if snap.SnapshotVersion, err = cqrs.ParseSemanticVersion(version); err != nil {
		return cqrs.SerializedSnapshot{}, fmt.Errorf("snapshot for %s/%s: %w", aggregateType, aggregateID, err)
	}
	return snap, nil
}

func (r *Repository) PersistSnapshot(ctx context.Context, snap cqrs.SerializedSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	// the WHERE clause keeps a newer snapshot in place
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, current_sequence, snapshot_version, payload, checksum)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
			current_sequence = excluded.current_sequence,
			snapshot_version = excluded.snapshot_version,
			payload          = excluded.payload,
			checksum         = excluded.checksum
		 WHERE excluded.current_sequence > snapshots.current_sequence`,
		snap.AggregateType, snap.AggregateID, snap.CurrentSequence,
		snap.SnapshotVersion.String(), []byte(snap.Payload), snap.Checksum)
	if err != nil {
		return fmt.Errorf("persist snapshot for %s/%s: %w", snap.AggregateType, snap.AggregateID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ cqrs.EventRepository    = (*Repository)(nil)
	_ cqrs.SnapshotRepository = (*Repository)(nil)
)
