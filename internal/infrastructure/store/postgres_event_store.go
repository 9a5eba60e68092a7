package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresEventStore stores events in PostgreSQL.
//
// The optimistic-concurrency check is enforced by the unique constraint on
// (aggregate_id, version): the event is inserted at expectedVersion+1 and a
// unique violation means another writer got there first.
type PostgresEventStore struct {
	db        *sql.DB
	publisher Publisher
	useOutbox bool
}

func NewPostgresEventStore(db *sql.DB, publisher Publisher) *PostgresEventStore {
	return &PostgresEventStore{
		db:        db,
		publisher: publisher,
	}
}

// NewPostgresEventStoreWithOutbox writes an outbox row in the same transaction
// as each event. Drain the outbox with an OutboxRelay; the synchronous
// publisher is skipped in this mode.
func NewPostgresEventStoreWithOutbox(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{
		db:        db,
		useOutbox: true,
	}
}

// Append stores an event in PostgreSQL and publishes it on success.
func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload any, expectedVersion int, opts ...AppendOption) (*Event, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if expectedVersion < 0 {
		return nil, ErrConcurrencyConflict
	}

	event := Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       jsonPayload,
		Version:       expectedVersion + 1,
		OccurredAt:    time.Now(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	// Fail fast on a stale expectedVersion before attempting the insert. The
	// unique constraint still backstops writers that race past this read.
	var currentVersion int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		aggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, &PersistenceError{Op: "append", Err: err}
	}
	if currentVersion != expectedVersion {
		return nil, ErrConcurrencyConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, payload, version, occurred_at, actor_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		event.ID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		[]byte(event.Payload),
		event.Version,
		event.OccurredAt,
		event.ActorID,
		nullableJSON(event.Metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConcurrencyConflict
		}
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	if es.useOutbox {
		if err := insertOutboxTx(ctx, tx, event); err != nil {
			return nil, &PersistenceError{Op: "append outbox", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConcurrencyConflict
		}
		return nil, &PersistenceError{Op: "append commit", Err: err}
	}

	// The event is durable. Publish failures are logged, never returned.
	if !es.useOutbox && es.publisher != nil {
		if err := es.publisher.Publish(ctx, event); err != nil {
			log.Printf("[EventStore] Failed to publish event %s: %v", event.ID, err)
		}
	}

	return &event, nil
}

// CurrentVersion returns the highest persisted version for the aggregate,
// or 0 if no events exist.
func (es *PostgresEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := es.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1",
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, &PersistenceError{Op: "current version", Err: err}
	}
	return version, nil
}

// ReadEvents returns events with version > afterVersion, ascending by version.
func (es *PostgresEventStore) ReadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, payload, version, occurred_at, actor_id, metadata
		 FROM events
		 WHERE aggregate_id = $1 AND version > $2
		 ORDER BY version ASC`,
		aggregateID, afterVersion,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "read events", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadByType returns the most recent events of one event type across
// aggregates, ordered by occurred_at descending.
func (es *PostgresEventStore) ReadByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, payload, version, occurred_at, actor_id, metadata
		 FROM events
		 WHERE event_type = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		eventType, limit,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "read by type", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadByActor returns the most recent events caused by one actor.
func (es *PostgresEventStore) ReadByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, payload, version, occurred_at, actor_id, metadata
		 FROM events
		 WHERE actor_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		actorID, limit,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "read by actor", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SaveSnapshot overwrites any existing snapshot for the aggregate.
func (es *PostgresEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	_, err := es.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, state, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id) DO UPDATE
		 SET aggregate_type = EXCLUDED.aggregate_type,
		     state = EXCLUDED.state,
		     version = EXCLUDED.version,
		     updated_at = EXCLUDED.updated_at`,
		snapshot.AggregateID,
		snapshot.AggregateType,
		[]byte(snapshot.State),
		snapshot.Version,
		snapshot.CreatedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "save snapshot", Err: err}
	}
	return nil
}

// GetSnapshot returns the latest snapshot, or (nil, nil) when none exists.
func (es *PostgresEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var s Snapshot
	var state []byte
	err := es.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, state, version, updated_at
		 FROM snapshots
		 WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&s.AggregateID, &s.AggregateType, &state, &s.Version, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get snapshot", Err: err}
	}
	s.State = state
	return &s, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var payload, metadata []byte
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload, &e.Version, &e.OccurredAt, &actorID, &metadata); err != nil {
			return nil, &PersistenceError{Op: "scan event", Err: err}
		}
		e.Payload = payload
		e.Metadata = metadata
		e.ActorID = actorID.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "scan events", Err: err}
	}
	return events, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// EnsureSchema creates the event, snapshot and outbox tables if they are
// missing. The unique constraint on (aggregate_id, version) is the anchor of
// the concurrency contract; do not relax it.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			version INTEGER NOT NULL CHECK (version > 0),
			occurred_at TIMESTAMPTZ NOT NULL,
			actor_id TEXT,
			metadata JSONB,
			UNIQUE (aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor_id ON events (actor_id, occurred_at DESC)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id TEXT PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			state JSONB NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL,
			aggregate_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox (id) WHERE published_at IS NULL`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return &PersistenceError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}
