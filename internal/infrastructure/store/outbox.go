package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// OutboxEvent is one pending notification written in the same transaction as
// its event. Draining the outbox upgrades the publish guarantee from
// best-effort to at-least-once even across a crash between append and publish;
// consumers that dedupe by event id get effectively-exactly-once.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	AggregateID string     `json:"aggregate_id"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
}

// insertOutboxTx records the full event envelope as a pending outbox row.
func insertOutboxTx(ctx context.Context, tx *sql.Tx, event Event) error {
	envelope, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (event_id, aggregate_id, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		event.ID, event.AggregateID, envelope, time.Now(),
	)
	return err
}

// OutboxRelay drains pending outbox rows to a Publisher. Rows are only marked
// published after a successful publish, so a crash mid-batch re-delivers
// rather than drops (at-least-once).
type OutboxRelay struct {
	db        *sql.DB
	publisher Publisher
	batchSize int
	interval  time.Duration
}

func NewOutboxRelay(db *sql.DB, publisher Publisher) *OutboxRelay {
	return &OutboxRelay{
		db:        db,
		publisher: publisher,
		batchSize: 100,
		interval:  time.Second,
	}
}

// Run polls the outbox until the context is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				log.Printf("[Outbox] Drain failed: %v", err)
			} else if n > 0 {
				log.Printf("[Outbox] Published %d pending events", n)
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows and returns how many were
// delivered. Publish failures stop the batch; the remaining rows stay pending.
func (r *OutboxRelay) DrainOnce(ctx context.Context) (int, error) {
	pending, err := r.fetchPending(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, row := range pending {
		var event Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			// A row that cannot be decoded would wedge the relay forever;
			// mark it published and keep going. The event log still holds
			// the authoritative record.
			log.Printf("[Outbox] Dropping undecodable row %d (event %s): %v", row.ID, row.EventID, err)
			if err := r.markPublished(ctx, row.ID); err != nil {
				return published, err
			}
			continue
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			return published, err
		}
		if err := r.markPublished(ctx, row.ID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

func (r *OutboxRelay) fetchPending(ctx context.Context) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_id, aggregate_id, payload, created_at
		 FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY id ASC
		 LIMIT $1`,
		r.batchSize,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "fetch outbox", Err: err}
	}
	defer rows.Close()

	var pending []OutboxEvent
	for rows.Next() {
		var row OutboxEvent
		if err := rows.Scan(&row.ID, &row.EventID, &row.AggregateID, &row.Payload, &row.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan outbox", Err: err}
		}
		pending = append(pending, row)
	}
	return pending, rows.Err()
}

func (r *OutboxRelay) markPublished(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox SET published_at = $1 WHERE id = $2",
		time.Now(), id,
	)
	if err != nil {
		return &PersistenceError{Op: "mark published", Err: err}
	}
	return nil
}
