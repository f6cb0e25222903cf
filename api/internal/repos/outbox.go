package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"berthing-hub/api/internal/models"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusSending   = "sending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusDead      = "dead"
)

const outboxColumns = `event_id, aggregate_type, aggregate_id, topic, payload, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, published_at`

type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

func scanOutbox(row pgx.Row, event *models.OutboxEvent) error {
	return row.Scan(
		&event.EventID, &event.AggregateType, &event.AggregateID, &event.Topic, &event.Payload, &event.Status, &event.Attempts,
		&event.NextRetryAt, &event.LockedAt, &event.LockedBy, &event.LastError, &event.CreatedAt, &event.UpdatedAt, &event.PublishedAt,
	)
}

// Insert runs on db so that callers can write the event in the same
// transaction as the change it announces.
func (r *OutboxRepo) Insert(ctx context.Context, db DBTX, event models.OutboxEvent) (models.OutboxEvent, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}

	err := scanOutbox(db.QueryRow(ctx, `
		INSERT INTO outbox_events (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+outboxColumns,
		event.EventID, event.AggregateType, event.AggregateID, event.Topic, event.Payload, event.Status, event.Attempts,
		event.NextRetryAt, event.LockedAt, event.LockedBy, event.LastError, event.CreatedAt, event.UpdatedAt, event.PublishedAt,
	), &event)
	return event, err
}

// ClaimPending moves up to limit due events to sending, oldest first.
// Concurrent scanners never claim the same row.
func (r *OutboxRepo) ClaimPending(ctx context.Context, owner string, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT event_id
			FROM outbox_events
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE outbox_events o
		SET status = $3, locked_at = now(), locked_by = $4, updated_at = now()
		FROM candidates c
		WHERE o.event_id = c.event_id
		RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.topic, o.payload, o.status, o.attempts,
			o.next_retry_at, o.locked_at, o.locked_by, o.last_error, o.created_at, o.updated_at, o.published_at
	`, OutboxStatusPending, limit, OutboxStatusSending, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]models.OutboxEvent, 0, limit)
	for rows.Next() {
		var event models.OutboxEvent
		if err := scanOutbox(rows, &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *OutboxRepo) GetByID(ctx context.Context, eventID uuid.UUID) (models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := scanOutbox(r.pool.QueryRow(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE event_id = $1`, eventID), &event)
	return event, err
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = now(), updated_at = now()
		WHERE event_id = $1
	`, eventID, OutboxStatusDelivered)
	return err
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, eventID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := OutboxStatusPending
	if dead {
		status = OutboxStatusDead
		nextRetryAt = nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, updated_at = now()
		WHERE event_id = $1
	`, eventID, status, attempts, nextRetryAt, lastErr)
	return err
}

// ReleaseStale returns events stuck in sending for longer than olderThan
// to pending, e.g. after a worker died between claim and dispatch.
func (r *OutboxRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE status = $2 AND locked_at < now() - make_interval(secs => $3)
	`, OutboxStatusPending, OutboxStatusSending, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RetryDelay backs off quadratically from 5s, capped at five minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
