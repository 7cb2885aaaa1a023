package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	return insertOutboxEvents(ctx, r.db, event)
}

// ClaimPending pushes retry_at forward by lease on the claimed rows. A worker
// that dies mid-batch therefore only delays those events until the lease ends.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET retry_at = NOW() + $2 * INTERVAL '1 millisecond', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status IN ('pending', 'retry')
			AND (retry_at IS NULL OR retry_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var events []*model.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query, limit, lease.Milliseconds()); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = 'processed', error_message = NULL, retry_at = NULL,
			processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, retryAt time.Time, errorMessage string) error {
	query := `
		UPDATE outbox_events
		SET status = 'retry', retry_count = $1, retry_at = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, retryCount, retryAt, errorMessage, id)
	return err
}

func (r *outboxRepository) MoveToDeadLetter(ctx context.Context, evt *model.OutboxEvent, errorMessage string) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO outbox_events_deadletter (
				event_id, event_type, payload, error_message,
				retry_count, last_retry_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`
		_, err := tx.ExecContext(ctx, query, evt.ID, evt.EventType, []byte(evt.Payload),
			errorMessage, evt.RetryCount, evt.RetryAt)
		if err != nil {
			return fmt.Errorf("failed to write dead letter: %w", err)
		}

		update := `
			UPDATE outbox_events
			SET status = 'failed', error_message = $1, retry_at = NULL, updated_at = NOW()
			WHERE id = $2
		`
		_, err = tx.ExecContext(ctx, update, errorMessage, evt.ID)
		return err
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
