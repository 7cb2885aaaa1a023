package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	apperrors "github.com/jwalitptl/telehealth-api/pkg/errors"
)

const notificationColumns = `id, patient_id, event_id, channel, recipient, subject, content,
	status, retry_count, last_error, next_retry_at, sent_at, created_at, updated_at`

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	now := time.Now().UTC()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.PatientID,
		n.EventID,
		n.Channel,
		n.Recipient,
		n.Subject,
		n.Content,
		n.Status,
		n.RetryCount,
		n.LastError,
		n.NextRetryAt,
		n.SentAt,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.Conflict("notification already exists for event", err)
	}
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1, retry_count = $2, last_error = $3, next_retry_at = $4,
			sent_at = $5, updated_at = $6
		WHERE id = $7
	`
	n.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		n.Status,
		n.RetryCount,
		n.LastError,
		n.NextRetryAt,
		n.SentAt,
		n.UpdatedAt,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error) {
	query := `
		UPDATE notifications
		SET next_retry_at = NOW() + $2 * INTERVAL '1 millisecond', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'retrying' AND next_retry_at <= NOW()
			ORDER BY next_retry_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	var notifications []*model.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, limit, lease.Milliseconds()); err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, p model.Pagination) ([]*model.Notification, int, error) {
	var where whereBuilder
	where.add("patient_id = $%d", patientID)

	from := " FROM notifications" + where.String()
	total, err := countQuery(ctx, r.db, from, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit, args := where.page(p)
	var notifications []*model.Notification
	query := `SELECT ` + notificationColumns + from + ` ORDER BY created_at DESC` + limit
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, total, nil
}
