package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/telehealth-api/internal/model"
	apperrors "github.com/jwalitptl/telehealth-api/pkg/errors"
)

const uniqueViolation = "23505"

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("failed to roll back transaction")
		}
		return err
	}

	return tx.Commit()
}

// mapError turns driver errors into the application taxonomy. Errors that are
// already application errors pass through untouched.
func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	if isUniqueViolation(err) {
		return apperrors.Conflict("", err)
	}
	return fmt.Errorf("%s: %w", resource, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func uniqueConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint
	}
	return ""
}

const outboxColumns = `id, event_type, aggregate_id, patient_id, payload, status,
	error_message, retry_count, retry_at, created_at, processed_at, updated_at`

func insertOutboxEvents(ctx context.Context, tx sqlx.ExecerContext, events ...*model.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (` + outboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, evt := range events {
		if evt == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, query,
			evt.ID,
			evt.EventType,
			evt.AggregateID,
			evt.PatientID,
			[]byte(evt.Payload),
			evt.Status,
			evt.ErrorMessage,
			evt.RetryCount,
			evt.RetryAt,
			evt.CreatedAt,
			evt.ProcessedAt,
			evt.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to write outbox event %s: %w", evt.EventType, err)
		}
	}
	return nil
}

// countQuery wraps a filtered select into a count
func countQuery(ctx context.Context, q sqlx.QueryerContext, from string, args ...interface{}) (int, error) {
	var total int
	if err := sqlx.GetContext(ctx, q, &total, "SELECT COUNT(*) "+from, args...); err != nil {
		return 0, err
	}
	return total, nil
}

// whereBuilder accumulates AND-ed conditions with positional arguments.
// Each clause carries a single %d verb for its placeholder index.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the query suffix with its args
func (w *whereBuilder) page(p model.Pagination) (string, []interface{}) {
	args := append(append([]interface{}{}, w.args...), p.PageSize, p.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}
