package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	apperrors "github.com/jwalitptl/telehealth-api/pkg/errors"
)

const consultationColumns = `id, patient_id, type, chief_complaint, symptoms, severity,
	intake_answers, photo_refs, status, provider_id, source_prescription_id,
	completed_at, cancelled_at, created_at, updated_at`

type consultationRepository struct {
	BaseRepository
}

func NewConsultationRepository(base BaseRepository) repository.ConsultationRepository {
	return &consultationRepository{base}
}

func (r *consultationRepository) Create(ctx context.Context, c *model.Consultation, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertConsultation(ctx, tx, c); err != nil {
			return err
		}
		return insertOutboxEvents(ctx, tx, event)
	})
}

func insertConsultation(ctx context.Context, tx sqlx.ExecerContext, c *model.Consultation) error {
	query := `
		INSERT INTO consultations (` + consultationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.ExecContext(ctx, query,
		c.ID,
		c.PatientID,
		c.Type,
		c.ChiefComplaint,
		c.Symptoms,
		c.Severity,
		c.IntakeAnswers,
		c.PhotoRefs,
		c.Status,
		c.ProviderID,
		c.SourcePrescriptionID,
		c.CompletedAt,
		c.CancelledAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create consultation: %w", err)
	}
	return nil
}

func (r *consultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	return getConsultation(ctx, r.db, id)
}

func getConsultation(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*model.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1`
	var c model.Consultation
	if err := sqlx.GetContext(ctx, q, &c, query, id); err != nil {
		return nil, mapError(err, "consultation")
	}
	return &c, nil
}

func (r *consultationRepository) List(ctx context.Context, filters *model.ConsultationFilters) ([]*model.Consultation, int, error) {
	var where whereBuilder
	if filters.PatientID != nil {
		where.add("patient_id = $%d", *filters.PatientID)
	}
	if filters.ProviderID != nil {
		// providers see the open queue plus what they have claimed
		where.add("(provider_id = $%d OR status = 'pending')", *filters.ProviderID)
	}
	if filters.Status != "" {
		where.add("status = $%d", filters.Status)
	}
	if filters.Type != "" {
		where.add("type = $%d", filters.Type)
	}

	from := " FROM consultations" + where.String()
	total, err := countQuery(ctx, r.db, from, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count consultations: %w", err)
	}

	limit, args := where.page(filters.Pagination)
	var consultations []*model.Consultation
	query := `SELECT ` + consultationColumns + from + ` ORDER BY created_at ASC` + limit
	if err := r.db.SelectContext(ctx, &consultations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list consultations: %w", err)
	}
	return consultations, total, nil
}

func (r *consultationRepository) UpdateStatus(ctx context.Context, c *model.Consultation, from model.ConsultationStatus, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateConsultationStatus(ctx, tx, c, from); err != nil {
			return err
		}
		return insertOutboxEvents(ctx, tx, event)
	})
}

// updateConsultationStatus is a compare-and-set on status. When nothing
// matches, the row is re-read to tell a missing consultation from a lost race.
func updateConsultationStatus(ctx context.Context, tx *sqlx.Tx, c *model.Consultation, from model.ConsultationStatus) error {
	query := `
		UPDATE consultations
		SET status = $1, provider_id = $2, completed_at = $3, cancelled_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	res, err := tx.ExecContext(ctx, query,
		c.Status,
		c.ProviderID,
		c.CompletedAt,
		c.CancelledAt,
		c.UpdatedAt,
		c.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update consultation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := getConsultation(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	return apperrors.InvalidStateTransition("consultation", string(current.Status), string(c.Status))
}
