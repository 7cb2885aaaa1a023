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

type reviewRepository struct {
	BaseRepository
}

func NewReviewRepository(base BaseRepository) repository.ReviewRepository {
	return &reviewRepository{base}
}

func (r *reviewRepository) GetByConsultation(ctx context.Context, consultationID uuid.UUID) (*model.ProviderReview, error) {
	query := `
		SELECT id, consultation_id, provider_id, diagnosis, treatment_notes, signed_at, created_at
		FROM provider_reviews
		WHERE consultation_id = $1
	`
	var review model.ProviderReview
	if err := r.db.GetContext(ctx, &review, query, consultationID); err != nil {
		return nil, mapError(err, "review")
	}
	return &review, nil
}

func (r *reviewRepository) CreateWithPrescriptions(
	ctx context.Context,
	review *model.ProviderReview,
	consultation *model.Consultation,
	from model.ConsultationStatus,
	prescriptions []*model.Prescription,
	events []*model.OutboxEvent,
) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// The unique index on consultation_id serialises concurrent reviews:
		// the loser blocks here until the winner commits, then fails.
		query := `
			INSERT INTO provider_reviews (
				id, consultation_id, provider_id, diagnosis, treatment_notes, signed_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.ExecContext(ctx, query,
			review.ID,
			review.ConsultationID,
			review.ProviderID,
			review.Diagnosis,
			review.TreatmentNotes,
			review.SignedAt,
			review.CreatedAt,
		)
		if isUniqueViolation(err) {
			return apperrors.Conflict("consultation has already been reviewed", err)
		}
		if err != nil {
			return fmt.Errorf("failed to create review: %w", err)
		}

		if err := updateConsultationStatus(ctx, tx, consultation, from); err != nil {
			return err
		}

		for _, p := range prescriptions {
			if err := insertPrescription(ctx, tx, p); err != nil {
				return err
			}
		}

		return insertOutboxEvents(ctx, tx, events...)
	})
}
