package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	apperrors "github.com/jwalitptl/telehealth-api/pkg/errors"
)

const prescriptionColumns = `id, patient_id, consultation_id, review_id, provider_id,
	medication_name, dosage, instructions, quantity, refills_remaining, status,
	created_at, updated_at`

type prescriptionRepository struct {
	BaseRepository
}

func NewPrescriptionRepository(base BaseRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{base}
}

func insertPrescription(ctx context.Context, tx sqlx.ExecerContext, p *model.Prescription) error {
	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := tx.ExecContext(ctx, query,
		p.ID,
		p.PatientID,
		p.ConsultationID,
		p.ReviewID,
		p.ProviderID,
		p.MedicationName,
		p.Dosage,
		p.Instructions,
		p.Quantity,
		p.RefillsRemaining,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	var p model.Prescription
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, mapError(err, "prescription")
	}
	return &p, nil
}

func (r *prescriptionRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.Prescription, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = ANY($1::uuid[])`
	var prescriptions []*model.Prescription
	if err := r.db.SelectContext(ctx, &prescriptions, query, pq.Array(strIDs)); err != nil {
		return nil, fmt.Errorf("failed to load prescriptions: %w", err)
	}
	return prescriptions, nil
}

func (r *prescriptionRepository) List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error) {
	var where whereBuilder
	if filters.PatientID != nil {
		where.add("patient_id = $%d", *filters.PatientID)
	}
	if filters.Status != "" {
		where.add("status = $%d", filters.Status)
	}

	from := " FROM prescriptions" + where.String()
	total, err := countQuery(ctx, r.db, from, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count prescriptions: %w", err)
	}

	limit, args := where.page(filters.Pagination)
	var prescriptions []*model.Prescription
	query := `SELECT ` + prescriptionColumns + from + ` ORDER BY created_at DESC` + limit
	if err := r.db.SelectContext(ctx, &prescriptions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return prescriptions, total, nil
}

func (r *prescriptionRepository) GetRefillRequest(ctx context.Context, patientID uuid.UUID, requestID string) (*model.RefillRequest, error) {
	return getRefillRequest(ctx, r.db, patientID, requestID)
}

// Request ids are chosen by clients, so they are only unique per patient
func getRefillRequest(ctx context.Context, q sqlx.QueryerContext, patientID uuid.UUID, requestID string) (*model.RefillRequest, error) {
	query := `
		SELECT request_id, prescription_id, patient_id, consultation_id, created_at
		FROM refill_requests
		WHERE patient_id = $1 AND request_id = $2
	`
	var req model.RefillRequest
	if err := sqlx.GetContext(ctx, q, &req, query, patientID, requestID); err != nil {
		return nil, mapError(err, "refill request")
	}
	return &req, nil
}

func (r *prescriptionRepository) ApplyRefill(ctx context.Context, app *repository.RefillApplication) (*model.RefillResult, error) {
	var result *model.RefillResult
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = r.applyRefill(ctx, tx, app)
		return err
	})

	// A concurrent request with the same token committed first
	if isUniqueViolation(err) && uniqueConstraint(err) == "refill_requests_patient_request_key" {
		return r.replay(ctx, r.db, app)
	}
	if err != nil {
		return nil, mapError(err, "prescription")
	}
	return result, nil
}

func (r *prescriptionRepository) applyRefill(ctx context.Context, tx *sqlx.Tx, app *repository.RefillApplication) (*model.RefillResult, error) {
	if seen, err := r.seenRequest(ctx, tx, app); seen || err != nil {
		return r.replayOrFail(ctx, tx, app, err)
	}

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 FOR UPDATE`
	var p model.Prescription
	if err := tx.GetContext(ctx, &p, query, app.PrescriptionID); err != nil {
		return nil, mapError(err, "prescription")
	}
	if p.PatientID != app.PatientID {
		return nil, apperrors.NotFound("prescription", nil)
	}

	// The same request may have committed while we waited for the row lock
	if seen, err := r.seenRequest(ctx, tx, app); seen || err != nil {
		return r.replayOrFail(ctx, tx, app, err)
	}

	if err := p.ConsumeRefill(app.At); err != nil {
		return nil, err
	}

	update := `
		UPDATE prescriptions
		SET refills_remaining = $1, status = $2, updated_at = $3
		WHERE id = $4 AND refills_remaining > 0
	`
	res, err := tx.ExecContext(ctx, update, p.RefillsRemaining, p.Status, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrement refills: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, apperrors.RefillExhausted()
	}

	c := app.Consultation
	c.PatientID = p.PatientID
	c.Type = model.ConsultationTypeRefillCheckIn
	c.Status = model.ConsultationStatusPending
	c.SourcePrescriptionID = &p.ID
	if c.ChiefComplaint == "" {
		c.ChiefComplaint = fmt.Sprintf("Refill request: %s %s", p.MedicationName, p.Dosage)
	}
	if err := insertConsultation(ctx, tx, c); err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO refill_requests (request_id, prescription_id, patient_id, consultation_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, insert, app.RequestID, p.ID, p.PatientID, c.ID, app.At); err != nil {
		return nil, err
	}

	if err := insertOutboxEvents(ctx, tx, app.Event); err != nil {
		return nil, err
	}

	return &model.RefillResult{Prescription: &p, Consultation: c}, nil
}

func (r *prescriptionRepository) seenRequest(ctx context.Context, q sqlx.QueryerContext, app *repository.RefillApplication) (bool, error) {
	_, err := getRefillRequest(ctx, q, app.PatientID, app.RequestID)
	switch {
	case err == nil:
		return true, nil
	case apperrors.Is(err, apperrors.CodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (r *prescriptionRepository) replayOrFail(ctx context.Context, q sqlx.QueryerContext, app *repository.RefillApplication, err error) (*model.RefillResult, error) {
	if err != nil {
		return nil, err
	}
	return r.replay(ctx, q, app)
}

// replay returns the outcome recorded for a request id without touching the
// prescription again
func (r *prescriptionRepository) replay(ctx context.Context, q sqlx.QueryerContext, app *repository.RefillApplication) (*model.RefillResult, error) {
	req, err := getRefillRequest(ctx, q, app.PatientID, app.RequestID)
	if err != nil {
		return nil, err
	}
	if req.PrescriptionID != app.PrescriptionID {
		return nil, apperrors.Conflict("request id was already used for a different refill", nil)
	}

	var p model.Prescription
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	if err := sqlx.GetContext(ctx, q, &p, query, req.PrescriptionID); err != nil {
		return nil, mapError(err, "prescription")
	}
	c, err := getConsultation(ctx, q, req.ConsultationID)
	if err != nil {
		return nil, err
	}
	return &model.RefillResult{Prescription: &p, Consultation: c, Replayed: true}, nil
}
