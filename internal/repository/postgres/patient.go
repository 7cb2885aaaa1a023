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

const patientColumns = `id, user_id, name, email, phone, date_of_birth,
	subscription_status, status, medical_history, created_at, updated_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.UserID,
		patient.Name,
		patient.Email,
		patient.Phone,
		patient.DateOfBirth,
		patient.Subscription,
		patient.Status,
		patient.MedicalHistoryCiphertext,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.Conflict("a patient with this account or email already exists", err)
	}
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, mapError(err, "patient")
	}
	return &patient, nil
}

func (r *patientRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE user_id = $1`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, userID); err != nil {
		return nil, mapError(err, "patient")
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET name = $1, email = $2, phone = $3, date_of_birth = $4,
			subscription_status = $5, status = $6, medical_history = $7, updated_at = $8
		WHERE id = $9
	`
	patient.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query,
		patient.Name,
		patient.Email,
		patient.Phone,
		patient.DateOfBirth,
		patient.Subscription,
		patient.Status,
		patient.MedicalHistoryCiphertext,
		patient.UpdatedAt,
		patient.ID,
	)
	if err != nil {
		return mapError(err, "patient")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}

func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	var where whereBuilder
	if filters.Status != "" {
		where.add("status = $%d", filters.Status)
	}
	if filters.SearchTerm != "" {
		where.add("(name ILIKE $%[1]d OR email ILIKE $%[1]d)", "%"+filters.SearchTerm+"%")
	}

	from := " FROM patients" + where.String()
	total, err := countQuery(ctx, r.db, from, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}

	limit, args := where.page(filters.Pagination)
	var patients []*model.Patient
	query := `SELECT ` + patientColumns + from + ` ORDER BY created_at DESC` + limit
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, total, nil
}
