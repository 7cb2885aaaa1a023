// Package access decides which patient records a principal may act on
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
)

type Resolver struct {
	patients repository.PatientRepository
}

func NewResolver(patients repository.PatientRepository) *Resolver {
	return &Resolver{patients: patients}
}

// PatientFor returns the patient profile of a caller with the patient role
func (r *Resolver) PatientFor(ctx context.Context, p model.Principal) (*model.Patient, error) {
	if !p.IsPatient() {
		return nil, errors.Forbidden("only patients have a patient profile")
	}
	patient, err := r.patients.GetByUserID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.NotFound("patient profile", nil)
		}
		return nil, err
	}
	return patient, nil
}

// ScopePatient resolves the patient a request acts for. Patients always act
// for themselves; staff must name the patient explicitly.
func (r *Resolver) ScopePatient(ctx context.Context, p model.Principal, requested *uuid.UUID) (*model.Patient, error) {
	if p.IsPatient() {
		return r.PatientFor(ctx, p)
	}
	if requested == nil || *requested == uuid.Nil {
		return nil, errors.Validation("patient_id is required", nil)
	}
	return r.patients.Get(ctx, *requested)
}

// CheckOwner hides records of other patients behind a not found error.
// Providers and admins may read any patient's records.
func (r *Resolver) CheckOwner(ctx context.Context, p model.Principal, patientID uuid.UUID, resource string) error {
	if !p.IsPatient() {
		return nil
	}
	patient, err := r.PatientFor(ctx, p)
	if err != nil {
		return err
	}
	if patient.ID != patientID {
		return errors.NotFound(resource, nil)
	}
	return nil
}

// ListScope narrows list filters to the caller's own patient id when the
// caller is a patient, otherwise keeps the requested one.
func (r *Resolver) ListScope(ctx context.Context, p model.Principal, requested *uuid.UUID) (*uuid.UUID, error) {
	if !p.IsPatient() {
		return requested, nil
	}
	patient, err := r.PatientFor(ctx, p)
	if err != nil {
		return nil, err
	}
	return &patient.ID, nil
}
