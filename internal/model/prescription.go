package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/pkg/errors"
)

type PrescriptionStatus string

const (
	PrescriptionStatusActive    PrescriptionStatus = "active"
	PrescriptionStatusExhausted PrescriptionStatus = "exhausted"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
)

type Prescription struct {
	Base
	PatientID        uuid.UUID          `db:"patient_id" json:"patient_id"`
	ConsultationID   uuid.UUID          `db:"consultation_id" json:"consultation_id"`
	ReviewID         uuid.UUID          `db:"review_id" json:"review_id"`
	ProviderID       uuid.UUID          `db:"provider_id" json:"provider_id"`
	MedicationName   string             `db:"medication_name" json:"medication_name"`
	Dosage           string             `db:"dosage" json:"dosage"`
	Instructions     string             `db:"instructions" json:"instructions,omitempty"`
	Quantity         int                `db:"quantity" json:"quantity"`
	RefillsRemaining int                `db:"refills_remaining" json:"refills_remaining"`
	Status           PrescriptionStatus `db:"status" json:"status"`
}

// ConsumeRefill takes one refill off the budget. The count never goes below
// zero; the prescription becomes exhausted when the last refill is used.
func (p *Prescription) ConsumeRefill(at time.Time) error {
	if p.RefillsRemaining <= 0 {
		return errors.RefillExhausted()
	}
	if p.Status != PrescriptionStatusActive {
		return errors.Validation("prescription is not active", nil)
	}

	p.RefillsRemaining--
	if p.RefillsRemaining == 0 {
		p.Status = PrescriptionStatusExhausted
	}
	p.UpdatedAt = at
	return nil
}

// RefillRequest records an accepted refill keyed by the caller's idempotency token
type RefillRequest struct {
	RequestID      string    `db:"request_id" json:"request_id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type CreateRefillRequest struct {
	RequestID string `json:"request_id" binding:"max=128"`
}

type RefillResult struct {
	Prescription *Prescription `json:"prescription"`
	Consultation *Consultation `json:"consultation"`
	Replayed     bool          `json:"replayed"`
}

type PrescriptionFilters struct {
	Pagination
	PatientID *uuid.UUID         `form:"-"`
	Status    PrescriptionStatus `form:"status"`
}

type ConfirmRefillRequest struct {
	UnitPriceCents int64  `json:"unit_price_cents" binding:"min=0"`
	Note           string `json:"note" binding:"max=500"`
}

type DeclineRefillRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}
