package model

import (
	"time"

	"github.com/google/uuid"
)

// ProviderReview is immutable once signed
type ProviderReview struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	ProviderID     uuid.UUID `db:"provider_id" json:"provider_id"`
	Diagnosis      string    `db:"diagnosis" json:"diagnosis"`
	TreatmentNotes string    `db:"treatment_notes" json:"treatment_notes"`
	SignedAt       time.Time `db:"signed_at" json:"signed_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type MedicationSelection struct {
	Name         string `json:"name" binding:"trimmed_required,max=200"`
	Dosage       string `json:"dosage" binding:"trimmed_required,max=100"`
	Quantity     int    `json:"quantity" binding:"min=1,max=1000"`
	Instructions string `json:"instructions" binding:"max=1000"`
	Refills      int    `json:"refills" binding:"min=0,max=12"`
}

type SubmitReviewRequest struct {
	Diagnosis      string                `json:"diagnosis" binding:"trimmed_required,max=2000"`
	TreatmentNotes string                `json:"treatment_notes" binding:"max=8000"`
	Medications    []MedicationSelection `json:"medications" binding:"required,min=1,max=20,dive"`
}

type ReviewResult struct {
	Review        *ProviderReview `json:"review"`
	Consultation  *Consultation   `json:"consultation"`
	Prescriptions []*Prescription `json:"prescriptions"`
}
