package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/telehealth-api/pkg/errors"
)

type ConsultationStatus string

const (
	ConsultationStatusPending   ConsultationStatus = "pending"
	ConsultationStatusAssigned  ConsultationStatus = "assigned"
	ConsultationStatusReviewed  ConsultationStatus = "reviewed"
	ConsultationStatusCompleted ConsultationStatus = "completed"
	ConsultationStatusCancelled ConsultationStatus = "cancelled"
)

type ConsultationType string

const (
	ConsultationTypeIntake        ConsultationType = "intake"
	ConsultationTypeRefillCheckIn ConsultationType = "refill_checkin"
)

// Severity is reported on a 1..10 scale
const (
	MinSeverity = 1
	MaxSeverity = 10
)

var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationStatusPending:  {ConsultationStatusAssigned, ConsultationStatusReviewed, ConsultationStatusCompleted, ConsultationStatusCancelled},
	ConsultationStatusAssigned: {ConsultationStatusReviewed, ConsultationStatusCompleted, ConsultationStatusCancelled},
	ConsultationStatusReviewed: {ConsultationStatusCompleted},
}

func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	for _, allowed := range consultationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ConsultationStatus) IsTerminal() bool {
	return s == ConsultationStatusCompleted || s == ConsultationStatusCancelled
}

// IsOpen reports whether a provider can still act on the consultation
func (s ConsultationStatus) IsOpen() bool {
	return s == ConsultationStatusPending || s == ConsultationStatusAssigned
}

type Consultation struct {
	Base
	PatientID            uuid.UUID          `db:"patient_id" json:"patient_id"`
	Type                 ConsultationType   `db:"type" json:"type"`
	ChiefComplaint       string             `db:"chief_complaint" json:"chief_complaint"`
	Symptoms             string             `db:"symptoms" json:"symptoms,omitempty"`
	Severity             int                `db:"severity" json:"severity"`
	IntakeAnswers        JSONMap            `db:"intake_answers" json:"intake_answers,omitempty"`
	PhotoRefs            pq.StringArray     `db:"photo_refs" json:"photo_refs,omitempty"`
	Status               ConsultationStatus `db:"status" json:"status"`
	ProviderID           *uuid.UUID         `db:"provider_id" json:"provider_id,omitempty"`
	SourcePrescriptionID *uuid.UUID         `db:"source_prescription_id" json:"source_prescription_id,omitempty"`
	CompletedAt          *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt          *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// TransitionTo moves the consultation to next, leaving it untouched when the
// move is not allowed.
func (c *Consultation) TransitionTo(next ConsultationStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return errors.InvalidStateTransition("consultation", string(c.Status), string(next))
	}

	c.Status = next
	c.UpdatedAt = at
	switch next {
	case ConsultationStatusCompleted:
		c.CompletedAt = &at
	case ConsultationStatusCancelled:
		c.CancelledAt = &at
	}
	return nil
}

// AssignedToOther reports whether another provider has claimed the consultation
func (c *Consultation) AssignedToOther(providerID uuid.UUID) bool {
	return c.Status == ConsultationStatusAssigned && c.ProviderID != nil && *c.ProviderID != providerID
}

type CreateConsultationRequest struct {
	PatientID      *uuid.UUID `json:"patient_id"`
	ChiefComplaint string     `json:"chief_complaint" binding:"trimmed_required,max=500"`
	Symptoms       string     `json:"symptoms" binding:"max=4000"`
	Severity       int        `json:"severity" binding:"severity"`
	IntakeAnswers  JSONMap    `json:"intake_answers"`
	PhotoRefs      []string   `json:"photo_refs" binding:"max=10,dive,required,max=512"`
}

type PhotoUploadRequest struct {
	ContentType string `json:"content_type" binding:"required,oneof=image/jpeg image/png image/heic"`
}

type PhotoUpload struct {
	Key       string    `json:"key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CancelConsultationRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ConsultationFilters struct {
	Pagination
	PatientID  *uuid.UUID         `form:"-"`
	ProviderID *uuid.UUID         `form:"-"`
	Status     ConsultationStatus `form:"status"`
	Type       ConsultationType   `form:"type"`
}
