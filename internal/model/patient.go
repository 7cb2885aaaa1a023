package model

import (
	"time"

	"github.com/google/uuid"
)

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// MedicalHistory is stored encrypted; see security.Encryptor
type MedicalHistory struct {
	Allergies   []string `json:"allergies"`
	Medications []string `json:"medications"`
	Conditions  []string `json:"conditions"`
}

type Patient struct {
	Base
	UserID       uuid.UUID          `db:"user_id" json:"user_id"`
	Name         string             `db:"name" json:"name"`
	Email        string             `db:"email" json:"email"`
	Phone        *string            `db:"phone" json:"phone,omitempty"`
	DateOfBirth  *time.Time         `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Subscription SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	Status       PatientStatus      `db:"status" json:"status"`

	MedicalHistoryCiphertext []byte         `db:"medical_history" json:"-"`
	MedicalHistory           MedicalHistory `db:"-" json:"medical_history"`
}

func (p *Patient) IsActive() bool {
	return p.Status == PatientStatusActive
}

type CreatePatientRequest struct {
	UserID         *uuid.UUID      `json:"user_id"`
	Name           string          `json:"name" binding:"trimmed_required,max=200"`
	Email          string          `json:"email" binding:"required,email"`
	Phone          *string         `json:"phone" binding:"omitempty,e164"`
	DateOfBirth    *time.Time      `json:"date_of_birth"`
	MedicalHistory *MedicalHistory `json:"medical_history"`
}

type UpdatePatientRequest struct {
	Name           *string         `json:"name" binding:"omitempty,trimmed_required,max=200"`
	Email          *string         `json:"email" binding:"omitempty,email"`
	Phone          *string         `json:"phone" binding:"omitempty,e164"`
	DateOfBirth    *time.Time      `json:"date_of_birth"`
	MedicalHistory *MedicalHistory `json:"medical_history"`
}

type UpdateSubscriptionRequest struct {
	Subscription SubscriptionStatus `json:"subscription_status" binding:"required,oneof=none active past_due cancelled"`
}

type PatientFilters struct {
	Pagination
	SearchTerm string        `form:"search_term"`
	Status     PatientStatus `form:"status"`
}
