package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
	NotificationStatusRetrying NotificationStatus = "retrying"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
)

type Notification struct {
	ID          uuid.UUID           `db:"id" json:"id"`
	PatientID   uuid.UUID           `db:"patient_id" json:"patient_id"`
	EventID     uuid.UUID           `db:"event_id" json:"event_id"`
	Channel     NotificationChannel `db:"channel" json:"channel"`
	Recipient   string              `db:"recipient" json:"recipient"`
	Subject     string              `db:"subject" json:"subject"`
	Content     string              `db:"content" json:"content"`
	Status      NotificationStatus  `db:"status" json:"status"`
	RetryCount  int                 `db:"retry_count" json:"retry_count"`
	LastError   *string             `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt *time.Time          `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SentAt      *time.Time          `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
}
