package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/model"
)

// All repository interfaces in one file
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error)
	}

	ConsultationRepository interface {
		// Create stores the consultation together with its outbox event
		Create(ctx context.Context, consultation *model.Consultation, event *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error)
		List(ctx context.Context, filters *model.ConsultationFilters) ([]*model.Consultation, int, error)
		// UpdateStatus persists an already transitioned consultation only if the
		// stored status still equals from.
		UpdateStatus(ctx context.Context, consultation *model.Consultation, from model.ConsultationStatus, event *model.OutboxEvent) error
	}

	ReviewRepository interface {
		GetByConsultation(ctx context.Context, consultationID uuid.UUID) (*model.ProviderReview, error)
		// CreateWithPrescriptions signs the review, moves the consultation out of
		// from and stores the prescriptions in one transaction.
		CreateWithPrescriptions(ctx context.Context, review *model.ProviderReview, consultation *model.Consultation, from model.ConsultationStatus, prescriptions []*model.Prescription, events []*model.OutboxEvent) error
	}

	PrescriptionRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
		GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.Prescription, error)
		List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error)
		GetRefillRequest(ctx context.Context, patientID uuid.UUID, requestID string) (*model.RefillRequest, error)
		// ApplyRefill decrements the prescription under a row lock and opens the
		// refill consultation. A request id seen before replays the original outcome.
		ApplyRefill(ctx context.Context, app *RefillApplication) (*model.RefillResult, error)
	}

	OrderRepository interface {
		// CreateWithItems stores the order, its items and first history entry,
		// and completes the reviewed consultations the items came from.
		CreateWithItems(ctx context.Context, order *model.Order, consultationIDs []uuid.UUID, actorID uuid.UUID, event *model.OutboxEvent) error
		// CreateForConsultation stores the order and moves the consultation out
		// of from, both or neither.
		CreateForConsultation(ctx context.Context, order *model.Order, consultation *model.Consultation, from model.ConsultationStatus, actorID uuid.UUID, events []*model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Order, error)
		List(ctx context.Context, filters *model.OrderFilters) ([]*model.Order, int, error)
		// UpdateStatus persists an already transitioned order only if the stored
		// status still equals from.
		UpdateStatus(ctx context.Context, order *model.Order, from model.OrderStatus, actorID uuid.UUID, note string, event *model.OutboxEvent) error
		UpdatePayment(ctx context.Context, id uuid.UUID, status model.PaymentStatus, reference *string) error
		History(ctx context.Context, orderID uuid.UUID) ([]*model.OrderStatusEvent, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending leases up to limit due events so concurrent workers skip them
		ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, retryAt time.Time, errorMessage string) error
		MoveToDeadLetter(ctx context.Context, event *model.OutboxEvent, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	NotificationRepository interface {
		// Create returns a conflict error when the event already produced a
		// notification on the same channel.
		Create(ctx context.Context, notification *model.Notification) error
		Update(ctx context.Context, notification *model.Notification) error
		ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID, p model.Pagination) ([]*model.Notification, int, error)
	}
)

// RefillApplication carries everything ApplyRefill needs. Consultation and
// Event are prepared by the caller; Consultation is filled in from the
// prescription inside the transaction.
type RefillApplication struct {
	RequestID      string
	PrescriptionID uuid.UUID
	PatientID      uuid.UUID
	Consultation   *model.Consultation
	Event          *model.OutboxEvent
	At             time.Time
}
