package prescription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/internal/service/access"
	"github.com/jwalitptl/telehealth-api/internal/service/audit"
	"github.com/jwalitptl/telehealth-api/internal/service/consultation"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

const maxRequestIDLength = 128

// Dispenser turns a confirmed refill into an order
type Dispenser interface {
	DispenseRefill(ctx context.Context, actor model.Principal, c *model.Consultation, from model.ConsultationStatus, p *model.Prescription, unitPriceCents int64, note string) (*model.OrderResult, error)
}

type PrescriptionService interface {
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Prescription, error)
	List(ctx context.Context, actor model.Principal, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error)
	RequestRefill(ctx context.Context, actor model.Principal, prescriptionID uuid.UUID, requestID string) (*model.RefillResult, error)
	ConfirmRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.ConfirmRefillRequest) (*model.OrderResult, error)
	DeclineRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, reason string) (*model.Consultation, error)
}

type Service struct {
	repo          repository.PrescriptionRepository
	consultations repository.ConsultationRepository
	access        *access.Resolver
	dispenser     Dispenser
	seen          *cache.Cache
	auditor       *audit.Service
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewService(
	repo repository.PrescriptionRepository,
	consultations repository.ConsultationRepository,
	patients repository.PatientRepository,
	dispenser Dispenser,
	idempotencyTTL time.Duration,
	auditor *audit.Service,
	m *metrics.Metrics,
) *Service {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &Service{
		repo:          repo,
		consultations: consultations,
		access:        access.NewResolver(patients),
		dispenser:     dispenser,
		seen:          cache.New(idempotencyTTL, idempotencyTTL/2),
		auditor:       auditor,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	if err := s.access.CheckOwner(ctx, actor, p.PatientID, "prescription"); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, actor model.Principal, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error) {
	patientID, err := s.access.ListScope(ctx, actor, filters.PatientID)
	if err != nil {
		return nil, 0, err
	}
	filters.PatientID = patientID
	filters.Normalize()

	list, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return list, total, nil
}

type refillPayload struct {
	consultation.EventPayload
	PrescriptionID uuid.UUID `json:"prescription_id"`
	RequestID      string    `json:"request_id"`
}

// RequestRefill spends one refill and opens a check-in consultation.
// Submitting the same request id again returns the first outcome and
// never spends a second refill.
func (s *Service) RequestRefill(ctx context.Context, actor model.Principal, prescriptionID uuid.UUID, requestID string) (*model.RefillResult, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, errors.Validation("an idempotency key is required", nil)
	}
	if len(requestID) > maxRequestIDLength {
		return nil, errors.Validation(fmt.Sprintf("idempotency key must be at most %d characters", maxRequestIDLength), nil)
	}

	patient, err := s.access.PatientFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !patient.IsActive() {
		return nil, errors.Validation("patient account is inactive", nil)
	}

	cacheKey := patient.ID.String() + ":" + requestID
	if cached, ok := s.seen.Get(cacheKey); ok {
		res := cached.(model.RefillResult)
		if res.Prescription.ID != prescriptionID {
			return nil, errors.Conflict("request id was already used for a different refill", nil)
		}
		s.metrics.RefillsRequested.WithLabelValues("replayed").Inc()
		res.Replayed = true
		return &res, nil
	}

	now := s.now()
	c := &model.Consultation{
		Base:          model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Severity:      model.MinSeverity,
		IntakeAnswers: model.JSONMap{},
	}
	event, err := model.NewOutboxEvent(model.EventRefillRequested, c.ID, patient.ID, refillPayload{
		EventPayload: consultation.EventPayload{
			ConsultationID: c.ID,
			Type:           model.ConsultationTypeRefillCheckIn,
			Status:         model.ConsultationStatusPending,
		},
		PrescriptionID: prescriptionID,
		RequestID:      requestID,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.repo.ApplyRefill(ctx, &repository.RefillApplication{
		RequestID:      requestID,
		PrescriptionID: prescriptionID,
		PatientID:      patient.ID,
		Consultation:   c,
		Event:          event,
		At:             now,
	})
	if err != nil {
		s.metrics.RefillsRequested.WithLabelValues(refillOutcome(err)).Inc()
		return nil, fmt.Errorf("failed to request refill: %w", err)
	}

	outcome := "accepted"
	if res.Replayed {
		outcome = "replayed"
	}
	s.metrics.RefillsRequested.WithLabelValues(outcome).Inc()
	s.seen.SetDefault(cacheKey, *res)

	if !res.Replayed {
		s.auditor.Log(ctx, actor, "request_refill", "prescription", prescriptionID, &audit.LogOptions{
			Metadata: map[string]interface{}{
				"consultation_id":   res.Consultation.ID.String(),
				"refills_remaining": res.Prescription.RefillsRemaining,
			},
		})
	}
	return res, nil
}

func refillOutcome(err error) string {
	switch {
	case errors.Is(err, errors.CodeRefillExhausted):
		return "exhausted"
	case errors.Is(err, errors.CodeNotFound):
		return "not_found"
	case errors.Is(err, errors.CodeConflict):
		return "conflict"
	}
	return "rejected"
}

// loadCheckIn returns an open refill check-in together with the prescription
// it was opened for
func (s *Service) loadCheckIn(ctx context.Context, actor model.Principal, consultationID uuid.UUID) (*model.Consultation, *model.Prescription, error) {
	if !actor.IsProvider() {
		return nil, nil, errors.Forbidden("only providers can act on refill check-ins")
	}

	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get consultation: %w", err)
	}
	if c.Type != model.ConsultationTypeRefillCheckIn || c.SourcePrescriptionID == nil {
		return nil, nil, errors.Validation("consultation is not a refill check-in", nil)
	}
	if c.AssignedToOther(actor.UserID) {
		return nil, nil, errors.Conflict("consultation is assigned to another provider", nil)
	}

	p, err := s.repo.Get(ctx, *c.SourcePrescriptionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return c, p, nil
}

func (s *Service) ConfirmRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.ConfirmRefillRequest) (*model.OrderResult, error) {
	c, p, err := s.loadCheckIn(ctx, actor, consultationID)
	if err != nil {
		return nil, err
	}
	if req.UnitPriceCents < 0 {
		return nil, errors.Validation("unit_price_cents cannot be negative", nil)
	}

	from := c.Status
	if err := c.TransitionTo(model.ConsultationStatusCompleted, s.now()); err != nil {
		return nil, err
	}
	providerID := actor.UserID
	c.ProviderID = &providerID

	res, err := s.dispenser.DispenseRefill(ctx, actor, c, from, p, req.UnitPriceCents, req.Note)
	if err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, actor, "confirm_refill", "consultation", c.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"order_id": res.Order.ID.String()},
	})
	return res, nil
}

// DeclineRefill closes the check-in. The refill already spent is not
// returned to the prescription.
func (s *Service) DeclineRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, reason string) (*model.Consultation, error) {
	c, _, err := s.loadCheckIn(ctx, actor, consultationID)
	if err != nil {
		return nil, err
	}

	from := c.Status
	if err := c.TransitionTo(model.ConsultationStatusCancelled, s.now()); err != nil {
		return nil, err
	}
	providerID := actor.UserID
	c.ProviderID = &providerID

	reason = strings.TrimSpace(reason)
	event, err := consultation.NewEvent(model.EventRefillDeclined, c, reason)
	if err != nil {
		return nil, err
	}
	if err := s.consultations.UpdateStatus(ctx, c, from, event); err != nil {
		return nil, fmt.Errorf("failed to decline refill: %w", err)
	}

	s.auditor.Log(ctx, actor, "decline_refill", "consultation", c.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"reason": reason},
	})
	return c, nil
}
