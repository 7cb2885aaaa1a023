package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/internal/service/access"
	"github.com/jwalitptl/telehealth-api/internal/service/audit"
	"github.com/jwalitptl/telehealth-api/internal/service/consultation"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type ReviewService interface {
	Submit(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.SubmitReviewRequest) (*model.ReviewResult, error)
	Get(ctx context.Context, actor model.Principal, consultationID uuid.UUID) (*model.ProviderReview, error)
}

type Service struct {
	repo          repository.ReviewRepository
	consultations repository.ConsultationRepository
	access        *access.Resolver
	auditor       *audit.Service
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewService(
	repo repository.ReviewRepository,
	consultations repository.ConsultationRepository,
	patients repository.PatientRepository,
	auditor *audit.Service,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:          repo,
		consultations: consultations,
		access:        access.NewResolver(patients),
		auditor:       auditor,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type reviewedPayload struct {
	consultation.EventPayload
	ReviewID    uuid.UUID `json:"review_id"`
	Medications []string  `json:"medications"`
}

// Submit signs the provider's review and issues its prescriptions. Only one
// review can ever exist per consultation; a losing concurrent attempt gets a
// conflict from the unique index.
func (s *Service) Submit(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.SubmitReviewRequest) (*model.ReviewResult, error) {
	if !actor.IsProvider() {
		return nil, errors.Forbidden("only providers can review consultations")
	}
	if len(req.Medications) == 0 {
		return nil, errors.Validation("at least one medication is required", nil)
	}

	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}

	if _, err := s.repo.GetByConsultation(ctx, consultationID); err == nil {
		return nil, errors.Conflict("", nil)
	} else if !errors.Is(err, errors.CodeNotFound) {
		return nil, fmt.Errorf("failed to check existing review: %w", err)
	}

	if c.Type != model.ConsultationTypeIntake {
		return nil, errors.Validation("refill check-ins are confirmed or declined, not reviewed", nil)
	}
	if c.AssignedToOther(actor.UserID) {
		return nil, errors.Conflict("consultation is assigned to another provider", nil)
	}

	now := s.now()
	from := c.Status
	if err := c.TransitionTo(model.ConsultationStatusReviewed, now); err != nil {
		return nil, err
	}
	providerID := actor.UserID
	c.ProviderID = &providerID

	review := &model.ProviderReview{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		ProviderID:     actor.UserID,
		Diagnosis:      strings.TrimSpace(req.Diagnosis),
		TreatmentNotes: strings.TrimSpace(req.TreatmentNotes),
		SignedAt:       now,
		CreatedAt:      now,
	}

	prescriptions := lo.Map(req.Medications, func(m model.MedicationSelection, _ int) *model.Prescription {
		return &model.Prescription{
			Base:             model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			PatientID:        c.PatientID,
			ConsultationID:   c.ID,
			ReviewID:         review.ID,
			ProviderID:       actor.UserID,
			MedicationName:   strings.TrimSpace(m.Name),
			Dosage:           strings.TrimSpace(m.Dosage),
			Instructions:     strings.TrimSpace(m.Instructions),
			Quantity:         m.Quantity,
			RefillsRemaining: m.Refills,
			Status:           model.PrescriptionStatusActive,
		}
	})

	event, err := model.NewOutboxEvent(model.EventConsultationReviewed, c.ID, c.PatientID, reviewedPayload{
		EventPayload: consultation.EventPayload{
			ConsultationID: c.ID,
			Type:           c.Type,
			Status:         c.Status,
			ProviderID:     c.ProviderID,
		},
		ReviewID: review.ID,
		Medications: lo.Map(prescriptions, func(p *model.Prescription, _ int) string {
			return p.MedicationName + " " + p.Dosage
		}),
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateWithPrescriptions(ctx, review, c, from, prescriptions, []*model.OutboxEvent{event}); err != nil {
		return nil, fmt.Errorf("failed to submit review: %w", err)
	}

	s.metrics.ReviewsSubmitted.Inc()
	s.auditor.Log(ctx, actor, "review", "consultation", c.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"review_id": review.ID.String(), "prescriptions": len(prescriptions)},
	})

	return &model.ReviewResult{Review: review, Consultation: c, Prescriptions: prescriptions}, nil
}

func (s *Service) Get(ctx context.Context, actor model.Principal, consultationID uuid.UUID) (*model.ProviderReview, error) {
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}
	if err := s.access.CheckOwner(ctx, actor, c.PatientID, "consultation"); err != nil {
		return nil, err
	}

	review, err := s.repo.GetByConsultation(ctx, consultationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	s.auditor.Log(ctx, actor, "read", "review", review.ID, nil)
	return review, nil
}
