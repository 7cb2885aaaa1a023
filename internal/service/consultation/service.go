package consultation

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
	"github.com/jwalitptl/telehealth-api/internal/storage"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type ConsultationService interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreateConsultationRequest) (*model.Consultation, error)
	PresignPhoto(ctx context.Context, actor model.Principal, req *model.PhotoUploadRequest) (*model.PhotoUpload, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error)
	List(ctx context.Context, actor model.Principal, filters *model.ConsultationFilters) ([]*model.Consultation, int, error)
	Assign(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error)
	Cancel(ctx context.Context, actor model.Principal, id uuid.UUID, reason string) (*model.Consultation, error)
}

type Service struct {
	repo    repository.ConsultationRepository
	access  *access.Resolver
	storage storage.Storage
	auditor *audit.Service
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	repo repository.ConsultationRepository,
	patients repository.PatientRepository,
	store storage.Storage,
	auditor *audit.Service,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:    repo,
		access:  access.NewResolver(patients),
		storage: store,
		auditor: auditor,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EventPayload is the body of every consultation.* outbox event
type EventPayload struct {
	ConsultationID uuid.UUID                `json:"consultation_id"`
	Type           model.ConsultationType   `json:"type"`
	Status         model.ConsultationStatus `json:"status"`
	ProviderID     *uuid.UUID               `json:"provider_id,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

func NewEvent(eventType string, c *model.Consultation, reason string) (*model.OutboxEvent, error) {
	return model.NewOutboxEvent(eventType, c.ID, c.PatientID, EventPayload{
		ConsultationID: c.ID,
		Type:           c.Type,
		Status:         c.Status,
		ProviderID:     c.ProviderID,
		Reason:         reason,
	})
}

func (s *Service) Create(ctx context.Context, actor model.Principal, req *model.CreateConsultationRequest) (*model.Consultation, error) {
	if actor.IsProvider() {
		return nil, errors.Forbidden("providers cannot open consultations")
	}
	patient, err := s.access.ScopePatient(ctx, actor, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !patient.IsActive() {
		return nil, errors.Validation("patient account is inactive", nil)
	}

	complaint := strings.TrimSpace(req.ChiefComplaint)
	if complaint == "" {
		return nil, errors.Validation("chief_complaint is required", nil)
	}
	if req.Severity < model.MinSeverity || req.Severity > model.MaxSeverity {
		return nil, errors.Validation(fmt.Sprintf("severity must be between %d and %d", model.MinSeverity, model.MaxSeverity), nil)
	}

	photos := lo.Uniq(req.PhotoRefs)
	if err := s.checkPhotos(ctx, patient.ID, photos); err != nil {
		return nil, err
	}

	now := s.now()
	c := &model.Consultation{
		Base:           model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:      patient.ID,
		Type:           model.ConsultationTypeIntake,
		ChiefComplaint: complaint,
		Symptoms:       strings.TrimSpace(req.Symptoms),
		Severity:       req.Severity,
		IntakeAnswers:  req.IntakeAnswers,
		PhotoRefs:      photos,
		Status:         model.ConsultationStatusPending,
	}
	if c.IntakeAnswers == nil {
		c.IntakeAnswers = model.JSONMap{}
	}

	event, err := NewEvent(model.EventConsultationCreated, c, "")
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c, event); err != nil {
		return nil, fmt.Errorf("failed to create consultation: %w", err)
	}

	s.metrics.ConsultationsCreated.WithLabelValues(string(c.Type)).Inc()
	s.auditor.Log(ctx, actor, "create", "consultation", c.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"photos": len(photos), "severity": c.Severity},
	})
	return c, nil
}

func (s *Service) checkPhotos(ctx context.Context, patientID uuid.UUID, keys []string) error {
	for _, key := range keys {
		if !s.storage.OwnsKey(patientID, key) {
			return errors.Validation(fmt.Sprintf("photo reference %q is not an upload of this patient", key), nil)
		}
	}
	if !s.storage.Enabled() {
		return nil
	}
	for _, key := range keys {
		ok, err := s.storage.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to verify photo: %w", err)
		}
		if !ok {
			return errors.Validation(fmt.Sprintf("photo %q has not been uploaded", key), nil)
		}
	}
	return nil
}

func (s *Service) PresignPhoto(ctx context.Context, actor model.Principal, req *model.PhotoUploadRequest) (*model.PhotoUpload, error) {
	patient, err := s.access.PatientFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !s.storage.Enabled() {
		return nil, errors.Validation("photo uploads are not available", nil)
	}

	upload, err := s.storage.PresignUpload(ctx, patient.ID, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to presign photo upload: %w", err)
	}
	return upload, nil
}

func (s *Service) Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}
	if err := s.access.CheckOwner(ctx, actor, c.PatientID, "consultation"); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, actor, "read", "consultation", id, nil)
	return c, nil
}

func (s *Service) List(ctx context.Context, actor model.Principal, filters *model.ConsultationFilters) ([]*model.Consultation, int, error) {
	patientID, err := s.access.ListScope(ctx, actor, filters.PatientID)
	if err != nil {
		return nil, 0, err
	}
	filters.PatientID = patientID
	filters.Normalize()

	list, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list consultations: %w", err)
	}
	return list, total, nil
}

// Assign lets a provider claim a pending consultation. Claiming one already
// held by the same provider is a no-op.
func (s *Service) Assign(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error) {
	if !actor.IsProvider() {
		return nil, errors.Forbidden("only providers can claim consultations")
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}
	if c.Status == model.ConsultationStatusAssigned && c.ProviderID != nil && *c.ProviderID == actor.UserID {
		return c, nil
	}

	from := c.Status
	if err := c.TransitionTo(model.ConsultationStatusAssigned, s.now()); err != nil {
		return nil, err
	}
	providerID := actor.UserID
	c.ProviderID = &providerID

	event, err := NewEvent(model.EventConsultationAssigned, c, "")
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, c, from, event); err != nil {
		return nil, fmt.Errorf("failed to assign consultation: %w", err)
	}

	s.auditor.Log(ctx, actor, "assign", "consultation", id, nil)
	return c, nil
}

func (s *Service) Cancel(ctx context.Context, actor model.Principal, id uuid.UUID, reason string) (*model.Consultation, error) {
	if actor.IsProvider() {
		return nil, errors.Forbidden("")
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}
	if err := s.access.CheckOwner(ctx, actor, c.PatientID, "consultation"); err != nil {
		return nil, err
	}

	from := c.Status
	if err := c.TransitionTo(model.ConsultationStatusCancelled, s.now()); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	event, err := NewEvent(model.EventConsultationCancelled, c, reason)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, c, from, event); err != nil {
		return nil, fmt.Errorf("failed to cancel consultation: %w", err)
	}

	s.auditor.Log(ctx, actor, "cancel", "consultation", id, &audit.LogOptions{
		Metadata: map[string]interface{}{"reason": reason},
	})
	return c, nil
}
