package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/internal/service/access"
	"github.com/jwalitptl/telehealth-api/internal/service/audit"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/security"
)

type PatientService interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreatePatientRequest) (*model.Patient, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Patient, error)
	Me(ctx context.Context, actor model.Principal) (*model.Patient, error)
	Update(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	UpdateSubscription(ctx context.Context, actor model.Principal, id uuid.UUID, status model.SubscriptionStatus) (*model.Patient, error)
	Deactivate(ctx context.Context, actor model.Principal, id uuid.UUID) error
	List(ctx context.Context, actor model.Principal, filters *model.PatientFilters) ([]*model.Patient, int, error)
}

type Service struct {
	repo      repository.PatientRepository
	access    *access.Resolver
	encryptor security.Encryptor
	auditor   *audit.Service
}

func NewService(repo repository.PatientRepository, encryptor security.Encryptor, auditor *audit.Service) *Service {
	return &Service{
		repo:      repo,
		access:    access.NewResolver(repo),
		encryptor: encryptor,
		auditor:   auditor,
	}
}

func (s *Service) Create(ctx context.Context, actor model.Principal, req *model.CreatePatientRequest) (*model.Patient, error) {
	var userID uuid.UUID
	switch {
	case actor.IsPatient():
		userID = actor.UserID
	case actor.IsAdmin():
		if req.UserID == nil || *req.UserID == uuid.Nil {
			return nil, errors.Validation("user_id is required", nil)
		}
		userID = *req.UserID
	default:
		return nil, errors.Forbidden("")
	}

	patient := &model.Patient{
		Base:         model.Base{ID: uuid.New()},
		UserID:       userID,
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        req.Phone,
		DateOfBirth:  req.DateOfBirth,
		Subscription: model.SubscriptionNone,
		Status:       model.PatientStatusActive,
	}
	if req.MedicalHistory != nil {
		patient.MedicalHistory = *req.MedicalHistory
	}
	if err := s.seal(patient); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}

	s.auditor.Log(ctx, actor, "create", "patient", patient.ID, nil)
	return patient, nil
}

func (s *Service) Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Patient, error) {
	if err := s.access.CheckOwner(ctx, actor, id, "patient"); err != nil {
		return nil, err
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if err := s.open(patient); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, actor, "read", "patient", id, nil)
	return patient, nil
}

func (s *Service) Me(ctx context.Context, actor model.Principal) (*model.Patient, error) {
	patient, err := s.access.PatientFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.open(patient); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, actor, "read", "patient", patient.ID, nil)
	return patient, nil
}

func (s *Service) Update(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	patient, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, 5)
	if req.Name != nil {
		patient.Name = strings.TrimSpace(*req.Name)
		changed = append(changed, "name")
	}
	if req.Email != nil {
		patient.Email = strings.ToLower(strings.TrimSpace(*req.Email))
		changed = append(changed, "email")
	}
	if req.Phone != nil {
		patient.Phone = req.Phone
		if *req.Phone == "" {
			patient.Phone = nil
		}
		changed = append(changed, "phone")
	}
	if req.DateOfBirth != nil {
		patient.DateOfBirth = req.DateOfBirth
		changed = append(changed, "date_of_birth")
	}
	if req.MedicalHistory != nil {
		patient.MedicalHistory = *req.MedicalHistory
		changed = append(changed, "medical_history")
	}

	if err := s.seal(patient); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}

	// field names only; values are PHI
	s.auditor.Log(ctx, actor, "update", "patient", id, &audit.LogOptions{Changes: changed})
	return patient, nil
}

func (s *Service) UpdateSubscription(ctx context.Context, actor model.Principal, id uuid.UUID, status model.SubscriptionStatus) (*model.Patient, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("")
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	previous := patient.Subscription
	patient.Subscription = status
	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := s.open(patient); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, actor, "update_subscription", "patient", id, &audit.LogOptions{
		Metadata: map[string]interface{}{"from": previous, "to": status},
	})
	return patient, nil
}

// Deactivate is the only way a patient leaves the system; rows are kept for
// the clinical record.
func (s *Service) Deactivate(ctx context.Context, actor model.Principal, id uuid.UUID) error {
	if actor.IsProvider() {
		return errors.Forbidden("")
	}
	if err := s.access.CheckOwner(ctx, actor, id, "patient"); err != nil {
		return err
	}

	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get patient: %w", err)
	}
	if !patient.IsActive() {
		return nil
	}

	patient.Status = model.PatientStatusInactive
	patient.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, patient); err != nil {
		return fmt.Errorf("failed to deactivate patient: %w", err)
	}

	s.auditor.Log(ctx, actor, "deactivate", "patient", id, nil)
	return nil
}

func (s *Service) List(ctx context.Context, actor model.Principal, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	if actor.IsPatient() {
		return nil, 0, errors.Forbidden("")
	}

	filters.Normalize()
	patients, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	for _, p := range patients {
		if err := s.open(p); err != nil {
			return nil, 0, err
		}
	}
	return patients, total, nil
}

func (s *Service) seal(patient *model.Patient) error {
	data, err := json.Marshal(patient.MedicalHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal medical history: %w", err)
	}
	ciphertext, err := s.encryptor.Encrypt(data)
	if err != nil {
		return errors.Internal(err)
	}
	patient.MedicalHistoryCiphertext = ciphertext
	return nil
}

func (s *Service) open(patient *model.Patient) error {
	if len(patient.MedicalHistoryCiphertext) == 0 {
		patient.MedicalHistory = model.MedicalHistory{}
		return nil
	}
	data, err := s.encryptor.Decrypt(patient.MedicalHistoryCiphertext)
	if err != nil {
		return errors.Internal(fmt.Errorf("patient %s: %w", patient.ID, err))
	}
	if err := json.Unmarshal(data, &patient.MedicalHistory); err != nil {
		return fmt.Errorf("failed to unmarshal medical history: %w", err)
	}
	return nil
}
