// Package mocks holds testify mocks of the repository interfaces
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
)

type PatientRepository struct{ mock.Mock }

func (m *PatientRepository) Create(ctx context.Context, patient *model.Patient) error {
	return m.Called(ctx, patient).Error(0)
}

func (m *PatientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Patient)
	return p, args.Error(1)
}

func (m *PatientRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*model.Patient)
	return p, args.Error(1)
}

func (m *PatientRepository) Update(ctx context.Context, patient *model.Patient) error {
	return m.Called(ctx, patient).Error(0)
}

func (m *PatientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, int, error) {
	args := m.Called(ctx, filters)
	list, _ := args.Get(0).([]*model.Patient)
	return list, args.Int(1), args.Error(2)
}

type ConsultationRepository struct{ mock.Mock }

func (m *ConsultationRepository) Create(ctx context.Context, c *model.Consultation, event *model.OutboxEvent) error {
	return m.Called(ctx, c, event).Error(0)
}

func (m *ConsultationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Consultation, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*model.Consultation)
	return c, args.Error(1)
}

func (m *ConsultationRepository) List(ctx context.Context, filters *model.ConsultationFilters) ([]*model.Consultation, int, error) {
	args := m.Called(ctx, filters)
	list, _ := args.Get(0).([]*model.Consultation)
	return list, args.Int(1), args.Error(2)
}

func (m *ConsultationRepository) UpdateStatus(ctx context.Context, c *model.Consultation, from model.ConsultationStatus, event *model.OutboxEvent) error {
	return m.Called(ctx, c, from, event).Error(0)
}

type ReviewRepository struct{ mock.Mock }

func (m *ReviewRepository) GetByConsultation(ctx context.Context, consultationID uuid.UUID) (*model.ProviderReview, error) {
	args := m.Called(ctx, consultationID)
	r, _ := args.Get(0).(*model.ProviderReview)
	return r, args.Error(1)
}

func (m *ReviewRepository) CreateWithPrescriptions(ctx context.Context, review *model.ProviderReview, c *model.Consultation, from model.ConsultationStatus, prescriptions []*model.Prescription, events []*model.OutboxEvent) error {
	return m.Called(ctx, review, c, from, prescriptions, events).Error(0)
}

type PrescriptionRepository struct{ mock.Mock }

func (m *PrescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Prescription)
	return p, args.Error(1)
}

func (m *PrescriptionRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*model.Prescription, error) {
	args := m.Called(ctx, ids)
	list, _ := args.Get(0).([]*model.Prescription)
	return list, args.Error(1)
}

func (m *PrescriptionRepository) List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error) {
	args := m.Called(ctx, filters)
	list, _ := args.Get(0).([]*model.Prescription)
	return list, args.Int(1), args.Error(2)
}

func (m *PrescriptionRepository) GetRefillRequest(ctx context.Context, patientID uuid.UUID, requestID string) (*model.RefillRequest, error) {
	args := m.Called(ctx, patientID, requestID)
	r, _ := args.Get(0).(*model.RefillRequest)
	return r, args.Error(1)
}

func (m *PrescriptionRepository) ApplyRefill(ctx context.Context, app *repository.RefillApplication) (*model.RefillResult, error) {
	args := m.Called(ctx, app)
	r, _ := args.Get(0).(*model.RefillResult)
	return r, args.Error(1)
}

type OrderRepository struct{ mock.Mock }

func (m *OrderRepository) CreateWithItems(ctx context.Context, order *model.Order, consultationIDs []uuid.UUID, actorID uuid.UUID, event *model.OutboxEvent) error {
	return m.Called(ctx, order, consultationIDs, actorID, event).Error(0)
}

func (m *OrderRepository) CreateForConsultation(ctx context.Context, order *model.Order, c *model.Consultation, from model.ConsultationStatus, actorID uuid.UUID, events []*model.OutboxEvent) error {
	return m.Called(ctx, order, c, from, actorID, events).Error(0)
}

func (m *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*model.Order)
	return o, args.Error(1)
}

func (m *OrderRepository) List(ctx context.Context, filters *model.OrderFilters) ([]*model.Order, int, error) {
	args := m.Called(ctx, filters)
	list, _ := args.Get(0).([]*model.Order)
	return list, args.Int(1), args.Error(2)
}

func (m *OrderRepository) UpdateStatus(ctx context.Context, order *model.Order, from model.OrderStatus, actorID uuid.UUID, note string, event *model.OutboxEvent) error {
	return m.Called(ctx, order, from, actorID, note, event).Error(0)
}

func (m *OrderRepository) UpdatePayment(ctx context.Context, id uuid.UUID, status model.PaymentStatus, reference *string) error {
	return m.Called(ctx, id, status, reference).Error(0)
}

func (m *OrderRepository) History(ctx context.Context, orderID uuid.UUID) ([]*model.OrderStatusEvent, error) {
	args := m.Called(ctx, orderID)
	list, _ := args.Get(0).([]*model.OrderStatusEvent)
	return list, args.Error(1)
}

type OutboxRepository struct{ mock.Mock }

func (m *OutboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *OutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	args := m.Called(ctx, limit, lease)
	list, _ := args.Get(0).([]*model.OutboxEvent)
	return list, args.Error(1)
}

func (m *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *OutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, retryAt time.Time, errorMessage string) error {
	return m.Called(ctx, id, retryCount, retryAt, errorMessage).Error(0)
}

func (m *OutboxRepository) MoveToDeadLetter(ctx context.Context, event *model.OutboxEvent, errorMessage string) error {
	return m.Called(ctx, event, errorMessage).Error(0)
}

func (m *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

type NotificationRepository struct{ mock.Mock }

func (m *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *NotificationRepository) Update(ctx context.Context, n *model.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func (m *NotificationRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error) {
	args := m.Called(ctx, limit, lease)
	list, _ := args.Get(0).([]*model.Notification)
	return list, args.Error(1)
}

func (m *NotificationRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, p model.Pagination) ([]*model.Notification, int, error) {
	args := m.Called(ctx, patientID, p)
	list, _ := args.Get(0).([]*model.Notification)
	return list, args.Int(1), args.Error(2)
}

var (
	_ repository.PatientRepository      = (*PatientRepository)(nil)
	_ repository.ConsultationRepository = (*ConsultationRepository)(nil)
	_ repository.ReviewRepository       = (*ReviewRepository)(nil)
	_ repository.PrescriptionRepository = (*PrescriptionRepository)(nil)
	_ repository.OrderRepository        = (*OrderRepository)(nil)
	_ repository.OutboxRepository       = (*OutboxRepository)(nil)
	_ repository.NotificationRepository = (*NotificationRepository)(nil)
)
