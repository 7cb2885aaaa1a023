package order

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/payment"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/internal/service/access"
	"github.com/jwalitptl/telehealth-api/internal/service/audit"
	"github.com/jwalitptl/telehealth-api/internal/service/consultation"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

const (
	msgPaymentDeclined = "payment was declined; the order was created and can be paid later"
	msgPaymentFailed   = "payment could not be processed; the order was created and can be paid later"
	msgRefundFailed    = "refund could not be processed and will need manual follow-up"
	msgRefundManual    = "refund must be issued manually"
)

type OrderService interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreateOrderRequest) (*model.OrderResult, error)
	DispenseRefill(ctx context.Context, actor model.Principal, c *model.Consultation, from model.ConsultationStatus, p *model.Prescription, unitPriceCents int64, note string) (*model.OrderResult, error)
	UpdateStatus(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdateOrderStatusRequest) (*model.OrderResult, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Order, error)
	List(ctx context.Context, actor model.Principal, filters *model.OrderFilters) ([]*model.Order, int, error)
	History(ctx context.Context, actor model.Principal, id uuid.UUID) ([]*model.OrderStatusEvent, error)
}

type Service struct {
	repo          repository.OrderRepository
	prescriptions repository.PrescriptionRepository
	patients      repository.PatientRepository
	outbox        repository.OutboxRepository
	access        *access.Resolver
	gateway       payment.Gateway
	auditor       *audit.Service
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewService(
	repo repository.OrderRepository,
	prescriptions repository.PrescriptionRepository,
	patients repository.PatientRepository,
	outbox repository.OutboxRepository,
	gateway payment.Gateway,
	auditor *audit.Service,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:          repo,
		prescriptions: prescriptions,
		patients:      patients,
		outbox:        outbox,
		access:        access.NewResolver(patients),
		gateway:       gateway,
		auditor:       auditor,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// EventPayload is the body of order.* and payment.* outbox events
type EventPayload struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Status        model.OrderStatus   `json:"status"`
	FromStatus    model.OrderStatus   `json:"from_status,omitempty"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	TotalCents    int64               `json:"total_cents"`
	TrackingID    string              `json:"tracking_id,omitempty"`
	Items         []string            `json:"items,omitempty"`
}

func newEvent(eventType string, o *model.Order, from model.OrderStatus) (*model.OutboxEvent, error) {
	payload := EventPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		FromStatus:    from,
		PaymentStatus: o.PaymentStatus,
		TotalCents:    o.TotalCents,
		Items: lo.Map(o.Items, func(i *model.OrderItem, _ int) string {
			return fmt.Sprintf("%s x%d", i.MedicationName, i.Quantity)
		}),
	}
	if o.TrackingID != nil {
		payload.TrackingID = *o.TrackingID
	}
	return model.NewOutboxEvent(eventType, o.ID, o.PatientID, payload)
}

func (s *Service) newOrder(patientID uuid.UUID, items []*model.OrderItem) *model.Order {
	now := s.now()
	o := &model.Order{
		Base:          model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:     patientID,
		Items:         items,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusUnpaid,
	}
	for _, item := range items {
		item.OrderID = o.ID
	}
	o.TotalCents = o.CalculateTotal()
	return o
}

// Create dispenses active prescriptions of one patient into a new order. The
// reviewed consultations they came from are completed in the same transaction.
func (s *Service) Create(ctx context.Context, actor model.Principal, req *model.CreateOrderRequest) (*model.OrderResult, error) {
	if actor.IsPatient() {
		return nil, errors.Forbidden("")
	}
	if len(req.Items) == 0 {
		return nil, errors.Validation("an order needs at least one item", nil)
	}

	ids := lo.Map(req.Items, func(i model.CreateOrderItemRequest, _ int) uuid.UUID { return i.PrescriptionID })
	if len(lo.Uniq(ids)) != len(ids) {
		return nil, errors.Validation("each prescription may appear only once per order", nil)
	}

	patient, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	found, err := s.prescriptions.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load prescriptions: %w", err)
	}
	byID := lo.KeyBy(found, func(p *model.Prescription) uuid.UUID { return p.ID })

	items := make([]*model.OrderItem, 0, len(req.Items))
	for _, reqItem := range req.Items {
		p, ok := byID[reqItem.PrescriptionID]
		if !ok {
			return nil, errors.Validation(fmt.Sprintf("prescription %s does not exist", reqItem.PrescriptionID), nil)
		}
		if p.PatientID != patient.ID {
			return nil, errors.Validation(fmt.Sprintf("prescription %s belongs to a different patient", p.ID), nil)
		}
		if p.Status != model.PrescriptionStatusActive {
			return nil, errors.Validation(fmt.Sprintf("prescription %s is %s", p.ID, p.Status), nil)
		}
		items = append(items, &model.OrderItem{
			ID:             uuid.New(),
			PrescriptionID: p.ID,
			MedicationName: p.MedicationName,
			Quantity:       reqItem.Quantity,
			UnitPriceCents: reqItem.UnitPriceCents,
		})
	}

	o := s.newOrder(patient.ID, items)
	event, err := newEvent(model.EventOrderCreated, o, "")
	if err != nil {
		return nil, err
	}

	consultationIDs := lo.Uniq(lo.Map(ids, func(id uuid.UUID, _ int) uuid.UUID { return byID[id].ConsultationID }))
	if err := s.repo.CreateWithItems(ctx, o, consultationIDs, actor.UserID, event); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	s.auditor.Log(ctx, actor, "create", "order", o.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"items": len(items), "total_cents": o.TotalCents},
	})

	return s.settle(ctx, o), nil
}

// DispenseRefill creates the order for a confirmed refill check-in and
// completes the check-in atomically. c must already be transitioned out of from.
func (s *Service) DispenseRefill(ctx context.Context, actor model.Principal, c *model.Consultation, from model.ConsultationStatus, p *model.Prescription, unitPriceCents int64, note string) (*model.OrderResult, error) {
	o := s.newOrder(p.PatientID, []*model.OrderItem{{
		ID:             uuid.New(),
		PrescriptionID: p.ID,
		MedicationName: p.MedicationName,
		Quantity:       p.Quantity,
		UnitPriceCents: unitPriceCents,
	}})

	confirmed, err := consultation.NewEvent(model.EventRefillConfirmed, c, strings.TrimSpace(note))
	if err != nil {
		return nil, err
	}
	created, err := newEvent(model.EventOrderCreated, o, "")
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateForConsultation(ctx, o, c, from, actor.UserID, []*model.OutboxEvent{confirmed, created}); err != nil {
		return nil, fmt.Errorf("failed to dispense refill: %w", err)
	}

	s.metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	s.auditor.Log(ctx, actor, "create", "order", o.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"refill_consultation_id": c.ID.String()},
	})

	return s.settle(ctx, o), nil
}

// settle charges a committed order. Any failure is recorded on the order and
// reported to the caller; the order itself stands.
func (s *Service) settle(ctx context.Context, o *model.Order) *model.OrderResult {
	result := &model.OrderResult{Order: o}
	if s.gateway.Manual() {
		return result
	}
	if o.TotalCents == 0 {
		s.recordPayment(ctx, o, model.PaymentStatusPaid, nil)
		return result
	}

	res, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		OrderID:     o.ID,
		PatientID:   o.PatientID,
		AmountCents: o.TotalCents,
	})
	if err != nil {
		s.metrics.PaymentAttempts.WithLabelValues("charge", "failed").Inc()
		log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("order charge failed")

		result.PaymentError = msgPaymentFailed
		if stderrors.Is(err, payment.ErrDeclined) {
			result.PaymentError = msgPaymentDeclined
		}
		s.recordPayment(ctx, o, model.PaymentStatusFailed, nil)

		if evt, evtErr := newEvent(model.EventPaymentFailed, o, ""); evtErr == nil {
			if err := s.outbox.Create(ctx, evt); err != nil {
				log.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to record payment failure event")
			}
		}
		return result
	}

	s.metrics.PaymentAttempts.WithLabelValues("charge", "succeeded").Inc()
	s.recordPayment(ctx, o, model.PaymentStatusPaid, &res.Reference)
	return result
}

func (s *Service) recordPayment(ctx context.Context, o *model.Order, status model.PaymentStatus, reference *string) {
	if err := s.repo.UpdatePayment(ctx, o.ID, status, reference); err != nil {
		log.Error().Err(err).
			Str("order_id", o.ID.String()).
			Str("payment_status", string(status)).
			Msg("failed to record payment status")
		return
	}
	o.PaymentStatus = status
	if reference != nil {
		o.PaymentReference = reference
	}
}

func (s *Service) UpdateStatus(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdateOrderStatusRequest) (*model.OrderResult, error) {
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("")
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	from := o.Status
	if err := o.TransitionTo(req.Status, req.TrackingID, s.now()); err != nil {
		return nil, err
	}

	event, err := newEvent(model.EventOrderStatusChanged, o, from)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, o, from, actor.UserID, strings.TrimSpace(req.Note), event); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	s.auditor.Log(ctx, actor, "update_status", "order", o.ID, &audit.LogOptions{
		Metadata: map[string]interface{}{"from": from, "to": o.Status},
	})

	result := &model.OrderResult{Order: o}
	if o.Status == model.OrderStatusCancelled && o.PaymentStatus == model.PaymentStatusPaid {
		result.PaymentError = s.refund(ctx, o)
	}
	return result, nil
}

func (s *Service) refund(ctx context.Context, o *model.Order) string {
	if s.gateway.Manual() || o.PaymentReference == nil {
		return msgRefundManual
	}

	if _, err := s.gateway.Refund(ctx, *o.PaymentReference, o.TotalCents); err != nil {
		s.metrics.PaymentAttempts.WithLabelValues("refund", "failed").Inc()
		log.Error().Err(err).Str("order_id", o.ID.String()).Msg("order refund failed")
		return msgRefundFailed
	}

	s.metrics.PaymentAttempts.WithLabelValues("refund", "succeeded").Inc()
	s.recordPayment(ctx, o, model.PaymentStatusRefunded, nil)
	return ""
}

func (s *Service) Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if err := s.access.CheckOwner(ctx, actor, o.PatientID, "order"); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, actor model.Principal, filters *model.OrderFilters) ([]*model.Order, int, error) {
	patientID, err := s.access.ListScope(ctx, actor, filters.PatientID)
	if err != nil {
		return nil, 0, err
	}
	filters.PatientID = patientID
	filters.Normalize()

	orders, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (s *Service) History(ctx context.Context, actor model.Principal, id uuid.UUID) ([]*model.OrderStatusEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	events, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	return events, nil
}
