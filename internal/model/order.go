package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/pkg/errors"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderStatusSequence is the only forward path an order may take
var OrderStatusSequence = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch next {
	case OrderStatusCancelled:
		return s == OrderStatusPending || s == OrderStatusProcessing
	case OrderStatusProcessing:
		return s == OrderStatusPending
	case OrderStatusShipped:
		return s == OrderStatusProcessing
	case OrderStatusDelivered:
		return s == OrderStatusShipped
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Order struct {
	Base
	PatientID        uuid.UUID     `db:"patient_id" json:"patient_id"`
	Items            []*OrderItem  `db:"-" json:"items"`
	TotalCents       int64         `db:"total_cents" json:"total_cents"`
	Status           OrderStatus   `db:"status" json:"status"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentReference *string       `db:"payment_reference" json:"payment_reference,omitempty"`
	TrackingID       *string       `db:"tracking_id" json:"tracking_id,omitempty"`
	ShippedAt        *time.Time    `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt      *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// TransitionTo applies a single step of the fulfillment state machine. The
// order is left unchanged when the step is rejected.
func (o *Order) TransitionTo(next OrderStatus, trackingID string, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return errors.InvalidStateTransition("order", string(o.Status), string(next))
	}

	trackingID = strings.TrimSpace(trackingID)
	if next == OrderStatusShipped && trackingID == "" {
		return errors.Validation("tracking_id is required when shipping an order", nil)
	}

	o.Status = next
	o.UpdatedAt = at
	switch next {
	case OrderStatusShipped:
		o.TrackingID = &trackingID
		o.ShippedAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	case OrderStatusCancelled:
		o.CancelledAt = &at
	}
	return nil
}

// CalculateTotal sums the line items
func (o *Order) CalculateTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}

type OrderItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrderID        uuid.UUID `db:"order_id" json:"order_id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	MedicationName string    `db:"medication_name" json:"medication_name"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPriceCents int64     `db:"unit_price_cents" json:"unit_price_cents"`
}

func (i *OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// OrderStatusEvent is one entry of an order's append-only status history
type OrderStatusEvent struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	OrderID    uuid.UUID    `db:"order_id" json:"order_id"`
	FromStatus *OrderStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   OrderStatus  `db:"to_status" json:"to_status"`
	ActorID    uuid.UUID    `db:"actor_id" json:"actor_id"`
	Note       string       `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

type CreateOrderItemRequest struct {
	PrescriptionID uuid.UUID `json:"prescription_id" binding:"required"`
	Quantity       int       `json:"quantity" binding:"min=1,max=1000"`
	UnitPriceCents int64     `json:"unit_price_cents" binding:"min=0"`
}

type CreateOrderRequest struct {
	PatientID uuid.UUID                `json:"patient_id" binding:"required"`
	Items     []CreateOrderItemRequest `json:"items" binding:"required,min=1,max=20,dive"`
}

type UpdateOrderStatusRequest struct {
	Status     OrderStatus `json:"status" binding:"required,oneof=pending processing shipped delivered cancelled"`
	TrackingID string      `json:"tracking_id" binding:"max=128"`
	Note       string      `json:"note" binding:"max=500"`
}

// OrderResult carries the order together with the outcome of the payment
// side effect, which is reported separately from the state change.
type OrderResult struct {
	Order        *Order `json:"order"`
	PaymentError string `json:"payment_error,omitempty"`
}

type OrderFilters struct {
	Pagination
	PatientID *uuid.UUID  `form:"-"`
	Status    OrderStatus `form:"status"`
}
