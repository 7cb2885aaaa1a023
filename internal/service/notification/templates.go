package notification

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwalitptl/telehealth-api/internal/model"
)

type message struct {
	Subject string
	Body    string
}

type eventFields struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason"`
	TrackingID string   `json:"tracking_id"`
	TotalCents int64    `json:"total_cents"`
	Items      []string `json:"items"`
}

// render builds the patient facing message for an event. Events that patients
// are not told about return ok=false.
func render(evt *model.OutboxEvent) (message, bool, error) {
	var f eventFields
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &f); err != nil {
			return message{}, false, fmt.Errorf("failed to decode %s payload: %w", evt.EventType, err)
		}
	}

	switch evt.EventType {
	case model.EventConsultationCreated:
		return message{
			Subject: "We received your consultation",
			Body:    "Thanks for reaching out. A provider will review your consultation shortly.",
		}, true, nil
	case model.EventConsultationReviewed:
		return message{
			Subject: "Your provider has reviewed your consultation",
			Body:    "Your provider has completed their review. Sign in to see your treatment plan and prescriptions.",
		}, true, nil
	case model.EventConsultationCancelled:
		return message{
			Subject: "Your consultation was cancelled",
			Body:    "Your consultation has been cancelled." + reasonSuffix(f.Reason),
		}, true, nil
	case model.EventRefillRequested:
		return message{
			Subject: "Refill request received",
			Body:    "We received your refill request. A provider will confirm it shortly.",
		}, true, nil
	case model.EventRefillConfirmed:
		return message{
			Subject: "Your refill was approved",
			Body:    "Your provider approved your refill. We will let you know when it ships.",
		}, true, nil
	case model.EventRefillDeclined:
		return message{
			Subject: "Your refill needs a new consultation",
			Body:    "Your provider could not approve this refill." + reasonSuffix(f.Reason) + " Please start a new consultation.",
		}, true, nil
	case model.EventOrderCreated:
		return message{
			Subject: "Your order was placed",
			Body:    fmt.Sprintf("We received your order for %s. Total: %s.", strings.Join(f.Items, ", "), formatCents(f.TotalCents)),
		}, true, nil
	case model.EventOrderStatusChanged:
		return orderMessage(f)
	case model.EventPaymentFailed:
		return message{
			Subject: "We could not process your payment",
			Body:    fmt.Sprintf("The payment of %s for your order did not go through. Please update your payment details.", formatCents(f.TotalCents)),
		}, true, nil
	}
	return message{}, false, nil
}

func orderMessage(f eventFields) (message, bool, error) {
	switch model.OrderStatus(f.Status) {
	case model.OrderStatusShipped:
		return message{
			Subject: "Your order has shipped",
			Body:    "Your medication is on its way. Tracking number: " + f.TrackingID,
		}, true, nil
	case model.OrderStatusDelivered:
		return message{
			Subject: "Your order was delivered",
			Body:    "Your order has been delivered.",
		}, true, nil
	case model.OrderStatusCancelled:
		return message{
			Subject: "Your order was cancelled",
			Body:    "Your order has been cancelled. Any payment will be refunded.",
		}, true, nil
	}
	return message{}, false, nil
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " Reason: " + reason + "."
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
