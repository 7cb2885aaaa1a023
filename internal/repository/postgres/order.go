package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	apperrors "github.com/jwalitptl/telehealth-api/pkg/errors"
)

const orderColumns = `id, patient_id, total_cents, status, payment_status, payment_reference,
	tracking_id, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

type orderRepository struct {
	BaseRepository
}

func NewOrderRepository(base BaseRepository) repository.OrderRepository {
	return &orderRepository{base}
}

func (r *orderRepository) CreateWithItems(ctx context.Context, order *model.Order, consultationIDs []uuid.UUID, actorID uuid.UUID, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertOrder(ctx, tx, order, actorID); err != nil {
			return err
		}

		if len(consultationIDs) > 0 {
			ids := make([]string, len(consultationIDs))
			for i, id := range consultationIDs {
				ids[i] = id.String()
			}
			complete := `
				UPDATE consultations
				SET status = 'completed', completed_at = $1, updated_at = $1
				WHERE id = ANY($2::uuid[]) AND status = 'reviewed'
			`
			if _, err := tx.ExecContext(ctx, complete, order.CreatedAt, pq.Array(ids)); err != nil {
				return fmt.Errorf("failed to complete consultations: %w", err)
			}
		}

		return insertOutboxEvents(ctx, tx, event)
	})
}

func (r *orderRepository) CreateForConsultation(ctx context.Context, order *model.Order, consultation *model.Consultation, from model.ConsultationStatus, actorID uuid.UUID, events []*model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateConsultationStatus(ctx, tx, consultation, from); err != nil {
			return err
		}
		if err := insertOrder(ctx, tx, order, actorID); err != nil {
			return err
		}
		return insertOutboxEvents(ctx, tx, events...)
	})
}

// insertOrder writes the order, its items and the opening history entry
func insertOrder(ctx context.Context, tx *sqlx.Tx, order *model.Order, actorID uuid.UUID) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := tx.ExecContext(ctx, query,
		order.ID,
		order.PatientID,
		order.TotalCents,
		order.Status,
		order.PaymentStatus,
		order.PaymentReference,
		order.TrackingID,
		order.ShippedAt,
		order.DeliveredAt,
		order.CancelledAt,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, prescription_id, medication_name, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range order.Items {
		item.OrderID = order.ID
		_, err := tx.ExecContext(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.PrescriptionID,
			item.MedicationName,
			item.Quantity,
			item.UnitPriceCents,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return insertOrderHistory(ctx, tx, order.ID, nil, order.Status, actorID, "", order.CreatedAt)
}

func insertOrderHistory(ctx context.Context, tx sqlx.ExecerContext, orderID uuid.UUID, from *model.OrderStatus, to model.OrderStatus, actorID uuid.UUID, note string, at time.Time) error {
	query := `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, query, uuid.New(), orderID, from, to, actorID, note, at); err != nil {
		return fmt.Errorf("failed to record order history: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.get(ctx, r.db, id)
}

func (r *orderRepository) get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var order model.Order
	if err := sqlx.GetContext(ctx, q, &order, query, id); err != nil {
		return nil, mapError(err, "order")
	}

	itemQuery := `
		SELECT id, order_id, prescription_id, medication_name, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY medication_name
	`
	if err := sqlx.SelectContext(ctx, q, &order.Items, itemQuery, id); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, filters *model.OrderFilters) ([]*model.Order, int, error) {
	var where whereBuilder
	if filters.PatientID != nil {
		where.add("patient_id = $%d", *filters.PatientID)
	}
	if filters.Status != "" {
		where.add("status = $%d", filters.Status)
	}

	from := " FROM orders" + where.String()
	total, err := countQuery(ctx, r.db, from, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit, args := where.page(filters.Pagination)
	var orders []*model.Order
	query := `SELECT ` + orderColumns + from + ` ORDER BY created_at DESC` + limit
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// UpdateStatus is a compare-and-set on status, so of two concurrent
// transitions out of the same state exactly one wins.
func (r *orderRepository) UpdateStatus(ctx context.Context, order *model.Order, from model.OrderStatus, actorID uuid.UUID, note string, event *model.OutboxEvent) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE orders
			SET status = $1, tracking_id = $2, shipped_at = $3, delivered_at = $4,
				cancelled_at = $5, updated_at = $6
			WHERE id = $7 AND status = $8
		`
		res, err := tx.ExecContext(ctx, query,
			order.Status,
			order.TrackingID,
			order.ShippedAt,
			order.DeliveredAt,
			order.CancelledAt,
			order.UpdatedAt,
			order.ID,
			from,
		)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			current, err := r.get(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			return apperrors.InvalidStateTransition("order", string(current.Status), string(order.Status))
		}

		if err := insertOrderHistory(ctx, tx, order.ID, &from, order.Status, actorID, note, order.UpdatedAt); err != nil {
			return err
		}
		return insertOutboxEvents(ctx, tx, event)
	})
}

func (r *orderRepository) UpdatePayment(ctx context.Context, id uuid.UUID, status model.PaymentStatus, reference *string) error {
	query := `
		UPDATE orders
		SET payment_status = $1, payment_reference = COALESCE($2, payment_reference), updated_at = NOW()
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, status, reference, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("order", nil)
	}
	return nil
}

func (r *orderRepository) History(ctx context.Context, orderID uuid.UUID) ([]*model.OrderStatusEvent, error) {
	query := `
		SELECT id, order_id, from_status, to_status, actor_id, note, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var events []*model.OrderStatusEvent
	if err := r.db.SelectContext(ctx, &events, query, orderID); err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	return events, nil
}
