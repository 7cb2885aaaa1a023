package order

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/handler"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreateOrderRequest) (*model.OrderResult, error)
	UpdateStatus(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdateOrderStatusRequest) (*model.OrderResult, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Order, error)
	List(ctx context.Context, actor model.Principal, filters *model.OrderFilters) ([]*model.Order, int, error)
	History(ctx context.Context, actor model.Principal, id uuid.UUID) ([]*model.OrderStatusEvent, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the order routes. staffOnly guards dispensing and
// adminOnly guards status changes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, staffOnly, adminOnly gin.HandlerFunc) {
	orders := r.Group("/orders")
	{
		orders.POST("", staffOnly, h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.GET("/:id/history", h.GetHistory)
		orders.PATCH("/:id/status", adminOnly, h.UpdateStatus)
	}
}

// CreateOrder answers 201 even when the charge fails; the failure is reported
// in payment_error and the order stays in place.
func (h *Handler) CreateOrder(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateOrderRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.service.Create(c, actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, result)
}

func (h *Handler) GetOrder(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	o, err := h.service.Get(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, o)
}

func (h *Handler) ListOrders(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var filters model.OrderFilters
	if !handler.BindQuery(c, &filters) {
		return
	}
	if filters.PatientID, ok = handler.OptionalUUIDQuery(c, "patient_id"); !ok {
		return
	}

	list, total, err := h.service.List(c, actor, &filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, list, filters.Page, filters.PageSize, total)
}

func (h *Handler) GetHistory(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	history, err := h.service.History(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, history)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.UpdateOrderStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.service.UpdateStatus(c, actor, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
