package prescription

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/handler"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Service interface {
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Prescription, error)
	List(ctx context.Context, actor model.Principal, filters *model.PrescriptionFilters) ([]*model.Prescription, int, error)
	RequestRefill(ctx context.Context, actor model.Principal, prescriptionID uuid.UUID, requestID string) (*model.RefillResult, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prescriptions := r.Group("/prescriptions")
	{
		prescriptions.GET("", h.ListPrescriptions)
		prescriptions.GET("/:id", h.GetPrescription)
		prescriptions.POST("/:id/refills", h.RequestRefill)
	}
}

func (h *Handler) GetPrescription(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	p, err := h.service.Get(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) ListPrescriptions(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var filters model.PrescriptionFilters
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

// RequestRefill takes the idempotency token from the Idempotency-Key header,
// falling back to request_id in the body. A replay answers 200 with the
// original outcome; a fresh refill answers 201.
func (h *Handler) RequestRefill(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.CreateRefillRequest
	if !handler.BindOptionalJSON(c, &req) {
		return
	}

	requestID := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if requestID == "" {
		requestID = strings.TrimSpace(req.RequestID)
	}

	result, err := h.service.RequestRefill(c, actor, id, requestID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if result.Replayed {
		c.JSON(http.StatusOK, httputil.Response{Success: true, Data: result})
		return
	}
	httputil.RespondCreated(c, result)
}
