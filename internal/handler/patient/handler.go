package patient

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/handler"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreatePatientRequest) (*model.Patient, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Patient, error)
	Me(ctx context.Context, actor model.Principal) (*model.Patient, error)
	Update(ctx context.Context, actor model.Principal, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	UpdateSubscription(ctx context.Context, actor model.Principal, id uuid.UUID, status model.SubscriptionStatus) (*model.Patient, error)
	Deactivate(ctx context.Context, actor model.Principal, id uuid.UUID) error
	List(ctx context.Context, actor model.Principal, filters *model.PatientFilters) ([]*model.Patient, int, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.CreatePatient)
		patients.GET("", h.ListPatients)
		patients.GET("/me", h.GetMe)
		patients.GET("/:id", h.GetPatient)
		patients.PUT("/:id", h.UpdatePatient)
		patients.PUT("/:id/subscription", h.UpdateSubscription)
		patients.DELETE("/:id", h.DeactivatePatient)
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreatePatientRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	patient, err := h.service.Create(c, actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, patient)
}

func (h *Handler) GetMe(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}

	patient, err := h.service.Me(c, actor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, patient)
}

func (h *Handler) GetPatient(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	patient, err := h.service.Get(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, patient)
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.UpdatePatientRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	patient, err := h.service.Update(c, actor, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, patient)
}

func (h *Handler) UpdateSubscription(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.UpdateSubscriptionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	patient, err := h.service.UpdateSubscription(c, actor, id, req.Subscription)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, patient)
}

func (h *Handler) DeactivatePatient(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Deactivate(c, actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListPatients(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var filters model.PatientFilters
	if !handler.BindQuery(c, &filters) {
		return
	}

	patients, total, err := h.service.List(c, actor, &filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, patients, filters.Page, filters.PageSize, total)
}
