package consultation

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/handler"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, actor model.Principal, req *model.CreateConsultationRequest) (*model.Consultation, error)
	PresignPhoto(ctx context.Context, actor model.Principal, req *model.PhotoUploadRequest) (*model.PhotoUpload, error)
	Get(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error)
	List(ctx context.Context, actor model.Principal, filters *model.ConsultationFilters) ([]*model.Consultation, int, error)
	Assign(ctx context.Context, actor model.Principal, id uuid.UUID) (*model.Consultation, error)
	Cancel(ctx context.Context, actor model.Principal, id uuid.UUID, reason string) (*model.Consultation, error)
}

type ReviewService interface {
	Submit(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.SubmitReviewRequest) (*model.ReviewResult, error)
	Get(ctx context.Context, actor model.Principal, consultationID uuid.UUID) (*model.ProviderReview, error)
}

// RefillService settles refill check-in consultations
type RefillService interface {
	ConfirmRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, req *model.ConfirmRefillRequest) (*model.OrderResult, error)
	DeclineRefill(ctx context.Context, actor model.Principal, consultationID uuid.UUID, reason string) (*model.Consultation, error)
}

type Handler struct {
	consultations Service
	reviews       ReviewService
	refills       RefillService
}

func NewHandler(consultations Service, reviews ReviewService, refills RefillService) *Handler {
	return &Handler{
		consultations: consultations,
		reviews:       reviews,
		refills:       refills,
	}
}

// RegisterRoutes mounts the consultation routes. providerOnly guards the
// routes only providers may call.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, providerOnly gin.HandlerFunc) {
	consultations := r.Group("/consultations")
	{
		consultations.POST("", h.CreateConsultation)
		consultations.GET("", h.ListConsultations)
		consultations.POST("/photos", h.PresignPhoto)
		consultations.GET("/:id", h.GetConsultation)
		consultations.POST("/:id/cancel", h.CancelConsultation)
		consultations.GET("/:id/review", h.GetReview)

		consultations.POST("/:id/assign", providerOnly, h.AssignConsultation)
		consultations.POST("/:id/review", providerOnly, h.SubmitReview)
		consultations.POST("/:id/confirm-refill", providerOnly, h.ConfirmRefill)
		consultations.POST("/:id/decline-refill", providerOnly, h.DeclineRefill)
	}
}

func (h *Handler) CreateConsultation(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateConsultationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	consultation, err := h.consultations.Create(c, actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, consultation)
}

func (h *Handler) PresignPhoto(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.PhotoUploadRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	upload, err := h.consultations.PresignPhoto(c, actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, upload)
}

func (h *Handler) GetConsultation(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	consultation, err := h.consultations.Get(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, consultation)
}

func (h *Handler) ListConsultations(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var filters model.ConsultationFilters
	if !handler.BindQuery(c, &filters) {
		return
	}
	if filters.PatientID, ok = handler.OptionalUUIDQuery(c, "patient_id"); !ok {
		return
	}
	if filters.ProviderID, ok = handler.OptionalUUIDQuery(c, "provider_id"); !ok {
		return
	}

	list, total, err := h.consultations.List(c, actor, &filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, list, filters.Page, filters.PageSize, total)
}

func (h *Handler) AssignConsultation(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	consultation, err := h.consultations.Assign(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, consultation)
}

func (h *Handler) CancelConsultation(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.CancelConsultationRequest
	if !handler.BindOptionalJSON(c, &req) {
		return
	}

	consultation, err := h.consultations.Cancel(c, actor, id, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, consultation)
}

func (h *Handler) SubmitReview(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.SubmitReviewRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.reviews.Submit(c, actor, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, result)
}

func (h *Handler) GetReview(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}

	review, err := h.reviews.Get(c, actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, review)
}

func (h *Handler) ConfirmRefill(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.ConfirmRefillRequest
	if !handler.BindOptionalJSON(c, &req) {
		return
	}

	result, err := h.refills.ConfirmRefill(c, actor, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, result)
}

func (h *Handler) DeclineRefill(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	id, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.DeclineRefillRequest
	if !handler.BindOptionalJSON(c, &req) {
		return
	}

	consultation, err := h.refills.DeclineRefill(c, actor, id, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, consultation)
}
