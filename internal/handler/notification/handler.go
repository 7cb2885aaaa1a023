package notification

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/telehealth-api/internal/handler"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

type Service interface {
	ListMine(ctx context.Context, actor model.Principal, p model.Pagination) ([]*model.Notification, int, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", h.ListMine)
}

func (h *Handler) ListMine(c *gin.Context) {
	actor, ok := handler.Principal(c)
	if !ok {
		return
	}
	var page model.Pagination
	if !handler.BindQuery(c, &page) {
		return
	}
	page.Normalize()

	list, total, err := h.service.ListMine(c, actor, page)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, list, page.Page, page.PageSize, total)
}
