package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/middleware"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
)

type mockService struct{ mock.Mock }

func (m *mockService) ListMine(ctx context.Context, actor model.Principal, p model.Pagination) ([]*model.Notification, int, error) {
	args := m.Called(ctx, actor, p)
	return args.Get(0).([]*model.Notification), args.Int(1), args.Error(2)
}

func TestListMine(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(caller model.Principal, svc *mockService) *gin.Engine {
		router := gin.New()
		group := router.Group("/api/v1", func(c *gin.Context) {
			c.Set(middleware.ContextPrincipal, caller)
			c.Next()
		})
		NewHandler(svc).RegisterRoutes(group)
		return router
	}

	t.Run("pagination is normalized", func(t *testing.T) {
		caller := model.Principal{UserID: uuid.New(), Role: model.RolePatient}
		svc := &mockService{}
		svc.On("ListMine", mock.Anything, caller, model.Pagination{Page: 1, PageSize: model.DefaultPageSize}).
			Return([]*model.Notification{{Channel: model.ChannelEmail, Subject: "Your order has shipped"}}, 1, nil)

		w := httptest.NewRecorder()
		newRouter(caller, svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?page_size=500", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp httputil.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		pagination := resp.Data.(map[string]interface{})["pagination"].(map[string]interface{})
		assert.EqualValues(t, 1, pagination["total"])
		svc.AssertExpectations(t)
	})

	t.Run("providers have no inbox", func(t *testing.T) {
		caller := model.Principal{UserID: uuid.New(), Role: model.RoleProvider}
		svc := &mockService{}
		svc.On("ListMine", mock.Anything, caller, mock.Anything).
			Return([]*model.Notification(nil), 0, errors.Forbidden("only patients have notifications"))

		w := httptest.NewRecorder()
		newRouter(caller, svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
