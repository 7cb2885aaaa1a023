package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jwalitptl/telehealth-api/internal/model"
)

func newObserved(enabled bool) (*Service, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return NewService(zap.New(core), enabled), logs
}

func TestLogWritesEntry(t *testing.T) {
	svc, logs := newObserved(true)
	actor := model.Principal{UserID: uuid.New(), Role: model.RoleProvider}
	entityID := uuid.New()

	svc.Log(context.Background(), actor, "review", "consultation", entityID, &LogOptions{
		Metadata: map[string]interface{}{"prescriptions": 2},
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "audit", fields["stream"])
	assert.Equal(t, actor.UserID.String(), fields["actor_id"])
	assert.Equal(t, "provider", fields["actor_role"])
	assert.Equal(t, "review", fields["action"])
	assert.Equal(t, entityID.String(), fields["entity_id"])
	assert.EqualValues(t, 2, fields["prescriptions"])
}

func TestLogReadsRequestFromGinContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, logs := newObserved(true)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/patients/me", nil)
	c.Request.Header.Set("User-Agent", "ios-app/3.1")
	c.Set("request_id", "req-42")

	svc.Log(c, model.Principal{UserID: uuid.New(), Role: model.RolePatient}, "read", "patient", uuid.New(), nil)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ios-app/3.1", fields["user_agent"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Contains(t, fields, "ip_address")
}

func TestDisabledAndNilServiceAreSilent(t *testing.T) {
	svc, logs := newObserved(false)
	svc.Log(context.Background(), model.Principal{}, "read", "patient", uuid.New(), nil)
	assert.Equal(t, 0, logs.Len())

	var nilSvc *Service
	assert.NotPanics(t, func() {
		nilSvc.Log(context.Background(), model.Principal{}, "read", "patient", uuid.New(), nil)
	})
}
