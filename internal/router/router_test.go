package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/telehealth-api/internal/auth"
	consultationHandler "github.com/jwalitptl/telehealth-api/internal/handler/consultation"
	"github.com/jwalitptl/telehealth-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/telehealth-api/internal/handler/notification"
	orderHandler "github.com/jwalitptl/telehealth-api/internal/handler/order"
	patientHandler "github.com/jwalitptl/telehealth-api/internal/handler/patient"
	prescriptionHandler "github.com/jwalitptl/telehealth-api/internal/handler/prescription"
	prometheusHandler "github.com/jwalitptl/telehealth-api/internal/handler/prometheus"
	"github.com/jwalitptl/telehealth-api/internal/middleware"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/payment"
	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	auditService "github.com/jwalitptl/telehealth-api/internal/service/audit"
	consultationService "github.com/jwalitptl/telehealth-api/internal/service/consultation"
	notificationService "github.com/jwalitptl/telehealth-api/internal/service/notification"
	orderService "github.com/jwalitptl/telehealth-api/internal/service/order"
	patientService "github.com/jwalitptl/telehealth-api/internal/service/patient"
	prescriptionService "github.com/jwalitptl/telehealth-api/internal/service/prescription"
	reviewService "github.com/jwalitptl/telehealth-api/internal/service/review"
	"github.com/jwalitptl/telehealth-api/internal/storage"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
	"github.com/jwalitptl/telehealth-api/pkg/security"
	"github.com/jwalitptl/telehealth-api/pkg/validator"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type testAPI struct {
	engine   *gin.Engine
	jwt      *auth.JWTService
	patients *mocks.PatientRepository
}

// response mirrors the envelope every endpoint answers with
type response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	status int
	header http.Header
}

func newTestAPI(t *testing.T, db pinger, config RouterConfig) *testAPI {
	t.Helper()
	require.NoError(t, validator.Register())

	patientRepo := &mocks.PatientRepository{}
	consultationRepo := &mocks.ConsultationRepository{}
	reviewRepo := &mocks.ReviewRepository{}
	prescriptionRepo := &mocks.PrescriptionRepository{}
	orderRepo := &mocks.OrderRepository{}
	outboxRepo := &mocks.OutboxRepository{}
	notificationRepo := &mocks.NotificationRepository{}

	encryptor, err := security.NewEncryptor(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	auditor := auditService.NewService(nil, false)
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("telehealth", registry)

	orders := orderService.NewService(orderRepo, prescriptionRepo, patientRepo, outboxRepo, payment.ManualGateway{}, auditor, m)
	refills := prescriptionService.NewService(prescriptionRepo, consultationRepo, patientRepo, orders, time.Hour, auditor, m)

	jwtSvc := auth.NewJWTService("test-secret", "telehealth-identity", "telehealth-api")
	r := NewRouter(middleware.NewAuthMiddleware(jwtSvc), Handlers{
		Patient: patientHandler.NewHandler(patientService.NewService(patientRepo, encryptor, auditor)),
		Consultation: consultationHandler.NewHandler(
			consultationService.NewService(consultationRepo, patientRepo, storage.NewDisabled("photos"), auditor, m),
			reviewService.NewService(reviewRepo, consultationRepo, patientRepo, auditor, m),
			refills,
		),
		Prescription: prescriptionHandler.NewHandler(refills),
		Order:        orderHandler.NewHandler(orders),
		Notification: notificationHandler.NewHandler(notificationService.NewService(notificationRepo, patientRepo, nil, notificationService.Options{}, m)),
		Health:       health.NewHandler(db),
		Metrics:      prometheusHandler.New(registry, m),
	}, config)
	r.Setup()

	return &testAPI{engine: r.Engine(), jwt: jwtSvc, patients: patientRepo}
}

func (a *testAPI) token(t *testing.T, p model.Principal) string {
	t.Helper()
	token, err := a.jwt.Issue(p, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) makeRequest(t *testing.T, method, path string, body interface{}, token string) response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	resp := response{status: w.Code, header: w.Header()}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	api := newTestAPI(t, pinger{}, RouterConfig{Mode: gin.TestMode})

	resp := api.makeRequest(t, http.MethodGet, "/api/v1/health/ready", nil, "")

	assert.Equal(t, http.StatusOK, resp.status)
	assert.NotEmpty(t, resp.header.Get(middleware.HeaderXRequestID))
	assert.Equal(t, "no-store", resp.header.Get("Cache-Control"))
}

func TestReadinessReportsDatabase(t *testing.T) {
	api := newTestAPI(t, pinger{err: fmt.Errorf("connection refused")}, RouterConfig{Mode: gin.TestMode})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"DOWN"`)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t, pinger{}, RouterConfig{Mode: gin.TestMode})

	for _, path := range []string{
		"/api/v1/patients/me",
		"/api/v1/consultations",
		"/api/v1/prescriptions",
		"/api/v1/orders",
		"/api/v1/notifications",
	} {
		resp := api.makeRequest(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.status, path)
		require.NotNil(t, resp.Error, path)
		assert.Equal(t, "unauthorized", resp.Error.Code, path)
	}

	other := auth.NewJWTService("other-secret", "telehealth-identity", "telehealth-api")
	forged, err := other.Issue(model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	resp := api.makeRequest(t, http.MethodGet, "/api/v1/orders", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestPatientFlow(t *testing.T) {
	api := newTestAPI(t, pinger{}, RouterConfig{Mode: gin.TestMode})
	caller := model.Principal{UserID: uuid.New(), Role: model.RolePatient}
	token := api.token(t, caller)

	patient := &model.Patient{
		Base:         model.Base{ID: uuid.New()},
		UserID:       caller.UserID,
		Name:         "Jordan Lee",
		Email:        "jordan@example.com",
		Subscription: model.SubscriptionActive,
		Status:       model.PatientStatusActive,
	}
	api.patients.On("GetByUserID", mock.Anything, caller.UserID).Return(patient, nil)

	resp := api.makeRequest(t, http.MethodGet, "/api/v1/patients/me", nil, token)
	require.Equal(t, http.StatusOK, resp.status)
	assert.True(t, resp.Success)
	assert.Equal(t, "Jordan Lee", resp.Data["name"])
	assert.Equal(t, patient.ID.String(), resp.Data["id"])

	// Dispensing and provider actions are closed to patients
	resp = api.makeRequest(t, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"patient_id": patient.ID,
		"items":      []map[string]interface{}{{"prescription_id": uuid.New(), "quantity": 1}},
	}, token)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = api.makeRequest(t, http.MethodPost, "/api/v1/consultations/"+uuid.New().String()+"/assign", nil, token)
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestRateLimitPerUser(t *testing.T) {
	api := newTestAPI(t, pinger{}, RouterConfig{
		Mode:             gin.TestMode,
		RateLimitEnabled: true,
		RateLimit:        middleware.RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 1},
	})
	provider := model.Principal{UserID: uuid.New(), Role: model.RoleProvider}
	token := api.token(t, provider)

	// Providers have no patient profile, so the call is refused without touching storage
	first := api.makeRequest(t, http.MethodGet, "/api/v1/notifications", nil, token)
	assert.Equal(t, http.StatusForbidden, first.status)

	second := api.makeRequest(t, http.MethodGet, "/api/v1/notifications", nil, token)
	assert.Equal(t, http.StatusTooManyRequests, second.status)

	// Health checks are not limited
	health := api.makeRequest(t, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, health.status)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, pinger{}, RouterConfig{Mode: gin.TestMode})
	api.makeRequest(t, http.MethodGet, "/api/v1/health/live", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/metrics", nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `telehealth_http_requests_total{method="GET",route="/api/v1/health/live",status="200"} 1`)
}
