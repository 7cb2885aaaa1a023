package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/telehealth-api/internal/handler/consultation"
	"github.com/jwalitptl/telehealth-api/internal/handler/health"
	"github.com/jwalitptl/telehealth-api/internal/handler/notification"
	"github.com/jwalitptl/telehealth-api/internal/handler/order"
	"github.com/jwalitptl/telehealth-api/internal/handler/patient"
	"github.com/jwalitptl/telehealth-api/internal/handler/prescription"
	"github.com/jwalitptl/telehealth-api/internal/handler/prometheus"
	"github.com/jwalitptl/telehealth-api/internal/middleware"
	"github.com/jwalitptl/telehealth-api/internal/model"
)

type Handlers struct {
	Patient      *patient.Handler
	Consultation *consultation.Handler
	Prescription *prescription.Handler
	Order        *order.Handler
	Notification *notification.Handler
	Health       *health.Handler
	// Metrics is optional; without it no HTTP metrics are recorded or served
	Metrics *prometheus.Handler
}

type RouterConfig struct {
	Mode             string
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORS             middleware.CORSConfig
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	config   RouterConfig
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New() // Use New() instead of Default() for more control
	// Services receive the gin context, so it must expose the request's deadline
	engine.ContextWithFallback = true

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		config:   config,
	}

	// Add core middlewares
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
	)
	if handlers.Metrics != nil {
		engine.Use(handlers.Metrics.Middleware())
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		sizeLimit.MaxBodySize = config.MaxBodyBytes
	}
	timeout := middleware.DefaultTimeoutConfig()
	if config.RequestTimeout > 0 {
		timeout.Duration = config.RequestTimeout
	}

	engine.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORS),
		middleware.SizeLimit(sizeLimit),
		middleware.Timeout(timeout),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	var metrics gin.HandlerFunc
	if r.handlers.Metrics != nil {
		metrics = r.handlers.Metrics.Handler()
	}
	r.handlers.Health.RegisterRoutes(api, metrics)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	// Limiting after authentication keys the buckets by user
	if r.config.RateLimitEnabled {
		protected.Use(middleware.NewRateLimiter(r.config.RateLimit).RateLimit())
	}

	providerOnly := r.auth.RequireRole(model.RoleProvider)
	staffOnly := r.auth.RequireRole(model.RoleProvider, model.RoleAdmin)
	adminOnly := r.auth.RequireRole(model.RoleAdmin)

	r.handlers.Patient.RegisterRoutes(protected)
	r.handlers.Consultation.RegisterRoutes(protected, providerOnly)
	r.handlers.Prescription.RegisterRoutes(protected)
	r.handlers.Order.RegisterRoutes(protected, staffOnly, adminOnly)
	r.handlers.Notification.RegisterRoutes(protected)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
