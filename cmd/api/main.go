package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/telehealth-api/internal/auth"
	"github.com/jwalitptl/telehealth-api/internal/config"
	consultationHandler "github.com/jwalitptl/telehealth-api/internal/handler/consultation"
	"github.com/jwalitptl/telehealth-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/telehealth-api/internal/handler/notification"
	orderHandler "github.com/jwalitptl/telehealth-api/internal/handler/order"
	patientHandler "github.com/jwalitptl/telehealth-api/internal/handler/patient"
	prescriptionHandler "github.com/jwalitptl/telehealth-api/internal/handler/prescription"
	prometheusHandler "github.com/jwalitptl/telehealth-api/internal/handler/prometheus"
	"github.com/jwalitptl/telehealth-api/internal/middleware"
	"github.com/jwalitptl/telehealth-api/internal/payment"
	"github.com/jwalitptl/telehealth-api/internal/repository/postgres"
	"github.com/jwalitptl/telehealth-api/internal/router"
	auditService "github.com/jwalitptl/telehealth-api/internal/service/audit"
	consultationService "github.com/jwalitptl/telehealth-api/internal/service/consultation"
	notificationService "github.com/jwalitptl/telehealth-api/internal/service/notification"
	orderService "github.com/jwalitptl/telehealth-api/internal/service/order"
	patientService "github.com/jwalitptl/telehealth-api/internal/service/patient"
	prescriptionService "github.com/jwalitptl/telehealth-api/internal/service/prescription"
	reviewService "github.com/jwalitptl/telehealth-api/internal/service/review"
	"github.com/jwalitptl/telehealth-api/internal/storage"
	"github.com/jwalitptl/telehealth-api/pkg/logger"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
	"github.com/jwalitptl/telehealth-api/pkg/security"
	"github.com/jwalitptl/telehealth-api/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("TELEHEALTH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.Setup(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := validator.Register(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validation rules")
	}

	// Initialize database
	db, err := postgres.NewDB(cfg.Database, cfg.Secrets.DatabasePassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	patientRepo := postgres.NewPatientRepository(base)
	consultationRepo := postgres.NewConsultationRepository(base)
	reviewRepo := postgres.NewReviewRepository(base)
	prescriptionRepo := postgres.NewPrescriptionRepository(base)
	orderRepo := postgres.NewOrderRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

	// Initialize collaborators
	encryptor, err := security.NewEncryptorFromBase64(cfg.Secrets.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize photo storage")
	}

	gateway, err := payment.NewGateway(cfg.Payment, cfg.Secrets.PaymentAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize payment gateway")
	}

	auditLogger, err := auditService.NewLogger()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit logger")
	}
	defer func() { _ = auditLogger.Sync() }()
	auditor := auditService.NewService(auditLogger, cfg.Audit.Enabled)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics("telehealth", registry)

	// Initialize services
	patientSvc := patientService.NewService(patientRepo, encryptor, auditor)
	consultationSvc := consultationService.NewService(consultationRepo, patientRepo, store, auditor, appMetrics)
	reviewSvc := reviewService.NewService(reviewRepo, consultationRepo, patientRepo, auditor, appMetrics)
	orderSvc := orderService.NewService(orderRepo, prescriptionRepo, patientRepo, outboxRepo, gateway, auditor, appMetrics)
	prescriptionSvc := prescriptionService.NewService(
		prescriptionRepo,
		consultationRepo,
		patientRepo,
		orderSvc,
		cfg.Refill.IdempotencyTTL,
		auditor,
		appMetrics,
	)
	// Read side only; delivery runs in the worker
	notificationSvc := notificationService.NewService(notificationRepo, patientRepo, nil, notificationService.Options{}, appMetrics)

	jwtSvc := auth.NewJWTService(cfg.Secrets.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	// Initialize handlers
	handlers := router.Handlers{
		Patient:      patientHandler.NewHandler(patientSvc),
		Consultation: consultationHandler.NewHandler(consultationSvc, reviewSvc, prescriptionSvc),
		Prescription: prescriptionHandler.NewHandler(prescriptionSvc),
		Order:        orderHandler.NewHandler(orderSvc),
		Notification: notificationHandler.NewHandler(notificationSvc),
		Health:       health.NewHandler(db),
	}
	if cfg.Server.MetricsEnabled {
		handlers.Metrics = prometheusHandler.New(registry, appMetrics)
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORS.AllowedOrigins
	if len(cfg.CORS.AllowedMethods) > 0 {
		cors.AllowMethods = cfg.CORS.AllowedMethods
	}
	if len(cfg.CORS.AllowedHeaders) > 0 {
		cors.AllowHeaders = cfg.CORS.AllowedHeaders
	}

	r := router.NewRouter(authMiddleware, handlers, router.RouterConfig{
		Mode:             cfg.Server.Mode,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit: middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		},
		CORS: cors,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
