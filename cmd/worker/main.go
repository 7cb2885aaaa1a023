package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/telehealth-api/internal/config"
	"github.com/jwalitptl/telehealth-api/internal/email"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository/postgres"
	notificationService "github.com/jwalitptl/telehealth-api/internal/service/notification"
	"github.com/jwalitptl/telehealth-api/internal/sms"
	"github.com/jwalitptl/telehealth-api/internal/worker"
	"github.com/jwalitptl/telehealth-api/pkg/logger"
	"github.com/jwalitptl/telehealth-api/pkg/messaging"
	"github.com/jwalitptl/telehealth-api/pkg/messaging/kafka"
	"github.com/jwalitptl/telehealth-api/pkg/messaging/redis"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

func setupHealthCheck(cfg *config.Config, db *sqlx.DB, registry *prometheus.Registry, logger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if cfg.Server.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func brokerConfig(cfg config.MessagingConfig) messaging.Config {
	return messaging.Config{
		Driver:      cfg.Driver,
		TopicPrefix: cfg.TopicPrefix,
		Redis: redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		},
		Kafka: kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		},
	}
}

func main() {
	// Load config
	cfg, err := config.Load(os.Getenv("TELEHEALTH_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize logger
	appLogger := logger.Setup(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}).
		WithFields(map[string]interface{}{"component": "worker"})

	// Initialize database
	db, err := postgres.NewDB(cfg.Database, cfg.Secrets.DatabasePassword)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	// Initialize broker
	broker, err := messaging.New(brokerConfig(cfg.Messaging), appLogger.Zerolog())
	if err != nil {
		appLogger.Fatal(err, "failed to create message broker")
	}
	defer broker.Close()
	publisher := messaging.NewPublisher(broker, cfg.Messaging.TopicPrefix)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	workerMetrics := metrics.NewMetrics("telehealth", registry)

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	patientRepo := postgres.NewPatientRepository(baseRepo)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)

	// Notification channels
	senders := make(map[model.NotificationChannel]notificationService.Sender)
	if cfg.Notification.Email.Enabled {
		senders[model.ChannelEmail] = notificationService.NewEmailSender(
			email.NewSMTPService(cfg.Notification.Email, cfg.Secrets.SMTPPassword))
	}
	if cfg.Notification.SMS.Enabled {
		senders[model.ChannelSMS] = notificationService.NewSMSSender(
			sms.NewClient(cfg.Notification.SMS, cfg.Secrets.SMSAPIKey))
	}
	notificationSvc := notificationService.NewService(notificationRepo, patientRepo, senders, notificationService.Options{
		MaxAttempts:    cfg.Notification.MaxAttempts,
		InitialBackoff: cfg.Notification.InitialBackoff,
		MaxBackoff:     cfg.Notification.MaxBackoff,
		Lease:          cfg.Outbox.Lease,
	}, workerMetrics)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		publisher,
		[]worker.EventHandler{notificationSvc},
		worker.OutboxProcessorConfig{
			BatchSize:      cfg.Outbox.BatchSize,
			PollInterval:   cfg.Outbox.PollInterval,
			MaxRetries:     cfg.Outbox.MaxRetries,
			InitialBackoff: cfg.Outbox.InitialBackoff,
			MaxBackoff:     cfg.Outbox.MaxBackoff,
			Lease:          cfg.Outbox.Lease,
		},
		appLogger,
		workerMetrics,
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, cfg.Outbox.CleanupEvery, appLogger)
	retrier := worker.NewNotificationRetryWorker(
		notificationSvc,
		cfg.Worker.NotificationBatch,
		cfg.Notification.RetryEvery,
		appLogger,
	)

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg, db, registry, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){processor.Start, cleanup.Start, retrier.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}
	appLogger.Info("worker started", "driver", cfg.Messaging.Driver, "channels", len(senders))
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "health check server forced to shutdown")
	}
	appLogger.Info("worker exited properly")
}
