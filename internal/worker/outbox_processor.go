package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository"
	"github.com/jwalitptl/telehealth-api/pkg/logger"
	"github.com/jwalitptl/telehealth-api/pkg/messaging"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Lease          time.Duration
}

type Publisher interface {
	Publish(ctx context.Context, msg messaging.Message) error
}

// EventHandler reacts to a committed outbox event. Handlers must tolerate
// seeing the same event more than once.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *model.OutboxEvent) error
}

type EventHandlerFunc func(ctx context.Context, event *model.OutboxEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *model.OutboxEvent) error {
	return f(ctx, event)
}

// OutboxProcessor drains committed outbox events: each one is published to
// the broker and passed to the in-process handlers. Failures are retried with
// exponential backoff and parked in the dead letter table after MaxRetries.
type OutboxProcessor struct {
	repo      repository.OutboxRepository
	publisher Publisher
	handlers  []EventHandler
	config    OutboxProcessorConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	publisher Publisher,
	handlers []EventHandler,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.InitialBackoff <= 0 || config.MaxBackoff < config.InitialBackoff {
		panic("backoff bounds are invalid")
	}
	if config.Lease <= 0 {
		panic("Lease must be greater than 0")
	}

	return &OutboxProcessor{
		repo:      repo,
		publisher: publisher,
		handlers:  handlers,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch claims one batch of due events and works through it. It
// returns how many events were claimed.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.config.Lease)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_outbox_events", "error").Inc()
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_outbox_events", "success").Inc()

	for _, event := range events {
		if ctx.Err() != nil {
			return len(events), ctx.Err()
		}
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount)
		}
	}

	return len(events), nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	if err := p.dispatch(ctx, event); err != nil {
		return p.fail(ctx, event, err)
	}

	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	p.metrics.OutboxEventsProcessed.Inc()
	return nil
}

func (p *OutboxProcessor) dispatch(ctx context.Context, event *model.OutboxEvent) error {
	if p.publisher != nil {
		err := p.publisher.Publish(ctx, messaging.Message{
			ID:          event.ID,
			Type:        event.EventType,
			AggregateID: event.AggregateID,
			PatientID:   event.PatientID,
			Payload:     event.Payload,
			OccurredAt:  event.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	for _, h := range p.handlers {
		if err := h.HandleEvent(ctx, event); err != nil {
			return fmt.Errorf("event handler failed: %w", err)
		}
	}
	return nil
}

func (p *OutboxProcessor) fail(ctx context.Context, event *model.OutboxEvent, cause error) error {
	p.metrics.OutboxEventsFailed.Inc()
	attempts := event.RetryCount + 1

	if attempts >= p.config.MaxRetries {
		event.RetryCount = attempts
		if err := p.repo.MoveToDeadLetter(ctx, event, cause.Error()); err != nil {
			return fmt.Errorf("failed to move event to dead letter: %w", err)
		}
		p.metrics.OutboxEventsDeadLetter.Inc()
		p.logger.Warn("Outbox event moved to dead letter",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", attempts)
		return cause
	}

	retryAt := p.now().Add(Backoff(attempts, p.config.InitialBackoff, p.config.MaxBackoff))
	if err := p.repo.MarkRetry(ctx, event.ID, attempts, retryAt, cause.Error()); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	return cause
}
