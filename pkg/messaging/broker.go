package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/telehealth-api/pkg/circuitbreaker"
	"github.com/jwalitptl/telehealth-api/pkg/messaging/kafka"
	"github.com/jwalitptl/telehealth-api/pkg/messaging/redis"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Message is the envelope published for every domain event
type Message struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type Config struct {
	Driver      string
	TopicPrefix string
	Redis       redis.Config
	Kafka       kafka.Config
}

// New builds the broker selected by cfg.Driver
func New(cfg Config, logger *zerolog.Logger) (Broker, error) {
	switch cfg.Driver {
	case "", "redis":
		return redis.NewRedisBroker(cfg.Redis, logger)
	case "kafka":
		return kafka.NewKafkaBroker(cfg.Kafka, logger)
	default:
		return nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
	}
}

// Publisher encodes messages and sends them through a broker guarded by a
// circuit breaker. The aggregate id is used as the partition key so events of
// one aggregate keep their order.
type Publisher struct {
	broker Broker
	prefix string
	cb     *circuitbreaker.CircuitBreaker
}

func NewPublisher(broker Broker, topicPrefix string) *Publisher {
	return &Publisher{
		broker: broker,
		prefix: topicPrefix,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:             "message-broker",
			MaxRequests:      1,
			Interval:         10 * time.Second,
			Timeout:          5 * time.Second,
			FailureThreshold: 5,
		}),
	}
}

func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.cb.Execute(func() error {
		return p.broker.Publish(ctx, p.Topic(msg.Type), msg.AggregateID.String(), payload)
	})
}

// Topic maps an event type to its broker topic
func (p *Publisher) Topic(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *Publisher) Close() error {
	return p.broker.Close()
}
