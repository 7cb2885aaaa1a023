package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
}

// messageWriter is the subset of *kafka.Writer the broker uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaBroker struct {
	writer messageWriter
	logger *zerolog.Logger
}

func NewKafkaBroker(config Config, logger *zerolog.Logger) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker address is required")
	}

	acks := kafka.RequireAll
	if config.RequiredAcks == 1 {
		acks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
	}

	return newWithWriter(writer, logger), nil
}

func newWithWriter(writer messageWriter, logger *zerolog.Logger) *KafkaBroker {
	return &KafkaBroker{writer: writer, logger: logger}
}

// Publish writes one message keyed for partitioning
func (b *KafkaBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	b.logger.Debug().Str("topic", topic).Str("key", key).Msg("published message")
	return nil
}

func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}
