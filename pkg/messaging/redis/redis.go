package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisBroker struct {
	client *redis.Client
	logger *zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

func NewRedisBroker(config Config, logger *zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, logger), nil
}

func NewWithClient(client *redis.Client, logger *zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

// Publish fans the payload out on the topic channel. Redis pub/sub has no
// partitions, so the key is only logged.
func (b *RedisBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	receivers, err := b.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	b.logger.Debug().
		Str("topic", topic).
		Str("key", key).
		Int64("receivers", receivers).
		Msg("published message")
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
