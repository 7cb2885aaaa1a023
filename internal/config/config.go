package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every secret read from the environment
const EnvPrefix = "TELEHEALTH"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Messaging    MessagingConfig    `mapstructure:"messaging"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Notification NotificationConfig `mapstructure:"notification"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Storage      StorageConfig      `mapstructure:"storage"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Refill       RefillConfig       `mapstructure:"refill"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Worker       WorkerConfig       `mapstructure:"worker"`

	Secrets Secrets `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
}

// AuthConfig describes the tokens issued by the identity service. The signing
// secret itself is in Secrets.
type AuthConfig struct {
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MessagingConfig struct {
	Driver      string      `mapstructure:"driver"`
	TopicPrefix string      `mapstructure:"topic_prefix"`
	Redis       RedisConfig `mapstructure:"redis"`
	Kafka       KafkaConfig `mapstructure:"kafka"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type OutboxConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Lease          time.Duration `mapstructure:"lease"`
	Retention      time.Duration `mapstructure:"retention"`
	CleanupEvery   time.Duration `mapstructure:"cleanup_every"`
}

type NotificationConfig struct {
	Email          EmailConfig   `mapstructure:"email"`
	SMS            SMSConfig     `mapstructure:"sms"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	RetryEvery     time.Duration `mapstructure:"retry_every"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	From     string `mapstructure:"from"`
}

type SMSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	Driver   string        `mapstructure:"driver"`
	BaseURL  string        `mapstructure:"base_url"`
	Currency string        `mapstructure:"currency"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Bucket       string        `mapstructure:"bucket"`
	Region       string        `mapstructure:"region"`
	Endpoint     string        `mapstructure:"endpoint"`
	UsePathStyle bool          `mapstructure:"use_path_style"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PresignTTL   time.Duration `mapstructure:"presign_ttl"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type RefillConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WorkerConfig applies to the background worker process only
type WorkerConfig struct {
	HealthPort        int `mapstructure:"health_port"`
	NotificationBatch int `mapstructure:"notification_batch"`
}

// Secrets are only ever read from the environment, e.g. TELEHEALTH_JWT_SECRET
type Secrets struct {
	DatabasePassword string `envconfig:"DB_PASSWORD" required:"true"`
	JWTSecret        string `envconfig:"JWT_SECRET" required:"true"`
	EncryptionKey    string `envconfig:"ENCRYPTION_KEY" required:"true"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	SMSAPIKey        string `envconfig:"SMS_API_KEY"`
	PaymentAPIKey    string `envconfig:"PAYMENT_API_KEY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("auth.issuer", "telehealth-identity")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "telehealth")
	v.SetDefault("database.name", "telehealth")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("messaging.driver", "redis")
	v.SetDefault("messaging.topic_prefix", "telehealth")
	v.SetDefault("messaging.redis.url", "redis://localhost:6379/0")
	v.SetDefault("messaging.redis.max_retries", 3)
	v.SetDefault("messaging.redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("messaging.kafka.batch_timeout", 50*time.Millisecond)
	v.SetDefault("messaging.kafka.write_timeout", 10*time.Second)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.max_retries", 8)
	v.SetDefault("outbox.initial_backoff", 5*time.Second)
	v.SetDefault("outbox.max_backoff", 30*time.Minute)
	v.SetDefault("outbox.lease", time.Minute)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_every", time.Hour)

	v.SetDefault("notification.email.port", 587)
	v.SetDefault("notification.sms.timeout", 5*time.Second)
	v.SetDefault("notification.max_attempts", 5)
	v.SetDefault("notification.initial_backoff", 30*time.Second)
	v.SetDefault("notification.max_backoff", time.Hour)
	v.SetDefault("notification.retry_every", 15*time.Second)

	v.SetDefault("payment.driver", "manual")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.timeout", 10*time.Second)

	v.SetDefault("storage.key_prefix", "intake-photos")
	v.SetDefault("storage.presign_ttl", 15*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"})

	v.SetDefault("refill.idempotency_ttl", 24*time.Hour)
	v.SetDefault("audit.enabled", true)

	v.SetDefault("worker.health_port", 8081)
	v.SetDefault("worker.notification_batch", 50)
}

// Load reads the yaml config at path, or config.yaml from the usual search
// paths when path is empty, then overlays secrets from the environment. A
// .env file in the working directory is honoured when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.Messaging.Driver {
	case "redis":
		if c.Messaging.Redis.URL == "" {
			problems = append(problems, "messaging.redis.url is required")
		}
	case "kafka":
		if len(c.Messaging.Kafka.Brokers) == 0 {
			problems = append(problems, "messaging.kafka.brokers is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("messaging.driver %q is not supported", c.Messaging.Driver))
	}

	switch c.Payment.Driver {
	case "manual":
	case "http":
		if c.Payment.BaseURL == "" {
			problems = append(problems, "payment.base_url is required for the http driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("payment.driver %q is not supported", c.Payment.Driver))
	}

	if c.Outbox.BatchSize <= 0 {
		problems = append(problems, "outbox.batch_size must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		problems = append(problems, "outbox.poll_interval must be positive")
	}
	if c.Notification.Email.Enabled && c.Notification.Email.Host == "" {
		problems = append(problems, "notification.email.host is required when email is enabled")
	}
	if c.Notification.SMS.Enabled && c.Notification.SMS.BaseURL == "" {
		problems = append(problems, "notification.sms.base_url is required when sms is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN(password string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, password, d.Name, d.SSLMode)
}
