package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("TELEHEALTH_DB_PASSWORD", "pw")
	t.Setenv("TELEHEALTH_JWT_SECRET", "jwt-secret")
	t.Setenv("TELEHEALTH_ENCRYPTION_KEY", "a2V5")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndSecrets(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 3s
messaging:
  driver: kafka
  kafka:
    brokers: ["kafka:9092"]
outbox:
  poll_interval: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "kafka", cfg.Messaging.Driver)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Messaging.Kafka.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, "manual", cfg.Payment.Driver)
	assert.Equal(t, "jwt-secret", cfg.Secrets.JWTSecret)
}

func TestLoadRequiresSecrets(t *testing.T) {
	setSecrets(t)
	require.NoError(t, os.Unsetenv("TELEHEALTH_JWT_SECRET"))
	path := writeConfig(t, "server:\n  port: 8080\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
messaging:
  driver: nats
payment:
  driver: http
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `messaging.driver "nats"`)
	assert.Contains(t, err.Error(), "payment.base_url is required")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN("p"))
}
