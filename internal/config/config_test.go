package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 32)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.True(t, cfg.MigrationsEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenExpiry)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "4")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("MIGRATIONS_ENABLED", "false")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 4, cfg.RateLimitBurst)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
	assert.False(t, cfg.MigrationsEnabled)
	assert.Equal(t, 2525, cfg.SMTPPort)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
}

func TestRequireJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireJWTSecret(), ErrMissingJWTSecret)

	t.Setenv("JWT_SECRET", "too-short")
	cfg, err = Load()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireJWTSecret(), ErrShortJWTSecret)

	t.Setenv("JWT_SECRET", testSecret)
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireJWTSecret())
}

func TestLoad_UnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORE_DRIVER", "dynamo")

	_, err := Load()

	assert.ErrorIs(t, err, ErrUnknownDriver)
}
