package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.QueueTTL)
	assert.Equal(t, 10*time.Minute, cfg.PaymentTTL)
	assert.Equal(t, 15*time.Minute, cfg.GroupTTL)
	assert.Equal(t, 60*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 10_000.0, cfg.Limits(PlanBasic).MaxRadiusMeters)
	assert.Equal(t, int64(5), cfg.Limits(PlanBasic).DailyLimit)
	assert.Equal(t, 3, cfg.Limits(PlanPremium).MaxDoctors)
}

func TestLoadRequiresDSNAndSecret(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsOversizedPlan(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PREMIUM_MAX_DOCTORS", "5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRedisURL(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")
	t.Setenv("QUEUE_TTL", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "user", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 2*time.Minute, cfg.QueueTTL)
}

func TestLimitsFallsBackToBasic(t *testing.T) {
	cfg := Config{Plans: map[string]PlanLimits{PlanBasic: {MaxDoctors: 2}}}
	assert.Equal(t, 2, cfg.Limits("gold").MaxDoctors)
}
