package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/config"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

func newTestLimiter(t *testing.T, now time.Time) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(now)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewLimiter(client)
	l.now = func() time.Time { return now }
	return mr, l
}

func TestDailyLimitReached(t *testing.T) {
	now := time.Date(2026, 10, 18, 21, 30, 0, 0, time.UTC)
	mr, l := newTestLimiter(t, now)
	patient := uuid.New()
	limits := config.PlanLimits{DailyLimit: 5, MonthlyLimit: 30}

	for i := 1; i <= 5; i++ {
		usage, err := l.CheckAndConsume(context.Background(), patient, limits)
		require.NoError(t, err)
		assert.Equal(t, int64(i), usage.Daily)
	}

	_, err := l.CheckAndConsume(context.Background(), patient, limits)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, apperr.CodeEmergencyLimitReached, appErr.Code)

	untilMidnight := int64(2*60*60 + 30*60)
	retry := appErr.Extensions["retryAfterSeconds"].(int64)
	assert.LessOrEqual(t, retry, untilMidnight)
	assert.Greater(t, retry, int64(0))
	assert.Equal(t, "2026-10-19T00:00:00Z", appErr.Extensions["resetAt"])

	dayKey := redisclient.QuotaDayKey(patient.String(), now)
	assert.Equal(t, time.Duration(untilMidnight)*time.Second, mr.TTL(dayKey))
}

func TestExpirySetOnlyOnFirstIncrement(t *testing.T) {
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	mr, l := newTestLimiter(t, now)
	patient := uuid.New()
	limits := config.PlanLimits{DailyLimit: 5, MonthlyLimit: 30}

	_, err := l.CheckAndConsume(context.Background(), patient, limits)
	require.NoError(t, err)

	monthKey := redisclient.QuotaMonthKey(patient.String(), now)
	// shorten the TTL; a later increment must not reset it
	mr.SetTTL(monthKey, time.Hour)

	_, err = l.CheckAndConsume(context.Background(), patient, limits)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(monthKey))

	got, err := mr.Get(monthKey)
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestMonthlyLimitUsesMonthBoundary(t *testing.T) {
	now := time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)
	_, l := newTestLimiter(t, now)
	patient := uuid.New()
	limits := config.PlanLimits{DailyLimit: 10, MonthlyLimit: 1}

	_, err := l.CheckAndConsume(context.Background(), patient, limits)
	require.NoError(t, err)

	_, err = l.CheckAndConsume(context.Background(), patient, limits)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "2027-01-01T00:00:00Z", appErr.Extensions["resetAt"])
	assert.Equal(t, "month", appErr.Extensions["scope"])
	assert.Equal(t, int64(12*60*60), appErr.Extensions["retryAfterSeconds"])
}

func TestPatientsHaveIndependentCounters(t *testing.T) {
	now := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	_, l := newTestLimiter(t, now)
	limits := config.PlanLimits{DailyLimit: 1, MonthlyLimit: 10}

	_, err := l.CheckAndConsume(context.Background(), uuid.New(), limits)
	require.NoError(t, err)
	_, err = l.CheckAndConsume(context.Background(), uuid.New(), limits)
	require.NoError(t, err)
}
