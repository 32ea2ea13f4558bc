package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/config"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

// consumeScript increments every key and pins the expiry only on the
// increment that created it.
var consumeScript = redis.NewScript(`
local out = {}
for i = 1, #KEYS do
  local c = redis.call("INCR", KEYS[i])
  if c == 1 then
    redis.call("PEXPIREAT", KEYS[i], ARGV[i])
  end
  out[i] = c
end
return out
`)

// Usage is the counter state after a consume.
type Usage struct {
	Daily   int64
	Monthly int64
}

// Limiter enforces per-patient daily and monthly emergency caps.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// CheckAndConsume counts one emergency for patientID and fails with
// emergency_limit_reached when either window is over its limit.
func (l *Limiter) CheckAndConsume(ctx context.Context, patientID uuid.UUID, limits config.PlanLimits) (Usage, error) {
	now := l.now().UTC()
	nextDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	nextMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)

	keys := []string{
		redisclient.QuotaDayKey(patientID.String(), now),
		redisclient.QuotaMonthKey(patientID.String(), now),
	}
	counts, err := consumeScript.Run(ctx, l.client, keys, nextDay.UnixMilli(), nextMonth.UnixMilli()).Int64Slice()
	if err != nil {
		return Usage{}, fmt.Errorf("consume quota: %w", err)
	}
	if len(counts) != 2 {
		return Usage{}, fmt.Errorf("consume quota: unexpected reply of %d counters", len(counts))
	}
	usage := Usage{Daily: counts[0], Monthly: counts[1]}

	monthExceeded := limits.MonthlyLimit > 0 && usage.Monthly > limits.MonthlyLimit
	dayExceeded := limits.DailyLimit > 0 && usage.Daily > limits.DailyLimit
	if !monthExceeded && !dayExceeded {
		return usage, nil
	}

	resetAt := nextDay
	scope := "day"
	if monthExceeded {
		resetAt = nextMonth
		scope = "month"
	}
	retryAfter := int64(math.Ceil(resetAt.Sub(now).Seconds()))

	return usage, apperr.Conflict(apperr.CodeEmergencyLimitReached, "emergency request limit reached").
		With("retryAfterSeconds", retryAfter).
		With("resetAt", resetAt.Format(time.RFC3339)).
		With("scope", scope)
}
