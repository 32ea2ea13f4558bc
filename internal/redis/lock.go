package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TryLock sets key to token only if key does not exist yet. Exactly one
// concurrent caller observes true for a given key.
func TryLock(ctx context.Context, client redis.Cmdable, key, token string, ttl time.Duration) (bool, error) {
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Unlock deletes key only while it still holds token. It reports whether
// the key was removed.
func Unlock(ctx context.Context, client redis.Scripter, key, token string) (bool, error) {
	n, err := unlockScript.Run(ctx, client, []string{key}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// RemainingTTL returns the time left on key, or fallback when the key is
// missing or has no expiry.
func RemainingTTL(ctx context.Context, client redis.Cmdable, key string, fallback time.Duration) (time.Duration, error) {
	ttl, err := client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("pttl %s: %w", key, err)
	}
	if ttl <= 0 {
		return fallback, nil
	}
	return ttl, nil
}
