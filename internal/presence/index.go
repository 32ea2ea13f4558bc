// Package presence tracks which doctors are reachable right now and where.
//
// Membership lives in a Redis geo set that cannot expire individual members,
// so each doctor also owns a short-lived liveness marker. Readers treat a geo
// member without a live marker as stale and evict it on the spot; there is no
// sweeper.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Candidate is a live geo member near a search origin.
type Candidate struct {
	DoctorID       uuid.UUID
	DistanceMeters float64
	Location       Location
}

// Index is the Redis-backed presence index.
type Index struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewIndex(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Index {
	return &Index{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// GoOnline publishes the doctor's position and starts its liveness window.
func (i *Index) GoOnline(ctx context.Context, doctorID uuid.UUID, loc *Location) error {
	if loc == nil || !loc.Valid() {
		return apperr.Unprocessable(apperr.CodeLocationRequired, "a valid location is required to go online")
	}

	member := doctorID.String()
	pipe := i.client.TxPipeline()
	pipe.GeoAdd(ctx, redisclient.OnlineDoctorsKey, &redis.GeoLocation{
		Name:      member,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
	})
	pipe.Set(ctx, redisclient.DoctorOnlineKey(member), "1", i.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("go online: %w", err)
	}
	return nil
}

// Ping extends the liveness window of a doctor already in the geo set.
func (i *Index) Ping(ctx context.Context, doctorID uuid.UUID) error {
	member := doctorID.String()
	if _, err := i.client.ZScore(ctx, redisclient.OnlineDoctorsKey, member).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return apperr.Conflict(apperr.CodeNotOnline, "doctor is not online")
		}
		return fmt.Errorf("ping lookup: %w", err)
	}

	if err := i.client.Set(ctx, redisclient.DoctorOnlineKey(member), "1", i.ttl).Err(); err != nil {
		return fmt.Errorf("ping refresh: %w", err)
	}
	return nil
}

func (i *Index) GoOffline(ctx context.Context, doctorID uuid.UUID) error {
	member := doctorID.String()
	pipe := i.client.TxPipeline()
	pipe.ZRem(ctx, redisclient.OnlineDoctorsKey, member)
	pipe.Del(ctx, redisclient.DoctorOnlineKey(member))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("go offline: %w", err)
	}
	return nil
}

func (i *Index) IsOnline(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	n, err := i.client.Exists(ctx, redisclient.DoctorOnlineKey(doctorID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("is online: %w", err)
	}
	return n > 0, nil
}

// Candidates returns up to count live doctors within radiusMeters of origin,
// nearest first. Members whose liveness marker is gone are removed from the
// geo set before returning.
func (i *Index) Candidates(ctx context.Context, origin Location, radiusMeters float64, count int) ([]Candidate, error) {
	locs, err := i.client.GeoRadius(ctx, redisclient.OnlineDoctorsKey, origin.Longitude, origin.Latitude, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     count,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}

	pipe := i.client.Pipeline()
	checks := make([]*redis.IntCmd, len(locs))
	for idx, loc := range locs {
		checks[idx] = pipe.Exists(ctx, redisclient.DoctorOnlineKey(loc.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("liveness check: %w", err)
	}

	out := make([]Candidate, 0, len(locs))
	var stale []any
	for idx, loc := range locs {
		id, parseErr := uuid.Parse(loc.Name)
		if parseErr != nil || checks[idx].Val() == 0 {
			stale = append(stale, loc.Name)
			continue
		}
		out = append(out, Candidate{
			DoctorID:       id,
			DistanceMeters: loc.Dist,
			Location:       Location{Latitude: loc.Latitude, Longitude: loc.Longitude},
		})
	}

	if len(stale) > 0 {
		if err := i.client.ZRem(ctx, redisclient.OnlineDoctorsKey, stale...).Err(); err != nil {
			i.logger.Warn().Err(err).Int("stale", len(stale)).Msg("evict stale presence members")
		} else {
			i.logger.Debug().Int("stale", len(stale)).Msg("evicted stale presence members")
		}
	}

	return out, nil
}
