package emergency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

var (
	ErrGroupNotFound       = errors.New("emergency group not found")
	ErrGroupAlreadyDecided = errors.New("emergency group already accepted by another queue item")
)

// Store persists groups and their queue-item reverse mappings in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create writes the group and one queueItemID -> groupID mapping per item,
// all with the group TTL.
func (s *Store) Create(ctx context.Context, g *Group) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal group: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisclient.EmergencyGroupKey(g.ID.String()), data, s.ttl)
	for _, qid := range g.QueueItemIDs {
		pipe.Set(ctx, redisclient.EmergencyRequestKey(qid.String()), g.ID.String(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store group: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, groupID uuid.UUID) (*Group, error) {
	data, err := s.client.Get(ctx, redisclient.EmergencyGroupKey(groupID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}

	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode group: %w", err)
	}
	return &g, nil
}

// GroupIDFor resolves the group of a queue item. ok is false when the item
// never belonged to a group or the mapping expired.
func (s *Store) GroupIDFor(ctx context.Context, queueItemID uuid.UUID) (uuid.UUID, bool, error) {
	raw, err := s.client.Get(ctx, redisclient.EmergencyRequestKey(queueItemID.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("load group mapping: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse group mapping %q: %w", raw, err)
	}
	return id, true, nil
}

// RemainingTTL is the time left on the group record, or the full group TTL
// when the record is gone.
func (s *Store) RemainingTTL(ctx context.Context, groupID uuid.UUID) (time.Duration, error) {
	return redisclient.RemainingTTL(ctx, s.client, redisclient.EmergencyGroupKey(groupID.String()), s.ttl)
}

// MarkAccepted records the winner on the group, keeping its remaining TTL.
// A group already accepted by a different queue item is left unchanged.
func (s *Store) MarkAccepted(ctx context.Context, groupID, queueItemID, doctorID uuid.UUID, at time.Time) (*Group, error) {
	g, err := s.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.AcceptedQueueItemID != nil {
		if *g.AcceptedQueueItemID != queueItemID {
			return g, ErrGroupAlreadyDecided
		}
		return g, nil
	}

	ttl, err := s.RemainingTTL(ctx, groupID)
	if err != nil {
		return nil, err
	}

	g.Status = GroupAccepted
	g.AcceptedAt = &at
	g.AcceptedByDoctorID = &doctorID
	g.AcceptedQueueItemID = &queueItemID

	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal group: %w", err)
	}
	if err := s.client.Set(ctx, redisclient.EmergencyGroupKey(groupID.String()), data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return g, nil
}
