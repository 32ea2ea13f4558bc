// Package arbiter decides which doctor wins an emergency group.
//
// The decision is a single SET NX on the group's acceptance key: exactly one
// concurrent caller can create it. The winner then commits its queue item in
// Postgres and calls Finalize, which cancels the still-queued siblings. If
// the process dies between the commit and Finalize the siblings stay queued
// until their own expiry, bounded by the group TTL.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/emergency"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

// Outcome tags the result of Reserve.
type Outcome int

const (
	// Uncoordinated means the item has no live group; the caller proceeds
	// relying on its own conditional write.
	Uncoordinated Outcome = iota
	// Claimed means the caller holds the group's acceptance lock.
	Claimed
	// Lost means another queue item already holds the lock.
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Uncoordinated:
		return "uncoordinated"
	case Claimed:
		return "claimed"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Claim is the handle returned to the lock holder.
type Claim struct {
	GroupID     uuid.UUID
	QueueItemID uuid.UUID
	GroupKey    string
	LockKey     string
	TTL         time.Duration
	Group       *emergency.Group // nil when the group record could not be read
}

type Reservation struct {
	Outcome Outcome
	Claim   *Claim
	// Holder is the queue item that owns the lock when Outcome is Lost.
	Holder string
}

// SiblingCanceller moves still-queued items to cancelled in one conditional
// write and returns the ids it actually changed.
type SiblingCanceller interface {
	CancelQueued(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
}

// FinalizeResult reports what Finalize changed.
type FinalizeResult struct {
	Group     *emergency.Group
	Cancelled []uuid.UUID
}

type Arbiter struct {
	client   *redis.Client
	groups   *emergency.Store
	siblings SiblingCanceller
	logger   zerolog.Logger
	now      func() time.Time
}

func New(client *redis.Client, groups *emergency.Store, siblings SiblingCanceller, logger zerolog.Logger) *Arbiter {
	return &Arbiter{
		client:   client,
		groups:   groups,
		siblings: siblings,
		logger:   logger.With().Str("component", "arbiter").Logger(),
		now:      time.Now,
	}
}

// Reserve tries to take the acceptance lock of the group queueItemID belongs to.
func (a *Arbiter) Reserve(ctx context.Context, queueItemID uuid.UUID) (Reservation, error) {
	groupID, ok, err := a.groups.GroupIDFor(ctx, queueItemID)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		return Reservation{Outcome: Uncoordinated}, nil
	}

	ttl, err := a.groups.RemainingTTL(ctx, groupID)
	if err != nil {
		return Reservation{}, err
	}

	lockKey := redisclient.EmergencyAcceptedKey(groupID.String())
	won, err := redisclient.TryLock(ctx, a.client, lockKey, queueItemID.String(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if !won {
		holder, herr := a.client.Get(ctx, lockKey).Result()
		if herr != nil && !errors.Is(herr, redis.Nil) {
			a.logger.Warn().Err(herr).Str("group_id", groupID.String()).Msg("read acceptance holder")
		}
		return Reservation{Outcome: Lost, Holder: holder}, nil
	}

	claim := &Claim{
		GroupID:     groupID,
		QueueItemID: queueItemID,
		GroupKey:    redisclient.EmergencyGroupKey(groupID.String()),
		LockKey:     lockKey,
		TTL:         ttl,
	}
	group, err := a.groups.Get(ctx, groupID)
	if err != nil {
		a.logger.Warn().Err(err).Str("group_id", groupID.String()).Msg("group snapshot unavailable")
	} else {
		claim.Group = group
	}

	return Reservation{Outcome: Claimed, Claim: claim}, nil
}

// Finalize runs after the winning queue item is durably accepted. Group
// metadata is best effort; sibling cancellation only touches items that are
// still queued, so it is safe to retry.
func (a *Arbiter) Finalize(ctx context.Context, claim *Claim, wonQueueItemID, doctorID uuid.UUID) (FinalizeResult, error) {
	now := a.now()
	result := FinalizeResult{Group: claim.Group}

	group, err := a.groups.MarkAccepted(ctx, claim.GroupID, wonQueueItemID, doctorID, now)
	switch {
	case err == nil:
		result.Group = group
	case errors.Is(err, emergency.ErrGroupAlreadyDecided):
		// never overwrite a recorded winner
		a.logger.Error().Str("group_id", claim.GroupID.String()).Str("queue_item_id", wonQueueItemID.String()).Msg("group already records a different winner")
		return result, err
	default:
		a.logger.Warn().Err(err).Str("group_id", claim.GroupID.String()).Msg("update group metadata")
	}

	if result.Group == nil {
		a.logger.Warn().Str("group_id", claim.GroupID.String()).Msg("group gone; siblings left to expire")
		return result, nil
	}

	siblings := result.Group.Siblings(wonQueueItemID)
	if len(siblings) == 0 {
		return result, nil
	}

	cancelled, err := a.siblings.CancelQueued(ctx, siblings, now)
	if err != nil {
		return result, fmt.Errorf("cancel siblings: %w", err)
	}
	result.Cancelled = cancelled
	return result, nil
}

// Release gives the lock back after a failed commit. It only deletes the key
// while it still names this claim's queue item.
func (a *Arbiter) Release(ctx context.Context, claim *Claim) error {
	if _, err := redisclient.Unlock(ctx, a.client, claim.LockKey, claim.QueueItemID.String()); err != nil {
		return err
	}
	return nil
}
