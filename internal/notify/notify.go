// Package notify publishes state-change events to the parties of a queue
// item. Delivery is fire-and-forget: errors are logged, never retried and
// never returned to the request that caused the change.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

const (
	EventEmergencyCreated    = "EMERGENCY_CREATED"
	EventQueueAccepted       = "QUEUE_ACCEPTED"
	EventQueueRejected       = "QUEUE_REJECTED"
	EventQueueCancelled      = "QUEUE_CANCELLED"
	EventPaymentUpdated      = "PAYMENT_UPDATED"
	EventConsultationStarted = "CONSULTATION_STARTED"
	EventAppointmentQueued   = "APPOINTMENT_QUEUED"
)

// Event is addressed to a single user.
type Event struct {
	Type        string         `json:"type"`
	UserID      uuid.UUID      `json:"userId"`
	QueueItemID *uuid.UUID     `json:"queueItemId,omitempty"`
	GroupID     *uuid.UUID     `json:"groupId,omitempty"`
	At          time.Time      `json:"at"`
	Data        map[string]any `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher sends events on the user's pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, redisclient.UserEventsChannel(ev.UserID.String()), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Async runs publishes in the background, detached from the request context.
type Async struct {
	pub     Publisher
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(pub Publisher, logger zerolog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{
		pub:     pub,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: timeout,
	}
}

// Notify schedules one publish per event and returns immediately.
func (a *Async) Notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		for _, ev := range events {
			if err := a.pub.Publish(ctx, ev); err != nil {
				a.logger.Warn().Err(err).
					Str("event", ev.Type).
					Str("user_id", ev.UserID.String()).
					Msg("notification dropped")
			}
		}
	}()
}

// Wait blocks until scheduled publishes finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
