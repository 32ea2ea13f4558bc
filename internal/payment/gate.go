// Package payment gates emergency consultations behind a paid checkout
// preference created with an external provider.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/notify"
)

type Notifier interface {
	Notify(events ...notify.Event)
}

type GateConfig struct {
	Currency        string
	TTL             time.Duration
	NotificationURL string
}

type Gate struct {
	repo     Repository
	provider Provider
	notifier Notifier
	cfg      GateConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewGate(repo Repository, provider Provider, notifier Notifier, cfg GateConfig, logger zerolog.Logger) *Gate {
	return &Gate{
		repo:     repo,
		provider: provider,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "payment").Logger(),
		now:      time.Now,
	}
}

// RequestForQueue returns the payment of an accepted queue item, creating a
// provider preference only when neither the idempotency key nor the queue
// item already has one.
func (g *Gate) RequestForQueue(ctx context.Context, c Charge) (*Payment, error) {
	existing, err := g.findExisting(ctx, c)
	if err != nil || existing != nil {
		return existing, err
	}

	now := g.now()
	expiresAt := now.Add(g.cfg.TTL)

	pref, err := g.provider.CreatePreference(ctx, PreferenceRequest{
		ExternalReference: c.QueueItemID.String(),
		Title:             c.Description,
		AmountCents:       c.AmountCents,
		Currency:          g.cfg.Currency,
		ExpiresAt:         expiresAt,
		NotificationURL:   g.cfg.NotificationURL,
		PayerID:           c.PatientID.String(),
	})
	if err != nil {
		return nil, apperr.Unavailable(apperr.CodePaymentProviderFailed, "payment provider unavailable", err)
	}

	qid := c.QueueItemID
	p := &Payment{
		ID:                   uuid.New(),
		Status:               StatusPending,
		Kind:                 c.Kind,
		PatientID:            c.PatientID,
		QueueItemID:          &qid,
		AmountCents:          c.AmountCents,
		Currency:             g.cfg.Currency,
		ExpiresAt:            expiresAt,
		ProviderPreferenceID: pref.ID,
		CheckoutURL:          pref.CheckoutURL,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if c.IdempotencyKey != "" {
		key := c.IdempotencyKey
		p.IdempotencyKey = &key
	}

	err = g.repo.CreateForQueueItem(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		// lost an insert race; the winner's row is the answer
		existing, ferr := g.findExisting(ctx, c)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("payment duplicate without a visible row: %w", err)
		}
		return existing, nil
	case errors.Is(err, ErrQueueItemNotPayable):
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "queue item is no longer awaiting payment")
	default:
		return nil, fmt.Errorf("store payment: %w", err)
	}

	g.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("queue_item_id", qid.String()).
		Int64("amount_cents", p.AmountCents).
		Msg("payment preference created")

	return p, nil
}

func (g *Gate) findExisting(ctx context.Context, c Charge) (*Payment, error) {
	if c.IdempotencyKey != "" {
		p, err := g.repo.FindByIdempotencyKey(ctx, c.PatientID, c.Kind, c.IdempotencyKey)
		switch {
		case err == nil:
			if p.QueueItemID == nil || *p.QueueItemID != c.QueueItemID {
				return nil, apperr.Conflict(apperr.CodeIdempotencyKeyReused, "idempotency key already used for another queue item")
			}
			return p, nil
		case !errors.Is(err, ErrPaymentNotFound):
			return nil, fmt.Errorf("find payment by key: %w", err)
		}
	}

	p, err := g.repo.FindOpenForQueueItem(ctx, c.QueueItemID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment by queue item: %w", err)
	}
	return p, nil
}

// ApplyProviderStatus records the provider's verdict for a preference. A
// paid notification arriving after the window lapsed expires the payment.
func (g *Gate) ApplyProviderStatus(ctx context.Context, preferenceID string, status Status) (*Payment, error) {
	if status != StatusPaid && status != StatusFailed {
		return nil, apperr.Unprocessable(apperr.CodeValidation, "status must be paid or failed")
	}

	p, err := g.repo.GetByPreferenceID(ctx, preferenceID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, apperr.NotFound(apperr.CodePaymentNotFound, "payment not found")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p.Status == status {
		return p, nil
	}
	if p.Status != StatusPending {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("payment is %s", p.Status))
	}

	now := g.now()
	target := status
	if status == StatusPaid && now.After(p.ExpiresAt) {
		target = StatusExpired
	}

	updated, err := g.repo.ApplyStatus(ctx, p.ID, target, now)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, apperr.Conflict(apperr.CodeInvalidTransition, "payment status changed concurrently")
		}
		return nil, fmt.Errorf("apply payment status: %w", err)
	}

	g.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("status", string(target)).
		Msg("payment status applied")

	ev := notify.Event{
		Type:        notify.EventPaymentUpdated,
		UserID:      p.PatientID,
		QueueItemID: p.QueueItemID,
		At:          now,
		Data:        map[string]any{"paymentId": p.ID, "status": target},
	}
	g.notifier.Notify(ev)

	if target == StatusExpired {
		return updated, apperr.Conflict(apperr.CodePaymentWindowExpired, "payment window expired")
	}
	return updated, nil
}
