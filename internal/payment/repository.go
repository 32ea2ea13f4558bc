package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicate reports a unique index hit: a concurrent request already
	// stored a payment for the same key or queue item.
	ErrDuplicate = errors.New("payment already exists")
	// ErrQueueItemNotPayable means the queue item left accepted/pending
	// before the payment row could be attached.
	ErrQueueItemNotPayable = errors.New("queue item no longer awaits payment")
	ErrStatusChanged       = errors.New("payment status changed concurrently")
)

type Repository interface {
	FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, kind Kind, key string) (*Payment, error)
	// FindOpenForQueueItem returns the pending or paid payment of a queue item.
	FindOpenForQueueItem(ctx context.Context, queueItemID uuid.UUID) (*Payment, error)
	GetByPreferenceID(ctx context.Context, preferenceID string) (*Payment, error)

	// CreateForQueueItem inserts p and moves the queue item's payment window
	// to p.ExpiresAt in one transaction.
	CreateForQueueItem(ctx context.Context, p *Payment) error
	// ApplyStatus moves a payment and its queue item from pending to status.
	ApplyStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Payment, error)
}
