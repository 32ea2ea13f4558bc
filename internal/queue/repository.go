package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	// ErrStateChanged means a conditional write matched no row: the item is
	// no longer in the state the caller read.
	ErrStateChanged = errors.New("queue item state changed concurrently")
)

// AcceptParams carries the columns written by a successful accept.
type AcceptParams struct {
	DoctorID         uuid.UUID
	At               time.Time
	PaymentExpiresAt time.Time
}

// SweepResult counts rows moved by a batch expiry pass.
type SweepResult struct {
	Items    int64
	Payments int64
}

// Repository is the durable queue store. Every state-changing method
// conditions its write on the expected prior state.
type Repository interface {
	CreateItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	List(ctx context.Context, scope Scope, limit, offset int) ([]Item, error)

	// HasOpenEmergency reports whether patientID holds a queued or accepted,
	// unclosed emergency entry against any of doctorIDs.
	HasOpenEmergency(ctx context.Context, patientID uuid.UUID, doctorIDs []uuid.UUID) (bool, error)

	// Transitions; ErrStateChanged when the guard does not hold.
	Accept(ctx context.Context, id uuid.UUID, p AcceptParams) (*Item, error)
	Reject(ctx context.Context, id, by uuid.UUID, at time.Time) (*Item, error)
	Cancel(ctx context.Context, id, by uuid.UUID, at time.Time) (*Item, error)
	CancelQueued(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
	MarkClosed(ctx context.Context, id uuid.UUID, at time.Time) error

	// Lazy expiry
	ExpireItem(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpirePayment(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SweepExpired(ctx context.Context, scope Scope, now time.Time) (SweepResult, error)
}
