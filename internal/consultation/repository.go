package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrConsultationNotFound = errors.New("consultation not found")

type Repository interface {
	// CreateOrGet inserts c unless the queue item already has a
	// consultation, in which case the stored one is returned.
	CreateOrGet(ctx context.Context, c *Consultation) (*Consultation, error)
	// MarkInProgress moves a scheduled consultation to in_progress. changed
	// is false when another caller already did.
	MarkInProgress(ctx context.Context, id uuid.UUID, at time.Time) (c *Consultation, changed bool, err error)
	GetByQueueItem(ctx context.Context, queueItemID uuid.UUID) (*Consultation, error)
}
