package consultation

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Consultation is the single video session opened for one queue item.
type Consultation struct {
	ID          uuid.UUID
	QueueItemID uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Status      Status
	RoomName    string
	VideoURL    string
	LiveKitURL  string
	StartedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Request struct {
	QueueItemID uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
}
