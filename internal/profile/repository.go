package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Directory resolves doctor profiles.
type Directory interface {
	DoctorsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// Schedule answers whether a doctor declared working hours covering a moment.
type Schedule interface {
	WithinWorkingHours(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error)
}

// Appointments is the read side of the booking flow.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
