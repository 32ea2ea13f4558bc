package profile

import (
	"time"

	"github.com/google/uuid"
)

type Doctor struct {
	UserID              uuid.UUID
	Name                string
	Specialty           string
	EmergencyPriceCents int64
	Verified            bool
	Active              bool
}

// Eligible reports whether the doctor may receive emergency requests.
func (d Doctor) Eligible() bool {
	return d.Active && d.Verified
}

// Filter narrows nearby candidates. Zero values match everything.
type Filter struct {
	Specialty     string
	MaxPriceCents int64
}

func (f Filter) Matches(d Doctor) bool {
	if !d.Eligible() {
		return false
	}
	if f.Specialty != "" && d.Specialty != f.Specialty {
		return false
	}
	if f.MaxPriceCents > 0 && d.EmergencyPriceCents > f.MaxPriceCents {
		return false
	}
	return true
}

// WorkingHours is one weekly window, in minutes from local midnight.
type WorkingHours struct {
	DoctorID    uuid.UUID
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	Timezone    string
}

// Contains reports whether at falls inside the window in the window's timezone.
func (w WorkingHours) Contains(at time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	if local.Weekday() != w.Weekday {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.StartMinute && minute < w.EndMinute
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	ScheduledAt time.Time
	Status      string
	CreatedAt   time.Time
}
