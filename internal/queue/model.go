package queue

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type EntryType string

const (
	EntryAppointment EntryType = "appointment"
	EntryEmergency   EntryType = "emergency"
)

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentNotStarted  PaymentStatus = "not_started"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentFailed      PaymentStatus = "failed"
	PaymentExpired     PaymentStatus = "expired"
)

// Item is one doctor-side slot in a waiting room or an emergency fan-out.
type Item struct {
	ID               uuid.UUID
	Status           Status
	EntryType        EntryType
	DoctorID         uuid.UUID
	PatientID        uuid.UUID
	AppointmentID    *uuid.UUID
	Reason           *string
	PaymentStatus    PaymentStatus
	QueuedAt         time.Time
	ExpiresAt        time.Time
	AcceptedAt       *time.Time
	AcceptedBy       *uuid.UUID
	RejectedAt       *time.Time
	RejectedBy       *uuid.UUID
	CancelledAt      *time.Time
	CancelledBy      *uuid.UUID
	PaymentExpiresAt *time.Time
	ClosedAt         *time.Time
	UpdatedAt        time.Time
}

func (i *Item) Terminal() bool {
	switch i.Status {
	case StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// QueueWindowLapsed reports whether a queued item is past its expiry. An item
// whose consultation has started never lapses.
func (i *Item) QueueWindowLapsed(now time.Time) bool {
	return ValidTransition(ActionExpire, i.Status) && i.ClosedAt == nil && now.After(i.ExpiresAt)
}

// PaymentWindowLapsed reports whether a pending payment is past its window.
func (i *Item) PaymentWindowLapsed(now time.Time) bool {
	return ValidPaymentTransition(i.PaymentStatus, PaymentExpired) &&
		i.PaymentExpiresAt != nil &&
		now.After(*i.PaymentExpiresAt)
}

// Open means the item still blocks a new emergency against the same doctor.
func (i *Item) Open() bool {
	return (i.Status == StatusQueued || i.Status == StatusAccepted) && i.ClosedAt == nil
}

func (i *Item) IsParty(userID uuid.UUID) bool {
	return i.DoctorID == userID || i.PatientID == userID
}

// Scope narrows list and sweep operations. A zero Scope covers every item.
type Scope struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

func (s Scope) Includes(i *Item) bool {
	if s.DoctorID != nil && *s.DoctorID != i.DoctorID {
		return false
	}
	if s.PatientID != nil && *s.PatientID != i.PatientID {
		return false
	}
	return true
}
