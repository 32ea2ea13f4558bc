package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

type Kind string

const KindEmergencyConsultation Kind = "emergency_consultation"

type Payment struct {
	ID                   uuid.UUID
	Status               Status
	Kind                 Kind
	PatientID            uuid.UUID
	QueueItemID          *uuid.UUID
	AppointmentID        *uuid.UUID
	AmountCents          int64
	Currency             string
	ExpiresAt            time.Time
	IdempotencyKey       *string
	ProviderPreferenceID string
	CheckoutURL          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Charge describes the payment requested for an accepted queue item.
type Charge struct {
	Kind           Kind
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	QueueItemID    uuid.UUID
	AmountCents    int64
	Description    string
	IdempotencyKey string
}
