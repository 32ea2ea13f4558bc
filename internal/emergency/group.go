// Package emergency keeps the ephemeral coordination record of one emergency
// request fanned out to several doctors. It is never the system of record
// for billing state.
package emergency

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/emergency-dispatch/internal/presence"
)

type GroupStatus string

const (
	GroupPending  GroupStatus = "pending"
	GroupAccepted GroupStatus = "accepted"
)

// Group coordinates the queue items created from one emergency request.
// DoctorIDs and QueueItemIDs are index-aligned.
type Group struct {
	ID                  uuid.UUID         `json:"id"`
	PatientID           uuid.UUID         `json:"patientId"`
	DoctorIDs           []uuid.UUID       `json:"doctorIds"`
	QueueItemIDs        []uuid.UUID       `json:"queueItemIds"`
	Status              GroupStatus       `json:"status"`
	CreatedAt           time.Time         `json:"createdAt"`
	AcceptedAt          *time.Time        `json:"acceptedAt,omitempty"`
	AcceptedByDoctorID  *uuid.UUID        `json:"acceptedByDoctorId,omitempty"`
	AcceptedQueueItemID *uuid.UUID        `json:"acceptedQueueItemId,omitempty"`
	PatientLocation     presence.Location `json:"patientLocation"`
	Note                string            `json:"note"`
}

// Siblings returns every queue item of the group except winner.
func (g *Group) Siblings(winner uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.QueueItemIDs))
	for _, id := range g.QueueItemIDs {
		if id != winner {
			out = append(out, id)
		}
	}
	return out
}
