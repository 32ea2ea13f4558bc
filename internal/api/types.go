package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/emergency-dispatch/internal/consultation"
	"github.com/hackgods/emergency-dispatch/internal/dispatch"
	"github.com/hackgods/emergency-dispatch/internal/emergency"
	"github.com/hackgods/emergency-dispatch/internal/nearby"
	"github.com/hackgods/emergency-dispatch/internal/payment"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/queue"
)

type GoOnlineRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r GoOnlineRequest) location() *presence.Location {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &presence.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

type PresenceResponse struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Online   bool      `json:"online"`
}

type NearbyDoctorResponse struct {
	DoctorID            uuid.UUID `json:"doctorId"`
	Name                string    `json:"name"`
	Specialty           string    `json:"specialty"`
	EmergencyPriceCents int64     `json:"emergencyPriceCents"`
	DistanceMeters      float64   `json:"distanceMeters"`
}

type NearbyResponse struct {
	Items       []NearbyDoctorResponse `json:"items"`
	Page        int                    `json:"page"`
	PageSize    int                    `json:"pageSize"`
	HasNextPage bool                   `json:"hasNextPage"`
}

func toNearbyResponse(res *nearby.Response) NearbyResponse {
	out := NearbyResponse{
		Items:       make([]NearbyDoctorResponse, 0, len(res.Items)),
		Page:        res.Page,
		PageSize:    res.PageSize,
		HasNextPage: res.HasNextPage,
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, NearbyDoctorResponse{
			DoctorID:            it.Doctor.UserID,
			Name:                it.Doctor.Name,
			Specialty:           it.Doctor.Specialty,
			EmergencyPriceCents: it.Doctor.EmergencyPriceCents,
			DistanceMeters:      it.DistanceMeters,
		})
	}
	return out
}

type CreateEmergencyRequest struct {
	DoctorIDs []uuid.UUID        `json:"doctorIds"`
	Location  *presence.Location `json:"location"`
	Note      string             `json:"note"`
}

type EmergencyResponse struct {
	Group *emergency.Group    `json:"group"`
	Items []QueueItemResponse `json:"items"`
}

func toEmergencyResponse(res *dispatch.Result) EmergencyResponse {
	items := make([]QueueItemResponse, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, toQueueItemResponse(&res.Items[i]))
	}
	return EmergencyResponse{Group: res.Group, Items: items}
}

type QueueItemResponse struct {
	ID               uuid.UUID  `json:"id"`
	Status           string     `json:"status"`
	EntryType        string     `json:"entryType"`
	DoctorID         uuid.UUID  `json:"doctorId"`
	PatientID        uuid.UUID  `json:"patientId"`
	AppointmentID    *uuid.UUID `json:"appointmentId,omitempty"`
	Reason           *string    `json:"reason,omitempty"`
	PaymentStatus    string     `json:"paymentStatus"`
	QueuedAt         time.Time  `json:"queuedAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	PaymentExpiresAt *time.Time `json:"paymentExpiresAt,omitempty"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
}

func toQueueItemResponse(it *queue.Item) QueueItemResponse {
	return QueueItemResponse{
		ID:               it.ID,
		Status:           string(it.Status),
		EntryType:        string(it.EntryType),
		DoctorID:         it.DoctorID,
		PatientID:        it.PatientID,
		AppointmentID:    it.AppointmentID,
		Reason:           it.Reason,
		PaymentStatus:    string(it.PaymentStatus),
		QueuedAt:         it.QueuedAt,
		ExpiresAt:        it.ExpiresAt,
		AcceptedAt:       it.AcceptedAt,
		RejectedAt:       it.RejectedAt,
		CancelledAt:      it.CancelledAt,
		PaymentExpiresAt: it.PaymentExpiresAt,
		ClosedAt:         it.ClosedAt,
	}
}

type QueueListResponse struct {
	Items  []QueueItemResponse `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type PaymentResponse struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	QueueItemID *uuid.UUID `json:"queueItemId,omitempty"`
	AmountCents int64      `json:"amountCents"`
	Currency    string     `json:"currency"`
	CheckoutURL string     `json:"checkoutUrl,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

func toPaymentResponse(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID,
		Status:      string(p.Status),
		QueueItemID: p.QueueItemID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		CheckoutURL: p.CheckoutURL,
		ExpiresAt:   p.ExpiresAt,
	}
}

// PaymentWebhookRequest is the provider's status notification.
type PaymentWebhookRequest struct {
	PreferenceID string `json:"preferenceId"`
	Status       string `json:"status"`
}

type ConsultationResponse struct {
	ID          uuid.UUID  `json:"id"`
	QueueItemID uuid.UUID  `json:"queueItemId"`
	Status      string     `json:"status"`
	RoomName    string     `json:"roomName"`
	VideoURL    string     `json:"videoUrl"`
	LiveKitURL  string     `json:"livekitUrl"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}

func toConsultationResponse(c *consultation.Consultation) ConsultationResponse {
	return ConsultationResponse{
		ID:          c.ID,
		QueueItemID: c.QueueItemID,
		Status:      string(c.Status),
		RoomName:    c.RoomName,
		VideoURL:    c.VideoURL,
		LiveKitURL:  c.LiveKitURL,
		StartedAt:   c.StartedAt,
	}
}

type CheckInRequest struct {
	Reason string `json:"reason"`
}
