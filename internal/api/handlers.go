package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/auth"
	"github.com/hackgods/emergency-dispatch/internal/dispatch"
	"github.com/hackgods/emergency-dispatch/internal/nearby"
	"github.com/hackgods/emergency-dispatch/internal/payment"
	"github.com/hackgods/emergency-dispatch/internal/profile"
	"github.com/hackgods/emergency-dispatch/internal/queue"
)

// actorFrom is only called behind the auth middleware.
func actorFrom(r *http.Request) auth.Actor {
	actor, _ := auth.FromContext(r.Context())
	return actor
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, r, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func goOnlineHandler(svc PresenceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GoOnlineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		if err := svc.GoOnline(r.Context(), actor.UserID, req.location()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PresenceResponse{DoctorID: actor.UserID, Online: true})
	}
}

func pingHandler(svc PresenceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)
		if err := svc.Ping(r.Context(), actor.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PresenceResponse{DoctorID: actor.UserID, Online: true})
	}
}

func goOfflineHandler(svc PresenceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)
		if err := svc.GoOffline(r.Context(), actor.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PresenceResponse{DoctorID: actor.UserID, Online: false})
	}
}

func nearbyDoctorsHandler(svc NearbySearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		if values.Get("lat") == "" || values.Get("lng") == "" {
			writeError(w, r, apperr.Unprocessable(apperr.CodeLocationRequired, "lat and lng are required"))
			return
		}

		query := nearby.Query{Filter: profile.Filter{Specialty: values.Get("specialty")}}
		p := queryParser{values: values}
		p.floatParam("lat", &query.Origin.Latitude)
		p.floatParam("lng", &query.Origin.Longitude)
		p.floatParam("radius", &query.RadiusMeters)
		p.int64Param("maxPriceCents", &query.Filter.MaxPriceCents)
		p.intParam("page", &query.Page)
		p.intParam("pageSize", &query.PageSize)
		if p.bad != "" {
			writeBadRequest(w, r, "invalid_query", p.bad+" is malformed")
			return
		}

		res, err := svc.Search(r.Context(), actorFrom(r).Plan, query)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toNearbyResponse(res))
	}
}

// queryParser reads optional numeric query parameters, remembering the
// first malformed one.
type queryParser struct {
	values url.Values
	bad    string
}

func (p *queryParser) raw(name string) (string, bool) {
	if p.bad != "" {
		return "", false
	}
	v := p.values.Get(name)
	return v, v != ""
}

func (p *queryParser) floatParam(name string, dst *float64) {
	if v, ok := p.raw(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.bad = name
			return
		}
		*dst = f
	}
}

func (p *queryParser) int64Param(name string, dst *int64) {
	if v, ok := p.raw(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.bad = name
			return
		}
		*dst = n
	}
}

func (p *queryParser) intParam(name string, dst *int) {
	var n int64
	p.int64Param(name, &n)
	if p.bad == "" && n != 0 {
		*dst = int(n)
	}
}

func createEmergencyHandler(svc EmergencyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateEmergencyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := actorFrom(r)
		res, err := svc.CreateEmergency(r.Context(), dispatch.Request{
			PatientID: actor.UserID,
			Plan:      actor.Plan,
			DoctorIDs: req.DoctorIDs,
			Location:  req.Location,
			Note:      req.Note,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEmergencyResponse(res))
	}
}

func listQueueHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var limit, offset int
		p := queryParser{values: r.URL.Query()}
		p.intParam("limit", &limit)
		p.intParam("offset", &offset)
		if p.bad != "" {
			writeBadRequest(w, r, "invalid_query", p.bad+" must be an integer")
			return
		}

		actor := actorFrom(r)
		var scope queue.Scope
		if actor.Role == auth.RoleDoctor {
			scope.DoctorID = &actor.UserID
		} else {
			scope.PatientID = &actor.UserID
		}

		items, err := svc.List(r.Context(), scope, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := QueueListResponse{
			Items:  make([]QueueItemResponse, 0, len(items)),
			Limit:  limit,
			Offset: offset,
		}
		for i := range items {
			resp.Items = append(resp.Items, toQueueItemResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getQueueItemHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		item, err := svc.Get(r.Context(), actorFrom(r).UserID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueueItemResponse(item))
	}
}

// itemTransitionHandler serves accept, reject and cancel, which share a shape.
func itemTransitionHandler(fn func(r *http.Request, actorID, id uuid.UUID) (*queue.Item, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		item, err := fn(r, actorFrom(r).UserID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueueItemResponse(item))
	}
}

func acceptHandler(svc QueueService) http.HandlerFunc {
	return itemTransitionHandler(func(r *http.Request, actorID, id uuid.UUID) (*queue.Item, error) {
		return svc.Accept(r.Context(), actorID, id)
	})
}

func rejectHandler(svc QueueService) http.HandlerFunc {
	return itemTransitionHandler(func(r *http.Request, actorID, id uuid.UUID) (*queue.Item, error) {
		return svc.Reject(r.Context(), actorID, id)
	})
}

func cancelHandler(svc QueueService) http.HandlerFunc {
	return itemTransitionHandler(func(r *http.Request, actorID, id uuid.UUID) (*queue.Item, error) {
		return svc.Cancel(r.Context(), actorID, id)
	})
}

func requestPaymentHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		p, err := svc.RequestPayment(r.Context(), actorFrom(r).UserID, id, r.Header.Get("Idempotency-Key"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(p))
	}
}

func startConsultationHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		c, err := svc.Start(r.Context(), actorFrom(r).UserID, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(c))
	}
}

func checkInHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req CheckInRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeBadRequest(w, r, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		item, err := svc.EnqueueAppointment(r.Context(), actorFrom(r).UserID, id, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQueueItemResponse(item))
	}
}

// paymentWebhookHandler accepts provider notifications carrying the shared
// secret in X-Webhook-Token. An empty secret disables the endpoint.
func paymentWebhookHandler(svc PaymentWebhook, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Webhook-Token")
		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			writeProblem(w, r, http.StatusUnauthorized, "invalid_webhook_token", "webhook token rejected", nil)
			return
		}

		var req PaymentWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, r, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PreferenceID == "" {
			writeError(w, r, apperr.Unprocessable(apperr.CodeValidation, "preferenceId is required"))
			return
		}

		p, err := svc.ApplyProviderStatus(r.Context(), req.PreferenceID, payment.Status(req.Status))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(p))
	}
}
