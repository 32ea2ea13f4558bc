package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/emergency-dispatch/internal/auth"
	"github.com/hackgods/emergency-dispatch/internal/consultation"
	"github.com/hackgods/emergency-dispatch/internal/dispatch"
	"github.com/hackgods/emergency-dispatch/internal/nearby"
	"github.com/hackgods/emergency-dispatch/internal/payment"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/queue"
)

type PresenceService interface {
	GoOnline(ctx context.Context, doctorID uuid.UUID, loc *presence.Location) error
	Ping(ctx context.Context, doctorID uuid.UUID) error
	GoOffline(ctx context.Context, doctorID uuid.UUID) error
}

type NearbySearcher interface {
	Search(ctx context.Context, plan string, q nearby.Query) (*nearby.Response, error)
}

type EmergencyService interface {
	CreateEmergency(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

type QueueService interface {
	Get(ctx context.Context, actorID, id uuid.UUID) (*queue.Item, error)
	List(ctx context.Context, scope queue.Scope, limit, offset int) ([]queue.Item, error)
	Accept(ctx context.Context, doctorID, id uuid.UUID) (*queue.Item, error)
	Reject(ctx context.Context, doctorID, id uuid.UUID) (*queue.Item, error)
	Cancel(ctx context.Context, patientID, id uuid.UUID) (*queue.Item, error)
	RequestPayment(ctx context.Context, patientID, id uuid.UUID, idempotencyKey string) (*payment.Payment, error)
	Start(ctx context.Context, actorID, id uuid.UUID) (*consultation.Consultation, error)
	EnqueueAppointment(ctx context.Context, actorID, appointmentID uuid.UUID, reason string) (*queue.Item, error)
}

type PaymentWebhook interface {
	ApplyProviderStatus(ctx context.Context, preferenceID string, status payment.Status) (*payment.Payment, error)
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Presence      PresenceService
	Nearby        NearbySearcher
	Emergencies   EmergencyService
	Queue         QueueService
	Payments      PaymentWebhook
	Verifier      *auth.Verifier
	WebhookSecret string
	PgPool        Pinger
	Redis         *redis.Client
	Logger        zerolog.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/payments/webhook", paymentWebhookHandler(cfg.Payments, cfg.WebhookSecret))

	r.Group(func(r chi.Router) {
		r.Use(cfg.Verifier.Middleware(writeAuthError))

		r.Route("/doctors/me/geo", func(r chi.Router) {
			r.Use(requireRole(auth.RoleDoctor))
			r.Post("/online", goOnlineHandler(cfg.Presence))
			r.Post("/ping", pingHandler(cfg.Presence))
			r.Post("/offline", goOfflineHandler(cfg.Presence))
		})

		r.Route("/geo", func(r chi.Router) {
			r.Use(requireRole(auth.RolePatient))
			r.Get("/doctors/nearby", nearbyDoctorsHandler(cfg.Nearby))
			r.Post("/emergencies", createEmergencyHandler(cfg.Emergencies))
		})

		r.Route("/consultations/queue", func(r chi.Router) {
			r.Get("/", listQueueHandler(cfg.Queue))
			r.Get("/{id}", getQueueItemHandler(cfg.Queue))
			r.Post("/{id}/start", startConsultationHandler(cfg.Queue))

			r.With(requireRole(auth.RoleDoctor)).Post("/{id}/accept", acceptHandler(cfg.Queue))
			r.With(requireRole(auth.RoleDoctor)).Post("/{id}/reject", rejectHandler(cfg.Queue))
			r.With(requireRole(auth.RolePatient)).Post("/{id}/cancel", cancelHandler(cfg.Queue))
			r.With(requireRole(auth.RolePatient)).Post("/{id}/payment", requestPaymentHandler(cfg.Queue))
		})

		r.Post("/appointments/{id}/check-in", checkInHandler(cfg.Queue))
	})

	return otelhttp.NewHandler(r, "emergency-dispatch-api")
}

// requireRole rejects actors whose token carries a different role.
func requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.FromContext(r.Context())
			if !ok {
				writeAuthError(w, r, auth.ErrMissingToken)
				return
			}
			if actor.Role != role {
				writeProblem(w, r, http.StatusForbidden, "role_required",
					"this operation requires the "+string(role)+" role", map[string]any{"role": role})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
