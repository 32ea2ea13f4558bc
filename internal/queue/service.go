// Package queue owns the consultation queue state machine. Queue and payment
// windows are expired lazily on every read; nothing here depends on a
// background sweep having run.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/arbiter"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/consultation"
	"github.com/hackgods/emergency-dispatch/internal/notify"
	"github.com/hackgods/emergency-dispatch/internal/payment"
	"github.com/hackgods/emergency-dispatch/internal/profile"
)

type Arbiter interface {
	Reserve(ctx context.Context, queueItemID uuid.UUID) (arbiter.Reservation, error)
	Finalize(ctx context.Context, claim *arbiter.Claim, wonQueueItemID, doctorID uuid.UUID) (arbiter.FinalizeResult, error)
	Release(ctx context.Context, claim *arbiter.Claim) error
}

type PaymentGate interface {
	RequestForQueue(ctx context.Context, c payment.Charge) (*payment.Payment, error)
}

type Launcher interface {
	Launch(ctx context.Context, req consultation.Request) (*consultation.Consultation, error)
}

type Notifier interface {
	Notify(events ...notify.Event)
}

type Profiles interface {
	profile.Directory
	profile.Appointments
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	repo     Repository
	arbiter  Arbiter
	payments PaymentGate
	launcher Launcher
	profiles Profiles
	notifier Notifier
	cfg      config.Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	arb Arbiter,
	payments PaymentGate,
	launcher Launcher,
	profiles Profiles,
	notifier Notifier,
	cfg config.Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		arbiter:  arb,
		payments: payments,
		launcher: launcher,
		profiles: profiles,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "queue").Logger(),
		now:      time.Now,
	}
}

// load reads an item and applies any lapsed queue or payment window.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, apperr.NotFound(apperr.CodeQueueItemNotFound, "queue item not found")
		}
		return nil, fmt.Errorf("load queue item: %w", err)
	}
	return s.refresh(ctx, item)
}

func (s *Service) refresh(ctx context.Context, item *Item) (*Item, error) {
	now := s.now()
	changed := false

	if item.QueueWindowLapsed(now) {
		ok, err := s.repo.ExpireItem(ctx, item.ID, now)
		if err != nil {
			return nil, err
		}
		changed = changed || ok
	}
	if item.PaymentWindowLapsed(now) {
		ok, err := s.repo.ExpirePayment(ctx, item.ID, now)
		if err != nil {
			return nil, err
		}
		changed = changed || ok
	}
	if !changed {
		return item, nil
	}

	fresh, err := s.repo.GetItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reload queue item: %w", err)
	}
	return fresh, nil
}

func forbidden() error {
	return apperr.Forbidden(apperr.CodeNotParty, "actor is not a party to this queue item")
}

func invalidTransition(item *Item, action string) error {
	return apperr.Conflict(apperr.CodeInvalidTransition,
		fmt.Sprintf("cannot %s a queue item in status %s", action, item.Status)).
		With("status", item.Status).
		With("paymentStatus", item.PaymentStatus)
}

// Get returns an item visible to actorID.
func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Item, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.IsParty(actorID) {
		return nil, forbidden()
	}
	return item, nil
}

// List returns the actor's items, newest first, after a best-effort expiry
// sweep of the same scope.
func (s *Service) List(ctx context.Context, scope Scope, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.repo.SweepExpired(ctx, scope, s.now()); err != nil {
		s.logger.Warn().Err(err).Msg("list sweep failed")
	}

	items, err := s.repo.List(ctx, scope, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// Accept lets the targeted doctor take an emergency entry. When the entry
// belongs to a live group, the group's acceptance lock decides the race.
func (s *Service) Accept(ctx context.Context, doctorID, id uuid.UUID) (*Item, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.DoctorID != doctorID {
		return nil, forbidden()
	}
	if item.EntryType != EntryEmergency {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "only emergency entries are accepted")
	}
	if !ValidTransition(ActionAccept, item.Status) || item.PaymentStatus != PaymentNotStarted {
		return nil, invalidTransition(item, ActionAccept)
	}

	res, err := s.arbiter.Reserve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reserve acceptance: %w", err)
	}
	if res.Outcome == arbiter.Lost {
		if res.Holder == id.String() {
			// This entry holds the lock but its commit has not landed.
			return nil, apperr.Conflict(apperr.CodeAcceptInProgress, "acceptance of this entry is already in progress").
				With("retryable", true)
		}
		return nil, apperr.Conflict(apperr.CodeAlreadyAccepted, "already accepted by another doctor")
	}

	now := s.now()
	updated, err := s.repo.Accept(ctx, id, AcceptParams{
		DoctorID:         doctorID,
		At:               now,
		PaymentExpiresAt: now.Add(s.cfg.PaymentTTL),
	})
	if err != nil {
		if res.Outcome == arbiter.Claimed {
			if rerr := s.arbiter.Release(ctx, res.Claim); rerr != nil {
				s.logger.Error().Err(rerr).Str("queue_item_id", id.String()).Msg("release acceptance lock")
			}
		}
		if errors.Is(err, ErrStateChanged) {
			return nil, apperr.Conflict(apperr.CodeInvalidTransition, "queue item changed before it could be accepted")
		}
		return nil, fmt.Errorf("accept queue item: %w", err)
	}

	s.logger.Info().
		Str("queue_item_id", id.String()).
		Str("doctor_id", doctorID.String()).
		Str("outcome", res.Outcome.String()).
		Msg("queue item accepted")

	events := []notify.Event{
		s.event(notify.EventQueueAccepted, updated.PatientID, updated, now),
		s.event(notify.EventQueueAccepted, updated.DoctorID, updated, now),
	}

	if res.Outcome == arbiter.Claimed {
		// The lock stays held: releasing it now would let a sibling win.
		fin, ferr := s.arbiter.Finalize(ctx, res.Claim, id, doctorID)
		if ferr != nil {
			s.logger.Warn().Err(ferr).Str("group_id", res.Claim.GroupID.String()).Msg("finalize acceptance; siblings expire on their own")
		}
		events = append(events, s.siblingEvents(fin, now)...)
	}

	s.notifier.Notify(events...)
	return updated, nil
}

func (s *Service) siblingEvents(fin arbiter.FinalizeResult, at time.Time) []notify.Event {
	if fin.Group == nil {
		return nil
	}
	var out []notify.Event
	for _, qid := range fin.Cancelled {
		for i, gqid := range fin.Group.QueueItemIDs {
			if gqid != qid || i >= len(fin.Group.DoctorIDs) {
				continue
			}
			id := qid
			groupID := fin.Group.ID
			out = append(out, notify.Event{
				Type:        notify.EventQueueCancelled,
				UserID:      fin.Group.DoctorIDs[i],
				QueueItemID: &id,
				GroupID:     &groupID,
				At:          at,
				Data:        map[string]any{"reason": "accepted_by_another_doctor"},
			})
		}
	}
	return out
}

func (s *Service) Reject(ctx context.Context, doctorID, id uuid.UUID) (*Item, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.DoctorID != doctorID {
		return nil, forbidden()
	}
	if !ValidTransition(ActionReject, item.Status) {
		return nil, invalidTransition(item, ActionReject)
	}

	now := s.now()
	updated, err := s.repo.Reject(ctx, id, doctorID, now)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil, apperr.Conflict(apperr.CodeInvalidTransition, "queue item changed before it could be rejected")
		}
		return nil, fmt.Errorf("reject queue item: %w", err)
	}

	s.notifier.Notify(s.event(notify.EventQueueRejected, updated.PatientID, updated, now))
	return updated, nil
}

// Cancel withdraws a queued entry on behalf of its patient.
func (s *Service) Cancel(ctx context.Context, patientID, id uuid.UUID) (*Item, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.PatientID != patientID {
		return nil, forbidden()
	}
	if !ValidTransition(ActionCancel, item.Status) {
		return nil, invalidTransition(item, ActionCancel)
	}

	now := s.now()
	updated, err := s.repo.Cancel(ctx, id, patientID, now)
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			return nil, apperr.Conflict(apperr.CodeInvalidTransition, "queue item changed before it could be cancelled")
		}
		return nil, fmt.Errorf("cancel queue item: %w", err)
	}

	s.notifier.Notify(s.event(notify.EventQueueCancelled, updated.DoctorID, updated, now))
	return updated, nil
}

// RequestPayment returns the checkout for an accepted emergency entry.
func (s *Service) RequestPayment(ctx context.Context, patientID, id uuid.UUID, idempotencyKey string) (*payment.Payment, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.PatientID != patientID {
		return nil, forbidden()
	}
	if item.PaymentStatus == PaymentExpired {
		return nil, apperr.Conflict(apperr.CodePaymentWindowExpired, "payment window expired")
	}
	if item.Status != StatusAccepted || (item.PaymentStatus != PaymentPending && item.PaymentStatus != PaymentPaid) {
		return nil, invalidTransition(item, "request payment for")
	}

	doctor, err := s.profiles.GetDoctor(ctx, item.DoctorID)
	if err != nil {
		if errors.Is(err, profile.ErrDoctorNotFound) {
			return nil, apperr.NotFound(apperr.CodeDoctorNotFound, "doctor not found")
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	return s.payments.RequestForQueue(ctx, payment.Charge{
		Kind:           payment.KindEmergencyConsultation,
		PatientID:      item.PatientID,
		DoctorID:       item.DoctorID,
		QueueItemID:    item.ID,
		AmountCents:    doctor.EmergencyPriceCents,
		Description:    "Emergency consultation with " + doctor.Name,
		IdempotencyKey: idempotencyKey,
	})
}

// Start opens the consultation of an entry. Emergency entries must be
// accepted and paid; appointment entries must match their appointment.
func (s *Service) Start(ctx context.Context, actorID, id uuid.UUID) (*consultation.Consultation, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.IsParty(actorID) {
		return nil, forbidden()
	}

	switch item.EntryType {
	case EntryEmergency:
		if item.Status != StatusAccepted {
			return nil, invalidTransition(item, "start")
		}
		switch item.PaymentStatus {
		case PaymentPaid:
		case PaymentExpired:
			return nil, apperr.Conflict(apperr.CodePaymentWindowExpired, "payment window expired")
		default:
			return nil, apperr.Conflict(apperr.CodePaymentRequired, "payment has not been completed").
				With("paymentStatus", item.PaymentStatus)
		}
	case EntryAppointment:
		if item.Terminal() {
			return nil, invalidTransition(item, "start")
		}
		if err := s.checkAppointment(ctx, item); err != nil {
			return nil, err
		}
	}

	c, err := s.launcher.Launch(ctx, consultation.Request{
		QueueItemID: item.ID,
		DoctorID:    item.DoctorID,
		PatientID:   item.PatientID,
	})
	if err != nil {
		return nil, err
	}

	if item.ClosedAt == nil {
		if err := s.repo.MarkClosed(ctx, item.ID, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("queue_item_id", item.ID.String()).Msg("close queue item")
		}
	}
	return c, nil
}

func (s *Service) checkAppointment(ctx context.Context, item *Item) error {
	if item.AppointmentID == nil {
		return apperr.NotFound(apperr.CodeAppointmentNotFound, "queue item has no appointment")
	}
	appt, err := s.profiles.GetAppointment(ctx, *item.AppointmentID)
	if err != nil {
		if errors.Is(err, profile.ErrAppointmentNotFound) {
			return apperr.NotFound(apperr.CodeAppointmentNotFound, "appointment not found")
		}
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.DoctorID != item.DoctorID || appt.PatientID != item.PatientID {
		return apperr.Conflict(apperr.CodeAppointmentMismatch, "appointment does not match the queue item")
	}
	return nil
}

// EnqueueAppointment puts a booked appointment into its doctor's waiting room.
// Either party of the appointment may check it in.
func (s *Service) EnqueueAppointment(ctx context.Context, actorID, appointmentID uuid.UUID, reason string) (*Item, error) {
	appt, err := s.profiles.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, profile.ErrAppointmentNotFound) {
			return nil, apperr.NotFound(apperr.CodeAppointmentNotFound, "appointment not found")
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if actorID != appt.PatientID && actorID != appt.DoctorID {
		return nil, forbidden()
	}

	now := s.now()
	apptID := appt.ID
	item := Item{
		ID:            uuid.New(),
		Status:        StatusQueued,
		EntryType:     EntryAppointment,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		AppointmentID: &apptID,
		PaymentStatus: PaymentNotRequired,
		QueuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.QueueTTL),
		UpdatedAt:     now,
	}
	if reason != "" {
		item.Reason = &reason
	}

	if err := s.repo.CreateItems(ctx, []Item{item}); err != nil {
		return nil, fmt.Errorf("enqueue appointment: %w", err)
	}

	s.notifier.Notify(s.event(notify.EventAppointmentQueued, item.DoctorID, &item, now))
	return &item, nil
}

func (s *Service) event(kind string, userID uuid.UUID, item *Item, at time.Time) notify.Event {
	id := item.ID
	return notify.Event{
		Type:        kind,
		UserID:      userID,
		QueueItemID: &id,
		At:          at,
		Data: map[string]any{
			"status":        item.Status,
			"paymentStatus": item.PaymentStatus,
		},
	}
}
