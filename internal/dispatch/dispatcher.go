// Package dispatch fans an emergency request out to a small set of doctors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/emergency"
	"github.com/hackgods/emergency-dispatch/internal/notify"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/profile"
	"github.com/hackgods/emergency-dispatch/internal/queue"
	"github.com/hackgods/emergency-dispatch/internal/quota"
)

type Presence interface {
	IsOnline(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

type Quota interface {
	CheckAndConsume(ctx context.Context, patientID uuid.UUID, limits config.PlanLimits) (quota.Usage, error)
}

type Plans interface {
	Limits(plan string) config.PlanLimits
}

type Notifier interface {
	Notify(events ...notify.Event)
}

// QueueWriter is the slice of the queue store the dispatcher writes through.
type QueueWriter interface {
	HasOpenEmergency(ctx context.Context, patientID uuid.UUID, doctorIDs []uuid.UUID) (bool, error)
	CreateItems(ctx context.Context, items []queue.Item) error
	CancelQueued(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)
}

type Request struct {
	PatientID uuid.UUID
	Plan      string
	DoctorIDs []uuid.UUID
	Location  *presence.Location
	Note      string
}

type Result struct {
	Group *emergency.Group
	Items []queue.Item
}

type Dispatcher struct {
	presence Presence
	schedule profile.Schedule
	quota    Quota
	doctors  profile.Directory
	queue    QueueWriter
	groups   *emergency.Store
	notifier Notifier
	plans    Plans
	queueTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(
	presence Presence,
	schedule profile.Schedule,
	quota Quota,
	doctors profile.Directory,
	queue QueueWriter,
	groups *emergency.Store,
	notifier Notifier,
	plans Plans,
	queueTTL time.Duration,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		presence: presence,
		schedule: schedule,
		quota:    quota,
		doctors:  doctors,
		queue:    queue,
		groups:   groups,
		notifier: notifier,
		plans:    plans,
		queueTTL: queueTTL,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		now:      time.Now,
	}
}

// CreateEmergency validates and fans out one emergency request. Nothing is
// written before validation, reachability and quota have passed.
func (d *Dispatcher) CreateEmergency(ctx context.Context, req Request) (*Result, error) {
	limits := d.plans.Limits(req.Plan)
	note := strings.TrimSpace(req.Note)
	if err := validate(req, note, limits); err != nil {
		return nil, err
	}

	if err := d.checkReachable(ctx, req.DoctorIDs); err != nil {
		return nil, err
	}

	if _, err := d.quota.CheckAndConsume(ctx, req.PatientID, limits); err != nil {
		return nil, err
	}

	doctors, err := d.doctors.DoctorsByIDs(ctx, req.DoctorIDs)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for _, id := range req.DoctorIDs {
		doc, ok := doctors[id]
		if !ok || !doc.Eligible() {
			return nil, apperr.NotFound(apperr.CodeDoctorNotFound, "doctor not found").With("doctorId", id)
		}
	}

	open, err := d.queue.HasOpenEmergency(ctx, req.PatientID, req.DoctorIDs)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, apperr.Conflict(apperr.CodeDuplicateEmergency, "an emergency with one of these doctors is already open")
	}

	now := d.now()
	group := &emergency.Group{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		Status:          emergency.GroupPending,
		CreatedAt:       now,
		PatientLocation: *req.Location,
		Note:            note,
	}
	items := make([]queue.Item, 0, len(req.DoctorIDs))
	for _, doctorID := range req.DoctorIDs {
		reason := note
		item := queue.Item{
			ID:            uuid.New(),
			Status:        queue.StatusQueued,
			EntryType:     queue.EntryEmergency,
			DoctorID:      doctorID,
			PatientID:     req.PatientID,
			Reason:        &reason,
			PaymentStatus: queue.PaymentNotStarted,
			QueuedAt:      now,
			ExpiresAt:     now.Add(d.queueTTL),
			UpdatedAt:     now,
		}
		items = append(items, item)
		group.DoctorIDs = append(group.DoctorIDs, doctorID)
		group.QueueItemIDs = append(group.QueueItemIDs, item.ID)
	}

	if err := d.queue.CreateItems(ctx, items); err != nil {
		return nil, fmt.Errorf("create queue items: %w", err)
	}

	// Group after items so every mapping resolves to an existing entry.
	if err := d.groups.Create(ctx, group); err != nil {
		// Without a group the items would be accepted uncoordinated.
		if _, cerr := d.queue.CancelQueued(ctx, group.QueueItemIDs, d.now()); cerr != nil {
			d.logger.Error().Err(cerr).Str("group_id", group.ID.String()).Msg("cancel items of unstored group")
		}
		return nil, fmt.Errorf("store emergency group: %w", err)
	}

	d.logger.Info().
		Str("group_id", group.ID.String()).
		Str("patient_id", req.PatientID.String()).
		Int("doctors", len(items)).
		Msg("emergency dispatched")

	d.notifier.Notify(d.events(group, items, now)...)

	return &Result{Group: group, Items: items}, nil
}

func validate(req Request, note string, limits config.PlanLimits) error {
	if len(req.DoctorIDs) == 0 {
		return apperr.Unprocessable(apperr.CodeValidation, "at least one doctor is required")
	}
	maxDoctors := limits.MaxDoctors
	if maxDoctors <= 0 || maxDoctors > config.MaxEmergencyDoctors {
		maxDoctors = config.MaxEmergencyDoctors
	}
	if len(req.DoctorIDs) > maxDoctors {
		return apperr.Unprocessable(apperr.CodeValidation, fmt.Sprintf("at most %d doctors per emergency", maxDoctors)).
			With("maxDoctors", maxDoctors)
	}
	seen := make(map[uuid.UUID]struct{}, len(req.DoctorIDs))
	for _, id := range req.DoctorIDs {
		if _, dup := seen[id]; dup {
			return apperr.Unprocessable(apperr.CodeValidation, "doctor ids must be unique").With("doctorId", id)
		}
		seen[id] = struct{}{}
	}
	if note == "" {
		return apperr.Unprocessable(apperr.CodeValidation, "note is required")
	}
	if req.Location == nil || !req.Location.Valid() {
		return apperr.Unprocessable(apperr.CodeLocationRequired, "a valid location is required")
	}
	return nil
}

// checkReachable requires every doctor to be online or inside declared
// working hours.
func (d *Dispatcher) checkReachable(ctx context.Context, doctorIDs []uuid.UUID) error {
	now := d.now()
	reachable := make([]bool, len(doctorIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range doctorIDs {
		g.Go(func() error {
			online, err := d.presence.IsOnline(gctx, id)
			if err != nil {
				return fmt.Errorf("presence of %s: %w", id, err)
			}
			if online {
				reachable[i] = true
				return nil
			}
			working, err := d.schedule.WithinWorkingHours(gctx, id, now)
			if err != nil && !errors.Is(err, profile.ErrDoctorNotFound) {
				return fmt.Errorf("working hours of %s: %w", id, err)
			}
			reachable[i] = working
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var unreachable []string
	for i, ok := range reachable {
		if !ok {
			unreachable = append(unreachable, doctorIDs[i].String())
		}
	}
	if len(unreachable) > 0 {
		return apperr.Unprocessable(apperr.CodeDoctorUnreachable, "doctor is neither online nor within working hours").
			With("doctorIds", unreachable)
	}
	return nil
}

func (d *Dispatcher) events(group *emergency.Group, items []queue.Item, at time.Time) []notify.Event {
	groupID := group.ID
	out := make([]notify.Event, 0, len(items)+1)
	for _, item := range items {
		qid := item.ID
		out = append(out, notify.Event{
			Type:        notify.EventEmergencyCreated,
			UserID:      item.DoctorID,
			QueueItemID: &qid,
			GroupID:     &groupID,
			At:          at,
			Data: map[string]any{
				"note":            group.Note,
				"patientLocation": group.PatientLocation,
				"expiresAt":       item.ExpiresAt,
			},
		})
	}
	out = append(out, notify.Event{
		Type:    notify.EventEmergencyCreated,
		UserID:  group.PatientID,
		GroupID: &groupID,
		At:      at,
		Data:    map[string]any{"queueItemIds": group.QueueItemIDs},
	})
	return out
}
