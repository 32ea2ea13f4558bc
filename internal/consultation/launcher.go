// Package consultation opens the video session of a queue item.
package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/notify"
)

type Notifier interface {
	Notify(events ...notify.Event)
}

type Launcher struct {
	repo         Repository
	notifier     Notifier
	liveKitURL   string
	videoBaseURL string
	logger       zerolog.Logger
	now          func() time.Time
}

func NewLauncher(repo Repository, notifier Notifier, liveKitURL, videoBaseURL string, logger zerolog.Logger) *Launcher {
	return &Launcher{
		repo:         repo,
		notifier:     notifier,
		liveKitURL:   liveKitURL,
		videoBaseURL: strings.TrimRight(videoBaseURL, "/"),
		logger:       logger.With().Str("component", "consultation").Logger(),
		now:          time.Now,
	}
}

// RoomName is deterministic so retries land in the same room.
func RoomName(queueItemID uuid.UUID) string {
	return "consult-" + queueItemID.String()
}

// Launch creates or resumes the consultation of a queue item. The start
// notification goes out only on the call that moves it to in_progress.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Consultation, error) {
	now := l.now()
	room := RoomName(req.QueueItemID)

	c, err := l.repo.CreateOrGet(ctx, &Consultation{
		ID:          uuid.New(),
		QueueItemID: req.QueueItemID,
		DoctorID:    req.DoctorID,
		PatientID:   req.PatientID,
		Status:      StatusScheduled,
		RoomName:    room,
		VideoURL:    l.videoBaseURL + "/" + room,
		LiveKitURL:  l.liveKitURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	if c.Status != StatusScheduled {
		return c, nil
	}

	started, changed, err := l.repo.MarkInProgress(ctx, c.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return started, nil
	}

	l.logger.Info().
		Str("consultation_id", started.ID.String()).
		Str("queue_item_id", req.QueueItemID.String()).
		Msg("consultation started")

	qid := req.QueueItemID
	data := map[string]any{
		"consultationId": started.ID,
		"roomName":       started.RoomName,
		"videoUrl":       started.VideoURL,
		"livekitUrl":     started.LiveKitURL,
	}
	l.notifier.Notify(
		notify.Event{Type: notify.EventConsultationStarted, UserID: req.DoctorID, QueueItemID: &qid, At: now, Data: data},
		notify.Event{Type: notify.EventConsultationStarted, UserID: req.PatientID, QueueItemID: &qid, At: now, Data: data},
	)

	return started, nil
}
