package consultation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/emergency-dispatch/internal/notify"
)

type memRepo struct {
	mu   sync.Mutex
	byQI map[uuid.UUID]*Consultation
}

func (r *memRepo) CreateOrGet(_ context.Context, c *Consultation) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byQI[c.QueueItemID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *c
	r.byQI[c.QueueItemID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) MarkInProgress(_ context.Context, id uuid.UUID, at time.Time) (*Consultation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byQI {
		if c.ID != id {
			continue
		}
		if c.Status != StatusScheduled {
			cp := *c
			return &cp, false, nil
		}
		c.Status = StatusInProgress
		c.StartedAt = &at
		cp := *c
		return &cp, true, nil
	}
	return nil, false, ErrConsultationNotFound
}

func (r *memRepo) GetByQueueItem(_ context.Context, queueItemID uuid.UUID) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byQI[queueItemID]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(events ...notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func TestLaunchIsIdempotent(t *testing.T) {
	repo := &memRepo{byQI: map[uuid.UUID]*Consultation{}}
	rec := &recorder{}
	l := NewLauncher(repo, rec, "wss://livekit.example", "https://video.example/", zerolog.Nop())

	req := Request{QueueItemID: uuid.New(), DoctorID: uuid.New(), PatientID: uuid.New()}
	first, err := l.Launch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, first.Status)
	assert.Equal(t, RoomName(req.QueueItemID), first.RoomName)
	assert.Equal(t, "https://video.example/"+first.RoomName, first.VideoURL)
	assert.Equal(t, "wss://livekit.example", first.LiveKitURL)
	assert.Len(t, rec.events, 2)

	second, err := l.Launch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, rec.events, 2, "no second start notification")
}

func TestLaunchResumesScheduledConsultation(t *testing.T) {
	repo := &memRepo{byQI: map[uuid.UUID]*Consultation{}}
	rec := &recorder{}
	l := NewLauncher(repo, rec, "", "https://video.example", zerolog.Nop())

	qid := uuid.New()
	stuck := &Consultation{ID: uuid.New(), QueueItemID: qid, Status: StatusScheduled, RoomName: RoomName(qid)}
	repo.byQI[qid] = stuck

	c, err := l.Launch(context.Background(), Request{QueueItemID: qid, DoctorID: uuid.New(), PatientID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, stuck.ID, c.ID)
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Len(t, rec.events, 2)
}

func TestLaunchConcurrentCallsNotifyOnce(t *testing.T) {
	repo := &memRepo{byQI: map[uuid.UUID]*Consultation{}}
	rec := &recorder{}
	l := NewLauncher(repo, rec, "", "https://video.example", zerolog.Nop())
	req := Request{QueueItemID: uuid.New(), DoctorID: uuid.New(), PatientID: uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Launch(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.events, 2)
}
