package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/emergency"
	"github.com/hackgods/emergency-dispatch/internal/notify"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/profile"
	"github.com/hackgods/emergency-dispatch/internal/queue"
	"github.com/hackgods/emergency-dispatch/internal/queue/queuetest"
	"github.com/hackgods/emergency-dispatch/internal/quota"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

var here = &presence.Location{Latitude: -23.5505, Longitude: -46.6333}

// openDirectory treats every requested id as an active, verified doctor
// unless it is listed in blocked.
type openDirectory struct {
	blocked map[uuid.UUID]bool
}

func (d openDirectory) DoctorsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]profile.Doctor, error) {
	out := make(map[uuid.UUID]profile.Doctor)
	for _, id := range ids {
		out[id] = profile.Doctor{UserID: id, Name: "Dr. Test", Verified: true, Active: !d.blocked[id]}
	}
	return out, nil
}

func (d openDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*profile.Doctor, error) {
	return &profile.Doctor{UserID: id, Verified: true, Active: !d.blocked[id]}, nil
}

type hoursSchedule map[uuid.UUID]bool

func (s hoursSchedule) WithinWorkingHours(_ context.Context, doctorID uuid.UUID, _ time.Time) (bool, error) {
	return s[doctorID], nil
}

type fixedPlans map[string]config.PlanLimits

func (p fixedPlans) Limits(plan string) config.PlanLimits {
	if l, ok := p[plan]; ok {
		return l
	}
	return p[config.PlanBasic]
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

type fixture struct {
	mr        *miniredis.Miniredis
	groupsMR  *miniredis.Miniredis
	index     *presence.Index
	groups    *emergency.Store
	repo      *queuetest.Memory
	schedule  hoursSchedule
	directory openDirectory
	notes     *recorder
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	groupsMR := miniredis.RunT(t)
	groupsClient := redis.NewClient(&redis.Options{Addr: groupsMR.Addr()})
	t.Cleanup(func() { _ = groupsClient.Close() })

	f := &fixture{
		mr:        mr,
		groupsMR:  groupsMR,
		index:     presence.NewIndex(client, time.Minute, zerolog.Nop()),
		groups:    emergency.NewStore(groupsClient, 15*time.Minute),
		repo:      queuetest.NewMemory(),
		schedule:  hoursSchedule{},
		directory: openDirectory{blocked: map[uuid.UUID]bool{}},
		notes:     &recorder{},
	}
	plans := fixedPlans{
		config.PlanBasic:   {MaxRadiusMeters: 10_000, MaxDoctors: 2, DailyLimit: 5, MonthlyLimit: 30},
		config.PlanPremium: {MaxRadiusMeters: 50_000, MaxDoctors: 3, DailyLimit: 10, MonthlyLimit: 100},
	}
	f.d = NewDispatcher(f.index, f.schedule, quota.NewLimiter(client), f.directory, f.repo, f.groups, f.notes, plans, 15*time.Minute, zerolog.Nop())
	return f
}

func (f *fixture) online(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.index.GoOnline(context.Background(), id, here))
	}
}

func TestCreateEmergencyFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient, d1, d2 := uuid.New(), uuid.New(), uuid.New()
	f.online(t, d1)
	f.schedule[d2] = true

	res, err := f.d.CreateEmergency(ctx, Request{
		PatientID: patient,
		Plan:      config.PlanBasic,
		DoctorIDs: []uuid.UUID{d1, d2},
		Location:  here,
		Note:      "  severe headache ",
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "severe headache", res.Group.Note)

	for i, item := range res.Items {
		stored, ok := f.repo.Snapshot(item.ID)
		require.True(t, ok)
		assert.Equal(t, queue.StatusQueued, stored.Status)
		assert.Equal(t, queue.PaymentNotStarted, stored.PaymentStatus)
		assert.Equal(t, stored.QueuedAt.Add(15*time.Minute), stored.ExpiresAt)
		assert.Equal(t, res.Group.DoctorIDs[i], stored.DoctorID)

		groupID, ok, err := f.groups.GroupIDFor(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, res.Group.ID, groupID)
	}
	assert.Equal(t, 15*time.Minute, f.groupsMR.TTL(redisclient.EmergencyGroupKey(res.Group.ID.String())))
	assert.Len(t, f.notes.events, 3)
}

func TestCreateEmergencyValidation(t *testing.T) {
	f := newFixture(t)
	d1, d2, d3 := uuid.New(), uuid.New(), uuid.New()
	f.online(t, d1, d2, d3)

	cases := []struct {
		name string
		req  Request
		code string
	}{
		{"no doctors", Request{Note: "x", Location: here}, apperr.CodeValidation},
		{"duplicate doctors", Request{DoctorIDs: []uuid.UUID{d1, d1}, Note: "x", Location: here}, apperr.CodeValidation},
		{"over plan cap", Request{Plan: config.PlanBasic, DoctorIDs: []uuid.UUID{d1, d2, d3}, Note: "x", Location: here}, apperr.CodeValidation},
		{"blank note", Request{DoctorIDs: []uuid.UUID{d1}, Note: "   ", Location: here}, apperr.CodeValidation},
		{"no location", Request{DoctorIDs: []uuid.UUID{d1}, Note: "x"}, apperr.CodeLocationRequired},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.PatientID = uuid.New()
			_, err := f.d.CreateEmergency(context.Background(), tt.req)
			assert.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))
			assert.True(t, apperr.HasCode(err, tt.code), "got %v", err)
			for _, key := range f.mr.Keys() {
				assert.NotContains(t, key, "geo:quota:", "quota consumed")
			}
		})
	}
}

func TestPremiumAllowsThreeDoctors(t *testing.T) {
	f := newFixture(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	f.online(t, ids...)

	res, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: uuid.New(), Plan: config.PlanPremium, DoctorIDs: ids, Location: here, Note: "fever",
	})
	require.NoError(t, err)
	assert.Len(t, res.Group.QueueItemIDs, 3)
}

func TestCreateEmergencyRequiresReachableDoctors(t *testing.T) {
	f := newFixture(t)
	patient, online, away := uuid.New(), uuid.New(), uuid.New()
	f.online(t, online)

	_, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: patient, DoctorIDs: []uuid.UUID{online, away}, Location: here, Note: "cough",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeDoctorUnreachable))

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{away.String()}, appErr.Extensions["doctorIds"])

	// failing before quota means the patient was not charged a request
	assert.False(t, f.mr.Exists(redisclient.QuotaDayKey(patient.String(), time.Now())))
}

func TestCreateEmergencyQuota(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()

	for i := 0; i < 5; i++ {
		doctor := uuid.New()
		f.online(t, doctor)
		_, err := f.d.CreateEmergency(context.Background(), Request{
			PatientID: patient, DoctorIDs: []uuid.UUID{doctor}, Location: here, Note: "pain",
		})
		require.NoError(t, err)
	}

	doctor := uuid.New()
	f.online(t, doctor)
	now := time.Now().UTC()
	_, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: patient, DoctorIDs: []uuid.UUID{doctor}, Location: here, Note: "pain",
	})
	require.True(t, apperr.HasCode(err, apperr.CodeEmergencyLimitReached), "got %v", err)

	appErr, _ := apperr.As(err)
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	retry, ok := appErr.Extensions["retryAfterSeconds"].(int64)
	require.True(t, ok)
	assert.LessOrEqual(t, retry, int64(midnight.Sub(now).Seconds())+1)

	items, err := f.repo.List(context.Background(), queue.Scope{PatientID: &patient}, 20, 0)
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

func TestCreateEmergencyRejectsInactiveDoctor(t *testing.T) {
	f := newFixture(t)
	d1 := uuid.New()
	f.online(t, d1)
	f.directory.blocked[d1] = true

	_, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: uuid.New(), DoctorIDs: []uuid.UUID{d1}, Location: here, Note: "rash",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeDoctorNotFound))
}

func TestCreateEmergencyRejectsOpenDuplicate(t *testing.T) {
	f := newFixture(t)
	patient, d1, d2 := uuid.New(), uuid.New(), uuid.New()
	f.online(t, d1, d2)

	_, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: patient, DoctorIDs: []uuid.UUID{d1}, Location: here, Note: "pain",
	})
	require.NoError(t, err)

	_, err = f.d.CreateEmergency(context.Background(), Request{
		PatientID: patient, DoctorIDs: []uuid.UUID{d2, d1}, Location: here, Note: "pain",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicateEmergency))
}

func TestGroupStoreFailureCancelsItems(t *testing.T) {
	f := newFixture(t)
	patient, d1 := uuid.New(), uuid.New()
	f.online(t, d1)
	f.groupsMR.Close()

	_, err := f.d.CreateEmergency(context.Background(), Request{
		PatientID: patient, DoctorIDs: []uuid.UUID{d1}, Location: here, Note: "pain",
	})
	require.Error(t, err)

	items, err := f.repo.List(context.Background(), queue.Scope{PatientID: &patient}, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, queue.StatusCancelled, items[0].Status)
}
