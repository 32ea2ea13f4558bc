package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

var origin = Location{Latitude: -23.5505, Longitude: -46.6333}

func newTestIndex(t *testing.T) (*miniredis.Miniredis, *Index) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewIndex(client, 60*time.Second, zerolog.Nop())
}

func TestGoOnlineRequiresLocation(t *testing.T) {
	_, idx := newTestIndex(t)

	err := idx.GoOnline(context.Background(), uuid.New(), nil)
	assert.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))

	err = idx.GoOnline(context.Background(), uuid.New(), &Location{Latitude: 120, Longitude: 0})
	assert.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))
}

func TestGoOnlineWritesMembershipAndLiveness(t *testing.T) {
	mr, idx := newTestIndex(t)
	ctx := context.Background()
	doctor := uuid.New()

	require.NoError(t, idx.GoOnline(ctx, doctor, &origin))

	assert.True(t, mr.Exists(redisclient.DoctorOnlineKey(doctor.String())))
	assert.Equal(t, 60*time.Second, mr.TTL(redisclient.DoctorOnlineKey(doctor.String())))
	members, err := mr.ZMembers(redisclient.OnlineDoctorsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{doctor.String()}, members)
	assert.Equal(t, time.Duration(0), mr.TTL(redisclient.OnlineDoctorsKey))

	online, err := idx.IsOnline(ctx, doctor)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestPingNeverOnlineConflicts(t *testing.T) {
	_, idx := newTestIndex(t)

	err := idx.Ping(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeNotOnline))
}

func TestPingRefreshesOnlyLiveness(t *testing.T) {
	mr, idx := newTestIndex(t)
	ctx := context.Background()
	doctor := uuid.New()
	require.NoError(t, idx.GoOnline(ctx, doctor, &origin))

	mr.FastForward(50 * time.Second)
	require.NoError(t, idx.Ping(ctx, doctor))
	assert.Equal(t, 60*time.Second, mr.TTL(redisclient.DoctorOnlineKey(doctor.String())))

	// a doctor whose marker lapsed but is still a geo member can revive
	mr.FastForward(61 * time.Second)
	online, err := idx.IsOnline(ctx, doctor)
	require.NoError(t, err)
	assert.False(t, online)
	require.NoError(t, idx.Ping(ctx, doctor))
	online, err = idx.IsOnline(ctx, doctor)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestGoOfflineRemovesBoth(t *testing.T) {
	mr, idx := newTestIndex(t)
	ctx := context.Background()
	doctor := uuid.New()
	require.NoError(t, idx.GoOnline(ctx, doctor, &origin))

	require.NoError(t, idx.GoOffline(ctx, doctor))

	assert.False(t, mr.Exists(redisclient.DoctorOnlineKey(doctor.String())))
	members, _ := mr.ZMembers(redisclient.OnlineDoctorsKey)
	assert.Empty(t, members)
}

func TestCandidatesSortedAndEvictsStale(t *testing.T) {
	mr, idx := newTestIndex(t)
	ctx := context.Background()

	near := uuid.New()
	far := uuid.New()
	stale := uuid.New()
	require.NoError(t, idx.GoOnline(ctx, far, &Location{Latitude: origin.Latitude + 0.03, Longitude: origin.Longitude}))
	require.NoError(t, idx.GoOnline(ctx, near, &Location{Latitude: origin.Latitude + 0.005, Longitude: origin.Longitude}))
	require.NoError(t, idx.GoOnline(ctx, stale, &Location{Latitude: origin.Latitude + 0.01, Longitude: origin.Longitude}))

	// only the stale doctor's marker lapses
	mr.FastForward(45 * time.Second)
	require.NoError(t, idx.Ping(ctx, near))
	require.NoError(t, idx.Ping(ctx, far))
	mr.FastForward(20 * time.Second)

	got, err := idx.Candidates(ctx, origin, 10_000, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, near, got[0].DoctorID)
	assert.Equal(t, far, got[1].DoctorID)
	assert.Less(t, got[0].DistanceMeters, got[1].DistanceMeters)
	assert.InDelta(t, 556, got[0].DistanceMeters, 20)

	members, err := mr.ZMembers(redisclient.OnlineDoctorsKey)
	require.NoError(t, err)
	assert.NotContains(t, members, stale.String())
	assert.Len(t, members, 2)
}

func TestCandidatesEvictsUnparseableMembers(t *testing.T) {
	mr, idx := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.client.GeoAdd(ctx, redisclient.OnlineDoctorsKey, &redis.GeoLocation{
		Name: "not-a-uuid", Longitude: origin.Longitude, Latitude: origin.Latitude,
	}).Result()
	require.NoError(t, err)
	require.NoError(t, mr.Set(redisclient.DoctorOnlineKey("not-a-uuid"), "1"))

	got, err := idx.Candidates(ctx, origin, 1_000, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	members, _ := mr.ZMembers(redisclient.OnlineDoctorsKey)
	assert.Empty(t, members)
}
