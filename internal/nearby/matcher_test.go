package nearby

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
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/profile"
	redisclient "github.com/hackgods/emergency-dispatch/internal/redis"
)

var origin = presence.Location{Latitude: -23.5505, Longitude: -46.6333}

type mapDirectory map[uuid.UUID]profile.Doctor

func (m mapDirectory) DoctorsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]profile.Doctor, error) {
	out := make(map[uuid.UUID]profile.Doctor)
	for _, id := range ids {
		if d, ok := m[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (m mapDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*profile.Doctor, error) {
	d, ok := m[id]
	if !ok {
		return nil, profile.ErrDoctorNotFound
	}
	return &d, nil
}

type fixedPlans map[string]config.PlanLimits

func (p fixedPlans) Limits(plan string) config.PlanLimits {
	if l, ok := p[plan]; ok {
		return l
	}
	return p[config.PlanBasic]
}

var plans = fixedPlans{
	config.PlanBasic:   {MaxRadiusMeters: 10_000},
	config.PlanPremium: {MaxRadiusMeters: 50_000},
}

type fixture struct {
	mr      *miniredis.Miniredis
	index   *presence.Index
	dir     mapDirectory
	matcher *Matcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idx := presence.NewIndex(client, 60*time.Second, zerolog.Nop())
	dir := mapDirectory{}
	return &fixture{mr: mr, index: idx, dir: dir, matcher: NewMatcher(idx, dir, plans)}
}

// addDoctor puts an eligible doctor online offset kilometres north of origin.
func (f *fixture) addDoctor(t *testing.T, km float64, specialty string, price int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.dir[id] = profile.Doctor{UserID: id, Name: "Dr " + id.String()[:4], Specialty: specialty, EmergencyPriceCents: price, Verified: true, Active: true}
	loc := presence.Location{Latitude: origin.Latitude + km/111.2, Longitude: origin.Longitude}
	require.NoError(t, f.index.GoOnline(context.Background(), id, &loc))
	return id
}

func TestSearchOrdersByDistance(t *testing.T) {
	f := newFixture(t)
	d3 := f.addDoctor(t, 3, "Cardiology", 10000)
	d1 := f.addDoctor(t, 1, "Cardiology", 10000)
	d2 := f.addDoctor(t, 2, "Cardiology", 10000)

	resp, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{Origin: origin})
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, []uuid.UUID{d1, d2, d3}, []uuid.UUID{resp.Items[0].Doctor.UserID, resp.Items[1].Doctor.UserID, resp.Items[2].Doctor.UserID})
	assert.False(t, resp.HasNextPage)
	for i := 1; i < len(resp.Items); i++ {
		assert.LessOrEqual(t, resp.Items[i-1].DistanceMeters, resp.Items[i].DistanceMeters)
	}
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t)
	var ids []uuid.UUID
	for i := 1; i <= 5; i++ {
		ids = append(ids, f.addDoctor(t, float64(i), "General Practice", 5000))
	}

	first, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{Origin: origin, Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasNextPage)
	assert.Equal(t, ids[0], first.Items[0].Doctor.UserID)

	last, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{Origin: origin, Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.False(t, last.HasNextPage)
	assert.Equal(t, ids[4], last.Items[0].Doctor.UserID)

	beyond, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{Origin: origin, Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
}

func TestSearchFiltersAndDropsJoinMisses(t *testing.T) {
	f := newFixture(t)
	cardio := f.addDoctor(t, 1, "Cardiology", 10000)
	f.addDoctor(t, 2, "Dermatology", 10000)
	f.addDoctor(t, 3, "Cardiology", 90000)

	// online but without a profile row
	ghost := uuid.New()
	require.NoError(t, f.index.GoOnline(context.Background(), ghost, &origin))

	resp, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{
		Origin: origin,
		Filter: profile.Filter{Specialty: "Cardiology", MaxPriceCents: 20000},
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, cardio, resp.Items[0].Doctor.UserID)
}

func TestSearchRadiusCappedByPlan(t *testing.T) {
	f := newFixture(t)

	_, err := f.matcher.Search(context.Background(), config.PlanBasic, Query{Origin: origin, RadiusMeters: 20_000})
	assert.Equal(t, apperr.KindUnprocessable, apperr.KindOf(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeRadiusExceedsPlan))

	_, err = f.matcher.Search(context.Background(), config.PlanPremium, Query{Origin: origin, RadiusMeters: 20_000})
	assert.NoError(t, err)
}

func TestSearchExcludesAndEvictsExpiredPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gone := f.addDoctor(t, 1, "Cardiology", 10000)

	f.mr.FastForward(61 * time.Second)
	alive := f.addDoctor(t, 2, "Cardiology", 10000)

	resp, err := f.matcher.Search(ctx, config.PlanBasic, Query{Origin: origin})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, alive, resp.Items[0].Doctor.UserID)

	members, err := f.mr.ZMembers(redisclient.OnlineDoctorsKey)
	require.NoError(t, err)
	assert.NotContains(t, members, gone.String())
}
