package nearby

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/emergency-dispatch/internal/apperr"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/presence"
	"github.com/hackgods/emergency-dispatch/internal/profile"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// CandidateSource yields live doctors near a point, nearest first.
type CandidateSource interface {
	Candidates(ctx context.Context, origin presence.Location, radiusMeters float64, count int) ([]presence.Candidate, error)
}

// Plans resolves per-plan limits.
type Plans interface {
	Limits(plan string) config.PlanLimits
}

type Query struct {
	Origin       presence.Location
	RadiusMeters float64
	Filter       profile.Filter
	Page         int
	PageSize     int
}

type Result struct {
	Doctor         profile.Doctor
	DistanceMeters float64
}

type Response struct {
	Items       []Result
	Page        int
	PageSize    int
	HasNextPage bool
}

type Matcher struct {
	source    CandidateSource
	directory profile.Directory
	plans     Plans
}

func NewMatcher(source CandidateSource, directory profile.Directory, plans Plans) *Matcher {
	return &Matcher{source: source, directory: directory, plans: plans}
}

// Search returns one page of eligible online doctors ordered by ascending
// distance. It over-fetches one candidate past the page to derive HasNextPage.
func (m *Matcher) Search(ctx context.Context, plan string, q Query) (*Response, error) {
	if !q.Origin.Valid() {
		return nil, apperr.Unprocessable(apperr.CodeLocationRequired, "a valid origin is required")
	}

	limit := m.plans.Limits(plan).MaxRadiusMeters
	radius := q.RadiusMeters
	if radius <= 0 {
		radius = limit
	}
	if radius > limit {
		return nil, apperr.Unprocessable(apperr.CodeRadiusExceedsPlan, "radius exceeds plan limit").
			With("maxRadiusMeters", limit)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	candidates, err := m.source.Candidates(ctx, q.Origin, radius, offset+pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("nearby candidates: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.DoctorID)
	}
	doctors, err := m.directory.DoctorsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load doctor profiles: %w", err)
	}

	joined := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		d, ok := doctors[c.DoctorID]
		if !ok || !q.Filter.Matches(d) {
			continue
		}
		joined = append(joined, Result{Doctor: d, DistanceMeters: c.DistanceMeters})
	}
	sort.SliceStable(joined, func(i, j int) bool {
		return joined[i].DistanceMeters < joined[j].DistanceMeters
	})

	resp := &Response{Page: page, PageSize: pageSize, Items: []Result{}}
	if offset >= len(joined) {
		return resp, nil
	}
	end := offset + pageSize
	if end > len(joined) {
		end = len(joined)
	}
	resp.Items = joined[offset:end]
	resp.HasNextPage = len(joined) > offset+pageSize
	return resp, nil
}
