package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
)

// Anywhere disables the radius of a NearbyQuery.
var Anywhere = math.Inf(1)

// NearbyQuery asks for candidates around a requester.
type NearbyQuery struct {
	// OriginID is the requester whose position is the origin.
	OriginID types.ID
	// MaxDistance is inclusive. Zero or Anywhere means no limit, as in
	// PendingFilter.
	MaxDistance float64
	// AvailableOnly drops unavailable fulfillers. Ignored for venues.
	AvailableOnly bool
	// Ranked orders results by ascending distance instead of registration order.
	Ranked bool
}

func (q NearbyQuery) validate() error {
	if math.IsNaN(q.MaxDistance) || q.MaxDistance < 0 {
		return fmt.Errorf("%w: max distance must be >= 0, got %v", ErrInvalidArgument, q.MaxDistance)
	}
	return nil
}

func candidateAt(c types.Candidate) geo.Coordinates { return c.At }
func candidateDist(c types.Candidate) float64      { return c.Distance }

// match applies the radius, then the optional ranking. Filtering first keeps
// the input order for the unranked case.
func match(origin geo.Coordinates, all []types.Candidate, q NearbyQuery) []types.Candidate {
	limit := q.MaxDistance
	if limit == 0 {
		limit = Anywhere
	}
	out := geo.Within(origin, all, limit, candidateAt)
	if q.Ranked {
		geo.SortByDistance(out, candidateDist)
	}
	return out
}

// NearbyFulfillers lists fulfillers around the requester. It never mutates
// state and an empty result is not an error.
func (r *Registry) NearbyFulfillers(ctx context.Context, q NearbyQuery) (out []types.Candidate, err error) {
	defer func(start time.Time) { r.observe("nearby_fulfillers", start, err) }(time.Now())

	if err := q.validate(); err != nil {
		return nil, err
	}
	origin, err := r.requester(q.OriginID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	entries := make([]*fulfillerEntry, len(r.fulfillerOrder))
	for i, id := range r.fulfillerOrder {
		entries[i] = r.fulfillers[id]
	}
	r.mu.RUnlock()

	all := make([]types.Candidate, 0, len(entries))
	for _, f := range entries {
		f.mu.Lock()
		availability := f.Availability
		f.mu.Unlock()
		if q.AvailableOnly && availability != model.Available {
			continue
		}
		all = append(all, types.Candidate{
			ID:           f.ID,
			Name:         f.Name,
			At:           f.At,
			Distance:     geo.Distance(origin.At, f.At),
			Availability: string(availability),
		})
	}
	return match(origin.At, all, q), nil
}

// NearbyVenues lists venues around the requester.
func (r *Registry) NearbyVenues(ctx context.Context, q NearbyQuery) (out []types.Candidate, err error) {
	defer func(start time.Time) { r.observe("nearby_venues", start, err) }(time.Now())

	if err := q.validate(); err != nil {
		return nil, err
	}
	origin, err := r.requester(q.OriginID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	all := make([]types.Candidate, 0, len(r.venueOrder))
	for _, id := range r.venueOrder {
		v := r.venues[id]
		all = append(all, types.Candidate{
			ID:       v.ID,
			Name:     v.Name,
			At:       v.At,
			Distance: geo.Distance(origin.At, v.At),
		})
	}
	r.mu.RUnlock()

	return match(origin.At, all, q), nil
}
