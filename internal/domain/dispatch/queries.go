package dispatch

import (
	"context"
	"time"

	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
)

// History returns every request of the requester, newest first. Entries are
// copies: the fulfiller's name and average are captured at call time and
// later changes do not reach them.
func (r *Registry) History(ctx context.Context, requesterID types.ID) (out []types.HistoryEntry, err error) {
	defer func(start time.Time) { r.observe("history", start, err) }(time.Now())

	if _, err := r.requester(requesterID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	reqs := append([]*requestEntry(nil), r.byRequester[requesterID]...)
	r.mu.RUnlock()

	out = make([]types.HistoryEntry, 0, len(reqs))
	for i := len(reqs) - 1; i >= 0; i-- {
		e := reqs[i]
		e.mu.Lock()
		c := e.Clone()
		venueName := e.venueName
		e.mu.Unlock()

		h := types.HistoryEntry{
			RequestID:   c.ID,
			Kind:        string(c.Kind),
			Status:      string(c.Status),
			Origin:      c.Origin,
			Destination: c.Destination,
			VenueName:   venueName,
			Items:       c.Items,
			Amount:      c.Amount,
			FulfillerID: c.FulfillerID,
			Rating:      c.Rating,
			VenueRating: c.VenueRating,
			CreatedAt:   c.CreatedAt,
			CompletedAt: c.CompletedAt,
		}
		if c.FulfillerID != "" {
			if f, ferr := r.fulfiller(c.FulfillerID); ferr == nil {
				h.FulfillerName = f.Name
				h.FulfillerAverage = f.ratings.Average()
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// TopN returns the n most frequent heatmap keys.
func (r *Registry) TopN(ctx context.Context, n int) (out []types.HeatmapEntry, err error) {
	defer func(start time.Time) { r.observe("top_n", start, err) }(time.Now())

	entries, err := r.heat.TopN(ctx, n)
	if err != nil {
		return nil, err
	}
	out = make([]types.HeatmapEntry, len(entries))
	for i, e := range entries {
		out[i] = types.HeatmapEntry{Rank: e.Rank, Key: e.Key, Count: e.Count}
	}
	return out, nil
}

// Request returns a copy of the request.
func (r *Registry) Request(ctx context.Context, id types.ID) (model.Request, error) {
	e, err := r.request(id)
	if err != nil {
		return model.Request{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Clone(), nil
}

// Requester returns a copy of the requester, including its review stack.
func (r *Registry) Requester(ctx context.Context, id types.ID) (model.Requester, error) {
	u, err := r.requester(id)
	if err != nil {
		return model.Requester{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	c := u.Requester
	c.PendingReview = append([]types.ID(nil), u.PendingReview...)
	return c, nil
}

// FulfillerStats summarizes a fulfiller.
func (r *Registry) FulfillerStats(ctx context.Context, id types.ID) (types.FulfillerStats, error) {
	f, err := r.fulfiller(id)
	if err != nil {
		return types.FulfillerStats{}, err
	}
	f.mu.Lock()
	st := types.FulfillerStats{
		ID:             f.ID,
		Name:           f.Name,
		At:             f.At,
		Availability:   string(f.Availability),
		CurrentRequest: f.CurrentAssignment,
		Completed:      f.Completed,
	}
	f.mu.Unlock()

	snap := f.ratings.Snapshot()
	st.RatingTotal = snap.Total
	st.RatingCount = snap.Count
	st.AverageRating = snap.Average
	return st, nil
}

// Fulfillers lists fulfiller stats in registration order.
func (r *Registry) Fulfillers(ctx context.Context) []types.FulfillerStats {
	r.mu.RLock()
	ids := append([]types.ID(nil), r.fulfillerOrder...)
	r.mu.RUnlock()

	out := make([]types.FulfillerStats, 0, len(ids))
	for _, id := range ids {
		st, err := r.FulfillerStats(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}
