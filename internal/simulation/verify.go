package simulation

import (
	"context"
	"fmt"

	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/domain/model"
)

// Verify checks the registry against what the actors observed. It returns
// one message per broken invariant.
func Verify(ctx context.Context, reg *dispatch.Registry, rep *Report) []string {
	var out []string
	fail := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	counts := reg.Counts(ctx)
	if counts.Pending != 0 || counts.Accepted != 0 {
		fail("%d pending and %d accepted requests left over", counts.Pending, counts.Accepted)
	}
	if int64(counts.Completed) != rep.Completed {
		fail("registry has %d completed requests, actors completed %d", counts.Completed, rep.Completed)
	}
	if int64(counts.Requests) != rep.Submitted {
		fail("registry has %d requests, actors submitted %d", counts.Requests, rep.Submitted)
	}
	if rep.Accepted != rep.Completed {
		fail("%d accepts but %d completions", rep.Accepted, rep.Completed)
	}
	if counts.HeatmapTotal != rep.expectedHeat {
		fail("heatmap total %d, expected %d", counts.HeatmapTotal, rep.expectedHeat)
	}

	var completed, ratings int
	for _, st := range reg.Fulfillers(ctx) {
		completed += st.Completed
		ratings += st.RatingCount
		if st.Availability != string(model.Available) || st.CurrentRequest != "" {
			fail("fulfiller %s still holds %q", st.ID, st.CurrentRequest)
		}
	}
	if int64(completed) != rep.Completed {
		fail("fulfillers completed %d, expected %d", completed, rep.Completed)
	}
	if int64(ratings) != rep.Rated {
		fail("fulfillers hold %d ratings, expected %d", ratings, rep.Rated)
	}

	for _, id := range rep.requesters {
		u, err := reg.Requester(ctx, id)
		if err != nil {
			fail("requester %s: %v", id, err)
			continue
		}
		if u.ActiveRequest != "" || len(u.PendingReview) != 0 {
			fail("requester %s left with active %q and %d unrated", id, u.ActiveRequest, len(u.PendingReview))
		}
		hist, err := reg.History(ctx, id)
		if err != nil {
			fail("history %s: %v", id, err)
			continue
		}
		for _, h := range hist {
			if h.Status != string(model.StatusCompleted) || h.Rating == nil {
				fail("request %s ended %s, rated=%t", h.RequestID, h.Status, h.Rating != nil)
			}
		}
	}
	return out
}
