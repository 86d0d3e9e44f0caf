package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/pkg/logger"
	"github.com/okian/dispatch/pkg/metrics"
)

const (
	minRating = 0
	maxRating = 5
)

// PendingFilter narrows ListPending.
type PendingFilter struct {
	// MaxDistance keeps requests whose pickup is within this distance of the
	// fulfiller, inclusive. Zero disables the filter.
	MaxDistance float64
}

// submit stores a new pending request for the requester. The requester lock
// is held across the busy check and the insert.
func (r *Registry) submit(ctx context.Context, req model.Request, venueName string) (types.ID, error) {
	u, err := r.requester(req.RequesterID)
	if err != nil {
		return "", err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.Busy() {
		r.logger.Debug(ctx, "submit rejected",
			logger.String("requester_id", string(u.ID)),
			logger.String("active_request", string(u.ActiveRequest)),
		)
		return "", fmt.Errorf("requester %q has request %q: %w", u.ID, u.ActiveRequest, ErrRequesterBusy)
	}

	req.ID = types.NewID()
	req.Status = model.StatusPending
	req.CreatedAt = r.now()
	if req.Kind == model.KindRide {
		req.Pickup = u.At
	}
	e := &requestEntry{Request: req, requesterName: u.Name, venueName: venueName}

	r.mu.Lock()
	e.seq = r.nextSeq
	r.nextSeq++
	r.requests[e.ID] = e
	r.requestOrder = append(r.requestOrder, e)
	r.byRequester[u.ID] = append(r.byRequester[u.ID], e)
	r.mu.Unlock()

	u.ActiveRequest = e.ID

	metrics.RecordRequestSubmitted(string(req.Kind))
	metrics.UpdatePendingRequests(int(r.pending.Add(1)))
	r.logger.Debug(ctx, "request submitted",
		logger.String("request_id", string(e.ID)),
		logger.String("kind", string(e.Kind)),
		logger.String("requester_id", string(u.ID)),
		logger.Float64("amount", e.Amount),
	)
	return e.ID, nil
}

// SubmitRide creates a pending ride. The pickup point is the requester's
// position.
func (r *Registry) SubmitRide(ctx context.Context, cmd SubmitRideCommand) (id types.ID, err error) {
	defer func(start time.Time) { r.observe("submit_ride", start, err) }(time.Now())

	if err := validName("origin", cmd.Origin); err != nil {
		return "", err
	}
	if err := validName("destination", cmd.Destination); err != nil {
		return "", err
	}
	if err := validAmount("fare", cmd.Fare); err != nil {
		return "", err
	}

	return r.submit(ctx, model.Request{
		Kind:        model.KindRide,
		RequesterID: cmd.RequesterID,
		Origin:      cmd.Origin,
		Destination: cmd.Destination,
		Amount:      cmd.Fare,
	}, "")
}

// SubmitOrder creates a pending order at a venue. The pickup point is the
// venue.
func (r *Registry) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (id types.ID, err error) {
	defer func(start time.Time) { r.observe("submit_order", start, err) }(time.Now())

	if len(cmd.Items) == 0 {
		return "", fmt.Errorf("%w: an order needs at least one item", ErrInvalidArgument)
	}
	var amount float64
	for _, it := range cmd.Items {
		if err := validName("item name", it.Name); err != nil {
			return "", err
		}
		if err := validAmount("price", it.Price); err != nil {
			return "", err
		}
		amount += it.Price
	}
	v, err := r.venue(cmd.VenueID)
	if err != nil {
		return "", err
	}

	return r.submit(ctx, model.Request{
		Kind:        model.KindOrder,
		RequesterID: cmd.RequesterID,
		VenueID:     v.ID,
		Items:       append([]model.MenuItem(nil), cmd.Items...),
		Amount:      amount,
		Pickup:      v.At,
	}, v.Name)
}

// ListPending returns pending requests in submission order, each with its
// pickup distance from the fulfiller. It is informational; nothing is
// reserved.
func (r *Registry) ListPending(ctx context.Context, fulfillerID types.ID, filter PendingFilter) (out []types.PendingRequest, err error) {
	defer func(start time.Time) { r.observe("list_pending", start, err) }(time.Now())

	if math.IsNaN(filter.MaxDistance) || filter.MaxDistance < 0 {
		return nil, fmt.Errorf("%w: max distance must be >= 0, got %v", ErrInvalidArgument, filter.MaxDistance)
	}
	f, err := r.fulfiller(fulfillerID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	reqs := append([]*requestEntry(nil), r.requestOrder...)
	r.mu.RUnlock()

	out = make([]types.PendingRequest, 0)
	for _, e := range reqs {
		e.mu.Lock()
		if e.Status != model.StatusPending {
			e.mu.Unlock()
			continue
		}
		p := types.PendingRequest{
			ID:            e.ID,
			Kind:          string(e.Kind),
			RequesterID:   e.RequesterID,
			RequesterName: e.requesterName,
			Origin:        e.Origin,
			Destination:   e.Destination,
			VenueID:       e.VenueID,
			VenueName:     e.venueName,
			Items:         append([]types.Item(nil), e.Items...),
			Amount:        e.Amount,
			Distance:      geo.Distance(f.At, e.Pickup),
			CreatedAt:     e.CreatedAt,
		}
		e.mu.Unlock()

		if filter.MaxDistance > 0 && p.Distance > filter.MaxDistance {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Accept binds a pending request to a fulfiller. At most one Accept per
// request succeeds; the rest get ErrRequestNotPending.
func (r *Registry) Accept(ctx context.Context, cmd AcceptCommand) (err error) {
	defer func(start time.Time) { r.observe("accept", start, err) }(time.Now())

	f, err := r.fulfiller(cmd.FulfillerID)
	if err != nil {
		return err
	}
	e, err := r.request(cmd.RequestID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CurrentAssignment != "" {
		return fmt.Errorf("fulfiller %q is on %q: %w", f.ID, f.CurrentAssignment, ErrFulfillerBusy)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status != model.StatusPending {
		metrics.RecordAcceptConflict()
		r.logger.Debug(ctx, "accept rejected",
			logger.String("request_id", string(e.ID)),
			logger.String("fulfiller_id", string(f.ID)),
			logger.String("status", string(e.Status)),
		)
		return fmt.Errorf("request %q is %s: %w", e.ID, e.Status, ErrRequestNotPending)
	}
	if err := e.Transition(model.StatusAccepted, r.now()); err != nil {
		return err
	}
	e.FulfillerID = f.ID
	f.Assign(e.ID)

	metrics.RecordRequestAccepted()
	metrics.UpdatePendingRequests(int(r.pending.Add(-1)))
	r.logger.Debug(ctx, "request accepted",
		logger.String("request_id", string(e.ID)),
		logger.String("fulfiller_id", string(f.ID)),
	)
	return nil
}

// Complete finishes the fulfiller's current assignment. The heatmap and the
// venue counter are updated while the request is still locked, so a
// completed request is never observed without its heatmap increment.
func (r *Registry) Complete(ctx context.Context, fulfillerID types.ID) (err error) {
	defer func(start time.Time) { r.observe("complete", start, err) }(time.Now())

	f, err := r.fulfiller(fulfillerID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CurrentAssignment == "" {
		return fmt.Errorf("fulfiller %q: %w", f.ID, ErrNoCurrentAssignment)
	}
	e, err := r.request(f.CurrentAssignment)
	if err != nil {
		return err
	}
	u, err := r.requester(e.RequesterID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if !model.CanTransition(e.Status, model.StatusCompleted) {
		return fmt.Errorf("request %q is %s: %w", e.ID, e.Status, model.ErrInvalidTransition)
	}

	var v *venueEntry
	if e.Kind == model.KindOrder {
		if v, err = r.venue(e.VenueID); err != nil {
			return err
		}
	}
	for _, key := range e.HeatmapKeys(e.venueName) {
		if _, err := r.heat.Increment(ctx, key); err != nil {
			return fmt.Errorf("heatmap increment %q: %w", key, err)
		}
	}
	if v != nil {
		v.mu.Lock()
		v.CompletedOrders++
		v.mu.Unlock()
	}

	if err := e.Transition(model.StatusCompleted, r.now()); err != nil {
		return err
	}
	f.Release()
	if u.ActiveRequest == e.ID {
		u.ActiveRequest = ""
	}
	u.PushReview(e.ID)

	metrics.RecordRequestCompleted(string(e.Kind))
	r.logger.Debug(ctx, "request completed",
		logger.String("request_id", string(e.ID)),
		logger.String("fulfiller_id", string(f.ID)),
		logger.Int("fulfiller_completed", f.Completed),
	)
	return nil
}

func validRating(field string, v float64) error {
	if math.IsNaN(v) || v < minRating || v > maxRating {
		return fmt.Errorf("%w: %s must be within [%d, %d], got %v", ErrInvalidArgument, field, minRating, maxRating, v)
	}
	return nil
}

// Rate applies ratings to the requester's most recently completed unrated
// request. The fulfiller always receives Rating; the venue receives
// VenueRating for orders.
func (r *Registry) Rate(ctx context.Context, cmd RateCommand) (err error) {
	defer func(start time.Time) { r.observe("rate", start, err) }(time.Now())

	if err := validRating("rating", cmd.Rating); err != nil {
		return err
	}
	if cmd.VenueRating != nil {
		if err := validRating("venue rating", *cmd.VenueRating); err != nil {
			return err
		}
	}
	u, err := r.requester(cmd.RequesterID)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	id, ok := u.PeekReview()
	if !ok {
		return fmt.Errorf("requester %q: %w", u.ID, ErrNoPendingReview)
	}
	e, err := r.request(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := r.fulfiller(e.FulfillerID)
	if err != nil {
		return err
	}
	var v *venueEntry
	if cmd.VenueRating != nil {
		if e.Kind != model.KindOrder {
			return fmt.Errorf("%w: venue rating on a %s", ErrInvalidArgument, e.Kind)
		}
		if v, err = r.venue(e.VenueID); err != nil {
			return err
		}
	}

	u.PopReview()
	now := r.now()
	rv := cmd.Rating
	e.Rating = &rv
	e.RatedAt = &now
	snap := f.ratings.Record(rv)
	metrics.RecordRating("fulfiller")
	if v != nil {
		vr := *cmd.VenueRating
		e.VenueRating = &vr
		v.ratings.Record(vr)
		metrics.RecordRating("venue")
	}

	r.logger.Debug(ctx, "request rated",
		logger.String("request_id", string(e.ID)),
		logger.String("fulfiller_id", string(f.ID)),
		logger.Float64("rating", rv),
		logger.Float64("fulfiller_average", snap.Average),
	)
	return nil
}

// IsConflict reports whether err means the request was claimed by someone else.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRequestNotPending)
}
