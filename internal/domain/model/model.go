// Package model contains the dispatch entities and the request state machine.
package model

import (
	"time"

	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/heatmap"
	"github.com/okian/dispatch/internal/domain/types"
)

// Kind distinguishes the two request flavours.
type Kind string

const (
	KindRide  Kind = "ride"
	KindOrder Kind = "order"
)

// Availability is a fulfiller's status.
type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// MenuItem is a priced venue item.
type MenuItem = types.Item

// Requester submits requests. Completed but unrated requests stack up in
// PendingReview, newest last.
type Requester struct {
	ID            types.ID
	Name          string
	Location      string
	At            geo.Coordinates
	ActiveRequest types.ID
	PendingReview []types.ID
	CreatedAt     time.Time
}

// Busy reports whether the requester has an active request.
func (r *Requester) Busy() bool { return r.ActiveRequest != "" }

// PushReview stacks a completed request for rating.
func (r *Requester) PushReview(id types.ID) {
	r.PendingReview = append(r.PendingReview, id)
}

// PeekReview returns the most recently completed unrated request.
func (r *Requester) PeekReview() (types.ID, bool) {
	if len(r.PendingReview) == 0 {
		return "", false
	}
	return r.PendingReview[len(r.PendingReview)-1], true
}

// PopReview removes and returns the most recently completed unrated request.
func (r *Requester) PopReview() (types.ID, bool) {
	id, ok := r.PeekReview()
	if ok {
		r.PendingReview[len(r.PendingReview)-1] = ""
		r.PendingReview = r.PendingReview[:len(r.PendingReview)-1]
	}
	return id, ok
}

// Fulfiller accepts and completes requests. Availability is Unavailable
// exactly when CurrentAssignment is set.
type Fulfiller struct {
	ID                types.ID
	Name              string
	At                geo.Coordinates
	Availability      Availability
	CurrentAssignment types.ID
	Completed         int
	CreatedAt         time.Time
}

// Assign binds the fulfiller to a request.
func (f *Fulfiller) Assign(id types.ID) {
	f.CurrentAssignment = id
	f.Availability = Unavailable
}

// Release clears the assignment and counts the completion.
func (f *Fulfiller) Release() {
	f.CurrentAssignment = ""
	f.Availability = Available
	f.Completed++
}

// Venue is a restaurant with a menu.
type Venue struct {
	ID              types.ID
	Name            string
	Location        string
	At              geo.Coordinates
	Menu            []MenuItem
	CompletedOrders int
	CreatedAt       time.Time
}

// Request is a ride or an order moving through the state machine.
type Request struct {
	ID          types.ID
	Kind        Kind
	Status      Status
	RequesterID types.ID
	FulfillerID types.ID

	// Ride
	Origin      string
	Destination string

	// Order
	VenueID types.ID
	Items   []MenuItem

	Amount float64
	// Pickup is where a fulfiller has to go first: the requester's position
	// for rides, the venue for orders.
	Pickup geo.Coordinates

	Rating      *float64
	VenueRating *float64

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	CompletedAt *time.Time
	RatedAt     *time.Time
}

// HeatmapKeys returns the keys a completion of r increments.
func (r *Request) HeatmapKeys(venueName string) []string {
	if r.Kind == KindOrder {
		keys := make([]string, len(r.Items))
		for i, it := range r.Items {
			keys[i] = heatmap.ItemKey(venueName, it.Name)
		}
		return keys
	}
	return []string{heatmap.CanonicalKey(r.Origin, r.Destination)}
}

// Clone returns a deep copy safe to hand out.
func (r *Request) Clone() Request {
	c := *r
	c.Items = append([]MenuItem(nil), r.Items...)
	c.Rating = clonePtr(r.Rating)
	c.VenueRating = clonePtr(r.VenueRating)
	c.AcceptedAt = clonePtr(r.AcceptedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.RatedAt = clonePtr(r.RatedAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
