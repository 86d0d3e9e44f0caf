package dispatch

import (
	"context"
	"fmt"

	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
)

// AddRequesterCommand registers a requester.
type AddRequesterCommand struct {
	Name     string
	Location string
	At       geo.Coordinates
}

// AddFulfillerCommand registers a fulfiller.
type AddFulfillerCommand struct {
	Name string
	At   geo.Coordinates
}

// AddVenueCommand registers a venue.
type AddVenueCommand struct {
	Name     string
	Location string
	At       geo.Coordinates
}

// AddMenuItemCommand appends an item to a venue's menu.
type AddMenuItemCommand struct {
	VenueID types.ID
	Item    model.MenuItem
}

// SubmitRideCommand asks for a ride between two named places.
type SubmitRideCommand struct {
	RequesterID types.ID
	Origin      string
	Destination string
	Fare        float64
}

// SubmitOrderCommand places an order at a venue. The amount is the sum of
// the item prices as given.
type SubmitOrderCommand struct {
	RequesterID types.ID
	VenueID     types.ID
	Items       []model.MenuItem
}

// AcceptCommand claims a pending request for a fulfiller.
type AcceptCommand struct {
	FulfillerID types.ID
	RequestID   types.ID
}

// CompleteCommand finishes the fulfiller's current assignment.
type CompleteCommand struct {
	FulfillerID types.ID
}

// RateCommand rates the requester's most recently completed request.
// VenueRating is only meaningful for orders.
type RateCommand struct {
	RequesterID types.ID
	Rating      float64
	VenueRating *float64
}

// Execute runs a bus command against the registry. The returned value is
// the new ID for add and submit commands and nil otherwise.
func (r *Registry) Execute(ctx context.Context, cmd model.Command) (any, error) {
	switch p := cmd.Payload.(type) {
	case AddRequesterCommand:
		return r.AddRequester(ctx, p.Name, p.Location, p.At)
	case AddFulfillerCommand:
		return r.AddFulfiller(ctx, p.Name, p.At)
	case AddVenueCommand:
		return r.AddVenue(ctx, p.Name, p.Location, p.At)
	case AddMenuItemCommand:
		return nil, r.AddMenuItem(ctx, p.VenueID, p.Item)
	case SubmitRideCommand:
		return r.SubmitRide(ctx, p)
	case SubmitOrderCommand:
		return r.SubmitOrder(ctx, p)
	case AcceptCommand:
		return nil, r.Accept(ctx, p)
	case CompleteCommand:
		return nil, r.Complete(ctx, p.FulfillerID)
	case RateCommand:
		return nil, r.Rate(ctx, p)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd.Payload)
	}
}
