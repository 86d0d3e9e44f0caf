package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/dispatch/internal/adapters/repository"
	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/pkg/logger"
)

// demoResult is what a scripted scenario leaves behind for display.
type demoResult struct {
	Candidates []types.Candidate      `json:"candidates"`
	Pending    []types.PendingRequest `json:"pending"`
	History    []types.HistoryEntry   `json:"history"`
	Fulfillers []types.FulfillerStats `json:"fulfillers"`
	Venues     []types.VenueSummary   `json:"venues,omitempty"`
	Heatmap    []types.HeatmapEntry   `json:"heatmap"`
}

type scenario func(ctx context.Context, reg *dispatch.Registry, radius float64) (*demoResult, error)

func (c *cli) demoCmd() *cobra.Command {
	demo := &cobra.Command{Use: "demo", Short: "Run a scripted scenario against a fresh registry"}
	demo.AddCommand(
		&cobra.Command{
			Use:   "ride",
			Short: "A requester books a ride and the nearest driver serves it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.runDemo(cmd, rideDemo)
			},
		},
		&cobra.Command{
			Use:   "food",
			Short: "A requester orders from a venue and a courier delivers it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.runDemo(cmd, foodDemo)
			},
		},
	)
	return demo
}

func (c *cli) runDemo(cmd *cobra.Command, run scenario) error {
	ctx := cmd.Context()
	store := repository.NewTreapStore(ctx)
	defer func() { _ = store.Close() }()
	reg := dispatch.New(store, dispatch.WithLogger(logger.Named("dispatch")))

	res, err := run(ctx, reg, c.cfg.NearbyRadius)
	if err != nil {
		return err
	}
	if res.Heatmap, err = reg.TopN(ctx, c.cfg.DefaultTopN); err != nil {
		return err
	}
	res.Fulfillers = reg.Fulfillers(ctx)

	out := cmd.OutOrStdout()
	if c.json {
		return printJSON(out, res)
	}
	renderCandidates(out, res.Candidates)
	renderPending(out, res.Pending)
	renderHistory(out, res.History)
	renderFulfillers(out, res.Fulfillers)
	if len(res.Venues) > 0 {
		renderVenues(out, res.Venues)
	}
	renderHeatmap(out, res.Heatmap)
	return nil
}

// fulfil has fID accept, complete and the requester rate the request.
func fulfil(ctx context.Context, reg *dispatch.Registry, fID, rID, reqID types.ID, rating float64, venueRating *float64) error {
	if err := reg.Accept(ctx, dispatch.AcceptCommand{FulfillerID: fID, RequestID: reqID}); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	if err := reg.Complete(ctx, fID); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if err := reg.Rate(ctx, dispatch.RateCommand{RequesterID: rID, Rating: rating, VenueRating: venueRating}); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	return nil
}

func rideDemo(ctx context.Context, reg *dispatch.Registry, radius float64) (*demoResult, error) {
	rID, err := reg.AddRequester(ctx, "Rahim", "Banani", geo.Coordinates{X: 0, Y: 0})
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		at   geo.Coordinates
	}{
		{"Karim", geo.Coordinates{X: 50, Y: 50}},
		{"Sakib", geo.Coordinates{X: 120, Y: 90}},
	} {
		if _, err := reg.AddFulfiller(ctx, f.name, f.at); err != nil {
			return nil, err
		}
	}

	res := &demoResult{}
	if res.Candidates, err = reg.NearbyFulfillers(ctx, dispatch.NearbyQuery{
		OriginID: rID, MaxDistance: radius, AvailableOnly: true, Ranked: true,
	}); err != nil {
		return nil, err
	}
	if len(res.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no driver within radius %v", dispatch.ErrNotFound, radius)
	}
	driver := res.Candidates[0].ID

	reqID, err := reg.SubmitRide(ctx, dispatch.SubmitRideCommand{
		RequesterID: rID, Origin: "Banani", Destination: "Uttara", Fare: 100,
	})
	if err != nil {
		return nil, err
	}
	if res.Pending, err = reg.ListPending(ctx, driver, dispatch.PendingFilter{}); err != nil {
		return nil, err
	}
	if err := fulfil(ctx, reg, driver, rID, reqID, 5, nil); err != nil {
		return nil, err
	}
	if res.History, err = reg.History(ctx, rID); err != nil {
		return nil, err
	}
	return res, nil
}

func foodDemo(ctx context.Context, reg *dispatch.Registry, radius float64) (*demoResult, error) {
	rID, err := reg.AddRequester(ctx, "Rahim", "Banani", geo.Coordinates{X: 0, Y: 0})
	if err != nil {
		return nil, err
	}
	vID, err := reg.AddVenue(ctx, "Pizza Hut", "Gulshan", geo.Coordinates{X: 100, Y: 100})
	if err != nil {
		return nil, err
	}
	menu := []model.MenuItem{{Name: "Pizza", Price: 60}, {Name: "Coke", Price: 40}}
	for _, item := range menu {
		if err := reg.AddMenuItem(ctx, vID, item); err != nil {
			return nil, err
		}
	}
	courier, err := reg.AddFulfiller(ctx, "Karim", geo.Coordinates{X: 90, Y: 90})
	if err != nil {
		return nil, err
	}

	res := &demoResult{}
	if res.Candidates, err = reg.NearbyVenues(ctx, dispatch.NearbyQuery{
		OriginID: rID, MaxDistance: radius, Ranked: true,
	}); err != nil {
		return nil, err
	}

	reqID, err := reg.SubmitOrder(ctx, dispatch.SubmitOrderCommand{RequesterID: rID, VenueID: vID, Items: menu})
	if err != nil {
		return nil, err
	}
	if res.Pending, err = reg.ListPending(ctx, courier, dispatch.PendingFilter{}); err != nil {
		return nil, err
	}
	venueRating := 3.0
	if err := fulfil(ctx, reg, courier, rID, reqID, 5, &venueRating); err != nil {
		return nil, err
	}
	if res.History, err = reg.History(ctx, rID); err != nil {
		return nil, err
	}
	res.Venues = reg.ListVenues(ctx)
	return res, nil
}
