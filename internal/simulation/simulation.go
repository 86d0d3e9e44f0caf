// Package simulation drives the registry with concurrent requester and
// fulfiller actors and checks the registry invariants afterwards.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/dispatch/internal/domain/dispatch"
	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/pkg/logger"
)

const (
	gridSize  = 100.0
	pollDelay = 200 * time.Microsecond
	maxItems  = 3
)

var places = []string{"Banani", "Uttara", "Gulshan", "Dhanmondi", "Mirpur", "Motijheel"}

var dishes = []model.MenuItem{
	{Name: "Pizza", Price: 60},
	{Name: "Burger", Price: 25},
	{Name: "Biryani", Price: 40},
	{Name: "Coke", Price: 5},
	{Name: "Salad", Price: 15},
}

// Bus executes registry commands. The service satisfies it; Direct wraps a
// bare registry.
type Bus interface {
	Do(ctx context.Context, payload any) (any, error)
}

type direct struct{ reg *dispatch.Registry }

// Direct executes commands straight on reg.
func Direct(reg *dispatch.Registry) Bus { return direct{reg: reg} }

func (d direct) Do(ctx context.Context, payload any) (any, error) {
	return d.reg.Execute(ctx, model.NewCommand(payload))
}

// Config sizes a run.
type Config struct {
	Requesters int
	Fulfillers int
	// Venues is the number of venues. With zero venues every request is a
	// ride.
	Venues int
	// Rounds is how many requests each requester submits in sequence.
	Rounds int
	Seed   int64
	TopN   int
}

// Report summarizes a run.
type Report struct {
	Submitted  int64
	Rides      int64
	Orders     int64
	Accepted   int64
	Conflicts  int64
	Completed  int64
	Rated      int64
	Duration   time.Duration
	Top        []types.HeatmapEntry
	Violations []string

	// expectedHeat is the number of heatmap increments the run should cause.
	expectedHeat int64
	requesters   []types.ID
	fulfillers   []types.ID
}

// OK reports whether every invariant held.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

type counters struct {
	submitted, rides, orders, accepted, conflicts, completed, rated, heat atomic.Int64
}

type venue struct {
	id   types.ID
	menu []model.MenuItem
}

// Run seeds the registry through bus, runs the actors until every requester
// has finished its rounds, then verifies the registry. reg is used for reads
// and must be the registry behind bus.
func Run(ctx context.Context, bus Bus, reg *dispatch.Registry, cfg Config) (*Report, error) {
	if cfg.Requesters < 1 || cfg.Fulfillers < 1 || cfg.Rounds < 1 || cfg.Venues < 0 {
		return nil, fmt.Errorf("%w: simulation needs requesters, fulfillers and rounds", dispatch.ErrInvalidArgument)
	}
	if cfg.TopN < 1 {
		cfg.TopN = 5
	}
	log := logger.Named("simulation")
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), 0))
	start := time.Now()

	rep := &Report{}
	venues, err := seed(ctx, bus, rng, cfg, rep)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "simulation seeded",
		logger.Int("requesters", len(rep.requesters)),
		logger.Int("fulfillers", len(rep.fulfillers)),
		logger.Int("venues", len(venues)),
	)

	var c counters
	fctx, stopFulfillers := context.WithCancel(ctx)
	defer stopFulfillers()

	// A failing fulfiller cancels gctx, which also stops the requesters
	// waiting on it.
	fg, gctx := errgroup.WithContext(fctx)
	for i, id := range rep.fulfillers {
		fg.Go(func() error { return fulfill(gctx, bus, reg, id, &c, i) })
	}

	rg, rctx := errgroup.WithContext(gctx)
	for i, id := range rep.requesters {
		r := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(i)+1))
		rg.Go(func() error { return request(rctx, bus, reg, id, venues, cfg.Rounds, r, &c) })
	}

	rerr := rg.Wait()
	stopFulfillers()
	ferr := fg.Wait()
	if ferr != nil && !errors.Is(ferr, context.Canceled) {
		return nil, fmt.Errorf("fulfiller actor: %w", ferr)
	}
	if rerr != nil {
		return nil, fmt.Errorf("requester actor: %w", rerr)
	}

	rep.Submitted = c.submitted.Load()
	rep.Rides = c.rides.Load()
	rep.Orders = c.orders.Load()
	rep.Accepted = c.accepted.Load()
	rep.Conflicts = c.conflicts.Load()
	rep.Completed = c.completed.Load()
	rep.Rated = c.rated.Load()
	rep.expectedHeat = c.heat.Load()
	rep.Duration = time.Since(start)

	if rep.Top, err = reg.TopN(ctx, cfg.TopN); err != nil {
		return nil, err
	}
	rep.Violations = Verify(ctx, reg, rep)

	log.Info(ctx, "simulation finished",
		logger.Int("completed", int(rep.Completed)),
		logger.Int("conflicts", int(rep.Conflicts)),
		logger.Int("violations", len(rep.Violations)),
		logger.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func randomPoint(r *rand.Rand) geo.Coordinates {
	return geo.Coordinates{X: r.Float64() * gridSize, Y: r.Float64() * gridSize}
}

func addID(ctx context.Context, bus Bus, payload any) (types.ID, error) {
	v, err := bus.Do(ctx, payload)
	if err != nil {
		return "", err
	}
	id, ok := v.(types.ID)
	if !ok {
		return "", fmt.Errorf("unexpected result %T for %T", v, payload)
	}
	return id, nil
}

func seed(ctx context.Context, bus Bus, rng *rand.Rand, cfg Config, rep *Report) ([]venue, error) {
	venues := make([]venue, 0, cfg.Venues)
	for i := 0; i < cfg.Venues; i++ {
		id, err := addID(ctx, bus, dispatch.AddVenueCommand{
			Name:     fmt.Sprintf("Venue %d", i+1),
			Location: places[i%len(places)],
			At:       randomPoint(rng),
		})
		if err != nil {
			return nil, err
		}
		v := venue{id: id}
		for _, d := range dishes {
			if _, err := bus.Do(ctx, dispatch.AddMenuItemCommand{VenueID: id, Item: d}); err != nil {
				return nil, err
			}
			v.menu = append(v.menu, d)
		}
		venues = append(venues, v)
	}
	for i := 0; i < cfg.Fulfillers; i++ {
		id, err := addID(ctx, bus, dispatch.AddFulfillerCommand{Name: fmt.Sprintf("fulfiller-%d", i+1), At: randomPoint(rng)})
		if err != nil {
			return nil, err
		}
		rep.fulfillers = append(rep.fulfillers, id)
	}
	for i := 0; i < cfg.Requesters; i++ {
		id, err := addID(ctx, bus, dispatch.AddRequesterCommand{
			Name:     fmt.Sprintf("requester-%d", i+1),
			Location: places[i%len(places)],
			At:       randomPoint(rng),
		})
		if err != nil {
			return nil, err
		}
		rep.requesters = append(rep.requesters, id)
	}
	return venues, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// request submits rounds requests one after another, waiting for each to be
// completed before rating it.
func request(ctx context.Context, bus Bus, reg *dispatch.Registry, id types.ID, venues []venue, rounds int, r *rand.Rand, c *counters) error {
	for round := 0; round < rounds; round++ {
		var (
			payload any
			heat    int64
			order   bool
		)
		if len(venues) > 0 && r.IntN(2) == 0 {
			v := venues[r.IntN(len(venues))]
			items := make([]model.MenuItem, 1+r.IntN(maxItems))
			for i := range items {
				items[i] = v.menu[r.IntN(len(v.menu))]
			}
			payload, heat, order = dispatch.SubmitOrderCommand{RequesterID: id, VenueID: v.id, Items: items}, int64(len(items)), true
		} else {
			a := r.IntN(len(places))
			b := (a + 1 + r.IntN(len(places)-1)) % len(places)
			payload, heat = dispatch.SubmitRideCommand{
				RequesterID: id,
				Origin:      places[a],
				Destination: places[b],
				Fare:        float64(10 + r.IntN(90)),
			}, 1
		}

		reqID, err := addID(ctx, bus, payload)
		if err != nil {
			return err
		}
		c.submitted.Add(1)
		if order {
			c.orders.Add(1)
		} else {
			c.rides.Add(1)
		}
		c.heat.Add(heat)

		for {
			req, err := reg.Request(ctx, reqID)
			if err != nil {
				return err
			}
			if req.Status == model.StatusCompleted {
				break
			}
			if err := sleep(ctx, pollDelay); err != nil {
				return err
			}
		}

		rate := dispatch.RateCommand{RequesterID: id, Rating: float64(1 + r.IntN(5))}
		if order {
			vr := float64(r.IntN(6))
			rate.VenueRating = &vr
		}
		if _, err := bus.Do(ctx, rate); err != nil {
			return err
		}
		c.rated.Add(1)
	}
	return nil
}

// fulfill repeatedly claims the nearest pending request and completes it
// until ctx is cancelled.
func fulfill(ctx context.Context, bus Bus, reg *dispatch.Registry, id types.ID, c *counters, salt int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := reg.ListPending(ctx, id, dispatch.PendingFilter{})
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			if err := sleep(ctx, pollDelay); err != nil {
				return err
			}
			continue
		}
		geo.SortByDistance(pending, func(p types.PendingRequest) float64 { return p.Distance })
		// Spread contention a little so not everyone races for the same head.
		target := pending[salt%min(len(pending), 2)]

		_, err = bus.Do(ctx, dispatch.AcceptCommand{FulfillerID: id, RequestID: target.ID})
		switch {
		case dispatch.IsConflict(err):
			c.conflicts.Add(1)
			continue
		case err != nil:
			return err
		}
		c.accepted.Add(1)

		if _, err := bus.Do(ctx, dispatch.CompleteCommand{FulfillerID: id}); err != nil {
			return err
		}
		c.completed.Add(1)
	}
}
