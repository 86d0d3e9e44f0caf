// Package dispatch implements the on-demand fulfillment registry: requesters,
// fulfillers, venues and the requests that move between them.
//
// Locking: the registry mutex only guards the collections and is never held
// while acquiring another lock. Every entity has its own mutex; when several
// are needed they are taken in the order fulfiller, requester, request,
// venue. Rating aggregators and the heatmap lock internally and are always
// innermost.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/dispatch/internal/domain/geo"
	"github.com/okian/dispatch/internal/domain/heatmap"
	"github.com/okian/dispatch/internal/domain/model"
	"github.com/okian/dispatch/internal/domain/rating"
	"github.com/okian/dispatch/internal/domain/types"
	"github.com/okian/dispatch/pkg/logger"
	"github.com/okian/dispatch/pkg/metrics"
)

const component = "registry"

// ID, Name, Location and At are set at creation and never change, so they
// are read without taking the entity lock.
type requesterEntry struct {
	mu sync.Mutex
	model.Requester
}

type fulfillerEntry struct {
	mu sync.Mutex
	model.Fulfiller
	ratings rating.Aggregator
}

type venueEntry struct {
	mu sync.Mutex
	model.Venue
	ratings rating.Aggregator
}

// requestEntry carries the names needed for listings so readers do not have
// to look the owners up again.
type requestEntry struct {
	mu sync.Mutex
	model.Request
	seq           uint64
	requesterName string
	venueName     string
}

// Registry owns every collection and the heatmap.
type Registry struct {
	mu             sync.RWMutex
	requesters     map[types.ID]*requesterEntry
	fulfillers     map[types.ID]*fulfillerEntry
	venues         map[types.ID]*venueEntry
	requests       map[types.ID]*requestEntry
	requesterOrder []types.ID
	fulfillerOrder []types.ID
	venueOrder     []types.ID
	requestOrder   []*requestEntry
	byRequester    map[types.ID][]*requestEntry
	nextSeq        uint64

	pending atomic.Int64

	heat   heatmap.Store
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns an empty registry that records completions in heat.
func New(heat heatmap.Store, opts ...Option) *Registry {
	r := &Registry{
		requesters:  make(map[types.ID]*requesterEntry),
		fulfillers:  make(map[types.ID]*fulfillerEntry),
		venues:      make(map[types.ID]*venueEntry),
		requests:    make(map[types.ID]*requestEntry),
		byRequester: make(map[types.ID][]*requestEntry),
		heat:        heat,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named(component)
	}
	return r
}

// observe records latency for op and counts a failure when err is set.
func (r *Registry) observe(op string, start time.Time, err error) {
	metrics.RecordOperationLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordErrorByComponent(component, errorType(err))
	}
}

func (r *Registry) requester(id types.ID) (*requesterEntry, error) {
	r.mu.RLock()
	e, ok := r.requesters[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("requester %q: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) fulfiller(id types.ID) (*fulfillerEntry, error) {
	r.mu.RLock()
	e, ok := r.fulfillers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("fulfiller %q: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) venue(id types.ID) (*venueEntry, error) {
	r.mu.RLock()
	e, ok := r.venues[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("venue %q: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) request(id types.ID) (*requestEntry, error) {
	r.mu.RLock()
	e, ok := r.requests[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("request %q: %w", id, ErrNotFound)
	}
	return e, nil
}

func (r *Registry) publishPopulation() {
	r.mu.RLock()
	rq, fl, vn := len(r.requesters), len(r.fulfillers), len(r.venues)
	r.mu.RUnlock()
	metrics.UpdatePopulation(rq, fl, vn)
}

func validName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, field)
	}
	return nil
}

func validCoordinates(at geo.Coordinates) error {
	for _, v := range []float64{at.X, at.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinates must be finite", ErrInvalidArgument)
		}
	}
	return nil
}

func validAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrInvalidArgument, field, v)
	}
	return nil
}

// AddRequester registers a requester. location is a free-form label.
func (r *Registry) AddRequester(ctx context.Context, name, location string, at geo.Coordinates) (id types.ID, err error) {
	defer func(start time.Time) { r.observe("add_requester", start, err) }(time.Now())

	if err := validName("name", name); err != nil {
		return "", err
	}
	if err := validCoordinates(at); err != nil {
		return "", err
	}

	e := &requesterEntry{Requester: model.Requester{
		ID:        types.NewID(),
		Name:      name,
		Location:  location,
		At:        at,
		CreatedAt: r.now(),
	}}

	r.mu.Lock()
	r.requesters[e.ID] = e
	r.requesterOrder = append(r.requesterOrder, e.ID)
	r.mu.Unlock()

	r.publishPopulation()
	r.logger.Debug(ctx, "requester added", logger.String("requester_id", string(e.ID)), logger.String("name", name))
	return e.ID, nil
}

// AddFulfiller registers an available fulfiller.
func (r *Registry) AddFulfiller(ctx context.Context, name string, at geo.Coordinates) (id types.ID, err error) {
	defer func(start time.Time) { r.observe("add_fulfiller", start, err) }(time.Now())

	if err := validName("name", name); err != nil {
		return "", err
	}
	if err := validCoordinates(at); err != nil {
		return "", err
	}

	e := &fulfillerEntry{Fulfiller: model.Fulfiller{
		ID:           types.NewID(),
		Name:         name,
		At:           at,
		Availability: model.Available,
		CreatedAt:    r.now(),
	}}

	r.mu.Lock()
	r.fulfillers[e.ID] = e
	r.fulfillerOrder = append(r.fulfillerOrder, e.ID)
	r.mu.Unlock()

	r.publishPopulation()
	r.logger.Debug(ctx, "fulfiller added", logger.String("fulfiller_id", string(e.ID)), logger.String("name", name))
	return e.ID, nil
}

// AddVenue registers a venue with an empty menu.
func (r *Registry) AddVenue(ctx context.Context, name, location string, at geo.Coordinates) (id types.ID, err error) {
	defer func(start time.Time) { r.observe("add_venue", start, err) }(time.Now())

	if err := validName("name", name); err != nil {
		return "", err
	}
	if err := validCoordinates(at); err != nil {
		return "", err
	}

	e := &venueEntry{Venue: model.Venue{
		ID:        types.NewID(),
		Name:      name,
		Location:  location,
		At:        at,
		CreatedAt: r.now(),
	}}

	r.mu.Lock()
	r.venues[e.ID] = e
	r.venueOrder = append(r.venueOrder, e.ID)
	r.mu.Unlock()

	r.publishPopulation()
	r.logger.Debug(ctx, "venue added", logger.String("venue_id", string(e.ID)), logger.String("name", name))
	return e.ID, nil
}

// AddMenuItem appends item to the venue's menu.
func (r *Registry) AddMenuItem(ctx context.Context, venueID types.ID, item model.MenuItem) (err error) {
	defer func(start time.Time) { r.observe("add_menu_item", start, err) }(time.Now())

	if err := validName("item name", item.Name); err != nil {
		return err
	}
	if err := validAmount("price", item.Price); err != nil {
		return err
	}
	v, err := r.venue(venueID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.Menu = append(v.Menu, item)
	v.mu.Unlock()
	return nil
}

// Menu returns a copy of the venue's menu in insertion order.
func (r *Registry) Menu(ctx context.Context, venueID types.ID) ([]model.MenuItem, error) {
	v, err := r.venue(venueID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.MenuItem{}, v.Menu...), nil
}

// ListVenues returns every venue in registration order.
func (r *Registry) ListVenues(ctx context.Context) []types.VenueSummary {
	r.mu.RLock()
	entries := make([]*venueEntry, len(r.venueOrder))
	for i, id := range r.venueOrder {
		entries[i] = r.venues[id]
	}
	r.mu.RUnlock()

	out := make([]types.VenueSummary, len(entries))
	for i, v := range entries {
		v.mu.Lock()
		menuSize, completed := len(v.Menu), v.CompletedOrders
		v.mu.Unlock()
		snap := v.ratings.Snapshot()
		out[i] = types.VenueSummary{
			ID:              v.ID,
			Name:            v.Name,
			Location:        v.Location,
			At:              v.At,
			MenuSize:        menuSize,
			CompletedOrders: completed,
			RatingCount:     snap.Count,
			AverageRating:   snap.Average,
		}
	}
	return out
}

// Counts returns a census of the registry.
func (r *Registry) Counts(ctx context.Context) types.Counts {
	r.mu.RLock()
	c := types.Counts{
		Requesters: len(r.requesters),
		Fulfillers: len(r.fulfillers),
		Venues:     len(r.venues),
		Requests:   len(r.requestOrder),
	}
	reqs := append([]*requestEntry(nil), r.requestOrder...)
	r.mu.RUnlock()

	for _, e := range reqs {
		e.mu.Lock()
		switch e.Status {
		case model.StatusPending:
			c.Pending++
		case model.StatusAccepted:
			c.Accepted++
		case model.StatusCompleted:
			c.Completed++
		}
		e.mu.Unlock()
	}
	c.HeatmapKeys = r.heat.Len(ctx)
	c.HeatmapTotal = r.heat.Total(ctx)
	return c
}
