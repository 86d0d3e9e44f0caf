// Package types contains the identifiers and read-only projections shared
// across the application.
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/dispatch/internal/domain/geo"
)

// ID identifies any registered entity or request.
type ID string

// NewID returns a fresh random ID.
func NewID() ID { return ID(uuid.NewString()) }

// Item is a priced line, used both for menus and for ordered items.
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Candidate is one proximity match.
type Candidate struct {
	ID           ID              `json:"id"`
	Name         string          `json:"name"`
	At           geo.Coordinates `json:"at"`
	Distance     float64         `json:"distance"`
	Availability string          `json:"availability,omitempty"`
}

// PendingRequest is what a fulfiller sees when polling for work.
type PendingRequest struct {
	ID            ID        `json:"id"`
	Kind          string    `json:"kind"`
	RequesterID   ID        `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	Origin        string    `json:"origin,omitempty"`
	Destination   string    `json:"destination,omitempty"`
	VenueID       ID        `json:"venue_id,omitempty"`
	VenueName     string    `json:"venue_name,omitempty"`
	Items         []Item    `json:"items,omitempty"`
	Amount        float64   `json:"amount"`
	Distance      float64   `json:"distance"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryEntry is a point-in-time copy of a request as seen by its requester.
// Fulfiller name and average are captured when the history is read.
type HistoryEntry struct {
	RequestID        ID         `json:"request_id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	Origin           string     `json:"origin,omitempty"`
	Destination      string     `json:"destination,omitempty"`
	VenueName        string     `json:"venue_name,omitempty"`
	Items            []Item     `json:"items,omitempty"`
	Amount           float64    `json:"amount"`
	FulfillerID      ID         `json:"fulfiller_id,omitempty"`
	FulfillerName    string     `json:"fulfiller_name,omitempty"`
	FulfillerAverage float64    `json:"fulfiller_average"`
	Rating           *float64   `json:"rating,omitempty"`
	VenueRating      *float64   `json:"venue_rating,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// HeatmapEntry is one ranked heatmap row.
type HeatmapEntry struct {
	Rank  int    `json:"rank"`
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// FulfillerStats summarizes a fulfiller.
type FulfillerStats struct {
	ID             ID              `json:"id"`
	Name           string          `json:"name"`
	At             geo.Coordinates `json:"at"`
	Availability   string          `json:"availability"`
	CurrentRequest ID              `json:"current_request,omitempty"`
	Completed      int             `json:"completed"`
	RatingTotal    float64         `json:"rating_total"`
	RatingCount    int             `json:"rating_count"`
	AverageRating  float64         `json:"average_rating"`
}

// VenueSummary is one row of the venue listing.
type VenueSummary struct {
	ID              ID              `json:"id"`
	Name            string          `json:"name"`
	Location        string          `json:"location"`
	At              geo.Coordinates `json:"at"`
	MenuSize        int             `json:"menu_size"`
	CompletedOrders int             `json:"completed_orders"`
	RatingCount     int             `json:"rating_count"`
	AverageRating   float64         `json:"average_rating"`
}

// Counts is a registry census.
type Counts struct {
	Requesters   int   `json:"requesters"`
	Fulfillers   int   `json:"fulfillers"`
	Venues       int   `json:"venues"`
	Requests     int   `json:"requests"`
	Pending      int   `json:"pending"`
	Accepted     int   `json:"accepted"`
	Completed    int   `json:"completed"`
	HeatmapKeys  int   `json:"heatmap_keys"`
	HeatmapTotal int64 `json:"heatmap_total"`
}
