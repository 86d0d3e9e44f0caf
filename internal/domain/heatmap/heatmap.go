// Package heatmap defines the frequency counter over completed routes and items.
package heatmap

import (
	"context"
	"errors"
)

// Sentinel kinds for heatmap errors.
var (
	ErrInvalidLimit = errors.New("invalid heatmap limit")
)

// Entry is one ranked heatmap row.
type Entry struct {
	Rank  int
	Key   string
	Count int64
}

// Store counts key occurrences and ranks them.
type Store interface {
	// Increment creates key at zero if absent, adds one and returns the new count.
	Increment(ctx context.Context, key string) (int64, error)
	// Count returns the count for key and whether it exists.
	Count(ctx context.Context, key string) (int64, bool)
	// TopN returns at most n entries by count desc, ties by first insertion.
	// n == 0 yields an empty result; negative n is ErrInvalidLimit.
	TopN(ctx context.Context, n int) ([]Entry, error)
	// Len returns the number of distinct keys.
	Len(ctx context.Context) int
	// Total returns the sum of all counts.
	Total(ctx context.Context) int64
}

// CanonicalKey joins two route endpoints so that both directions share a key.
// The lexicographically smaller endpoint comes first.
func CanonicalKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// ItemKey is the literal venue-item key. Items have no direction so the
// order is kept as given.
func ItemKey(venue, item string) string {
	return venue + "-" + item
}
