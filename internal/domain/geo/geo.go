// Package geo holds the planar geometry used by proximity matching.
package geo

import (
	"cmp"
	"math"
	"slices"
)

// Coordinates is a point on the 2-D dispatch plane.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Coordinates) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Within returns the items whose distance from origin is at most maxDistance,
// preserving input order. The boundary is inclusive. A linear scan is
// enough for the candidate sets we see; there is no spatial index.
func Within[T any](origin Coordinates, items []T, maxDistance float64, at func(T) Coordinates) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if Distance(origin, at(it)) <= maxDistance {
			out = append(out, it)
		}
	}
	return out
}

// SortByDistance orders items by ascending distance in place. Equal
// distances keep their input order.
func SortByDistance[T any](items []T, dist func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(dist(a), dist(b))
	})
}
