// Package geo computes the geographic extent covered by transit agencies.
package geo

import (
	"math"

	"github.com/Sternrassler/transit-proxy/pkg/oba"
)

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// IsZero reports whether b is the empty box.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Center returns the midpoint of the box.
func (b Bounds) Center() (lat, lon float64) {
	return (b.North + b.South) / 2, (b.East + b.West) / 2
}

// Contains reports whether the point lies inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// ComputeBounds returns the smallest box enclosing every agency's coverage
// rectangle (center ± span/2). An empty list yields the zero Bounds.
func ComputeBounds(agencies []oba.Agency) Bounds {
	if len(agencies) == 0 {
		return Bounds{}
	}

	b := Bounds{
		North: math.Inf(-1),
		South: math.Inf(1),
		East:  math.Inf(-1),
		West:  math.Inf(1),
	}

	for _, a := range agencies {
		halfLat := math.Abs(a.LatSpan) / 2
		halfLon := math.Abs(a.LonSpan) / 2

		b.North = math.Max(b.North, a.Lat+halfLat)
		b.South = math.Min(b.South, a.Lat-halfLat)
		b.East = math.Max(b.East, a.Lon+halfLon)
		b.West = math.Min(b.West, a.Lon-halfLon)
	}

	return b
}
