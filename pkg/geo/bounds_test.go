package geo

import (
	"testing"

	"github.com/Sternrassler/transit-proxy/pkg/oba"
)

func TestComputeBounds(t *testing.T) {
	tests := []struct {
		name     string
		agencies []oba.Agency
		expected Bounds
	}{
		{
			name:     "no agencies",
			agencies: nil,
			expected: Bounds{},
		},
		{
			name: "single agency",
			agencies: []oba.Agency{
				{AgencyID: "1", Lat: 47.6, Lon: -122.3, LatSpan: 0.4, LonSpan: 0.6},
			},
			expected: Bounds{North: 47.8, South: 47.4, East: -122.0, West: -122.6},
		},
		{
			name: "union of two agencies",
			agencies: []oba.Agency{
				{AgencyID: "1", Lat: 10, Lon: 20, LatSpan: 2, LonSpan: 2},
				{AgencyID: "40", Lat: 12, Lon: 18, LatSpan: 4, LonSpan: 1},
			},
			expected: Bounds{North: 14, South: 9, East: 21, West: 17.5},
		},
		{
			name: "zero span agency",
			agencies: []oba.Agency{
				{AgencyID: "x", Lat: 1, Lon: 2},
			},
			expected: Bounds{North: 1, South: 1, East: 2, West: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBounds(tt.agencies)
			if !approxEqual(got, tt.expected) {
				t.Errorf("ComputeBounds() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestBounds_ContainsAndCenter(t *testing.T) {
	b := Bounds{North: 14, South: 9, East: 21, West: 17.5}

	if !b.Contains(10, 20) {
		t.Error("Expected (10,20) inside bounds")
	}
	if b.Contains(15, 20) {
		t.Error("Expected (15,20) outside bounds")
	}

	lat, lon := b.Center()
	if lat != 11.5 || lon != 19.25 {
		t.Errorf("Center() = (%v,%v), want (11.5,19.25)", lat, lon)
	}

	if b.IsZero() {
		t.Error("Non-empty bounds reported as zero")
	}
	if !(Bounds{}).IsZero() {
		t.Error("Empty bounds not reported as zero")
	}
}

func approxEqual(a, b Bounds) bool {
	const eps = 1e-9
	d := func(x, y float64) bool {
		if x > y {
			return x-y < eps
		}
		return y-x < eps
	}
	return d(a.North, b.North) && d(a.South, b.South) && d(a.East, b.East) && d(a.West, b.West)
}
