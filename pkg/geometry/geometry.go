// Package geometry measures user-drawn field boundaries on the sphere and
// converts them to and from the portable GeoJSON payload stored with a plot.
//
// Coordinates follow the GeoJSON convention used by orb: X is longitude and
// Y is latitude, both in degrees.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// EarthRadius is the spherical radius in meters used for area computation.
const EarthRadius = orb.EarthRadius

const squareMetersPerHectare = 10000.0

// Boundary is the result of measuring a ring: either a Polygon or Empty.
type Boundary interface {
	// Hectares returns the unrounded area in hectares.
	Hectares() float64
	// Payload returns the serialized GeoJSON Feature, or "" for Empty.
	Payload() string
	isBoundary()
}

// Polygon is a measurable boundary with at least three distinct vertices.
// Ring is always closed.
type Polygon struct {
	Ring         orb.Ring
	SquareMeters float64
}

// Hectares implements Boundary.
func (p Polygon) Hectares() float64 { return Hectares(p.SquareMeters) }

// Payload implements Boundary.
func (p Polygon) Payload() string { return encodeFeature(p.Ring) }

func (Polygon) isBoundary() {}

// Empty is the boundary of a degenerate or missing drawing.
type Empty struct{}

// Hectares implements Boundary.
func (Empty) Hectares() float64 { return 0 }

// Payload implements Boundary.
func (Empty) Payload() string { return "" }

func (Empty) isBoundary() {}

// GeodesicArea returns the area enclosed by ring in square meters using the
// spherical excess approximation
//
//	A = |R²/2 · Σ (λ₂ − λ₁)(2 + sin φ₁ + sin φ₂)|
//
// as implemented by orb/geo. The ring is treated as closed whether or not its
// last point repeats the first. Rings with fewer than three points have zero
// area.
func GeodesicArea(ring orb.Ring) float64 {
	if len(ring) < 3 {
		return 0
	}
	return math.Abs(geo.Area(ring))
}

// Hectares converts square meters to hectares.
func Hectares(squareMeters float64) float64 {
	return squareMeters / squareMetersPerHectare
}

// RoundHectares rounds to two decimals, the precision plots are persisted at.
func RoundHectares(hectares float64) float64 {
	return math.Round(hectares*100) / 100
}

// Measure classifies ring and computes its area. Rings with fewer than three
// distinct vertices, or with non-finite coordinates, yield Empty.
// Self-intersection is not detected.
func Measure(ring orb.Ring) Boundary {
	if !finite(ring) || distinctVertices(ring) < 3 {
		return Empty{}
	}
	closed := closeRing(ring)
	return Polygon{Ring: closed, SquareMeters: GeodesicArea(closed)}
}

// Encode measures ring and returns its area in hectares together with the
// payload to store alongside the plot.
func Encode(ring orb.Ring) (float64, string) {
	b := Measure(ring)
	return b.Hectares(), b.Payload()
}

func finite(ring orb.Ring) bool {
	for _, p := range ring {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func distinctVertices(ring orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func closeRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, len(ring), len(ring)+1)
	copy(out, ring)
	if !out.Closed() {
		out = append(out, out[0])
	}
	return out
}
