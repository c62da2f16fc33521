package geometry

import (
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

// kmDegrees is the angular size of 1 km on the sphere, in degrees.
var kmDegrees = 1000 / EarthRadius * 180 / math.Pi

func square(lng, lat, size float64) orb.Ring {
	return orb.Ring{
		{lng, lat},
		{lng + size, lat},
		{lng + size, lat + size},
		{lng, lat + size},
	}
}

func within(got, want, tolerance float64) bool {
	return math.Abs(got-want) <= math.Abs(want)*tolerance
}

func TestGeodesicAreaOneKilometerSquareAtEquator(t *testing.T) {
	area := GeodesicArea(square(0, 0, kmDegrees))
	if !within(area, 1e6, 0.01) {
		t.Fatalf("expected ~1e6 m², got %f", area)
	}
	if ha := Hectares(area); !within(ha, 100, 0.01) {
		t.Fatalf("expected ~100 ha, got %f", ha)
	}
}

func TestGeodesicAreaSmallRectangleMatchesPlanar(t *testing.T) {
	cases := []struct {
		name     string
		lng, lat float64
	}{
		{"equator", 10, 0},
		{"chicago", -87.63, 41.88},
		{"southern", 151.2, -33.86},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const size = 0.001
			ring := orb.Ring{{tc.lng, tc.lat}, {tc.lng + size, tc.lat}, {tc.lng + size, tc.lat + size/2}, {tc.lng, tc.lat + size/2}}
			midLat := (tc.lat + size/4) * math.Pi / 180
			width := EarthRadius * math.Cos(midLat) * size * math.Pi / 180
			height := EarthRadius * (size / 2) * math.Pi / 180
			planar := width * height
			if got := GeodesicArea(ring); !within(got, planar, 0.001) {
				t.Fatalf("expected ~%f m², got %f", planar, got)
			}
		})
	}
}

func TestGeodesicAreaIgnoresClosureAndOrientation(t *testing.T) {
	open := square(5, 5, 0.01)
	closed := append(orb.Ring{}, open...)
	closed = append(closed, open[0])
	reversed := orb.Ring{open[3], open[2], open[1], open[0]}

	a, b, c := GeodesicArea(open), GeodesicArea(closed), GeodesicArea(reversed)
	if a != b {
		t.Fatalf("closing the ring changed area: %f vs %f", a, b)
	}
	if !within(c, a, 1e-12) {
		t.Fatalf("orientation changed area: %f vs %f", a, c)
	}
}

func TestGeodesicAreaDegenerate(t *testing.T) {
	cases := map[string]orb.Ring{
		"empty":     nil,
		"one point": {{1, 1}},
		"two point": {{1, 1}, {2, 2}},
	}
	for name, ring := range cases {
		if got := GeodesicArea(ring); got != 0 {
			t.Fatalf("%s: expected 0, got %f", name, got)
		}
	}
}

func TestRoundHectares(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{78.414, 78.41},
		{78.415001, 78.42},
		{0, 0},
		{99.999, 100},
	}
	for _, c := range cases {
		if got := RoundHectares(c.in); got != c.want {
			t.Fatalf("RoundHectares(%v)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestMeasureDegenerateIsEmpty(t *testing.T) {
	cases := map[string]orb.Ring{
		"empty":              nil,
		"two points":         {{0, 0}, {1, 1}},
		"repeated points":    {{0, 0}, {1, 1}, {0, 0}, {1, 1}},
		"non-finite":         {{0, 0}, {math.NaN(), 1}, {1, 1}},
		"infinite longitude": {{0, 0}, {math.Inf(1), 1}, {1, 1}},
	}
	for name, ring := range cases {
		b := Measure(ring)
		if _, ok := b.(Empty); !ok {
			t.Fatalf("%s: expected Empty, got %T", name, b)
		}
		if b.Hectares() != 0 || b.Payload() != "" {
			t.Fatalf("%s: expected zero area and empty payload", name)
		}
	}
}

func TestMeasureClosesRingWithoutMutatingInput(t *testing.T) {
	ring := square(0, 0, 0.01)
	b := Measure(ring)
	poly, ok := b.(Polygon)
	if !ok {
		t.Fatalf("expected Polygon, got %T", b)
	}
	if len(ring) != 4 {
		t.Fatalf("input ring mutated: %v", ring)
	}
	if !poly.Ring.Closed() || len(poly.Ring) != 5 {
		t.Fatalf("expected closed ring of 5 points, got %v", poly.Ring)
	}
	if poly.SquareMeters != GeodesicArea(ring) {
		t.Fatalf("expected area %f, got %f", GeodesicArea(ring), poly.SquareMeters)
	}
}

func TestEncode(t *testing.T) {
	ha, payload := Encode(square(0, 0, kmDegrees))
	if !within(ha, 100, 0.01) {
		t.Fatalf("expected ~100 ha, got %f", ha)
	}
	if !strings.HasPrefix(payload, `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],`) {
		t.Fatalf("unexpected payload layout: %s", payload)
	}

	ha, payload = Encode(orb.Ring{{0, 0}, {1, 1}})
	if ha != 0 || payload != "" {
		t.Fatalf("expected degenerate encode to yield (0, \"\"), got (%f, %q)", ha, payload)
	}
}
