package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedGeometry is returned when a GeoJSON document holds no polygon.
var ErrUnsupportedGeometry = errors.New("geometry: unsupported geojson geometry")

// Decode parses a stored payload back into a Boundary. An empty payload
// decodes to Empty.
func Decode(payload string) (Boundary, error) {
	if len(bytes.TrimSpace([]byte(payload))) == 0 {
		return Empty{}, nil
	}
	ring, err := parseRing([]byte(payload))
	if err != nil {
		return nil, err
	}
	return Measure(ring), nil
}

// ReadRing reads a drawn outline from r. Accepted documents are a GeoJSON
// Feature or FeatureCollection (first polygon feature), a bare GeoJSON
// geometry, or a bare [[lng,lat],...] coordinate array.
func ReadRing(r io.Reader) (orb.Ring, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("geometry: read ring: %w", err)
	}
	return parseRing(data)
}

// feature fixes the stored key order and writes empty properties as {}.
type feature struct {
	Type       string            `json:"type"`
	Properties map[string]any    `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

func encodeFeature(ring orb.Ring) string {
	data, err := json.Marshal(feature{
		Type:       "Feature",
		Properties: map[string]any{},
		Geometry:   geojson.NewGeometry(orb.Polygon{ring}),
	})
	if err != nil {
		return ""
	}
	return string(data)
}

func parseRing(data []byte) (orb.Ring, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("geometry: empty document")
	}
	if data[0] == '[' {
		return parseCoordinates(data)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("geometry: decode geojson: %w", err)
	}
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("geometry: decode feature: %w", err)
		}
		return outerRing(f.Geometry)
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("geometry: decode feature collection: %w", err)
		}
		for _, f := range fc.Features {
			if ring, err := outerRing(f.Geometry); err == nil {
				return ring, nil
			}
		}
		return nil, ErrUnsupportedGeometry
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("geometry: decode geometry: %w", err)
		}
		return outerRing(g.Geometry())
	}
}

func parseCoordinates(data []byte) (orb.Ring, error) {
	var ring orb.Ring
	if err := json.Unmarshal(data, &ring); err == nil {
		return ring, nil
	}
	var poly orb.Polygon
	if err := json.Unmarshal(data, &poly); err != nil {
		return nil, fmt.Errorf("geometry: decode coordinates: %w", err)
	}
	if len(poly) == 0 {
		return nil, ErrUnsupportedGeometry
	}
	return poly[0], nil
}

func outerRing(g orb.Geometry) (orb.Ring, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return nil, ErrUnsupportedGeometry
		}
		return v[0], nil
	case orb.Ring:
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, ErrUnsupportedGeometry
		}
		return v[0][0], nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
}
