package service

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNotPolygon is returned when GeoJSON carries no polygon.
var ErrNotPolygon = errors.New("geojson does not contain a polygon")

// ParsePolygonRing extracts the outer ring of the first polygon in a GeoJSON
// geometry, feature or feature collection. Holes and further polygons are
// ignored; the backend only takes one outline.
func ParsePolygonRing(data []byte) (orb.Ring, error) {
	var g orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		for _, f := range fc.Features {
			if ring, ok := outerRing(f.Geometry); ok {
				return ring, nil
			}
		}
		return nil, ErrNotPolygon
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Type == "Feature" {
		g = f.Geometry
	} else {
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parsing geojson: %w", err)
		}
		g = geom.Geometry()
	}
	ring, ok := outerRing(g)
	if !ok {
		return nil, ErrNotPolygon
	}
	return ring, nil
}

func outerRing(g orb.Geometry) (orb.Ring, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 {
			return v[0], true
		}
	case orb.MultiPolygon:
		if len(v) > 0 && len(v[0]) > 0 {
			return v[0][0], true
		}
	case orb.Ring:
		return v, true
	}
	return nil, false
}

// RingGeoJSON encodes a ring as a GeoJSON polygon geometry.
func RingGeoJSON(ring orb.Ring) ([]byte, error) {
	return geojson.NewGeometry(orb.Polygon{ring}).MarshalJSON()
}
