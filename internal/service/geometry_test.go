package service

import (
	"errors"
	"testing"
)

func TestParsePolygonRing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		err  error
	}{
		{"geometry", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, 4, nil},
		{"feature", `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`, 5, nil},
		{"collection", `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[3,3]}},
			{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,0]]]}}]}`, 4, nil},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]]]}`, 4, nil},
		{"point", `{"type":"Point","coordinates":[1,2]}`, 0, ErrNotPolygon},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`, 0, ErrNotPolygon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring, err := ParsePolygonRing([]byte(tt.in))
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if len(ring) != tt.n {
				t.Errorf("ring = %v", ring)
			}
		})
	}

	if _, err := ParsePolygonRing([]byte(`{"type":`)); err == nil {
		t.Error("expected error for broken json")
	}
}

func TestRingGeoJSONRoundTrip(t *testing.T) {
	data, err := RingGeoJSON(box(0.5))
	if err != nil {
		t.Fatal(err)
	}
	ring, err := ParsePolygonRing(data)
	if err != nil || len(ring) != 5 || ring[2][0] != 0.5 {
		t.Errorf("ring = %v, %v", ring, err)
	}
}
