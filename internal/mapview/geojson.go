package mapview

import "github.com/example/delivery-tracking/internal/geo"

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	Bounds   *geo.Box  `json:"bounds,omitempty"`
}

type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// Geometry coordinates are []float64 for a Point and [][]float64 for a
// LineString, both in [lng, lat] order.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type Properties struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Popup string `json:"popup,omitempty"`
}
