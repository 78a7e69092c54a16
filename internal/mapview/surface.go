package mapview

import (
	"errors"
	"sort"
	"sync"

	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/models"
)

var ErrClosed = errors.New("map surface closed")

type MarkerKind string

const (
	MarkerRestaurant  MarkerKind = "restaurant"
	MarkerDestination MarkerKind = "destination"
	MarkerDriver      MarkerKind = "driver"
)

type Marker struct {
	ID    string          `json:"id"`
	Kind  MarkerKind      `json:"kind"`
	Point models.GeoPoint `json:"point"`
	Popup string          `json:"popup,omitempty"`
}

const driverMarkerID = "driver"

// Surface is one map owned by one view. It holds static markers, a driver
// marker and a single route line that is replaced wholesale. After Close
// every mutation fails with ErrClosed.
type Surface struct {
	id string

	mu      sync.RWMutex
	closed  bool
	markers map[string]Marker
	route   []models.GeoPoint
	bounds  *geo.Box
}

func NewSurface(id string) *Surface {
	return &Surface{id: id, markers: make(map[string]Marker)}
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) SetMarker(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.markers[m.ID] = m
	return nil
}

// SetDriver places or moves the driver marker; ok=false removes it.
func (s *Surface) SetDriver(p models.DriverPosition, ok bool) error {
	if !ok {
		return s.RemoveMarker(driverMarkerID)
	}
	return s.SetMarker(Marker{ID: driverMarkerID, Kind: MarkerDriver, Point: p.GeoPoint, Popup: p.DriverName})
}

func (s *Surface) RemoveMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.markers, id)
	return nil
}

// SetRoute replaces the route line. An empty geometry means no route is
// drawn, which is not an error.
func (s *Surface) SetRoute(line []models.GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(line) == 0 {
		s.route = nil
		return nil
	}
	s.route = append([]models.GeoPoint(nil), line...)
	return nil
}

// FitBounds frames every marker and the route.
func (s *Surface) FitBounds() (geo.Box, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return geo.Box{}, ErrClosed
	}
	pts := make([]models.GeoPoint, 0, len(s.markers)+len(s.route))
	for _, m := range s.markers {
		pts = append(pts, m.Point)
	}
	pts = append(pts, s.route...)
	b, ok := geo.Bounds(pts...)
	if !ok {
		s.bounds = nil
		return geo.Box{}, nil
	}
	s.bounds = &b
	return b, nil
}

// Close releases the surface. It is safe to call more than once.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.markers = nil
	s.route = nil
	s.bounds = nil
}

func (s *Surface) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// GeoJSON snapshots the surface for the browser renderer.
func (s *Surface) GeoJSON() (FeatureCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return FeatureCollection{}, ErrClosed
	}
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	ids := make([]string, 0, len(s.markers))
	for id := range s.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := s.markers[id]
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   Geometry{Type: "Point", Coordinates: []float64{m.Point.Lng, m.Point.Lat}},
			Properties: Properties{ID: m.ID, Kind: string(m.Kind), Popup: m.Popup},
		})
	}
	if len(s.route) > 0 {
		line := make([][]float64, 0, len(s.route))
		for _, p := range s.route {
			line = append(line, []float64{p.Lng, p.Lat})
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   Geometry{Type: "LineString", Coordinates: line},
			Properties: Properties{ID: "route", Kind: "route"},
		})
	}
	fc.Bounds = s.bounds
	return fc, nil
}
