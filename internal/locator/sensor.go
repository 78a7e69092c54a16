package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// Sample is one device position reading.
type Sample struct {
	models.GeoPoint
	Accuracy  float64
	Timestamp time.Time
}

// Sensor is the device geolocation capability. Only one-shot reads are
// used; there is no continuous watch mode.
type Sensor interface {
	CurrentPosition(ctx context.Context, opts Options) (Sample, error)
}

type ErrorCode int

const (
	PermissionDenied ErrorCode = iota + 1
	PositionUnavailable
	Timeout
)

type SensorError struct {
	Code ErrorCode
	Err  error
}

func (e *SensorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensor error %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("sensor error %d", e.Code)
}

func (e *SensorError) Unwrap() error { return e.Err }

// Message returns the text shown to the driver for a sensor failure.
func Message(err error) string {
	var se *SensorError
	if !errors.As(err, &se) {
		if errors.Is(err, context.DeadlineExceeded) {
			return Message(&SensorError{Code: Timeout})
		}
		return "Erreur de géolocalisation"
	}
	switch se.Code {
	case PermissionDenied:
		return "Permission de géolocalisation refusée"
	case PositionUnavailable:
		return "Position indisponible"
	case Timeout:
		return "Délai de géolocalisation dépassé"
	default:
		return "Erreur de géolocalisation"
	}
}

// StaticSensor always reports the same point.
type StaticSensor struct {
	Point models.GeoPoint
}

func (s StaticSensor) CurrentPosition(ctx context.Context, _ Options) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{GeoPoint: s.Point, Timestamp: time.Now()}, nil
}

// TrackSensor replays a recorded track, one point per read. Once the track
// is exhausted it keeps reporting the last point.
type TrackSensor struct {
	mu     sync.Mutex
	points []models.GeoPoint
	next   int
}

func NewTrackSensor(points []models.GeoPoint) *TrackSensor {
	return &TrackSensor{points: points}
}

func (t *TrackSensor) CurrentPosition(ctx context.Context, _ Options) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == 0 {
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: errors.New("empty track")}
	}
	p := t.points[t.next]
	if t.next < len(t.points)-1 {
		t.next++
	}
	return Sample{GeoPoint: p, Accuracy: 5, Timestamp: time.Now()}, nil
}

// HTTPSensor reads the position from a device gateway answering
// {"lat":..,"lng":..,"accuracy":..}.
type HTTPSensor struct {
	URL    string
	Client *http.Client
}

func (h *HTTPSensor) CurrentPosition(ctx context.Context, opts Options) (Sample, error) {
	u := h.URL
	if opts.HighAccuracy {
		u += "?accuracy=high"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return Sample{}, err
	}
	hc := h.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Sample{}, &SensorError{Code: Timeout, Err: err}
		}
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Sample{}, &SensorError{Code: PermissionDenied}
	case resp.StatusCode != http.StatusOK:
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: fmt.Errorf("gateway status %d", resp.StatusCode)}
	}
	var out struct {
		Lat      *float64 `json:"lat"`
		Lng      *float64 `json:"lng"`
		Accuracy float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: err}
	}
	if out.Lat == nil || out.Lng == nil {
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: errors.New("no fix")}
	}
	p := models.GeoPoint{Lat: *out.Lat, Lng: *out.Lng}
	if !p.Valid() {
		return Sample{}, &SensorError{Code: PositionUnavailable, Err: fmt.Errorf("invalid fix %v", p)}
	}
	return Sample{GeoPoint: p, Accuracy: out.Accuracy, Timestamp: time.Now()}, nil
}
