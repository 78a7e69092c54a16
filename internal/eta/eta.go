package eta

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// DefaultSpeedKmh is the average urban speed assumed by the straight-line
// estimate.
const DefaultSpeedKmh = 25.0

// Directions is the routing collaborator the reconciler asks first.
type Directions interface {
	Directions(ctx context.Context, from, to models.GeoPoint) (models.Route, error)
}

// Result is one ETA computation. Route is nil for a straight-line
// estimate, meaning there is no line to draw.
type Result struct {
	Origin      models.GeoPoint    `json:"origin"`
	Destination models.GeoPoint    `json:"destination"`
	Eta         models.DeliveryEta `json:"eta"`
	Route       *models.Route      `json:"route,omitempty"`
	ComputedAt  time.Time          `json:"computedAt"`
}

// FromRoute converts a directions answer: meters to km, seconds to whole
// minutes rounded to nearest.
func FromRoute(r models.Route) models.DeliveryEta {
	return models.DeliveryEta{
		DistanceKm: r.DistanceM / 1000,
		EtaMinutes: int(math.Round(r.DurationS / 60)),
		Source:     models.EtaFromRoute,
	}
}

// FallbackEstimate is the straight-line estimate used when no route is
// available.
func FallbackEstimate(from, to models.GeoPoint, speedKmh float64) models.DeliveryEta {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	d := geo.DistanceKm(from, to)
	return models.DeliveryEta{
		DistanceKm: d,
		EtaMinutes: int(math.Round(d / speedKmh * 60)),
		Source:     models.EtaFromStraightLine,
	}
}

type Option func(*Reconciler)

func WithSpeedKmh(v float64) Option {
	return func(r *Reconciler) {
		if v > 0 {
			r.speedKmh = v
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.log = logging.Component(l, "eta") } }

// Reconciler recomputes the distance and ETA to a fixed destination each
// time the origin changes. The newest call wins: a result from an older
// call that completes later is dropped. Nothing is cached.
type Reconciler struct {
	directions  Directions
	destination models.GeoPoint
	reference   models.GeoPoint
	speedKmh    float64
	log         *slog.Logger

	mu        sync.Mutex
	seq       uint64
	latest    *Result
	observers []func(Result)
}

// NewReconciler builds a reconciler. reference is the origin used when no
// driver position is known, typically the restaurant. directions may be nil,
// in which case every estimate is straight-line.
func NewReconciler(directions Directions, destination, reference models.GeoPoint, opts ...Option) *Reconciler {
	r := &Reconciler{
		directions:  directions,
		destination: destination,
		reference:   reference,
		speedKmh:    DefaultSpeedKmh,
		log:         logging.Component(nil, "eta"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Update computes a fresh result for origin (nil means the reference point).
// ok is false when a newer Update started before this one finished; the
// returned result is then not stored.
func (r *Reconciler) Update(ctx context.Context, origin *models.GeoPoint) (Result, bool) {
	from := r.reference
	if origin != nil {
		from = *origin
	}
	r.mu.Lock()
	r.seq++
	seq := r.seq
	to := r.destination
	r.mu.Unlock()

	res := Result{Origin: from, Destination: to, ComputedAt: time.Now()}
	if route, err := r.lookup(ctx, from, to); err == nil {
		res.Eta = FromRoute(route)
		res.Route = &route
		observability.RouteLookups.WithLabelValues(string(models.EtaFromRoute)).Inc()
	} else {
		if r.directions != nil {
			r.log.Debug("directions unavailable, using straight line", "error", err)
		}
		res.Eta = FallbackEstimate(from, to, r.speedKmh)
		observability.RouteLookups.WithLabelValues(string(models.EtaFromStraightLine)).Inc()
	}

	r.mu.Lock()
	if seq != r.seq {
		r.mu.Unlock()
		return res, false
	}
	r.latest = &res
	obs := append([]func(Result){}, r.observers...)
	r.mu.Unlock()
	for _, o := range obs {
		o(res)
	}
	return res, true
}

var errNoDirections = errors.New("no directions client")

func (r *Reconciler) lookup(ctx context.Context, from, to models.GeoPoint) (models.Route, error) {
	if r.directions == nil {
		return models.Route{}, errNoDirections
	}
	start := time.Now()
	route, err := r.directions.Directions(ctx, from, to)
	observability.RouteLatency.Observe(time.Since(start).Seconds())
	return route, err
}

// SetDestination changes the target; the next Update uses it.
func (r *Reconciler) SetDestination(p models.GeoPoint) {
	r.mu.Lock()
	r.destination = p
	r.mu.Unlock()
}

func (r *Reconciler) Latest() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Result{}, false
	}
	return *r.latest, true
}

func (r *Reconciler) OnResult(fn func(Result)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}
