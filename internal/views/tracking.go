package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/eta"
	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/mapview"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/progress"
	"github.com/example/delivery-tracking/internal/tracking"
)

// TrackingBackend is what the client tracking page needs from the backend.
type TrackingBackend interface {
	OrderByCode(ctx context.Context, code string) (models.Order, error)
	CancelByCode(ctx context.Context, code string) (models.Order, error)
	tracking.PositionFetcher
}

type SearchState string

const (
	StateIdle     SearchState = "idle"
	StateLoading  SearchState = "loading"
	StateFound    SearchState = "found"
	StateNotFound SearchState = "not_found"
	StateError    SearchState = "error"
)

type TrackingDeps struct {
	Backend     TrackingBackend
	Bus         *events.Bus
	Directions  eta.Directions
	Restaurant  models.GeoPoint
	SpeedKmh    float64
	RejectStale bool
	Log         *slog.Logger
}

// TrackingSnapshot is everything the tracking page renders.
type TrackingSnapshot struct {
	State       SearchState            `json:"state"`
	Code        string                 `json:"code,omitempty"`
	Order       *models.Order          `json:"order,omitempty"`
	Steps       []progress.Step        `json:"steps,omitempty"`
	ActiveStage int                    `json:"activeStage"`
	Driver      *models.DriverPosition `json:"driver,omitempty"`
	Eta         *eta.Result            `json:"eta,omitempty"`
	Distance    string                 `json:"distance,omitempty"`
	Address     *AddressInfo           `json:"address,omitempty"`
	Notices     []Notice               `json:"notices,omitempty"`
}

type AddressInfo struct {
	Text        string            `json:"text"`
	Confidence  models.Confidence `json:"confidence"`
	Icon        string            `json:"icon"`
	Label       string            `json:"label"`
	ErrorMargin string            `json:"errorMargin,omitempty"`
}

func addressInfo(d *models.Delivery) *AddressInfo {
	if d == nil {
		return nil
	}
	return &AddressInfo{
		Text:        d.Address,
		Confidence:  d.GeocodeConfidence,
		Icon:        geo.ConfidenceIcon(d.GeocodeConfidence),
		Label:       geo.ConfidenceLabel(d.GeocodeConfidence),
		ErrorMargin: geo.ErrorMargin(d.GeocodeConfidence),
	}
}

// TrackingView is the client order tracking page. One view tracks one
// order at a time; a new Search or Close releases everything the previous
// search acquired.
type TrackingView struct {
	deps    TrackingDeps
	log     *slog.Logger
	notices *Notices

	mu        sync.Mutex
	epoch     uint64
	state     SearchState
	code      string
	order     *models.Order
	sub       *tracking.Subscription
	rec       *eta.Reconciler
	surface   *mapview.Surface
	unsubs    []func()
	cancel    context.CancelFunc
	observers []func(TrackingSnapshot)
}

func NewTrackingView(deps TrackingDeps) *TrackingView {
	if deps.SpeedKmh <= 0 {
		deps.SpeedKmh = eta.DefaultSpeedKmh
	}
	return &TrackingView{
		deps:    deps,
		log:     logging.Component(deps.Log, "tracking_view"),
		notices: NewNotices(5, 0),
		state:   StateIdle,
	}
}

// Search looks an order up by tracking code and, when found, starts
// following it. It returns once the first snapshot is complete.
func (v *TrackingView) Search(ctx context.Context, code string) TrackingSnapshot {
	code = strings.ToUpper(strings.TrimSpace(code))
	v.mu.Lock()
	v.releaseLocked()
	v.epoch++
	epoch := v.epoch
	v.state = StateLoading
	v.code = code
	v.mu.Unlock()
	v.emit()

	order, err := v.deps.Backend.OrderByCode(ctx, code)

	v.mu.Lock()
	if epoch != v.epoch {
		v.mu.Unlock()
		return v.Snapshot()
	}
	switch {
	case errors.Is(err, backend.ErrNotFound):
		v.state = StateNotFound
	case err != nil:
		v.log.Error("order lookup failed", "code", code, "error", err)
		v.state = StateError
	default:
		v.state = StateFound
		v.order = &order
	}
	if v.state != StateFound {
		v.mu.Unlock()
		v.emit()
		return v.Snapshot()
	}
	live, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.surface = mapview.NewSurface(fmt.Sprintf("order-%d", order.ID))
	_ = v.surface.SetMarker(mapview.Marker{ID: "restaurant", Kind: mapview.MarkerRestaurant, Point: v.deps.Restaurant})
	v.unsubs = append(v.unsubs,
		events.SubscribeOrderStatus(v.deps.Bus, func(e events.OrderStatusEvent) { v.onOrderStatus(epoch, e) }),
		events.SubscribeDeliveryStatus(v.deps.Bus, func(e events.DeliveryStatusEvent) { v.onDeliveryStatus(epoch, e) }),
	)
	dest, hasDest := models.GeoPoint{}, false
	if order.IsDelivery() {
		dest, hasDest = order.Delivery.Destination()
	}
	var (
		sub *tracking.Subscription
		rec *eta.Reconciler
	)
	if hasDest {
		_ = v.surface.SetMarker(mapview.Marker{ID: "destination", Kind: mapview.MarkerDestination, Point: dest, Popup: order.Delivery.Address})
		rec = eta.NewReconciler(v.deps.Directions, dest, v.deps.Restaurant, eta.WithSpeedKmh(v.deps.SpeedKmh), eta.WithLogger(v.deps.Log))
		sub = tracking.NewSubscription(order.ID, v.deps.Backend, v.deps.Bus, tracking.Options{RejectStale: v.deps.RejectStale, Log: v.deps.Log})
		v.rec, v.sub = rec, sub
	}
	surface := v.surface
	v.mu.Unlock()

	if rec != nil {
		rec.OnResult(func(res eta.Result) { v.onEta(epoch, surface, res) })
		sub.Start(ctx)
		sub.OnChange(func(p models.DriverPosition, ok bool) { v.onPosition(live, epoch, surface, rec, p, ok) })
		var origin *models.GeoPoint
		if p, ok := sub.Position(); ok {
			origin = &p.GeoPoint
			_ = surface.SetDriver(p, true)
		}
		rec.Update(ctx, origin)
	}
	_, _ = surface.FitBounds()
	v.emit()
	return v.Snapshot()
}

func (v *TrackingView) current(epoch uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return epoch == v.epoch && v.state == StateFound
}

func (v *TrackingView) onPosition(ctx context.Context, epoch uint64, surface *mapview.Surface, rec *eta.Reconciler, p models.DriverPosition, ok bool) {
	if !v.current(epoch) {
		return
	}
	_ = surface.SetDriver(p, ok)
	var origin *models.GeoPoint
	if ok {
		origin = &p.GeoPoint
	}
	v.emit()
	go rec.Update(ctx, origin)
}

func (v *TrackingView) onEta(epoch uint64, surface *mapview.Surface, res eta.Result) {
	if !v.current(epoch) {
		return
	}
	var line []models.GeoPoint
	if res.Route != nil {
		line = res.Route.Geometry
	}
	_ = surface.SetRoute(line)
	_, _ = surface.FitBounds()
	v.emit()
}

func (v *TrackingView) onOrderStatus(epoch uint64, e events.OrderStatusEvent) {
	v.mu.Lock()
	if epoch != v.epoch || v.order == nil || v.order.ID != e.OrderID {
		v.mu.Unlock()
		return
	}
	o := *v.order
	o.Status = e.Status
	v.order = &o
	v.mu.Unlock()
	v.emit()
}

func (v *TrackingView) onDeliveryStatus(epoch uint64, e events.DeliveryStatusEvent) {
	v.mu.Lock()
	if epoch != v.epoch || v.order == nil || v.order.Delivery == nil || v.order.ID != e.OrderID {
		v.mu.Unlock()
		return
	}
	o := *v.order
	d := *o.Delivery
	d.Status = e.Status
	o.Delivery = &d
	v.order = &o
	sub := v.sub
	v.mu.Unlock()
	// a finished delivery has no driver to follow anymore
	if sub != nil && (e.Status == models.DeliveryDelivered || e.Status == models.DeliveryFailed) {
		sub.Clear()
	}
	v.emit()
}

// Cancel cancels the tracked order. Failure is reported as a notice and
// returned; nothing is retried.
func (v *TrackingView) Cancel(ctx context.Context) error {
	v.mu.Lock()
	code, epoch, found := v.code, v.epoch, v.state == StateFound
	v.mu.Unlock()
	if !found {
		return backend.ErrNotFound
	}
	order, err := v.deps.Backend.CancelByCode(ctx, code)
	if err != nil {
		observability.ActionFailures.WithLabelValues("cancel").Inc()
		v.log.Warn("cancel failed", "code", code, "error", err)
		v.notices.Push(LevelError, "Impossible d'annuler la commande. Veuillez réessayer.")
		v.emit()
		return err
	}
	v.mu.Lock()
	if epoch == v.epoch {
		v.order = &order
	}
	v.mu.Unlock()
	v.notices.Push(LevelInfo, "Commande annulée")
	v.emit()
	return nil
}

func (v *TrackingView) Snapshot() TrackingSnapshot {
	v.mu.Lock()
	snap := TrackingSnapshot{State: v.state, Code: v.code, ActiveStage: progress.NoStage}
	order, sub, rec := v.order, v.sub, v.rec
	v.mu.Unlock()

	snap.Notices = v.notices.List()
	if order == nil {
		return snap
	}
	o := *order
	snap.Order = &o
	snap.Steps = progress.Steps(o)
	var ds *models.DeliveryStatus
	if o.Delivery != nil {
		s := o.Delivery.Status
		ds = &s
		snap.Address = addressInfo(o.Delivery)
	}
	snap.ActiveStage = progress.ActiveStage(o.Status, ds)
	if sub != nil {
		if p, ok := sub.Position(); ok {
			snap.Driver = &p
		}
	}
	if rec != nil {
		if res, ok := rec.Latest(); ok {
			snap.Eta = &res
			snap.Distance = geo.FormatDistance(res.Eta.DistanceKm)
		}
	}
	return snap
}

// Map returns the current map content, or mapview.ErrClosed when nothing
// is being tracked.
func (v *TrackingView) Map() (mapview.FeatureCollection, error) {
	v.mu.Lock()
	s := v.surface
	v.mu.Unlock()
	if s == nil {
		return mapview.FeatureCollection{}, mapview.ErrClosed
	}
	return s.GeoJSON()
}

// OnUpdate registers an observer called with a fresh snapshot after every
// change.
func (v *TrackingView) OnUpdate(fn func(TrackingSnapshot)) {
	v.mu.Lock()
	v.observers = append(v.observers, fn)
	v.mu.Unlock()
}

func (v *TrackingView) emit() {
	v.mu.Lock()
	obs := append([]func(TrackingSnapshot){}, v.observers...)
	v.mu.Unlock()
	if len(obs) == 0 {
		return
	}
	snap := v.Snapshot()
	for _, o := range obs {
		o(snap)
	}
}

func (v *TrackingView) releaseLocked() {
	for _, u := range v.unsubs {
		u()
	}
	v.unsubs = nil
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if v.sub != nil {
		v.sub.Close()
		v.sub = nil
	}
	v.rec = nil
	if v.surface != nil {
		v.surface.Close()
		v.surface = nil
	}
	v.order = nil
}

// Close releases the subscription, the map surface and event handlers.
func (v *TrackingView) Close() {
	v.mu.Lock()
	v.releaseLocked()
	v.epoch++
	v.state = StateIdle
	v.observers = nil
	v.mu.Unlock()
}
