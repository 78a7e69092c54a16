package views

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/locator"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/progress"
)

var paris = models.GeoPoint{Lat: 48.8566, Lng: 2.3522}

func floatPtr(v float64) *float64 { return &v }

func deliveryOrder(id int, status models.OrderStatus, ds models.DeliveryStatus) models.Order {
	return models.Order{
		ID:     id,
		Code:   "AB12",
		Type:   models.OrderTypeDelivery,
		Status: status,
		Delivery: &models.Delivery{
			ID:                id * 10,
			OrderID:           id,
			Status:            ds,
			Address:           "10 rue de Rivoli",
			Lat:               floatPtr(48.8606),
			Lng:               floatPtr(2.3376),
			GeocodeConfidence: models.ConfidenceHigh,
		},
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	orders    map[string]models.Order
	position  *models.DriverPosition
	cancelErr error
	lookupErr error

	pending   []models.Order
	active    []models.Order
	history   []models.Order
	assignErr error
	assigned  []int
	updates   []models.DeliveryStatus
}

func (f *fakeBackend) OrderByCode(_ context.Context, code string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return models.Order{}, f.lookupErr
	}
	o, ok := f.orders[code]
	if !ok {
		return models.Order{}, backend.ErrNotFound
	}
	return o, nil
}

func (f *fakeBackend) CancelByCode(_ context.Context, code string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return models.Order{}, f.cancelErr
	}
	o := f.orders[code]
	o.Status = models.OrderCancelled
	f.orders[code] = o
	return o, nil
}

func (f *fakeBackend) DriverPosition(context.Context, int) (models.DriverPosition, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil {
		return models.DriverPosition{}, false, nil
	}
	return *f.position, true, nil
}

func (f *fakeBackend) PendingDeliveries(context.Context) ([]models.Order, error) {
	return f.pending, nil
}

func (f *fakeBackend) DriverDeliveries(_ context.Context, _ int, scope backend.Scope) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if scope == backend.ScopeHistory {
		return f.history, nil
	}
	return append([]models.Order(nil), f.active...), nil
}

func (f *fakeBackend) Assign(_ context.Context, orderID int, _ *int) (models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return models.Delivery{}, f.assignErr
	}
	f.assigned = append(f.assigned, orderID)
	return models.Delivery{OrderID: orderID, Status: models.DeliveryAssigned}, nil
}

func (f *fakeBackend) UpdateStatus(_ context.Context, deliveryID int, current, next models.DeliveryStatus) (models.Delivery, error) {
	if !models.ValidTransition(current, next) {
		return models.Delivery{}, backend.ErrInvalidTransition
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, next)
	for i, o := range f.active {
		if o.Delivery != nil && o.Delivery.ID == deliveryID {
			d := *o.Delivery
			d.Status = next
			f.active[i].Delivery = &d
		}
	}
	return models.Delivery{ID: deliveryID, Status: next}, nil
}

func newTrackingView(b *fakeBackend, bus *events.Bus) *TrackingView {
	return NewTrackingView(TrackingDeps{Backend: b, Bus: bus, Restaurant: paris, Log: logging.Discard()})
}

func TestSearchUnknownCode(t *testing.T) {
	v := newTrackingView(&fakeBackend{orders: map[string]models.Order{}}, events.NewBus(logging.Discard()))
	defer v.Close()

	snap := v.Search(context.Background(), " zz99 ")
	if snap.State != StateNotFound || snap.Code != "ZZ99" {
		t.Fatalf("expected not_found for ZZ99, got %+v", snap)
	}
	if _, err := v.Map(); err == nil {
		t.Fatal("no map should exist for an unknown order")
	}
}

func TestSearchBackendError(t *testing.T) {
	v := newTrackingView(&fakeBackend{lookupErr: errors.New("down")}, events.NewBus(logging.Discard()))
	defer v.Close()
	if snap := v.Search(context.Background(), "AB12"); snap.State != StateError {
		t.Fatalf("expected error state, got %s", snap.State)
	}
}

func TestSearchFoundWithoutDriverUsesStraightLine(t *testing.T) {
	b := &fakeBackend{orders: map[string]models.Order{"AB12": deliveryOrder(1, models.OrderReady, models.DeliveryAssigned)}}
	v := newTrackingView(b, events.NewBus(logging.Discard()))
	defer v.Close()

	snap := v.Search(context.Background(), "ab12")
	if snap.State != StateFound || snap.Order == nil {
		t.Fatalf("expected found, got %+v", snap)
	}
	if snap.Eta == nil || snap.Eta.Eta.Source != models.EtaFromStraightLine {
		t.Fatalf("expected a straight-line estimate, got %+v", snap.Eta)
	}
	if snap.Eta.Origin != paris {
		t.Fatalf("estimate should start at the restaurant, got %+v", snap.Eta.Origin)
	}
	if snap.Driver != nil {
		t.Fatal("no driver position was known")
	}
	if snap.ActiveStage != progress.StageReady {
		t.Fatalf("expected ready stage, got %d", snap.ActiveStage)
	}
	if snap.Address == nil || snap.Address.Label != "Haute précision" {
		t.Fatalf("unexpected address info %+v", snap.Address)
	}
}

func TestDriverEventMovesMarkerAndEta(t *testing.T) {
	b := &fakeBackend{orders: map[string]models.Order{"AB12": deliveryOrder(1, models.OrderReady, models.DeliveryPickedUp)}}
	bus := events.NewBus(logging.Discard())
	v := newTrackingView(b, bus)
	defer v.Close()

	snap := v.Search(context.Background(), "AB12")
	if snap.ActiveStage != progress.StageFinal {
		t.Fatalf("picked up delivery should show the final step, got %d", snap.ActiveStage)
	}

	bus.Publish(events.Envelope{Type: events.KindDriverLocation, Data: []byte(`{"orderId":1,"lat":48.858,"lng":2.345}`)})
	waitFor(t, func() bool {
		s := v.Snapshot()
		return s.Driver != nil && s.Eta != nil && s.Eta.Origin.Lat == 48.858
	})

	fc, err := v.Map()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	drivers := 0
	for _, f := range fc.Features {
		if f.Properties.Kind == "driver" {
			drivers++
		}
	}
	if drivers != 1 {
		t.Fatalf("expected exactly one driver marker, got %d", drivers)
	}
}

func TestOtherOrderEventsIgnored(t *testing.T) {
	b := &fakeBackend{orders: map[string]models.Order{"AB12": deliveryOrder(1, models.OrderPending, models.DeliveryPending)}}
	bus := events.NewBus(logging.Discard())
	v := newTrackingView(b, bus)
	defer v.Close()
	v.Search(context.Background(), "AB12")

	bus.Publish(events.Envelope{Type: events.KindOrderStatus, Data: []byte(`{"orderId":2,"status":"ready"}`)})
	if s := v.Snapshot(); s.Order.Status != models.OrderPending {
		t.Fatalf("event for another order changed status to %s", s.Order.Status)
	}
	bus.Publish(events.Envelope{Type: events.KindOrderStatus, Data: []byte(`{"orderId":1,"status":"in_progress"}`)})
	if s := v.Snapshot(); s.Order.Status != models.OrderInProgress || s.ActiveStage != progress.StagePreparing {
		t.Fatalf("unexpected snapshot after status event: %+v", s)
	}
}

func TestCancelFailureRaisesNotice(t *testing.T) {
	b := &fakeBackend{
		orders:    map[string]models.Order{"AB12": deliveryOrder(1, models.OrderPending, models.DeliveryPending)},
		cancelErr: &backend.StatusError{Code: 409, Body: "too late"},
	}
	v := newTrackingView(b, events.NewBus(logging.Discard()))
	defer v.Close()
	v.Search(context.Background(), "AB12")

	if err := v.Cancel(context.Background()); err == nil {
		t.Fatal("expected cancel to fail")
	}
	s := v.Snapshot()
	if len(s.Notices) != 1 || s.Notices[0].Level != LevelError {
		t.Fatalf("expected one error notice, got %+v", s.Notices)
	}
	if s.Order.Status != models.OrderPending {
		t.Fatal("order must be unchanged after a failed cancel")
	}
}

func TestCancelSuccess(t *testing.T) {
	b := &fakeBackend{orders: map[string]models.Order{"AB12": deliveryOrder(1, models.OrderPending, models.DeliveryPending)}}
	v := newTrackingView(b, events.NewBus(logging.Discard()))
	defer v.Close()
	v.Search(context.Background(), "AB12")

	if err := v.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s := v.Snapshot(); s.ActiveStage != progress.NoStage {
		t.Fatalf("cancelled order should have no active stage, got %d", s.ActiveStage)
	}
}

func TestCloseReleasesSubscriptions(t *testing.T) {
	b := &fakeBackend{orders: map[string]models.Order{"AB12": deliveryOrder(1, models.OrderReady, models.DeliveryPickedUp)}}
	bus := events.NewBus(logging.Discard())
	v := newTrackingView(b, bus)
	v.Search(context.Background(), "AB12")
	if bus.Subscribers(events.KindDriverLocation) == 0 {
		t.Fatal("expected a live driver subscription")
	}
	v.Close()
	for _, k := range []events.Kind{events.KindDriverLocation, events.KindOrderStatus, events.KindDeliveryStatus} {
		if n := bus.Subscribers(k); n != 0 {
			t.Fatalf("%s still has %d subscribers after close", k, n)
		}
	}
}

func TestDispatchPendingAnnotatesDistance(t *testing.T) {
	b := &fakeBackend{pending: []models.Order{deliveryOrder(1, models.OrderReady, models.DeliveryPending)}}
	board := NewDispatchBoard(b, paris, logging.Discard())
	items, err := board.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(items) != 1 || items[0].Distance == "" || items[0].Address.Icon != "✓" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestDispatchAssignFailureNotice(t *testing.T) {
	board := NewDispatchBoard(&fakeBackend{assignErr: errors.New("busy")}, paris, logging.Discard())
	if _, err := board.Assign(context.Background(), 1, 3); err == nil {
		t.Fatal("expected failure")
	}
	if n := board.Notices(); len(n) != 1 || n[0].Level != LevelError {
		t.Fatalf("expected an error notice, got %+v", n)
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	orders []*int
}

func (r *recordingReporter) ReportLocation(_ context.Context, _, _ float64, orderID *int) error {
	r.mu.Lock()
	r.orders = append(r.orders, orderID)
	r.mu.Unlock()
	return nil
}

func (r *recordingReporter) last() (*int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.orders) == 0 {
		return nil, false
	}
	return r.orders[len(r.orders)-1], true
}

func TestDriverDashboardTagsCarriedOrder(t *testing.T) {
	b := &fakeBackend{active: []models.Order{deliveryOrder(7, models.OrderReady, models.DeliveryAssigned)}}
	rep := &recordingReporter{}
	loc := locator.New(locator.StaticSensor{Point: paris}, rep, locator.WithLogger(logging.Discard()))
	d := NewDriverDashboard(DriverDeps{DriverID: 3, Backend: b, Locator: loc, Log: logging.Discard()})
	defer d.Close()

	if err := d.Refresh(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFor(t, func() bool { o, ok := rep.last(); return ok && o == nil })

	if err := d.UpdateStatus(context.Background(), 70, models.DeliveryPickedUp); err != nil {
		t.Fatalf("update: %v", err)
	}
	waitFor(t, func() bool { o, ok := rep.last(); return ok && o != nil && *o == 7 })
	if !d.Snapshot().Location.Enabled {
		t.Fatal("location tracking should be enabled")
	}
}

func TestDriverDashboardInvalidTransition(t *testing.T) {
	b := &fakeBackend{active: []models.Order{deliveryOrder(7, models.OrderReady, models.DeliveryAssigned)}}
	d := NewDriverDashboard(DriverDeps{DriverID: 3, Backend: b, Log: logging.Discard()})
	defer d.Close()
	_ = d.Refresh(context.Background(), false)

	err := d.UpdateStatus(context.Background(), 70, models.DeliveryDelivered)
	if !errors.Is(err, backend.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	n := d.Snapshot().Notices
	if len(n) != 1 || n[0].Message != "Transition de statut non autorisée" {
		t.Fatalf("unexpected notices %+v", n)
	}
	if len(b.updates) != 0 {
		t.Fatal("backend should not record a rejected update")
	}
}

func TestSelfAssign(t *testing.T) {
	b := &fakeBackend{}
	d := NewDriverDashboard(DriverDeps{DriverID: 3, Backend: b, Log: logging.Discard()})
	defer d.Close()
	if err := d.SelfAssign(context.Background(), 12); err != nil {
		t.Fatalf("self assign: %v", err)
	}
	if len(b.assigned) != 1 || b.assigned[0] != 12 {
		t.Fatalf("unexpected assignments %v", b.assigned)
	}
}

func TestNoticesExpireAndDismiss(t *testing.T) {
	n := NewNotices(2, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	a := n.Push(LevelInfo, "a")
	n.Push(LevelInfo, "b")
	n.Push(LevelInfo, "c")
	if l := n.List(); len(l) != 2 || l[0].Message != "b" {
		t.Fatalf("expected the two newest notices, got %+v", l)
	}
	n.Dismiss(a.ID)
	now = now.Add(2 * time.Minute)
	if l := n.List(); len(l) != 0 {
		t.Fatalf("expected all notices expired, got %+v", l)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
