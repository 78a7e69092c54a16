package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}
func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type tickers struct {
	mu  sync.Mutex
	all []*fakeTicker
}

func (ts *tickers) factory(time.Duration) Ticker {
	t := &fakeTicker{ch: make(chan time.Time, 4)}
	ts.mu.Lock()
	ts.all = append(ts.all, t)
	ts.mu.Unlock()
	return t
}

func (ts *tickers) last(t *testing.T) *fakeTicker {
	t.Helper()
	var tk *fakeTicker
	waitFor(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		if len(ts.all) == 0 {
			return false
		}
		tk = ts.all[len(ts.all)-1]
		return true
	})
	return tk
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []models.GeoPoint
	orders  []*int
	err     error
}

func (f *fakeReporter) ReportLocation(_ context.Context, lat, lng float64, orderID *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, models.GeoPoint{Lat: lat, Lng: lng})
	f.orders = append(f.orders, orderID)
	return f.err
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

// scriptedSensor returns errs[i] or a point whose latitude is the call number.
type scriptedSensor struct {
	mu    sync.Mutex
	calls int
	errs  map[int]error
}

func (s *scriptedSensor) CurrentPosition(ctx context.Context, opts Options) (Sample, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if !opts.HighAccuracy || opts.Timeout != DefaultSensorTimeout {
		return Sample{}, errors.New("unexpected options")
	}
	if err := s.errs[n]; err != nil {
		return Sample{}, err
	}
	return Sample{GeoPoint: models.GeoPoint{Lat: float64(n), Lng: 2}, Timestamp: time.Now()}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnableSamplesImmediatelyAndOnTick(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	l := New(&scriptedSensor{}, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	order := 12
	l.Configure(Config{Enabled: true, OrderID: &order, Interval: 15 * time.Second})
	waitFor(t, func() bool { return rep.count() == 1 })

	ts.last(t).ch <- time.Now()
	waitFor(t, func() bool { return rep.count() == 2 })

	loc, ok := l.Current()
	if !ok || loc.Lat != 2 {
		t.Fatalf("expected second sample as current, got %+v ok=%v", loc, ok)
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.orders[0] == nil || *rep.orders[0] != 12 {
		t.Fatalf("report not tagged with order id: %v", rep.orders[0])
	}
}

func TestDisableStopsFurtherReports(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	l := New(&scriptedSensor{}, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	l.Configure(Config{Enabled: true, Interval: time.Minute})
	waitFor(t, func() bool { return rep.count() == 1 })
	tk := ts.last(t)

	l.Configure(Config{Enabled: false})
	waitFor(t, tk.isStopped)

	tk.ch <- time.Now()
	tk.ch <- time.Now()
	time.Sleep(50 * time.Millisecond)
	if n := rep.count(); n != 1 {
		t.Fatalf("expected no report after disable, got %d reports", n)
	}
	if l.State().Enabled {
		t.Fatal("state still enabled")
	}
}

func TestSensorErrorDoesNotStopLoop(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	sensor := &scriptedSensor{errs: map[int]error{1: &SensorError{Code: PermissionDenied}}}
	l := New(sensor, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	l.Configure(Config{Enabled: true, Interval: time.Minute})
	waitFor(t, func() bool { return l.LastError() != "" })
	if got := l.LastError(); got != "Permission de géolocalisation refusée" {
		t.Fatalf("unexpected error message %q", got)
	}
	if rep.count() != 0 {
		t.Fatal("failed sample must not be reported")
	}

	ts.last(t).ch <- time.Now()
	waitFor(t, func() bool { return rep.count() == 1 })
	if l.LastError() != "" {
		t.Fatalf("error should clear after a good sample, got %q", l.LastError())
	}
}

func TestReportFailureKeepsState(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{err: errors.New("network down")}
	l := New(&scriptedSensor{}, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	l.Configure(Config{Enabled: true, Interval: time.Minute})
	waitFor(t, func() bool { return rep.count() == 1 })
	if _, ok := l.Current(); !ok {
		t.Fatal("state should hold the sample despite the report failure")
	}
	if l.LastError() != "" {
		t.Fatalf("report failures are not user visible, got %q", l.LastError())
	}
}

func TestRefreshOutsideSchedule(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	l := New(&scriptedSensor{}, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := l.Current(); !ok {
		t.Fatal("refresh should update the current location")
	}
	if rep.count() != 0 {
		t.Fatal("refresh while disabled must not report")
	}

	l.Configure(Config{Enabled: true, Interval: time.Hour})
	waitFor(t, func() bool { return rep.count() == 1 })
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFor(t, func() bool { return rep.count() == 2 })
}

type blockingSensor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSensor) CurrentPosition(context.Context, Options) (Sample, error) {
	b.started <- struct{}{}
	<-b.release
	return Sample{GeoPoint: models.GeoPoint{Lat: 1, Lng: 1}}, nil
}

func TestSampleCompletingAfterDisableIsDiscarded(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	sensor := &blockingSensor{started: make(chan struct{}, 1), release: make(chan struct{})}
	l := New(sensor, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))

	l.Configure(Config{Enabled: true, Interval: time.Minute})
	<-sensor.started
	l.Configure(Config{Enabled: false})
	close(sensor.release)
	l.Close()

	if rep.count() != 0 {
		t.Fatal("sample finished after disable must not be reported")
	}
	if _, ok := l.Current(); ok {
		t.Fatal("sample finished after disable must not update state")
	}
}

func TestReconfigureReleasesPreviousTicker(t *testing.T) {
	ts := &tickers{}
	l := New(&scriptedSensor{}, &fakeReporter{}, WithTicker(ts.factory), WithLogger(logging.Discard()))
	defer l.Close()

	l.Configure(Config{Enabled: true, Interval: time.Minute})
	first := ts.last(t)
	l.Configure(Config{Enabled: true, Interval: time.Minute})
	l.Configure(Config{Enabled: true, Interval: 15 * time.Second})
	waitFor(t, first.isStopped)
	waitFor(t, func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return len(ts.all) == 2
	})
}

func TestDisableFromObserverSuppressesReport(t *testing.T) {
	ts := &tickers{}
	rep := &fakeReporter{}
	l := New(&scriptedSensor{}, rep, WithTicker(ts.factory), WithLogger(logging.Discard()))

	var once sync.Once
	disabled := make(chan struct{})
	l.OnChange(func(st State) {
		if st.Enabled && st.Location != nil {
			once.Do(func() {
				l.Configure(Config{Enabled: false})
				close(disabled)
			})
		}
	})
	l.Configure(Config{Enabled: true, Interval: time.Minute})
	<-disabled
	l.Close()

	if l.State().Enabled {
		t.Fatal("state still enabled")
	}
	if n := rep.count(); n != 0 {
		t.Fatalf("sample reported after disable: %d reports", n)
	}
}
