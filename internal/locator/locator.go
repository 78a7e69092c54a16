package locator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

const (
	DefaultInterval       = 60 * time.Second
	DefaultActiveInterval = 15 * time.Second
	DefaultSensorTimeout  = 10 * time.Second
	reportTimeout         = 10 * time.Second
)

// Reporter receives every successful sample.
type Reporter interface {
	ReportLocation(ctx context.Context, lat, lng float64, orderID *int) error
}

type Config struct {
	Enabled  bool
	OrderID  *int
	Interval time.Duration
}

func (c Config) equal(o Config) bool {
	if c.Enabled != o.Enabled || c.Interval != o.Interval {
		return false
	}
	if c.OrderID == nil || o.OrderID == nil {
		return c.OrderID == o.OrderID
	}
	return *c.OrderID == *o.OrderID
}

// State is what the owning view renders.
type State struct {
	Enabled  bool                    `json:"enabled"`
	Location *models.CurrentLocation `json:"location,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Ticker is the subset of time.Ticker the loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.Ticker.C }

type Option func(*Locator)

func WithLogger(l *slog.Logger) Option { return func(lc *Locator) { lc.log = logging.Component(l, "locator") } }

func WithSensorTimeout(d time.Duration) Option {
	return func(lc *Locator) {
		if d > 0 {
			lc.timeout = d
		}
	}
}

func WithTicker(f func(time.Duration) Ticker) Option { return func(lc *Locator) { lc.newTicker = f } }

// Locator samples the device position on a schedule while enabled and
// reports each sample to the backend.
//
// Every configuration change bumps an epoch; a sample taken under an older
// epoch is dropped, so nothing is applied or reported after disable.
type Locator struct {
	sensor    Sensor
	reporter  Reporter
	log       *slog.Logger
	timeout   time.Duration
	newTicker func(time.Duration) Ticker

	mu        sync.Mutex
	cfg       Config
	epoch     uint64
	stop      context.CancelFunc
	done      chan struct{}
	state     State
	observers map[int]func(State)
	nextObs   int

	reports sync.WaitGroup
}

func New(sensor Sensor, reporter Reporter, opts ...Option) *Locator {
	l := &Locator{
		sensor:    sensor,
		reporter:  reporter,
		log:       logging.Component(nil, "locator"),
		timeout:   DefaultSensorTimeout,
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
		observers: make(map[int]func(State)),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Configure applies a new configuration. Resources of the previous one are
// released before the new schedule starts. An unchanged configuration is
// a no-op.
func (l *Locator) Configure(cfg Config) {
	if cfg.Enabled && cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	l.mu.Lock()
	if cfg.equal(l.cfg) && (l.stop != nil) == cfg.Enabled {
		l.mu.Unlock()
		return
	}
	l.releaseLocked()
	l.cfg = cfg
	l.state.Enabled = cfg.Enabled
	if cfg.Enabled {
		ctx, cancel := context.WithCancel(context.Background())
		l.stop = cancel
		l.done = make(chan struct{})
		go l.run(ctx, l.epoch, cfg, l.done)
		l.log.Info("location tracking enabled", "interval", cfg.Interval.String(), "order_id", cfg.OrderID)
	} else {
		l.log.Info("location tracking disabled")
	}
	st := l.state
	obs := l.observersLocked()
	l.mu.Unlock()
	notify(obs, st)
}

// releaseLocked cancels the running schedule and invalidates in-flight
// samples. It does not wait for the loop goroutine.
func (l *Locator) releaseLocked() {
	l.epoch++
	if l.stop != nil {
		l.stop()
		l.stop = nil
	}
}

// Close disables the loop and waits for it and for pending reports.
func (l *Locator) Close() {
	l.mu.Lock()
	l.releaseLocked()
	l.cfg = Config{}
	l.state.Enabled = false
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
	l.reports.Wait()
}

func (l *Locator) run(ctx context.Context, epoch uint64, cfg Config, done chan struct{}) {
	defer close(done)
	t := l.newTicker(cfg.Interval)
	defer t.Stop()

	l.sample(ctx, epoch, cfg.OrderID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if ctx.Err() != nil {
				return
			}
			l.sample(ctx, epoch, cfg.OrderID)
		}
	}
}

// Refresh takes one sample immediately, outside the schedule. When the
// loop is enabled the sample is reported like a scheduled one.
func (l *Locator) Refresh(ctx context.Context) error {
	l.mu.Lock()
	epoch, orderID, enabled := l.epoch, l.cfg.OrderID, l.cfg.Enabled
	l.mu.Unlock()
	return l.sampleWith(ctx, epoch, orderID, enabled)
}

func (l *Locator) sample(ctx context.Context, epoch uint64, orderID *int) {
	_ = l.sampleWith(ctx, epoch, orderID, true)
}

func (l *Locator) sampleWith(ctx context.Context, epoch uint64, orderID *int, report bool) error {
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	s, err := l.sensor.CurrentPosition(sctx, Options{HighAccuracy: true, Timeout: l.timeout})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &SensorError{Code: Timeout, Err: err}
		}
		observability.LocationSamples.WithLabelValues("error").Inc()
		l.log.Warn("position unavailable", "error", err)
		l.apply(epoch, nil, Message(err))
		return err
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	loc := &models.CurrentLocation{GeoPoint: s.GeoPoint, Accuracy: s.Accuracy, CapturedAt: s.Timestamp}
	if !l.apply(epoch, loc, "") {
		observability.LocationSamples.WithLabelValues("stale").Inc()
		return nil
	}
	observability.LocationSamples.WithLabelValues("ok").Inc()
	if report && l.reporter != nil {
		l.report(epoch, *loc, orderID)
	}
	return nil
}

// report is fire-and-forget: failures are logged, never retried. Nothing is
// sent once the epoch has moved on, even if the sample was already applied.
func (l *Locator) report(epoch uint64, loc models.CurrentLocation, orderID *int) {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return
	}
	l.reports.Add(1)
	l.mu.Unlock()
	go func() {
		defer l.reports.Done()
		if !l.current(epoch) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		defer cancel()
		if err := l.reporter.ReportLocation(ctx, loc.Lat, loc.Lng, orderID); err != nil {
			observability.LocationReportErrors.Inc()
			l.log.Error("location report failed", "error", err, "lat", loc.Lat, "lng", loc.Lng)
		}
	}()
}

// apply stores a sample or an error message if epoch is still current.
func (l *Locator) apply(epoch uint64, loc *models.CurrentLocation, errMsg string) bool {
	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return false
	}
	if loc != nil {
		l.state.Location = loc
	}
	l.state.Error = errMsg
	st := l.state
	obs := l.observersLocked()
	l.mu.Unlock()
	notify(obs, st)
	return true
}

func (l *Locator) current(epoch uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return epoch == l.epoch
}

func (l *Locator) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Locator) Current() (models.CurrentLocation, bool) {
	st := l.State()
	if st.Location == nil {
		return models.CurrentLocation{}, false
	}
	return *st.Location, true
}

func (l *Locator) LastError() string { return l.State().Error }

// OnChange registers an observer called after every state change.
func (l *Locator) OnChange(fn func(State)) (remove func()) {
	l.mu.Lock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

func (l *Locator) observersLocked() []func(State) {
	out := make([]func(State), 0, len(l.observers))
	for _, o := range l.observers {
		out = append(out, o)
	}
	return out
}

func notify(obs []func(State), st State) {
	for _, o := range obs {
		o(st)
	}
}
