package tracking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// PositionFetcher returns the last known driver position for an order.
type PositionFetcher interface {
	DriverPosition(ctx context.Context, orderID int) (models.DriverPosition, bool, error)
}

type Options struct {
	// RejectStale drops an event whose timestamp is older than the current
	// position's. Both timestamps must be present for the check to apply.
	RejectStale bool
	Log         *slog.Logger
}

// Subscription keeps the displayed driver position for one order current
// by combining an initial fetch with live push events.
type Subscription struct {
	orderID int
	fetcher PositionFetcher
	bus     *events.Bus
	opts    Options
	log     *slog.Logger

	mu        sync.Mutex
	epoch     uint64
	started   bool
	closed    bool
	pos       *models.DriverPosition
	unsub     func()
	observers []func(models.DriverPosition, bool)
}

func NewSubscription(orderID int, fetcher PositionFetcher, bus *events.Bus, opts Options) *Subscription {
	return &Subscription{
		orderID: orderID,
		fetcher: fetcher,
		bus:     bus,
		opts:    opts,
		log:     logging.Component(opts.Log, "tracking").With("order_id", orderID),
	}
}

// Start subscribes to live events and seeds the position from the backend.
// A failed fetch is logged and leaves the position unset.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	epoch := s.epoch
	s.unsub = events.SubscribeDriverLocation(s.bus, s.onEvent)
	s.mu.Unlock()
	observability.ActiveSubscriptions.Inc()

	pos, ok, err := s.fetcher.DriverPosition(ctx, s.orderID)
	if err != nil {
		s.log.Warn("initial driver position fetch failed", "error", err)
		return
	}
	if !ok {
		return
	}
	s.mu.Lock()
	// an event or a Clear since Start supersedes the fetched value
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.setLocked(pos)
}

func (s *Subscription) onEvent(e events.DriverLocationEvent) {
	if e.OrderID != s.orderID {
		return
	}
	next, ok := e.Position()
	if !ok {
		observability.EventsInvalid.WithLabelValues("driver_location").Inc()
		s.log.Warn("driver position without valid coordinates ignored", "lat", e.Lat, "lng", e.Lng)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.opts.RejectStale && s.pos != nil && s.pos.Timestamp != nil && next.Timestamp != nil &&
		next.Timestamp.Before(*s.pos.Timestamp) {
		s.mu.Unlock()
		s.log.Debug("stale driver position ignored", "timestamp", next.Timestamp)
		return
	}
	s.epoch++
	s.setLocked(next)
}

// setLocked replaces the whole position and notifies observers. It releases
// the lock.
func (s *Subscription) setLocked(p models.DriverPosition) {
	s.pos = &p
	obs := append([]func(models.DriverPosition, bool){}, s.observers...)
	s.mu.Unlock()
	for _, o := range obs {
		o(p, true)
	}
}

// Position returns the current driver position, if any is known.
func (s *Subscription) Position() (models.DriverPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == nil {
		return models.DriverPosition{}, false
	}
	return *s.pos, true
}

// Clear forgets the current position. A fetch still in flight is discarded.
func (s *Subscription) Clear() {
	s.mu.Lock()
	s.epoch++
	s.pos = nil
	obs := append([]func(models.DriverPosition, bool){}, s.observers...)
	s.mu.Unlock()
	for _, o := range obs {
		o(models.DriverPosition{}, false)
	}
}

// OnChange registers an observer; ok is false after Clear.
func (s *Subscription) OnChange(fn func(p models.DriverPosition, ok bool)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Close unsubscribes from the bus. The subscription cannot be restarted.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	unsub, started := s.unsub, s.started
	s.unsub = nil
	s.observers = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if started {
		observability.ActiveSubscriptions.Dec()
	}
}

func (s *Subscription) OrderID() int { return s.orderID }
