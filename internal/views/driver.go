package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/locator"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// DriverBackend is what the driver dashboard needs from the backend.
type DriverBackend interface {
	DriverDeliveries(ctx context.Context, driverID int, scope backend.Scope) ([]models.Order, error)
	Assign(ctx context.Context, orderID int, driverID *int) (models.Delivery, error)
	UpdateStatus(ctx context.Context, deliveryID int, current, next models.DeliveryStatus) (models.Delivery, error)
}

type DriverDeps struct {
	DriverID int
	Backend  DriverBackend
	// Locator is optional: the HTTP front has no device to sample and
	// relies on the driver's browser posting positions instead.
	Locator        *locator.Locator
	Interval       time.Duration
	ActiveInterval time.Duration
	Log            *slog.Logger
}

type DriverSnapshot struct {
	DriverID int            `json:"driverId"`
	Active   []models.Order `json:"active"`
	History  []models.Order `json:"history,omitempty"`
	Location *locator.State `json:"location,omitempty"`
	Notices  []Notice       `json:"notices,omitempty"`
}

// DriverDashboard lists a driver's deliveries, applies status changes and
// drives the location loop: slow while idle, fast while carrying an order.
type DriverDashboard struct {
	deps    DriverDeps
	log     *slog.Logger
	notices *Notices

	mu      sync.Mutex
	active  []models.Order
	history []models.Order
}

func NewDriverDashboard(deps DriverDeps) *DriverDashboard {
	if deps.Interval <= 0 {
		deps.Interval = locator.DefaultInterval
	}
	if deps.ActiveInterval <= 0 {
		deps.ActiveInterval = locator.DefaultActiveInterval
	}
	return &DriverDashboard{
		deps:    deps,
		log:     logging.Component(deps.Log, "driver_dashboard").With("driver_id", deps.DriverID),
		notices: NewNotices(5, 30*time.Second),
	}
}

// Refresh reloads active deliveries (and history when asked) and retunes
// the location loop.
func (d *DriverDashboard) Refresh(ctx context.Context, withHistory bool) error {
	active, err := d.deps.Backend.DriverDeliveries(ctx, d.deps.DriverID, backend.ScopeActive)
	if err != nil {
		return fmt.Errorf("load active deliveries: %w", err)
	}
	var history []models.Order
	if withHistory {
		if history, err = d.deps.Backend.DriverDeliveries(ctx, d.deps.DriverID, backend.ScopeHistory); err != nil {
			return fmt.Errorf("load delivery history: %w", err)
		}
	}
	d.mu.Lock()
	d.active = active
	if withHistory {
		d.history = history
	}
	d.mu.Unlock()
	d.tuneLocator(active)
	return nil
}

// tuneLocator enables sampling, tagged with the order being carried and at
// the fast interval while one is picked up.
func (d *DriverDashboard) tuneLocator(active []models.Order) {
	if d.deps.Locator == nil {
		return
	}
	cfg := locator.Config{Enabled: true, Interval: d.deps.Interval}
	for _, o := range active {
		if o.Delivery != nil && o.Delivery.Status == models.DeliveryPickedUp {
			id := o.ID
			cfg.OrderID = &id
			cfg.Interval = d.deps.ActiveInterval
			break
		}
	}
	d.deps.Locator.Configure(cfg)
}

// SelfAssign takes a pending order for this driver.
func (d *DriverDashboard) SelfAssign(ctx context.Context, orderID int) error {
	id := d.deps.DriverID
	if _, err := d.deps.Backend.Assign(ctx, orderID, &id); err != nil {
		return d.fail("assign", "Impossible de prendre cette livraison", err)
	}
	d.notices.Push(LevelInfo, "Livraison acceptée")
	return d.Refresh(ctx, false)
}

// UpdateStatus moves one of the driver's active deliveries forward.
func (d *DriverDashboard) UpdateStatus(ctx context.Context, deliveryID int, next models.DeliveryStatus) error {
	d.mu.Lock()
	var current models.DeliveryStatus
	found := false
	for _, o := range d.active {
		if o.Delivery != nil && o.Delivery.ID == deliveryID {
			current, found = o.Delivery.Status, true
			break
		}
	}
	d.mu.Unlock()
	if !found {
		return d.fail("update_status", "Livraison introuvable", backend.ErrNotFound)
	}
	if _, err := d.deps.Backend.UpdateStatus(ctx, deliveryID, current, next); err != nil {
		msg := "Échec de la mise à jour du statut"
		if errors.Is(err, backend.ErrInvalidTransition) {
			msg = "Transition de statut non autorisée"
		}
		return d.fail("update_status", msg, err)
	}
	return d.Refresh(ctx, false)
}

func (d *DriverDashboard) fail(action, msg string, err error) error {
	observability.ActionFailures.WithLabelValues(action).Inc()
	d.log.Warn("driver action failed", "action", action, "error", err)
	d.notices.Push(LevelError, msg)
	return err
}

func (d *DriverDashboard) Snapshot() DriverSnapshot {
	d.mu.Lock()
	snap := DriverSnapshot{
		DriverID: d.deps.DriverID,
		Active:   append([]models.Order{}, d.active...),
		History:  append([]models.Order(nil), d.history...),
	}
	d.mu.Unlock()
	if d.deps.Locator != nil {
		st := d.deps.Locator.State()
		snap.Location = &st
	}
	snap.Notices = d.notices.List()
	return snap
}

// Close stops the location loop if the dashboard owns one.
func (d *DriverDashboard) Close() {
	if d.deps.Locator != nil {
		d.deps.Locator.Close()
	}
}
