package views

import (
	"context"
	"log/slog"

	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

type DispatchBackend interface {
	PendingDeliveries(ctx context.Context) ([]models.Order, error)
	Assign(ctx context.Context, orderID int, driverID *int) (models.Delivery, error)
}

// PendingItem is one row of the dispatch board.
type PendingItem struct {
	Order    models.Order `json:"order"`
	Address  *AddressInfo `json:"address,omitempty"`
	Distance string       `json:"distance,omitempty"`
}

// DispatchBoard lets staff hand ready orders to drivers.
type DispatchBoard struct {
	backend    DispatchBackend
	restaurant models.GeoPoint
	log        *slog.Logger
	notices    *Notices
}

func NewDispatchBoard(b DispatchBackend, restaurant models.GeoPoint, log *slog.Logger) *DispatchBoard {
	return &DispatchBoard{backend: b, restaurant: restaurant, log: logging.Component(log, "dispatch"), notices: NewNotices(5, 0)}
}

// Pending lists deliveries awaiting a driver with their geocode trust and
// straight-line distance from the restaurant.
func (b *DispatchBoard) Pending(ctx context.Context) ([]PendingItem, error) {
	orders, err := b.backend.PendingDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PendingItem, 0, len(orders))
	for _, o := range orders {
		it := PendingItem{Order: o, Address: addressInfo(o.Delivery)}
		if o.Delivery != nil {
			if dest, ok := o.Delivery.Destination(); ok {
				it.Distance = geo.FormatDistance(geo.DistanceKm(b.restaurant, dest))
			}
		}
		out = append(out, it)
	}
	return out, nil
}

func (b *DispatchBoard) Assign(ctx context.Context, orderID, driverID int) (models.Delivery, error) {
	d, err := b.backend.Assign(ctx, orderID, &driverID)
	if err != nil {
		observability.ActionFailures.WithLabelValues("dispatch_assign").Inc()
		b.log.Warn("assign failed", "order_id", orderID, "driver_id", driverID, "error", err)
		b.notices.Push(LevelError, "Échec de l'assignation du livreur")
		return models.Delivery{}, err
	}
	b.notices.Push(LevelInfo, "Livreur assigné")
	return d, nil
}

func (b *DispatchBoard) Notices() []Notice { return b.notices.List() }
