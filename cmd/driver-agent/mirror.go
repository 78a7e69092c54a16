package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/locator"
)

// mirrorReporter reports to the backend, then republishes the sample as a
// driver_location event so fronts listening on the broker see it without
// waiting for the backend push.
type mirrorReporter struct {
	next     locator.Reporter
	pub      events.Publisher
	driverID int
	attempts int
	delay    time.Duration
	log      *slog.Logger
}

func (m *mirrorReporter) ReportLocation(ctx context.Context, lat, lng float64, orderID *int) error {
	if err := m.next.ReportLocation(ctx, lat, lng, orderID); err != nil {
		return err
	}
	if orderID == nil {
		return nil
	}
	id := m.driverID
	now := time.Now().UTC()
	env, err := events.NewEnvelope(events.KindDriverLocation, events.DriverLocationEvent{
		OrderID: *orderID, Lat: &lat, Lng: &lng, DriverID: &id, Timestamp: &now,
	})
	if err != nil {
		return err
	}
	if err := publishWithRetry(ctx, m.pub, env, m.attempts, m.delay); err != nil {
		m.log.Warn("location mirror failed", "order_id", *orderID, "error", err)
	}
	return nil
}

// publishWithRetry publishes env, backing off between attempts.
func publishWithRetry(ctx context.Context, p events.Publisher, env events.Envelope, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = p.Publish(ctx, env); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
