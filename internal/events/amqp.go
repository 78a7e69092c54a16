package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSource binds an exclusive queue to a fanout exchange and consumes
// every event broadcast on it.
type AMQPSource struct {
	URL      string
	Exchange string
	Log      *slog.Logger
}

func (a *AMQPSource) Run(ctx context.Context, bus *Bus) error {
	var bo backoff
	for {
		err := a.consume(ctx, bus, &bo)
		if ctx.Err() != nil {
			return nil
		}
		a.logger().Warn("amqp consumer stopped; reconnecting", "error", err, "backoff", bo.d.String())
		if !bo.wait(ctx) {
			return nil
		}
	}
}

func (a *AMQPSource) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

func (a *AMQPSource) consume(ctx context.Context, bus *Bus, bo *backoff) error {
	conn, err := amqp.Dial(a.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(a.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", a.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	bo.reset()
	a.logger().Info("amqp consumer ready", "exchange", a.Exchange, "queue", q.Name)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case cerr := <-closed:
			if cerr == nil {
				return errors.New("connection closed")
			}
			return cerr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			bus.ingest("amqp", d.Body, Kind(d.Type))
		}
	}
}
