package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PGNotifySource listens on a Postgres NOTIFY channel. The backend emits
// events with pg_notify(channel, json).
type PGNotifySource struct {
	DSN     string
	Channel string
	Log     *slog.Logger
}

// Run blocks until ctx is done. pq.Listener reconnects on its own once
// listening; a failed LISTEN is retried on a fresh listener with backoff.
func (p *PGNotifySource) Run(ctx context.Context, bus *Bus) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	var bo backoff
	for {
		err := p.listen(ctx, bus, &bo, log)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("postgres listener failed; retrying", "channel", p.Channel, "error", err, "backoff", bo.d.String())
		if !bo.wait(ctx) {
			return nil
		}
	}
}

func (p *PGNotifySource) listen(ctx context.Context, bus *Bus, bo *backoff, log *slog.Logger) error {
	l := pq.NewListener(p.DSN, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("postgres listener event", "event", int(ev), "error", err)
		}
	})
	defer l.Close()
	if err := l.Listen(p.Channel); err != nil {
		return fmt.Errorf("listen %s: %w", p.Channel, err)
	}
	bo.reset()
	log.Info("postgres listener ready", "channel", p.Channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-l.Notify:
			if !ok {
				return errors.New("listener closed")
			}
			// nil after a reconnect; events sent meanwhile are lost
			if n == nil {
				continue
			}
			bus.ingest("postgres", []byte(n.Extra), "")
		case <-ping.C:
			if err := l.Ping(); err != nil {
				log.Warn("postgres listener ping failed", "error", err)
			}
		}
	}
}
