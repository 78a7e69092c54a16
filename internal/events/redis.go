package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisSource consumes events published on a Redis pub/sub channel.
type RedisSource struct {
	Client  *redis.Client
	Channel string
	Log     *slog.Logger
}

func NewRedisSource(addr, password, channel string, log *slog.Logger) *RedisSource {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSource{Client: c, Channel: channel, Log: log}
}

// Run blocks until ctx is done. go-redis re-subscribes on its own after a
// connection loss once subscribed; a failed initial subscription is retried
// with backoff.
func (r *RedisSource) Run(ctx context.Context, bus *Bus) error {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	var bo backoff
	for {
		err := r.listen(ctx, bus, &bo, log)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("redis subscription failed; retrying", "channel", r.Channel, "error", err, "backoff", bo.d.String())
		if !bo.wait(ctx) {
			return nil
		}
	}
}

func (r *RedisSource) listen(ctx context.Context, bus *Bus, bo *backoff, log *slog.Logger) error {
	sub := r.Client.Subscribe(ctx, r.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	bo.reset()
	log.Info("redis subscription ready", "channel", r.Channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			bus.ingest("redis", []byte(msg.Payload), "")
		}
	}
}

func (r *RedisSource) Close() error { return r.Client.Close() }
