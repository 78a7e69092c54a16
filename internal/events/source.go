package events

import (
	"context"
	"time"
)

// Source feeds push events from one transport into a bus until ctx ends.
type Source interface {
	Run(ctx context.Context, bus *Bus) error
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// backoff doubles the delay up to maxBackoff.
type backoff struct{ d time.Duration }

func (b *backoff) reset() { b.d = initialBackoff }

// wait sleeps for the current delay and grows it. It returns false when
// ctx is done first.
func (b *backoff) wait(ctx context.Context) bool {
	if b.d == 0 {
		b.d = initialBackoff
	}
	t := time.NewTimer(b.d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	}
	b.d *= 2
	if b.d > maxBackoff {
		b.d = maxBackoff
	}
	return true
}
