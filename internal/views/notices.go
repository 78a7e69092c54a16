package views

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a transient message shown to the user, e.g. after a failed
// status change. It expires after the board's TTL.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Notices struct {
	mu    sync.Mutex
	items []Notice
	max   int
	ttl   time.Duration
	now   func() time.Time
}

func NewNotices(max int, ttl time.Duration) *Notices {
	if max <= 0 {
		max = 5
	}
	return &Notices{max: max, ttl: ttl, now: time.Now}
}

func (n *Notices) Push(level Level, msg string) Notice {
	nt := Notice{ID: uuid.NewString(), Level: level, Message: msg, At: n.now()}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, nt)
	if len(n.items) > n.max {
		n.items = n.items[len(n.items)-n.max:]
	}
	return nt
}

// List returns the notices that have not expired, oldest first.
func (n *Notices) List() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ttl > 0 {
		cutoff := n.now().Add(-n.ttl)
		kept := n.items[:0]
		for _, it := range n.items {
			if it.At.After(cutoff) {
				kept = append(kept, it)
			}
		}
		n.items = kept
	}
	return append([]Notice(nil), n.items...)
}

func (n *Notices) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, it := range n.items {
		if it.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}
