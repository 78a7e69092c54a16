package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

type Kind string

const (
	KindDriverLocation Kind = "driver_location"
	KindOrderStatus    Kind = "order_status"
	KindDeliveryStatus Kind = "delivery_status"
)

// Envelope is the wire form of a push event.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

var ErrNoType = errors.New("event has no type")

// DecodeEnvelope accepts both {"type":..,"data":{..}} and the flat form
// {"type":..,"orderId":..} some producers emit, where the whole object is
// the payload. fallback is used when the message carries no type itself
// (e.g. an SSE event name).
func DecodeEnvelope(b []byte, fallback Kind) (Envelope, error) {
	var raw struct {
		Type Kind            `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Envelope{}, err
	}
	env := Envelope{Type: raw.Type, Data: raw.Data}
	if env.Type == "" {
		env.Type = fallback
	}
	if env.Type == "" {
		return Envelope{}, ErrNoType
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = json.RawMessage(b)
	}
	return env, nil
}

type DriverLocationEvent struct {
	OrderID    int        `json:"orderId"`
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	DriverID   *int       `json:"driverId,omitempty"`
	DriverName string     `json:"driverName,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Position converts the event into a full replacement position. ok is
// false when the event lacks coordinates or they are out of range.
func (e DriverLocationEvent) Position() (models.DriverPosition, bool) {
	if e.Lat == nil || e.Lng == nil {
		return models.DriverPosition{}, false
	}
	p := models.DriverPosition{
		GeoPoint:   models.GeoPoint{Lat: *e.Lat, Lng: *e.Lng},
		DriverID:   e.DriverID,
		DriverName: e.DriverName,
		Timestamp:  e.Timestamp,
	}
	return p, p.Valid()
}

type OrderStatusEvent struct {
	OrderID int                `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
}

type DeliveryStatusEvent struct {
	OrderID    int                   `json:"orderId"`
	DeliveryID int                   `json:"deliveryId"`
	Status     models.DeliveryStatus `json:"status"`
}

// Bus fans push events out to subscribers registered per kind. Handlers
// run on the publishing goroutine and must not block.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind]map[string]func(json.RawMessage)
	log  *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: make(map[Kind]map[string]func(json.RawMessage)), log: log}
}

// Subscribe registers fn for kind and returns the function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(kind Kind, fn func(json.RawMessage)) (unsubscribe func()) {
	id := uuid.NewString()
	b.mu.Lock()
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[string]func(json.RawMessage))
	}
	b.subs[kind][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[kind], id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(b.subs[env.Type]))
	for _, h := range b.subs[env.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(env.Data)
	}
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Subscribe registers a handler receiving the payload already decoded as T.
// Payloads that do not decode are logged and skipped.
func Subscribe[T any](b *Bus, kind Kind, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(kind, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			b.log.Warn("undecodable event payload", "kind", kind, "error", err)
			return
		}
		fn(v)
	})
}

func SubscribeDriverLocation(b *Bus, fn func(DriverLocationEvent)) func() {
	return Subscribe(b, KindDriverLocation, fn)
}

func SubscribeOrderStatus(b *Bus, fn func(OrderStatusEvent)) func() {
	return Subscribe(b, KindOrderStatus, fn)
}

func SubscribeDeliveryStatus(b *Bus, fn func(DeliveryStatusEvent)) func() {
	return Subscribe(b, KindDeliveryStatus, fn)
}

// ingest decodes one raw message from a source and publishes it.
func (b *Bus) ingest(source string, payload []byte, fallback Kind) {
	env, err := DecodeEnvelope(payload, fallback)
	if err != nil {
		observability.EventsInvalid.WithLabelValues(source).Inc()
		b.log.Warn("invalid event", "source", source, "error", err)
		return
	}
	observability.EventsReceived.WithLabelValues(source, string(env.Type)).Inc()
	b.Publish(env)
}
