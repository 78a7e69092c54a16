package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/example/delivery-tracking/internal/logging"
)

func TestDecodeEnvelopeForms(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"driver_location","data":{"orderId":4,"lat":1,"lng":2}}`), "")
	if err != nil || env.Type != KindDriverLocation || !strings.Contains(string(env.Data), `"orderId":4`) {
		t.Fatalf("wrapped form: env=%+v err=%v", env, err)
	}

	env, err = DecodeEnvelope([]byte(`{"type":"driver_location","orderId":4,"lat":1,"lng":2}`), "")
	if err != nil || env.Type != KindDriverLocation {
		t.Fatalf("flat form: env=%+v err=%v", env, err)
	}
	var ev DriverLocationEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.OrderID != 4 || ev.Lng == nil || *ev.Lng != 2 {
		t.Fatalf("flat payload not usable: %+v err=%v", ev, err)
	}

	env, err = DecodeEnvelope([]byte(`{"orderId":4}`), KindOrderStatus)
	if err != nil || env.Type != KindOrderStatus {
		t.Fatalf("fallback kind: env=%+v err=%v", env, err)
	}

	if _, err := DecodeEnvelope([]byte(`{"orderId":4}`), ""); err != ErrNoType {
		t.Fatalf("expected ErrNoType, got %v", err)
	}
}

func TestBusRoutesByKindAndUnsubscribes(t *testing.T) {
	bus := NewBus(logging.Discard())
	var locations []DriverLocationEvent
	var statuses int
	unsub := SubscribeDriverLocation(bus, func(e DriverLocationEvent) { locations = append(locations, e) })
	SubscribeOrderStatus(bus, func(OrderStatusEvent) { statuses++ })

	bus.ingest("test", []byte(`{"type":"driver_location","data":{"orderId":1,"lat":3,"lng":4}}`), "")
	bus.ingest("test", []byte(`{"type":"order_status","data":{"orderId":1,"status":"ready"}}`), "")
	bus.ingest("test", []byte(`not json`), "")

	if len(locations) != 1 || locations[0].Lat == nil || *locations[0].Lat != 3 || statuses != 1 {
		t.Fatalf("unexpected deliveries: %+v statuses=%d", locations, statuses)
	}

	unsub()
	unsub()
	if n := bus.Subscribers(KindDriverLocation); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	bus.ingest("test", []byte(`{"type":"driver_location","data":{"orderId":1,"lat":5,"lng":6}}`), "")
	if len(locations) != 1 {
		t.Fatal("handler invoked after unsubscribe")
	}
}

func TestSubscribeSkipsUndecodablePayload(t *testing.T) {
	bus := NewBus(logging.Discard())
	called := false
	SubscribeDriverLocation(bus, func(DriverLocationEvent) { called = true })
	bus.Publish(Envelope{Type: KindDriverLocation, Data: json.RawMessage(`{"orderId":"nope"}`)})
	if called {
		t.Fatal("handler should not run for a payload of the wrong shape")
	}
}
