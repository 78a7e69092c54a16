package events

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/logging"
)

func TestNewSourceSelectsTransport(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"sse", config.Config{EventSource: config.SourceSSE, BackendURL: "http://b"}, "*events.SSESource"},
		{"redis", config.Config{EventSource: config.SourceRedis, RedisAddr: "r:6379"}, "*events.RedisSource"},
		{"kafka", config.Config{EventSource: config.SourceKafka, KafkaBrokers: []string{"k:9092"}}, "*events.KafkaSource"},
		{"amqp", config.Config{EventSource: config.SourceAMQP, AMQPURL: "amqp://x"}, "*events.AMQPSource"},
		{"postgres", config.Config{EventSource: config.SourcePostgres, PGDSN: "postgres://x"}, "*events.PGNotifySource"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, err := NewSource(tc.cfg, logging.Discard())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := fmt.Sprintf("%T", src); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
	if _, err := NewSource(config.Config{EventSource: "mqtt"}, nil); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestSSESourceTargetsEventsEndpoint(t *testing.T) {
	src, _ := NewSource(config.Config{EventSource: config.SourceSSE, BackendURL: "http://backend", BackendToken: "t"}, nil)
	sse := src.(*SSESource)
	if sse.URL != "http://backend/api/events" || sse.Token != "t" {
		t.Fatalf("unexpected sse source %+v", sse)
	}
}

func TestNewPublisherOff(t *testing.T) {
	p, err := NewPublisher(config.Config{})
	if err != nil || p != nil {
		t.Fatalf("expected no publisher, got %v %v", p, err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestNewEnvelopeRoundTripsThroughBus(t *testing.T) {
	env, err := NewEnvelope(KindDriverLocation, DriverLocationEvent{OrderID: 4, Lat: floatPtr(1), Lng: floatPtr(2)})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	wire, _ := json.Marshal(env)
	bus := NewBus(logging.Discard())
	var got DriverLocationEvent
	SubscribeDriverLocation(bus, func(e DriverLocationEvent) { got = e })
	bus.ingest("test", wire, "")
	if got.OrderID != 4 || got.Lat == nil || *got.Lat != 1 {
		t.Fatalf("unexpected event %+v", got)
	}
}
