package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LocationInterval != 60*time.Second || cfg.ActiveInterval != 15*time.Second {
		t.Fatalf("unexpected intervals %s / %s", cfg.LocationInterval, cfg.ActiveInterval)
	}
	if cfg.SensorTimeout != 10*time.Second {
		t.Fatalf("unexpected sensor timeout %s", cfg.SensorTimeout)
	}
	if cfg.FallbackSpeedKmh != 25 {
		t.Fatalf("unexpected fallback speed %v", cfg.FallbackSpeedKmh)
	}
	if cfg.EventSource != SourceSSE {
		t.Fatalf("unexpected event source %q", cfg.EventSource)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.test/")
	t.Setenv("EVENT_SOURCE", "Kafka")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092")
	t.Setenv("LOCATION_INTERVAL", "30s")
	t.Setenv("RESTAURANT_LAT", "45.76")
	t.Setenv("RESTAURANT_LNG", "4.83")
	t.Setenv("REJECT_STALE_POSITIONS", "TRUE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "https://api.example.test" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.BackendURL)
	}
	if cfg.EventSource != SourceKafka || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config %q %v", cfg.EventSource, cfg.KafkaBrokers)
	}
	if cfg.LocationInterval != 30*time.Second {
		t.Fatalf("unexpected interval %s", cfg.LocationInterval)
	}
	if cfg.Restaurant.Lat != 45.76 || cfg.Restaurant.Lng != 4.83 || !cfg.RejectStale {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadCollectsErrors(t *testing.T) {
	t.Setenv("LOCATION_INTERVAL", "soon")
	t.Setenv("FALLBACK_SPEED_KMH", "0")
	t.Setenv("EVENT_SOURCE", "redis")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"LOCATION_INTERVAL", "FALLBACK_SPEED_KMH", "REDIS_ADDR"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMirrorNeedsTransport(t *testing.T) {
	t.Setenv("LOCATION_MIRROR", "kafka")
	t.Setenv("DRIVER_ID", "12")

	cfg, err := Load()
	if err == nil || !strings.Contains(err.Error(), "LOCATION_MIRROR=kafka") {
		t.Fatalf("expected mirror validation error, got %v", err)
	}
	if cfg.DriverID != 12 {
		t.Fatalf("unexpected driver id %d", cfg.DriverID)
	}
}
