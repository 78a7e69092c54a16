package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

// Event source names accepted by EVENT_SOURCE.
const (
	SourceSSE      = "sse"
	SourceRedis    = "redis"
	SourceKafka    = "kafka"
	SourceAMQP     = "amqp"
	SourcePostgres = "postgres"
)

// Mirror targets accepted by LOCATION_MIRROR.
const (
	MirrorNone  = ""
	MirrorRedis = "redis"
	MirrorKafka = "kafka"
)

// Config captures all tunable parameters for the tracking front and the
// driver agent. Values come from environment variables with defaults that
// let both binaries run locally against a backend on localhost.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration
	OSRMURL        string

	EventSource   string
	RedisAddr     string
	RedisPassword string
	RedisChannel  string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	AMQPURL       string
	AMQPExchange  string
	PGDSN         string
	PGChannel     string

	LocationInterval time.Duration
	ActiveInterval   time.Duration
	SensorTimeout    time.Duration
	FallbackSpeedKmh float64
	Restaurant       models.GeoPoint
	RejectStale      bool

	DriverID       int
	SensorURL      string
	LocationMirror string

	JWTSecret string
	LogLevel  string
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		BackendURL:       "http://localhost:3000",
		BackendTimeout:   5 * time.Second,
		EventSource:      SourceSSE,
		RedisChannel:     "events",
		KafkaTopic:       "delivery-events",
		KafkaGroup:       "delivery-tracking",
		AMQPExchange:     "delivery.events",
		PGChannel:        "delivery_events",
		LocationInterval: 60 * time.Second,
		ActiveInterval:   15 * time.Second,
		SensorTimeout:    10 * time.Second,
		FallbackSpeedKmh: 25,
		Restaurant:       models.GeoPoint{Lat: 48.8566, Lng: 2.3522},
		LogLevel:         "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.BackendToken = os.Getenv("BACKEND_TOKEN")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)
	cfg.OSRMURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OSRM_URL")), "/")

	if v := os.Getenv("EVENT_SOURCE"); v != "" {
		cfg.EventSource = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisChannel, "REDIS_CHANNEL")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.AMQPURL = os.Getenv("AMQP_URL")
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.PGChannel, "PG_CHANNEL")

	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ActiveInterval, "LOCATION_ACTIVE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SensorTimeout, "SENSOR_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.FallbackSpeedKmh, "FALLBACK_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.Restaurant.Lat, "RESTAURANT_LAT", &errs)
	setFloatFromEnv(&cfg.Restaurant.Lng, "RESTAURANT_LNG", &errs)
	cfg.RejectStale = strings.EqualFold(os.Getenv("REJECT_STALE_POSITIONS"), "true")

	setIntFromEnv(&cfg.DriverID, "DRIVER_ID", &errs)
	cfg.SensorURL = strings.TrimSpace(os.Getenv("SENSOR_URL"))
	cfg.LocationMirror = strings.ToLower(strings.TrimSpace(os.Getenv("LOCATION_MIRROR")))

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.LocationInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_INTERVAL must be > 0"))
	}
	if c.ActiveInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_ACTIVE_INTERVAL must be > 0"))
	}
	if c.SensorTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SENSOR_TIMEOUT must be > 0"))
	}
	if c.FallbackSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("FALLBACK_SPEED_KMH must be > 0"))
	}
	if !c.Restaurant.Valid() {
		errs = append(errs, fmt.Errorf("RESTAURANT_LAT/RESTAURANT_LNG out of range"))
	}
	switch c.EventSource {
	case SourceSSE:
	case SourceRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for EVENT_SOURCE=redis"))
		}
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for EVENT_SOURCE=kafka"))
		}
	case SourceAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, fmt.Errorf("AMQP_URL is required for EVENT_SOURCE=amqp"))
		}
	case SourcePostgres:
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required for EVENT_SOURCE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_SOURCE %q", c.EventSource))
	}
	switch c.LocationMirror {
	case MirrorNone:
	case MirrorRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for LOCATION_MIRROR=redis"))
		}
	case MirrorKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for LOCATION_MIRROR=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCATION_MIRROR %q", c.LocationMirror))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = n
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
