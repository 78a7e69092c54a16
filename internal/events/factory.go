package events

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/example/delivery-tracking/internal/config"
)

// NewSource builds the push source named by cfg.EventSource.
func NewSource(cfg config.Config, log *slog.Logger) (Source, error) {
	switch cfg.EventSource {
	case config.SourceSSE, "":
		return &SSESource{URL: cfg.BackendURL + "/api/events", Token: cfg.BackendToken, Client: &http.Client{}, Log: log}, nil
	case config.SourceRedis:
		return NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel, log), nil
	case config.SourceKafka:
		return &KafkaSource{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, Log: log}, nil
	case config.SourceAMQP:
		return &AMQPSource{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange, Log: log}, nil
	case config.SourcePostgres:
		return &PGNotifySource{DSN: cfg.PGDSN, Channel: cfg.PGChannel, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown event source %q", cfg.EventSource)
	}
}

// NewPublisher builds the mirror publisher named by cfg.LocationMirror. It
// returns nil when mirroring is off.
func NewPublisher(cfg config.Config) (Publisher, error) {
	switch cfg.LocationMirror {
	case config.MirrorNone:
		return nil, nil
	case config.MirrorRedis:
		return NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel), nil
	case config.MirrorKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown location mirror %q", cfg.LocationMirror)
	}
}
