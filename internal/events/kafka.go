package events

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes events from a Kafka topic as part of a consumer group.
type KafkaSource struct {
	Brokers []string
	Topic   string
	GroupID string
	Log     *slog.Logger
}

func (k *KafkaSource) Run(ctx context.Context, bus *Bus) error {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: k.Brokers, Topic: k.Topic, GroupID: k.GroupID, MinBytes: 1, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log := k.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("kafka consumer listening", "topic", k.Topic, "brokers", k.Brokers, "group", k.GroupID)

	var bo backoff
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("kafka read error", "error", err, "backoff", bo.d.String())
			if !bo.wait(ctx) {
				return nil
			}
			continue
		}
		bo.reset()
		bus.ingest("kafka", m.Value, "")
	}
}
