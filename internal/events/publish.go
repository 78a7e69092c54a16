package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Publisher emits envelopes onto a transport one of the sources reads.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// NewEnvelope wraps a typed payload.
func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return Envelope{Type: kind, Data: b}, nil
}

type RedisPublisher struct {
	Client  *redis.Client
	Channel string
}

func NewRedisPublisher(addr, password, channel string) *RedisPublisher {
	return &RedisPublisher{Client: redis.NewClient(&redis.Options{Addr: addr, Password: password}), Channel: channel}
}

func (r *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, r.Channel, b).Err()
}

func (r *RedisPublisher) Close() error { return r.Client.Close() }

// KafkaPublisher writes envelopes to a topic, keyed by order id when the
// payload carries one so a single order's events stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var key struct {
		OrderID int `json:"orderId"`
	}
	_ = json.Unmarshal(env.Data, &key)
	msg := kafka.Message{Value: b}
	if key.OrderID != 0 {
		msg.Key = []byte(strconv.Itoa(key.OrderID))
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
