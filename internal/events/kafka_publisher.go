package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/models"
)

// Publisher emits ride lifecycle events after a transition is committed.
type Publisher interface {
	Publish(ctx context.Context, e models.RideEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaPublisher keys messages by ride id so a ride's events stay ordered
// within one partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e models.RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.RideID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message value produced by KafkaPublisher.
func Decode(b []byte) (models.RideEvent, error) {
	var e models.RideEvent
	err := json.Unmarshal(b, &e)
	return e, err
}

// Appender is the write side of the ride event log.
type Appender interface {
	AppendEvent(ctx context.Context, e models.RideEvent) error
}

// LogPublisher appends events straight to the event log; used when the API
// runs without a broker so the history is still recorded.
type LogPublisher struct {
	Log Appender
}

func (p LogPublisher) Publish(ctx context.Context, e models.RideEvent) error {
	return p.Log.AppendEvent(ctx, e)
}

func (LogPublisher) Close() error { return nil }
