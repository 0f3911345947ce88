package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Header keys attached to every Kafka record.
const (
	HeaderEventType = "event_type"
	HeaderCategory  = "category"
)

// DefaultRedisChannel is the pub/sub channel the dashboard subscribes to.
const DefaultRedisChannel = "remittance:events"

// Encode returns the wire payload shared by every publisher.
func Encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return payload, nil
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}

// KafkaPublisher produces events to a single topic. Records are keyed by event
// ID so consumers can deduplicate redeliveries.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(event.ID.String()),
		Value:     payload,
		Timestamp: event.OccurredAt,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(event.Kind)},
			{Key: HeaderCategory, Value: []byte(event.Kind.Category())},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event %s: %w", event.ID, err)
	}
	return nil
}

// RedisPublisher broadcasts events on a pub/sub channel for live dashboards.
// Delivery is fire-and-forget; subscribers that are offline miss the event.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish event %s: %w", event.ID, err)
	}
	return nil
}

// LogPublisher writes events to the structured log. It is the default sink
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []any{
		"event_id", event.ID.String(),
		"event", string(event.Kind),
		"category", string(event.Kind.Category()),
		"actor", event.Actor.String(),
		"subject", event.Subject.String(),
		"occurred_at", event.OccurredAt,
	}
	if event.Recipient != nil {
		attrs = append(attrs, "recipient", event.Recipient.String())
	}
	if event.Amount > 0 {
		attrs = append(attrs, "amount", event.Amount)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	p.logger.InfoContext(ctx, "event published", attrs...)
	return nil
}

// Fanout delivers each event to every publisher. All publishers are attempted;
// the joined error reports every failure.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Tests and the in-memory
// deployment use it to observe what was delivered.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far, in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of everything published so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
