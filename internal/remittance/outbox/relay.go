// Package outbox relays committed events from the store's outbox to the
// configured publishers. Events leave the outbox only after every publisher
// accepted them, so delivery is at-least-once and in commit order.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"remittance/internal/remittance/events"
	"remittance/internal/remittance/metrics"
	"remittance/internal/remittance/store"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Relay drains the outbox on a fixed interval and whenever the store signals a
// commit.
type Relay struct {
	source    store.Outbox
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	wake      <-chan struct{}
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithInterval sets the polling fallback interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithWake sets the commit signal that triggers an immediate pass.
func WithWake(ch <-chan struct{}) Option {
	return func(r *Relay) {
		r.wake = ch
	}
}

func New(source store.Outbox, publisher events.Publisher, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if publisher == nil {
		return nil, errors.New("event publisher is required")
	}
	r := &Relay{
		source:    source,
		publisher: publisher,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run relays events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "outbox relay started",
		"interval", r.interval.String(),
		"batch_size", r.batchSize,
	)
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain publishes pending events batch by batch until the outbox is empty or
// a publish fails, returning how many events were published. A failed event
// stops the pass so later events are never delivered ahead of it.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := r.source.Pending(ctx, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("load pending events: %w", err)
		}
		published, pubErr := r.publish(ctx, batch)
		if len(published) > 0 {
			if err := r.source.MarkPublished(ctx, published...); err != nil {
				return total, fmt.Errorf("mark events published: %w", err)
			}
		}
		total += len(published)

		failed := 0
		if pubErr != nil {
			failed = 1
		}
		if r.metrics != nil {
			r.metrics.RecordOutboxPass(len(batch)-len(published), len(published), failed)
		}
		if pubErr != nil {
			return total, pubErr
		}
		if len(batch) < r.batchSize {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, batch []events.Event) ([]uuid.UUID, error) {
	published := make([]uuid.UUID, 0, len(batch))
	for _, event := range batch {
		if err := r.publisher.Publish(ctx, event); err != nil {
			return published, fmt.Errorf("publish event %s (%s): %w", event.ID, event.Kind, err)
		}
		published = append(published, event.ID)
	}
	return published, nil
}
