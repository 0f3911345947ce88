package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Notifier turns NOTIFY messages on OutboxChannel into coalesced wake signals.
type Notifier struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
}

// Listen opens a dedicated LISTEN connection to dsn. Reconnects also signal,
// since notifications sent while disconnected are lost.
func Listen(ctx context.Context, dsn string, logger *slog.Logger) (*Notifier, error) {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			logger.WarnContext(ctx, "outbox listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			logger.InfoContext(ctx, "outbox listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.WarnContext(ctx, "outbox listener connection attempt failed", "error", err)
		}
	})
	if err := listener.Listen(OutboxChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", OutboxChannel, err)
	}
	n := &Notifier{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go n.forward()
	return n, nil
}

func (n *Notifier) forward() {
	for {
		select {
		case <-n.done:
			return
		case _, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		}
	}
}

// C returns the wake channel.
func (n *Notifier) C() <-chan struct{} {
	return n.wake
}

func (n *Notifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
