package payment

import (
	"context"
	"log/slog"

	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/circuit"
	"remittance/pkg/platform/sentinel"
)

// BreakerRail refuses transfers while the wrapped rail is failing.
// Domain errors returned by the rail are passed through without counting as
// rail failures.
type BreakerRail struct {
	next    Rail
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewBreakerRail(next Rail, breaker *circuit.Breaker, logger *slog.Logger) *BreakerRail {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRail{next: next, breaker: breaker, logger: logger}
}

func (r *BreakerRail) Transfer(ctx context.Context, t Transfer) error {
	if !r.breaker.Allow() {
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "payment rail unavailable")
	}
	err := r.next.Transfer(ctx, t)
	if err == nil {
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "payment rail recovered", "breaker", r.breaker.Name())
		}
		return nil
	}
	if isRailFailure(err) {
		if _, change := r.breaker.RecordFailure(); change.Opened {
			r.logger.WarnContext(ctx, "payment rail circuit opened",
				"breaker", r.breaker.Name(),
				"error", err,
			)
		}
	}
	return err
}

func isRailFailure(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		return true
	}
	return false
}
