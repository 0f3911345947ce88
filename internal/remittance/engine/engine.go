// Package engine is the remittance authorization engine: it runs every account
// operation (KYC submission, send, claim and the reads) as one serialized state
// transaction over the ledger, the KYC registry, the limit policy and the
// access guard.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"remittance/internal/remittance/access"
	"remittance/internal/remittance/events"
	"remittance/internal/remittance/kyc"
	"remittance/internal/remittance/ledger"
	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/metrics"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/payment"
	"remittance/internal/remittance/ports"
	"remittance/internal/remittance/store"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/sentinel"
	"remittance/pkg/requestcontext"
)

const tracerName = "remittance/engine"

// Engine executes account operations.
type Engine struct {
	store   store.Store
	rail    payment.Rail
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// New constructs an Engine over st, paying claims out through rail.
func New(st store.Store, rail payment.Rail, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("remittance store is required")
	}
	if rail == nil {
		return nil, errors.New("payment rail is required")
	}
	e := &Engine{
		store:  st,
		rail:   rail,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Bootstrap initialises the system singleton with owner and seeds the tier
// limit table on first start. On later starts the stored owner must match.
func (e *Engine) Bootstrap(ctx context.Context, owner id.Address, defaults models.TierLimitTable) error {
	if owner.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "owner address is required")
	}
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := tx.System(ctx)
		switch {
		case err == nil:
			if sys.Owner != owner {
				return dErrors.Newf(dErrors.CodeInvalidState, "system already initialised with owner %s", sys.Owner)
			}
			return nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return err
		}
		if err := tx.SaveSystem(ctx, &models.SystemState{Owner: owner}); err != nil {
			return err
		}
		for tier, limit := range defaults {
			if err := limits.ValidateLimit(tier, limit); err != nil {
				return err
			}
			if err := tx.SaveTierLimit(ctx, tier, limit); err != nil {
				return err
			}
		}
		e.logger.InfoContext(ctx, "system initialised", "owner", owner.String(), "tiers", len(defaults))
		return nil
	})
	return store.Translate(err)
}

// RequestKYC submits or resubmits caller's verification request.
func (e *Engine) RequestKYC(ctx context.Context, caller id.Address, documentHash string) (err error) {
	ctx, done := e.begin(ctx, "request_kyc", attribute.String("remittance.caller", caller.String()))
	defer func() { done(err) }()

	now := requestcontext.Now(ctx)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := LoadSystem(ctx, tx)
		if err != nil {
			return err
		}
		if err := access.CheckNotPaused(sys); err != nil {
			return err
		}
		if caller.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "caller address is required")
		}
		acct, err := tx.Account(ctx, caller)
		if err != nil {
			return err
		}
		existing, err := tx.KYCRequest(ctx, caller)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		req, err := kyc.Submit(acct, existing, documentHash, now)
		if err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SaveKYCRequest(ctx, req); err != nil {
			return err
		}
		event := NewEvent(ctx, events.KindKYCRequested, caller, caller, now)
		event.DocumentHash = req.DocumentHash
		return tx.Append(ctx, event)
	})
	if err = store.Translate(err); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordKYC("requested")
	}
	ports.LogAudit(ctx, e.logger, string(events.KindKYCRequested), "actor", caller.String())
	return nil
}

// Send escrows amount for recipient, charged against sender's daily limit.
// Checks run in a fixed order and nothing is written unless all of them pass.
func (e *Engine) Send(ctx context.Context, sender, recipient id.Address, amount uint64) (err error) {
	ctx, done := e.begin(ctx, "send",
		attribute.String("remittance.sender", sender.String()),
		attribute.String("remittance.recipient", recipient.String()),
		attribute.String("remittance.amount", strconv.FormatUint(amount, 10)),
	)
	defer func() { done(err) }()

	now := requestcontext.Now(ctx)
	day := limits.DayIndex(now)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := LoadSystem(ctx, tx)
		if err != nil {
			return err
		}
		if err := access.CheckNotPaused(sys); err != nil {
			return err
		}
		from, err := tx.Account(ctx, sender)
		if err != nil {
			return err
		}
		if err := access.CheckActive(from); err != nil {
			return err
		}
		to, err := tx.Account(ctx, recipient)
		if err != nil {
			return err
		}
		if err := access.CheckRecipient(to); err != nil {
			return err
		}
		if recipient.IsZero() {
			return dErrors.New(dErrors.CodeInvalidInput, "recipient address is required")
		}
		if sender == recipient {
			return dErrors.New(dErrors.CodeSelfSend, "cannot send to yourself")
		}
		if amount == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "amount must be greater than zero")
		}
		table, err := tx.TierLimits(ctx)
		if err != nil {
			return err
		}
		if err := limits.RecordUsage(from, table, day, amount); err != nil {
			return err
		}
		if err := ledger.Credit(sys, to, amount); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, from); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, to); err != nil {
			return err
		}
		if err := tx.SaveSystem(ctx, sys); err != nil {
			return err
		}
		event := NewEvent(ctx, events.KindSent, sender, sender, now).WithRecipient(recipient)
		event.Amount = amount
		return tx.Append(ctx, event)
	})
	if err = store.Translate(err); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordSend(amount)
	}
	ports.LogAudit(ctx, e.logger, string(events.KindSent),
		"actor", sender.String(),
		"recipient", recipient.String(),
		"amount", amount,
	)
	return nil
}

// Claim pays caller's whole escrowed balance out through the payment rail and
// returns the amount. The balance is zeroed and the event staged before the
// rail is invoked; a rail failure rolls the claim back, and once the rail has
// paid the claim commits even if ctx has ended.
func (e *Engine) Claim(ctx context.Context, caller id.Address) (amount uint64, err error) {
	ctx, done := e.begin(ctx, "claim", attribute.String("remittance.caller", caller.String()))
	defer func() { done(err) }()

	now := requestcontext.Now(ctx)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := LoadSystem(ctx, tx)
		if err != nil {
			return err
		}
		if err := access.CheckNotPaused(sys); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, caller)
		if err != nil {
			return err
		}
		if err := access.CheckActive(acct); err != nil {
			return err
		}
		released, err := ledger.Drain(sys, acct)
		if err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SaveSystem(ctx, sys); err != nil {
			return err
		}

		event := NewEvent(ctx, events.KindClaimed, caller, caller, now)
		event.Amount = released
		transfer := payment.Transfer{
			Reference: event.ID,
			To:        caller,
			Amount:    released,
			Reason:    payment.ReasonClaim,
		}
		if err := tx.Append(ctx, event); err != nil {
			return err
		}
		// The payout is the last step; nothing after it may fail.
		if err := e.rail.Transfer(ctx, transfer); err != nil {
			return RailError(err)
		}
		amount = released
		return nil
	})
	if err = store.Translate(err); err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.RecordClaim(amount)
	}
	ports.LogAudit(ctx, e.logger, string(events.KindClaimed),
		"actor", caller.String(),
		"amount", amount,
	)
	return amount, nil
}

// begin opens a span and returns the completion hook shared by every operation.
func (e *Engine) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		defer span.End()
		if e.metrics != nil {
			e.metrics.ObserveOperation(operation, start)
		}
		if err == nil {
			return
		}
		code := dErrors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		if e.metrics != nil {
			e.metrics.RecordRejected(operation, string(code))
		}
		ports.LogRejected(ctx, e.logger, operation, err)
	}
}

// LoadSystem reads the singleton, failing InvalidState before bootstrap.
func LoadSystem(ctx context.Context, tx store.Tx) (*models.SystemState, error) {
	sys, err := tx.System(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "system not initialised")
	}
	return sys, err
}

// NewEvent builds an event stamped with the request ID carried by ctx.
func NewEvent(ctx context.Context, kind events.Kind, actor, subject id.Address, at time.Time) events.Event {
	event := events.New(kind, actor, subject, at)
	event.RequestID = requestcontext.RequestID(ctx)
	return event
}

// RailError keeps domain errors raised by the rail and marks anything else as
// an unavailable rail.
func RailError(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "payment transfer failed")
}
