// Package admin is the administrative command surface. Every command checks
// that the caller is the system owner before delegating to the KYC registry,
// the limit policy, the access guard or the ledger.
package admin

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
	"remittance/internal/remittance/engine"
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

const tracerName = "remittance/admin"

// MaxBatchSize bounds a single batch approval.
const MaxBatchSize = 200

// Command names, used for metrics labels and spans.
const (
	CmdApproveKYC        = "approve_kyc"
	CmdRejectKYC         = "reject_kyc"
	CmdBatchApprove      = "batch_approve"
	CmdSetUserTier       = "set_user_tier"
	CmdSetTierLimit      = "set_tier_limit"
	CmdSetFrozen         = "set_frozen"
	CmdSetBlacklist      = "set_blacklist"
	CmdSetWhitelist      = "set_whitelist"
	CmdPause             = "pause"
	CmdUnpause           = "unpause"
	CmdEmergencyWithdraw = "emergency_withdraw"
)

// Service executes owner-only commands.
type Service struct {
	store   store.Store
	rail    payment.Rail
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. rail receives emergency withdrawals.
func New(st store.Store, rail payment.Rail, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("remittance store is required")
	}
	if rail == nil {
		return nil, errors.New("payment rail is required")
	}
	s := &Service{
		store:  st,
		rail:   rail,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Outcome is the result of one batch entry.
type Outcome struct {
	Address id.Address
	Tier    models.Tier
	Err     error
}

func (o Outcome) OK() bool { return o.Err == nil }

// ApproveKYC approves target's pending request at tier and whitelists it.
func (s *Service) ApproveKYC(ctx context.Context, caller, target id.Address, tier models.Tier) error {
	return s.command(ctx, CmdApproveKYC, caller, false, func(ctx context.Context, c *cmd) error {
		return c.approve(ctx, target, tier)
	}, attribute.String("remittance.target", target.String()), attribute.String("remittance.tier", tier.String()))
}

// RejectKYC rejects target's pending request with reason.
func (s *Service) RejectKYC(ctx context.Context, caller, target id.Address, reason string) error {
	return s.command(ctx, CmdRejectKYC, caller, false, func(ctx context.Context, c *cmd) error {
		acct, req, err := c.kycRecords(ctx, target)
		if err != nil {
			return err
		}
		if err := kyc.Reject(acct, req, reason); err != nil {
			return err
		}
		if err := c.tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := c.tx.SaveKYCRequest(ctx, req); err != nil {
			return err
		}
		event := c.event(ctx, events.KindKYCRejected, target)
		event.Reason = req.RejectionReason
		c.emit(event)
		return nil
	}, attribute.String("remittance.target", target.String()))
}

// BatchApprove approves each (targets[i], tiers[i]) pair. Malformed batches and
// callers that may not run the command fail as a whole; otherwise every entry
// is attempted in order within one transaction and its outcome reported.
func (s *Service) BatchApprove(ctx context.Context, caller id.Address, targets []id.Address, tiers []models.Tier) ([]Outcome, error) {
	if len(targets) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "batch is empty")
	}
	if len(targets) != len(tiers) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "users and tiers must have the same length")
	}
	if len(targets) > MaxBatchSize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "batch exceeds %d entries", MaxBatchSize)
	}
	var outcomes []Outcome
	err := s.command(ctx, CmdBatchApprove, caller, false, func(ctx context.Context, c *cmd) error {
		outcomes = make([]Outcome, len(targets))
		for i, target := range targets {
			outcomes[i] = Outcome{Address: target, Tier: tiers[i]}
			mark := len(c.events)
			if err := c.approve(ctx, target, tiers[i]); err != nil {
				if !isEntryError(err) {
					return err
				}
				c.events = c.events[:mark]
				outcomes[i].Err = err
				c.logger.WarnContext(ctx, "batch entry rejected",
					"target", target.String(),
					"code", string(dErrors.CodeOf(err)),
				)
			}
		}
		return nil
	}, attribute.Int("remittance.batch_size", len(targets)))
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// isEntryError separates per-entry refusals from failures that abort the batch.
func isEntryError(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		return false
	}
	return true
}

// SetUserTier moves an approved account to another configured tier. Today's
// usage is kept, capped at the new tier's limit.
func (s *Service) SetUserTier(ctx context.Context, caller, target id.Address, tier models.Tier) error {
	return s.command(ctx, CmdSetUserTier, caller, false, func(ctx context.Context, c *cmd) error {
		acct, err := c.account(ctx, target)
		if err != nil {
			return err
		}
		if acct.KYCStatus != models.KYCApproved {
			return dErrors.New(dErrors.CodeInvalidState, "KYC not approved")
		}
		table, err := c.tx.TierLimits(ctx)
		if err != nil {
			return err
		}
		if err := limits.RequireConfigured(table, tier); err != nil {
			return err
		}
		acct.Tier = tier
		if limit, _ := table.Limit(tier); acct.TodayUsed > limit {
			acct.TodayUsed = limit
		}
		if err := c.tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		event := c.event(ctx, events.KindTierUpdated, target)
		event.Tier = tier
		c.emit(event)
		return nil
	}, attribute.String("remittance.target", target.String()), attribute.String("remittance.tier", tier.String()))
}

// SetTierLimit sets the daily ceiling of tier. Lowering a limit below an
// account's usage today leaves that account with nothing remaining.
func (s *Service) SetTierLimit(ctx context.Context, caller id.Address, tier models.Tier, limit uint64) error {
	return s.command(ctx, CmdSetTierLimit, caller, false, func(ctx context.Context, c *cmd) error {
		if err := limits.ValidateLimit(tier, limit); err != nil {
			return err
		}
		if err := c.tx.SaveTierLimit(ctx, tier, limit); err != nil {
			return err
		}
		event := c.event(ctx, events.KindTierLimitUpdated, c.sys.Owner)
		event.Tier = tier
		event.Amount = limit
		c.emit(event)
		return nil
	}, attribute.String("remittance.tier", tier.String()), attribute.String("remittance.limit", strconv.FormatUint(limit, 10)))
}

// SetFrozen freezes or unfreezes target. A frozen account can neither send,
// receive nor claim.
func (s *Service) SetFrozen(ctx context.Context, caller, target id.Address, frozen bool) error {
	return s.setFlag(ctx, CmdSetFrozen, caller, target, frozen, access.SetFrozen, events.KindFrozen)
}

// SetBlacklist excludes or readmits target.
func (s *Service) SetBlacklist(ctx context.Context, caller, target id.Address, blacklisted bool) error {
	return s.setFlag(ctx, CmdSetBlacklist, caller, target, blacklisted, access.SetBlacklist, events.KindUserBlacklisted)
}

// SetWhitelist grants or withdraws target's whitelist entry.
func (s *Service) SetWhitelist(ctx context.Context, caller, target id.Address, whitelisted bool) error {
	return s.setFlag(ctx, CmdSetWhitelist, caller, target, whitelisted, access.SetWhitelist, events.KindUserWhitelisted)
}

func (s *Service) setFlag(
	ctx context.Context,
	name string,
	caller, target id.Address,
	value bool,
	set func(*models.Account, bool) bool,
	kind events.Kind,
) error {
	return s.command(ctx, name, caller, false, func(ctx context.Context, c *cmd) error {
		acct, err := c.account(ctx, target)
		if err != nil {
			return err
		}
		if !set(acct, value) {
			return nil
		}
		if err := c.tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		c.emit(c.event(ctx, kind, target).WithStatus(value))
		return nil
	}, attribute.String("remittance.target", target.String()), attribute.Bool("remittance.value", value))
}

// Pause halts sends, claims, KYC submissions and admin commands other than
// Unpause and EmergencyWithdraw. Pausing twice is not an error.
func (s *Service) Pause(ctx context.Context, caller id.Address) error {
	return s.setPaused(ctx, CmdPause, caller, true, events.KindPaused)
}

// Unpause resumes normal operation.
func (s *Service) Unpause(ctx context.Context, caller id.Address) error {
	return s.setPaused(ctx, CmdUnpause, caller, false, events.KindUnpaused)
}

func (s *Service) setPaused(ctx context.Context, name string, caller id.Address, paused bool, kind events.Kind) error {
	return s.command(ctx, name, caller, true, func(ctx context.Context, c *cmd) error {
		if !access.SetPaused(c.sys, paused) {
			return nil
		}
		c.dirty = true
		c.emit(c.event(ctx, kind, c.sys.Owner))
		return nil
	})
}

// EmergencyWithdraw moves the whole custodied balance to the owner. It is only
// available while the system is paused. Per-account escrow records are kept
// for reconciliation, but the custody epoch moves on so they can never be
// claimed, including from value deposited later.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller id.Address) (uint64, error) {
	var withdrawn uint64
	err := s.command(ctx, CmdEmergencyWithdraw, caller, true, func(ctx context.Context, c *cmd) error {
		if !c.sys.Paused {
			return dErrors.New(dErrors.CodeNotPaused, "system must be paused")
		}
		amount := ledger.WithdrawAll(c.sys)
		c.dirty = true
		event := c.event(ctx, events.KindEmergencyWithdrawn, c.sys.Owner)
		event.Amount = amount
		if amount > 0 {
			transfer := payment.Transfer{
				Reference: event.ID,
				To:        c.sys.Owner,
				Amount:    amount,
				Reason:    payment.ReasonEmergencyWithdraw,
			}
			c.payout = func(ctx context.Context) error {
				if err := s.rail.Transfer(ctx, transfer); err != nil {
					return engine.RailError(err)
				}
				return nil
			}
		}
		c.emit(event)
		withdrawn = amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.RecordWithdraw(withdrawn)
	}
	return withdrawn, nil
}

// cmd is the state shared by one command's transaction.
type cmd struct {
	tx     store.Tx
	sys    *models.SystemState
	caller id.Address
	now    time.Time
	logger *slog.Logger
	events []events.Event
	// dirty marks sys for saving on commit.
	dirty bool
	// payout runs after every write of the command has been staged.
	payout func(ctx context.Context) error
}

func (c *cmd) emit(evts ...events.Event) {
	c.events = append(c.events, evts...)
}

func (c *cmd) event(ctx context.Context, kind events.Kind, subject id.Address) events.Event {
	return engine.NewEvent(ctx, kind, c.caller, subject, c.now)
}

func (c *cmd) account(ctx context.Context, target id.Address) (*models.Account, error) {
	if target.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user address is required")
	}
	return c.tx.Account(ctx, target)
}

func (c *cmd) kycRecords(ctx context.Context, target id.Address) (*models.Account, *models.KYCRequest, error) {
	acct, err := c.account(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	req, err := c.tx.KYCRequest(ctx, target)
	if errors.Is(err, sentinel.ErrNotFound) {
		return acct, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return acct, req, nil
}

func (c *cmd) approve(ctx context.Context, target id.Address, tier models.Tier) error {
	acct, req, err := c.kycRecords(ctx, target)
	if err != nil {
		return err
	}
	table, err := c.tx.TierLimits(ctx)
	if err != nil {
		return err
	}
	if err := kyc.Approve(acct, req, tier, table); err != nil {
		return err
	}
	if err := c.tx.SaveAccount(ctx, acct); err != nil {
		return err
	}
	if err := c.tx.SaveKYCRequest(ctx, req); err != nil {
		return err
	}
	tierEvent := c.event(ctx, events.KindTierUpdated, target)
	tierEvent.Tier = tier
	c.emit(
		c.event(ctx, events.KindKYCApproved, target),
		tierEvent,
		c.event(ctx, events.KindUserWhitelisted, target).WithStatus(true),
	)
	return nil
}

// command runs fn in a transaction after the owner and pause checks, then
// appends the events fn emitted.
func (s *Service) command(
	ctx context.Context,
	name string,
	caller id.Address,
	allowWhilePaused bool,
	fn func(ctx context.Context, c *cmd) error,
	attrs ...attribute.KeyValue,
) (err error) {
	start := time.Now()
	attrs = append(attrs, attribute.String("remittance.caller", caller.String()))
	ctx, span := s.tracer.Start(ctx, "admin."+name, trace.WithAttributes(attrs...))
	defer span.End()

	var committed []events.Event
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := engine.LoadSystem(ctx, tx)
		if err != nil {
			return err
		}
		if !sys.IsOwner(caller) {
			return dErrors.New(dErrors.CodeUnauthorized, "caller is not the owner")
		}
		if !allowWhilePaused {
			if err := access.CheckNotPaused(sys); err != nil {
				return err
			}
		}
		c := &cmd{tx: tx, sys: sys, caller: caller, now: requestcontext.Now(ctx), logger: s.logger}
		if err := fn(ctx, c); err != nil {
			return err
		}
		if c.dirty {
			if err := tx.SaveSystem(ctx, sys); err != nil {
				return err
			}
		}
		if err := tx.Append(ctx, c.events...); err != nil {
			return err
		}
		if c.payout != nil {
			if err := c.payout(ctx); err != nil {
				return err
			}
		}
		committed = c.events
		return nil
	})
	err = store.Translate(err)

	if s.metrics != nil {
		s.metrics.ObserveOperation(name, start)
	}
	if err != nil {
		code := dErrors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		if s.metrics != nil {
			s.metrics.RecordRejected(name, string(code))
		}
		ports.LogRejected(ctx, s.logger, name, err, "actor", caller.String())
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordAdminCommand(name)
		for _, e := range committed {
			switch e.Kind {
			case events.KindKYCApproved:
				s.metrics.RecordKYC("approved")
			case events.KindKYCRejected:
				s.metrics.RecordKYC("rejected")
			}
		}
	}
	for _, e := range committed {
		ports.LogAudit(ctx, s.logger, string(e.Kind),
			"actor", caller.String(),
			"subject", e.Subject.String(),
		)
	}
	return nil
}
