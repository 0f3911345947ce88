package admin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"remittance/internal/remittance/admin"
	"remittance/internal/remittance/engine"
	"remittance/internal/remittance/events"
	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/metrics"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/payment"
	"remittance/internal/remittance/payment/mocks"
	"remittance/internal/remittance/store/memory"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/requestcontext"
)

var (
	owner    = id.MustParseAddress("0x00000000000000000000000000000000000000aa")
	intruder = id.MustParseAddress("0x00000000000000000000000000000000000000bb")
	alice    = id.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob      = id.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	carol    = id.MustParseAddress("0x00000000000000000000000000000000000000c0")
)

// =============================================================================
// Admin Command Test Suite
// =============================================================================
// Justification: every command is owner-gated and most are blocked while the
// system is paused. These tests pin the authorization rules, the emitted events
// and the batch semantics.

type AdminSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	rail    *payment.LedgerRail
	engine  *engine.Engine
	admin   *admin.Service
	metrics *metrics.Metrics
}

func TestAdminSuite(t *testing.T) {
	suite.Run(t, new(AdminSuite))
}

func (s *AdminSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
	s.store = memory.New()
	s.rail = payment.NewLedgerRail()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	var err error
	s.engine, err = engine.New(s.store, s.rail)
	s.Require().NoError(err)
	s.admin, err = admin.New(s.store, s.rail, admin.WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.Require().NoError(s.engine.Bootstrap(s.ctx, owner, limits.DefaultTierLimits.Clone()))
}

func (s *AdminSuite) submit(addrs ...id.Address) {
	for _, addr := range addrs {
		s.Require().NoError(s.engine.RequestKYC(s.ctx, addr, "Qm-"+addr.Hex()))
	}
}

func (s *AdminSuite) info(addr id.Address) *models.UserInfo {
	info, err := s.engine.UserInfo(s.ctx, addr)
	s.Require().NoError(err)
	return info
}

// drain returns and clears the outbox.
func (s *AdminSuite) drain() []events.Event {
	pending, err := s.store.Pending(s.ctx, 100)
	s.Require().NoError(err)
	for _, e := range pending {
		s.Require().NoError(s.store.MarkPublished(s.ctx, e.ID))
	}
	return pending
}

func kinds(evts []events.Event) []events.Kind {
	out := make([]events.Kind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}

func (s *AdminSuite) TestNewRequiresCollaborators() {
	_, err := admin.New(nil, s.rail)
	s.Error(err)
	_, err = admin.New(s.store, nil)
	s.Error(err)
}

func (s *AdminSuite) TestNonOwnerIsRefused() {
	s.submit(alice)
	commands := map[string]func() error{
		admin.CmdApproveKYC: func() error { return s.admin.ApproveKYC(s.ctx, intruder, alice, models.Tier1) },
		admin.CmdRejectKYC:  func() error { return s.admin.RejectKYC(s.ctx, intruder, alice, "no") },
		admin.CmdBatchApprove: func() error {
			_, err := s.admin.BatchApprove(s.ctx, intruder, []id.Address{alice}, []models.Tier{models.Tier1})
			return err
		},
		admin.CmdSetUserTier:  func() error { return s.admin.SetUserTier(s.ctx, intruder, alice, models.Tier2) },
		admin.CmdSetTierLimit: func() error { return s.admin.SetTierLimit(s.ctx, intruder, models.Tier1, 1) },
		admin.CmdSetFrozen:    func() error { return s.admin.SetFrozen(s.ctx, intruder, alice, true) },
		admin.CmdSetBlacklist: func() error { return s.admin.SetBlacklist(s.ctx, intruder, alice, true) },
		admin.CmdSetWhitelist: func() error { return s.admin.SetWhitelist(s.ctx, intruder, alice, true) },
		admin.CmdPause:        func() error { return s.admin.Pause(s.ctx, intruder) },
		admin.CmdUnpause:      func() error { return s.admin.Unpause(s.ctx, intruder) },
		admin.CmdEmergencyWithdraw: func() error {
			_, err := s.admin.EmergencyWithdraw(s.ctx, intruder)
			return err
		},
	}
	for name, run := range commands {
		s.Run(name, func() {
			err := run()
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "got %v", err)
			s.Equal(1.0, testutil.ToFloat64(s.metrics.Rejected.WithLabelValues(name, string(dErrors.CodeUnauthorized))))
		})
	}
	s.Equal(models.KYCPending, s.info(alice).KYCStatus)
}

func (s *AdminSuite) TestApproveKYC() {
	s.submit(alice)
	s.drain()

	s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier2))
	info := s.info(alice)
	s.Equal(models.KYCApproved, info.KYCStatus)
	s.Equal(models.Tier2, info.Tier)
	s.True(info.Whitelisted)
	s.Equal(uint64(5000), info.RemainingLimit)

	evts := s.drain()
	s.Equal([]events.Kind{events.KindKYCApproved, events.KindTierUpdated, events.KindUserWhitelisted}, kinds(evts))
	for _, e := range evts {
		s.Equal(owner, e.Actor)
		s.Equal(alice, e.Subject)
		s.Equal("req-1", e.RequestID)
	}
	s.Equal(models.Tier2, evts[1].Tier)
	s.Require().NotNil(evts[2].Status)
	s.True(*evts[2].Status)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.AdminCommands.WithLabelValues(admin.CmdApproveKYC)))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.KYCDecisions.WithLabelValues("approved")))
}

func (s *AdminSuite) TestApproveKYCRefusals() {
	s.Run("no request", func() {
		err := s.admin.ApproveKYC(s.ctx, owner, carol, models.Tier1)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("inactive tier", func() {
		s.submit(alice)
		err := s.admin.ApproveKYC(s.ctx, owner, alice, models.TierNone)
		s.True(dErrors.HasCode(err, dErrors.CodeTierNotConfigured))
		s.Equal(models.KYCPending, s.info(alice).KYCStatus)
	})

	s.Run("zero address", func() {
		err := s.admin.ApproveKYC(s.ctx, owner, id.Address{}, models.Tier1)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("already approved", func() {
		s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier1))
		err := s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier2)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(models.Tier1, s.info(alice).Tier)
	})
}

func (s *AdminSuite) TestRejectKYC() {
	s.submit(alice)
	s.drain()

	err := s.admin.RejectKYC(s.ctx, owner, alice, "   ")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	s.Require().NoError(s.admin.RejectKYC(s.ctx, owner, alice, " document expired "))
	s.Equal(models.KYCRejected, s.info(alice).KYCStatus)
	evts := s.drain()
	s.Require().Len(evts, 1)
	s.Equal(events.KindKYCRejected, evts[0].Kind)
	s.Equal("document expired", evts[0].Reason)

	err = s.admin.RejectKYC(s.ctx, owner, alice, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *AdminSuite) TestBatchApprove() {
	s.submit(alice, bob)
	s.drain()

	outcomes, err := s.admin.BatchApprove(s.ctx, owner,
		[]id.Address{alice, carol, bob, alice},
		[]models.Tier{models.Tier1, models.Tier1, models.Tier3, models.Tier2},
	)
	s.Require().NoError(err)
	s.Require().Len(outcomes, 4)

	s.True(outcomes[0].OK())
	s.True(dErrors.HasCode(outcomes[1].Err, dErrors.CodeInvalidState), "carol never submitted")
	s.True(outcomes[2].OK())
	s.True(dErrors.HasCode(outcomes[3].Err, dErrors.CodeInvalidState), "duplicate entry sees the first approval")

	s.Equal(models.Tier1, s.info(alice).Tier)
	s.Equal(models.Tier3, s.info(bob).Tier)
	s.Equal(models.KYCNone, s.info(carol).KYCStatus)

	evts := s.drain()
	s.Len(evts, 6, "only successful entries emit events")
	s.Equal(alice, evts[0].Subject)
	s.Equal(bob, evts[3].Subject)
}

func (s *AdminSuite) TestBatchApproveMalformed() {
	cases := []struct {
		name  string
		users []id.Address
		tiers []models.Tier
	}{
		{"empty", nil, nil},
		{"length mismatch", []id.Address{alice, bob}, []models.Tier{models.Tier1}},
		{"too large", make([]id.Address, admin.MaxBatchSize+1), make([]models.Tier, admin.MaxBatchSize+1)},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.admin.BatchApprove(s.ctx, owner, tc.users, tc.tiers)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func (s *AdminSuite) TestSetUserTier() {
	s.submit(alice)

	err := s.admin.SetUserTier(s.ctx, owner, alice, models.Tier2)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "pending accounts have no tier to change")

	s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier1))
	s.Require().NoError(s.engine.Send(s.ctx, alice, bob, 1000))

	s.Require().NoError(s.admin.SetUserTier(s.ctx, owner, alice, models.Tier2))
	info := s.info(alice)
	s.Equal(models.Tier2, info.Tier)
	s.Equal(uint64(4000), info.RemainingLimit, "usage carries over")

	err = s.admin.SetUserTier(s.ctx, owner, alice, models.TierNone)
	s.True(dErrors.HasCode(err, dErrors.CodeTierNotConfigured))
}

func (s *AdminSuite) TestSetUserTierDowngradeCapsUsage() {
	s.submit(alice)
	s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier2))
	s.Require().NoError(s.engine.Send(s.ctx, alice, bob, 3000))

	s.Require().NoError(s.admin.SetUserTier(s.ctx, owner, alice, models.Tier1))
	info := s.info(alice)
	s.Equal(models.Tier1, info.Tier)
	s.Equal(uint64(1500), info.TodayUsed)
	s.LessOrEqual(info.TodayUsed, info.DailyLimit)
	s.Zero(info.RemainingLimit)

	err := s.engine.Send(s.ctx, alice, bob, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeLimitExceeded))
}

func (s *AdminSuite) TestSetTierLimit() {
	s.drain()
	s.Require().NoError(s.admin.SetTierLimit(s.ctx, owner, models.Tier3, 25000))
	limit, err := s.engine.TierLimit(s.ctx, models.Tier3)
	s.Require().NoError(err)
	s.Equal(uint64(25000), limit)

	evts := s.drain()
	s.Require().Len(evts, 1)
	s.Equal(events.KindTierLimitUpdated, evts[0].Kind)
	s.Equal(uint64(25000), evts[0].Amount)
	s.Equal(models.Tier3, evts[0].Tier)

	err = s.admin.SetTierLimit(s.ctx, owner, models.TierNone, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	err = s.admin.SetTierLimit(s.ctx, owner, models.Tier1, models.MaxAmount+1)
	s.True(dErrors.HasCode(err, dErrors.CodeOverflow))
}

func (s *AdminSuite) TestFlagsAreIdempotent() {
	s.drain()
	s.Require().NoError(s.admin.SetFrozen(s.ctx, owner, alice, true))
	s.Require().NoError(s.admin.SetFrozen(s.ctx, owner, alice, true))
	s.Require().NoError(s.admin.SetBlacklist(s.ctx, owner, alice, true))
	s.Require().NoError(s.admin.SetWhitelist(s.ctx, owner, alice, false))

	info := s.info(alice)
	s.True(info.Frozen)
	s.True(info.Blacklisted)
	s.Equal([]events.Kind{events.KindFrozen, events.KindUserBlacklisted}, kinds(s.drain()),
		"unchanged flags emit nothing")
	s.Equal(2.0, testutil.ToFloat64(s.metrics.AdminCommands.WithLabelValues(admin.CmdSetFrozen)))
}

func (s *AdminSuite) TestPauseBlocksAdminCommands() {
	s.submit(alice)
	s.Require().NoError(s.admin.Pause(s.ctx, owner))
	s.Require().NoError(s.admin.Pause(s.ctx, owner), "pausing twice is not an error")

	err := s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier1)
	s.True(dErrors.HasCode(err, dErrors.CodeSystemPaused))
	err = s.admin.SetTierLimit(s.ctx, owner, models.Tier1, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeSystemPaused))
	err = s.admin.SetFrozen(s.ctx, owner, alice, true)
	s.True(dErrors.HasCode(err, dErrors.CodeSystemPaused))

	s.Require().NoError(s.admin.Unpause(s.ctx, owner))
	s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier1))

	var paused, unpaused int
	for _, e := range s.drain() {
		switch e.Kind {
		case events.KindPaused:
			paused++
		case events.KindUnpaused:
			unpaused++
		}
	}
	s.Equal(1, paused)
	s.Equal(1, unpaused)
}

func (s *AdminSuite) fund(amount uint64) {
	s.submit(alice)
	s.Require().NoError(s.admin.ApproveKYC(s.ctx, owner, alice, models.Tier3))
	s.Require().NoError(s.engine.Send(s.ctx, alice, bob, amount))
}

func (s *AdminSuite) TestEmergencyWithdraw() {
	s.fund(1200)

	_, err := s.admin.EmergencyWithdraw(s.ctx, owner)
	s.True(dErrors.HasCode(err, dErrors.CodeNotPaused))

	s.Require().NoError(s.admin.Pause(s.ctx, owner))
	s.drain()
	amount, err := s.admin.EmergencyWithdraw(s.ctx, owner)
	s.Require().NoError(err)
	s.Equal(uint64(1200), amount)

	transfers := s.rail.Transfers()
	s.Require().Len(transfers, 1)
	s.Equal(owner, transfers[0].To)
	s.Equal(payment.ReasonEmergencyWithdraw, transfers[0].Reason)

	evts := s.drain()
	s.Require().Len(evts, 1)
	s.Equal(events.KindEmergencyWithdrawn, evts[0].Kind)
	s.Equal(transfers[0].Reference, evts[0].ID)
	s.Equal(1200.0, testutil.ToFloat64(s.metrics.Withdrawn))

	amount, err = s.admin.EmergencyWithdraw(s.ctx, owner)
	s.Require().NoError(err)
	s.Zero(amount)
	s.Len(s.rail.Transfers(), 1, "empty custody moves nothing")
}

func (s *AdminSuite) TestEmergencyWithdrawRailFailureRollsBack() {
	s.fund(800)
	s.Require().NoError(s.admin.Pause(s.ctx, owner))

	ctrl := gomock.NewController(s.T())
	rail := mocks.NewMockRail(ctrl)
	rail.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(errors.New("rail offline"))
	failing, err := admin.New(s.store, rail)
	s.Require().NoError(err)

	_, err = failing.EmergencyWithdraw(s.ctx, owner)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	sys, err := s.engine.SystemInfo(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(800), sys.ContractBalance)
}
