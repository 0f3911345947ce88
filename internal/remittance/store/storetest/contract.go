// Package storetest holds the behavioural suite every store implementation must
// pass. Implementations embed Suite and set NewStore in SetupTest.
package storetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"remittance/internal/remittance/events"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/store"
	id "remittance/pkg/domain"
	"remittance/pkg/platform/sentinel"
)

// Backend is a store under test.
type Backend interface {
	store.Store
	store.Outbox
}

var (
	Alice = id.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	Bob   = id.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	Carol = id.MustParseAddress("0x00000000000000000000000000000000000000c0")
)

type Suite struct {
	suite.Suite
	// NewStore returns an empty backend. Called once per test.
	NewStore func() Backend
	Store    Backend
	ctx      context.Context
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.Store = s.NewStore()
	s.ctx = context.Background()
}

func (s *Suite) commit(fn func(ctx context.Context, tx store.Tx) error) {
	s.Require().NoError(s.Store.RunInTx(s.ctx, fn))
}

func (s *Suite) account(addr id.Address) *models.Account {
	var acct *models.Account
	s.Require().NoError(s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		acct, err = tx.Account(ctx, addr)
		return err
	}))
	return acct
}

func (s *Suite) TestAccountDefaultsToZeroValue() {
	acct := s.account(Alice)
	s.Equal(Alice, acct.Address)
	s.Equal(models.TierNone, acct.Tier)
	s.Equal(models.KYCNone, acct.KYCStatus)
	s.Zero(acct.EscrowedBalance)
}

func (s *Suite) TestCommitMakesWritesVisible() {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s.commit(func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx, Alice)
		if err != nil {
			return err
		}
		acct.Tier = models.Tier2
		acct.KYCStatus = models.KYCApproved
		acct.Whitelisted = true
		acct.EscrowedBalance = 900
		acct.TodayUsed = 100
		acct.LimitDay = 20000
		acct.EscrowEpoch = 2
		acct.Unbacked = 40
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SaveKYCRequest(ctx, &models.KYCRequest{
			Address:          Alice,
			DocumentHash:     "QmHash",
			SubmittedAt:      at,
			FirstSubmittedAt: at,
			Status:           models.KYCApproved,
		}); err != nil {
			return err
		}
		if err := tx.SaveTierLimit(ctx, models.Tier2, 5000); err != nil {
			return err
		}
		return tx.SaveSystem(ctx, &models.SystemState{Owner: Bob, Custodied: 900, Epoch: 2})
	})

	acct := s.account(Alice)
	s.Equal(models.Tier2, acct.Tier)
	s.Equal(models.KYCApproved, acct.KYCStatus)
	s.True(acct.Whitelisted)
	s.Equal(uint64(900), acct.EscrowedBalance)
	s.Equal(uint64(100), acct.UsedOn(20000))
	s.Equal(uint64(2), acct.EscrowEpoch)
	s.Equal(uint64(40), acct.Unbacked)

	s.Require().NoError(s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.KYCRequest(ctx, Alice)
		s.Require().NoError(err)
		s.Equal("QmHash", req.DocumentHash)
		s.True(at.Equal(req.SubmittedAt))
		s.Equal(models.KYCApproved, req.Status)

		limits, err := tx.TierLimits(ctx)
		s.Require().NoError(err)
		limit, ok := limits.Limit(models.Tier2)
		s.True(ok)
		s.Equal(uint64(5000), limit)

		sys, err := tx.System(ctx)
		s.Require().NoError(err)
		s.Equal(Bob, sys.Owner)
		s.Equal(uint64(900), sys.Custodied)
		s.Equal(uint64(2), sys.Epoch)
		return nil
	}))
}

func (s *Suite) TestErrorRollsBackEveryWrite() {
	boom := errors.New("validation failed late")
	err := s.Store.RunInTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
		acct, _ := tx.Account(ctx, Alice)
		acct.EscrowedBalance = 100
		s.Require().NoError(tx.SaveAccount(ctx, acct))
		s.Require().NoError(tx.SaveSystem(ctx, &models.SystemState{Owner: Bob, Paused: true}))
		s.Require().NoError(tx.Append(ctx, events.New(events.KindPaused, Bob, Bob, time.Now())))

		staged, _ := tx.Account(ctx, Alice)
		s.Equal(uint64(100), staged.EscrowedBalance, "writes are visible inside their own transaction")
		return boom
	})
	s.ErrorIs(err, boom)

	s.Zero(s.account(Alice).EscrowedBalance)
	s.Require().NoError(s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.System(ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
		return nil
	}))
	pending, err := s.Store.Pending(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending, "events of a failed transaction are never published")
}

func (s *Suite) TestReturnedRecordsAreCopies() {
	s.commit(func(ctx context.Context, tx store.Tx) error {
		acct, _ := tx.Account(ctx, Alice)
		acct.EscrowedBalance = 10
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		acct.EscrowedBalance = 999
		return nil
	})
	s.Equal(uint64(10), s.account(Alice).EscrowedBalance)
}

func (s *Suite) TestNestedTransactionsAreRejected() {
	var inner, innerView error
	s.commit(func(ctx context.Context, tx store.Tx) error {
		inner = s.Store.RunInTx(ctx, func(context.Context, store.Tx) error { return nil })
		innerView = s.Store.View(ctx, func(context.Context, store.Tx) error { return nil })
		return nil
	})
	s.ErrorIs(inner, sentinel.ErrReentrant)
	s.ErrorIs(innerView, sentinel.ErrReentrant)
}

func (s *Suite) TestViewIsReadOnly() {
	err := s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveAccount(ctx, models.NewAccount(Alice))
	})
	s.ErrorIs(err, sentinel.ErrReadOnly)

	err = s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Append(ctx, events.New(events.KindPaused, Bob, Bob, time.Now()))
	})
	s.ErrorIs(err, sentinel.ErrReadOnly)
}

func (s *Suite) TestKYCRequestsOrderedByFirstSubmission() {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	save := func(addr id.Address, first, submitted time.Time, status models.KYCStatus) {
		s.commit(func(ctx context.Context, tx store.Tx) error {
			return tx.SaveKYCRequest(ctx, &models.KYCRequest{
				Address:          addr,
				DocumentHash:     "h-" + addr.Hex(),
				SubmittedAt:      submitted,
				FirstSubmittedAt: first,
				Status:           status,
			})
		})
	}
	save(Bob, base.Add(time.Minute), base.Add(time.Minute), models.KYCPending)
	save(Alice, base, base, models.KYCRejected)
	save(Carol, base.Add(2*time.Minute), base.Add(2*time.Minute), models.KYCPending)
	// Resubmission keeps the original position.
	save(Alice, base, base.Add(time.Hour), models.KYCPending)

	s.Require().NoError(s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		reqs, err := tx.KYCRequests(ctx)
		s.Require().NoError(err)
		s.Require().Len(reqs, 3)
		s.Equal([]id.Address{Alice, Bob, Carol}, []id.Address{reqs[0].Address, reqs[1].Address, reqs[2].Address})
		s.Equal(models.KYCPending, reqs[0].Status)
		return nil
	}))

	s.Require().NoError(s.Store.View(s.ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.KYCRequest(ctx, id.MustParseAddress("0x00000000000000000000000000000000000000d0"))
		s.ErrorIs(err, sentinel.ErrNotFound)
		return nil
	}))
}

func (s *Suite) TestOutboxPendingAndMarkPublished() {
	first := events.New(events.KindKYCRequested, Alice, Alice, time.Now())
	second := events.New(events.KindSent, Alice, Alice, time.Now()).WithRecipient(Bob)
	second.Amount = 50
	third := events.New(events.KindPaused, Bob, Bob, time.Now())

	s.commit(func(ctx context.Context, tx store.Tx) error {
		return tx.Append(ctx, first, second)
	})
	s.commit(func(ctx context.Context, tx store.Tx) error {
		return tx.Append(ctx, third)
	})

	pending, err := s.Store.Pending(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(first.ID, pending[0].ID)
	s.Equal(second.ID, pending[1].ID)
	s.Equal(uint64(50), pending[1].Amount)
	s.Require().NotNil(pending[1].Recipient)
	s.Equal(Bob, *pending[1].Recipient)

	s.Require().NoError(s.Store.MarkPublished(s.ctx, first.ID, second.ID))

	pending, err = s.Store.Pending(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(third.ID, pending[0].ID)
}

// TestConcurrentTransactionsSerialize runs read-modify-write transactions in
// parallel; lost updates would leave the balance short.
func (s *Suite) TestConcurrentTransactionsSerialize() {
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Store.RunInTx(s.ctx, func(ctx context.Context, tx store.Tx) error {
				acct, err := tx.Account(ctx, Alice)
				if err != nil {
					return err
				}
				acct.EscrowedBalance++
				return tx.SaveAccount(ctx, acct)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}
	s.Equal(uint64(workers), s.account(Alice).EscrowedBalance)
}

func (s *Suite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	called := false
	err := s.Store.RunInTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	s.ErrorIs(err, context.Canceled)
	s.False(called)
}
