package engine

import (
	"context"
	"errors"

	"remittance/internal/remittance/kyc"
	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/models"
	"remittance/internal/remittance/store"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/sentinel"
	"remittance/pkg/requestcontext"
)

// Reads never mutate state and remain available while the system is paused.
// Daily usage is reported as of the request day without rolling the stored
// record over.

// UserInfo returns the full read model for addr.
func (e *Engine) UserInfo(ctx context.Context, addr id.Address) (*models.UserInfo, error) {
	day := limits.DayIndex(requestcontext.Now(ctx))
	var info *models.UserInfo
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.Account(ctx, addr)
		if err != nil {
			return err
		}
		table, err := tx.TierLimits(ctx)
		if err != nil {
			return err
		}
		var epoch uint64
		sys, err := tx.System(ctx)
		switch {
		case err == nil:
			epoch = sys.Epoch
		case !errors.Is(err, sentinel.ErrNotFound):
			return err
		}
		limit, _ := table.Limit(acct.Tier)
		info = &models.UserInfo{
			Address:        addr,
			Tier:           acct.Tier,
			DailyLimit:     limit,
			TodayUsed:      acct.UsedOn(day),
			RemainingLimit: limits.Remaining(acct, table, day),
			Balance:        acct.Claimable(epoch),
			Unbacked:       acct.UnbackedIn(epoch),
			Whitelisted:    acct.Whitelisted,
			Blacklisted:    acct.Blacklisted,
			Frozen:         acct.Frozen,
			KYCStatus:      acct.KYCStatus,
			State:          acct.State(),
		}
		return nil
	})
	if err != nil {
		return nil, store.Translate(err)
	}
	return info, nil
}

// Balance returns the claimable escrow of addr.
func (e *Engine) Balance(ctx context.Context, addr id.Address) (uint64, error) {
	info, err := e.UserInfo(ctx, addr)
	if err != nil {
		return 0, err
	}
	return info.Balance, nil
}

// KYCStatus returns the verification status of addr.
func (e *Engine) KYCStatus(ctx context.Context, addr id.Address) (models.KYCStatus, error) {
	info, err := e.UserInfo(ctx, addr)
	if err != nil {
		return models.KYCNone, err
	}
	return info.KYCStatus, nil
}

// IsKYCApproved reports whether addr holds an approved verification.
func (e *Engine) IsKYCApproved(ctx context.Context, addr id.Address) (bool, error) {
	status, err := e.KYCStatus(ctx, addr)
	return status == models.KYCApproved, err
}

// Tier returns the tier of addr.
func (e *Engine) Tier(ctx context.Context, addr id.Address) (models.Tier, error) {
	info, err := e.UserInfo(ctx, addr)
	if err != nil {
		return models.TierNone, err
	}
	return info.Tier, nil
}

// RemainingLimit returns what addr may still send today.
func (e *Engine) RemainingLimit(ctx context.Context, addr id.Address) (uint64, error) {
	info, err := e.UserInfo(ctx, addr)
	if err != nil {
		return 0, err
	}
	return info.RemainingLimit, nil
}

// Flags are the access-control flags of one account.
type Flags struct {
	Whitelisted bool `json:"is_whitelisted"`
	Blacklisted bool `json:"is_blacklisted"`
	Frozen      bool `json:"is_frozen"`
}

// Flags returns the whitelist, blacklist and frozen flags of addr.
func (e *Engine) Flags(ctx context.Context, addr id.Address) (Flags, error) {
	info, err := e.UserInfo(ctx, addr)
	if err != nil {
		return Flags{}, err
	}
	return Flags{Whitelisted: info.Whitelisted, Blacklisted: info.Blacklisted, Frozen: info.Frozen}, nil
}

// KYCRequest returns the current request of addr, NotFound if it never submitted.
func (e *Engine) KYCRequest(ctx context.Context, addr id.Address) (*models.KYCRequest, error) {
	var req *models.KYCRequest
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.KYCRequest(ctx, addr)
		return err
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no KYC request for address")
	}
	if err != nil {
		return nil, store.Translate(err)
	}
	return req, nil
}

// PendingKYC lists addresses awaiting review, oldest submission first.
func (e *Engine) PendingKYC(ctx context.Context) ([]id.Address, error) {
	reqs, err := e.kycRequests(ctx)
	if err != nil {
		return nil, err
	}
	return kyc.Pending(reqs), nil
}

// KYCUsers lists every address that ever submitted, by first submission.
func (e *Engine) KYCUsers(ctx context.Context) ([]id.Address, error) {
	reqs, err := e.kycRequests(ctx)
	if err != nil {
		return nil, err
	}
	return kyc.Users(reqs), nil
}

func (e *Engine) kycRequests(ctx context.Context) ([]*models.KYCRequest, error) {
	var reqs []*models.KYCRequest
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		reqs, err = tx.KYCRequests(ctx)
		return err
	})
	if err != nil {
		return nil, store.Translate(err)
	}
	return reqs, nil
}

// TierLimit returns the configured ceiling of tier; unconfigured tiers read as 0.
func (e *Engine) TierLimit(ctx context.Context, tier models.Tier) (uint64, error) {
	if !tier.IsValid() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "unknown tier")
	}
	var limit uint64
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.TierLimits(ctx)
		if err != nil {
			return err
		}
		limit, _ = table.Limit(tier)
		return nil
	})
	if err != nil {
		return 0, store.Translate(err)
	}
	return limit, nil
}

// SystemInfo returns the owner, the pause flag and the custodied balance.
func (e *Engine) SystemInfo(ctx context.Context) (*models.SystemInfo, error) {
	var info *models.SystemInfo
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		sys, err := LoadSystem(ctx, tx)
		if err != nil {
			return err
		}
		info = &models.SystemInfo{Owner: sys.Owner, Paused: sys.Paused, ContractBalance: sys.Custodied}
		return nil
	})
	if err != nil {
		return nil, store.Translate(err)
	}
	return info, nil
}
