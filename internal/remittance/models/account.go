package models

import (
	"math"
	"time"

	id "remittance/pkg/domain"
)

// MaxAmount bounds every amount, limit and balance so values always fit a
// signed 64-bit column.
const MaxAmount uint64 = math.MaxInt64

// Account is the per-address record. Accounts are created implicitly, zero
// valued, the first time an address is referenced.
//
// Invariants:
//   - EscrowedBalance never exceeds MaxAmount and is never negative
//   - EscrowedBalance is claimable only while EscrowEpoch matches the system epoch
//   - TodayUsed applies to LimitDay only; a different current day means zero usage
//   - TodayUsed never exceeds the tier limit that was in force when it was recorded
type Account struct {
	Address         id.Address `json:"address"`
	Tier            Tier       `json:"tier"`
	KYCStatus       KYCStatus  `json:"kyc_status"`
	Whitelisted     bool       `json:"is_whitelisted"`
	Blacklisted     bool       `json:"is_blacklisted"`
	Frozen          bool       `json:"is_frozen"`
	EscrowedBalance uint64     `json:"escrowed_balance"`
	TodayUsed       uint64     `json:"today_used"`
	LimitDay        int64      `json:"limit_day"`

	// EscrowEpoch is the custody epoch EscrowedBalance was credited in.
	EscrowEpoch uint64 `json:"escrow_epoch"`
	// Unbacked is escrow from earlier epochs that was moved aside by a later
	// credit. It is kept for reconciliation and is never claimable.
	Unbacked uint64 `json:"unbacked_balance"`
}

// NewAccount returns the zero-valued record for an address.
func NewAccount(addr id.Address) *Account {
	return &Account{Address: addr}
}

// Clone returns an independent copy.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// IsStale reports whether the escrowed balance predates the custody epoch, i.e.
// an emergency withdrawal has already taken the value backing it.
func (a *Account) IsStale(epoch uint64) bool {
	return a.EscrowedBalance > 0 && a.EscrowEpoch != epoch
}

// Claimable returns the escrow that custody still backs in epoch.
func (a *Account) Claimable(epoch uint64) uint64 {
	if a.IsStale(epoch) {
		return 0
	}
	return a.EscrowedBalance
}

// UnbackedIn returns all escrow on record that custody no longer backs.
func (a *Account) UnbackedIn(epoch uint64) uint64 {
	if a.IsStale(epoch) {
		return a.Unbacked + a.EscrowedBalance
	}
	return a.Unbacked
}

// IsRestricted reports whether an admin flag or a missing whitelist entry
// keeps an otherwise approved account from transacting.
func (a *Account) IsRestricted() bool {
	return a.Blacklisted || a.Frozen || (a.KYCStatus == KYCApproved && !a.Whitelisted)
}

// State derives the lifecycle state.
func (a *Account) State() AccountState {
	if a.IsRestricted() {
		return StateRestricted
	}
	switch a.KYCStatus {
	case KYCPending:
		return StatePendingReview
	case KYCApproved:
		return StateActive
	case KYCRejected:
		return StateRejected
	default:
		return StateUnverified
	}
}

// UsedOn returns the usage that applies to day without mutating the record.
func (a *Account) UsedOn(day int64) uint64 {
	if a.LimitDay != day {
		return 0
	}
	return a.TodayUsed
}

// KYCRequest is the single active verification request of an account. It is
// overwritten on resubmission and survives rejection so the reason stays readable.
type KYCRequest struct {
	Address         id.Address `json:"address"`
	DocumentHash    string     `json:"document_hash"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Status          KYCStatus  `json:"status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// FirstSubmittedAt is kept across resubmissions to order the KYC user list.
	FirstSubmittedAt time.Time `json:"first_submitted_at"`
}

func (r *KYCRequest) Clone() *KYCRequest {
	c := *r
	return &c
}
