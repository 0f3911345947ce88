// Package access implements the access control guard: per-account flags, the
// global pause switch and the composed "may this account transact" verdict.
package access

import (
	"remittance/internal/remittance/models"
	dErrors "remittance/pkg/domain-errors"
)

// Messages match the substrings the dashboard maps to user-facing text.
const (
	msgKYCNotApproved = "KYC not approved"
	msgAccessDenied   = "Access denied"
	msgAccountFrozen  = "Account frozen"
	msgPaused         = "system is paused"
)

// CanTransact reports whether acct may send or claim.
func CanTransact(acct *models.Account, sys *models.SystemState) bool {
	return !sys.Paused && CheckActive(acct) == nil
}

// CheckNotPaused fails SystemPaused while the system is halted.
func CheckNotPaused(sys *models.SystemState) error {
	if sys.Paused {
		return dErrors.New(dErrors.CodeSystemPaused, msgPaused)
	}
	return nil
}

// CheckActive explains why acct cannot transact. Restrictions are reported
// before KYC status so a blacklisted account never learns its review state.
func CheckActive(acct *models.Account) error {
	switch {
	case acct.Blacklisted:
		return dErrors.New(dErrors.CodeUnauthorized, msgAccessDenied)
	case acct.Frozen:
		return dErrors.New(dErrors.CodeUnauthorized, msgAccountFrozen)
	case acct.KYCStatus != models.KYCApproved:
		return dErrors.New(dErrors.CodeUnauthorized, msgKYCNotApproved)
	case !acct.Whitelisted:
		return dErrors.New(dErrors.CodeUnauthorized, msgAccessDenied)
	}
	return nil
}

// CheckRecipient fails RecipientBlocked when acct may not receive value.
// Receiving does not require KYC approval.
func CheckRecipient(acct *models.Account) error {
	switch {
	case acct.Blacklisted:
		return dErrors.New(dErrors.CodeRecipientBlocked, "recipient is blacklisted")
	case acct.Frozen:
		return dErrors.New(dErrors.CodeRecipientBlocked, "recipient is frozen")
	}
	return nil
}

// The setters below are idempotent and report whether the value changed.

func SetWhitelist(acct *models.Account, v bool) bool {
	changed := acct.Whitelisted != v
	acct.Whitelisted = v
	return changed
}

func SetBlacklist(acct *models.Account, v bool) bool {
	changed := acct.Blacklisted != v
	acct.Blacklisted = v
	return changed
}

func SetFrozen(acct *models.Account, v bool) bool {
	changed := acct.Frozen != v
	acct.Frozen = v
	return changed
}

func SetPaused(sys *models.SystemState, v bool) bool {
	changed := sys.Paused != v
	sys.Paused = v
	return changed
}
