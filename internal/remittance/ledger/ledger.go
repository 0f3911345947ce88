// Package ledger moves escrowed value between the system's custody total and
// per-account balances. All arithmetic is checked against models.MaxAmount.
package ledger

import (
	"remittance/internal/remittance/models"
	dErrors "remittance/pkg/domain-errors"
)

// Add returns a+b, failing with Overflow when the sum leaves the amount range.
func Add(a, b uint64) (uint64, error) {
	if a > models.MaxAmount || b > models.MaxAmount-a {
		return 0, dErrors.New(dErrors.CodeOverflow, "amount overflow")
	}
	return a + b, nil
}

// Credit escrows amount for the recipient and adds it to the custody total.
// Escrow left over from before an emergency withdrawal is moved aside first so
// it never merges with backed value. Nothing is modified on failure.
func Credit(sys *models.SystemState, recipient *models.Account, amount uint64) error {
	current, unbacked := recipient.EscrowedBalance, recipient.Unbacked
	if recipient.IsStale(sys.Epoch) {
		var err error
		if unbacked, err = Add(unbacked, current); err != nil {
			return dErrors.Wrap(err, dErrors.CodeOverflow, "unbacked balance overflow")
		}
		current = 0
	}
	balance, err := Add(current, amount)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeOverflow, "recipient balance overflow")
	}
	custodied, err := Add(sys.Custodied, amount)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeOverflow, "custodied total overflow")
	}
	recipient.EscrowedBalance = balance
	recipient.Unbacked = unbacked
	recipient.EscrowEpoch = sys.Epoch
	sys.Custodied = custodied
	return nil
}

// Drain zeroes the account's escrow and releases it from custody, returning the
// released amount. Escrow credited before the last emergency withdrawal is
// never drained. Nothing is modified on failure.
func Drain(sys *models.SystemState, acct *models.Account) (uint64, error) {
	amount := acct.EscrowedBalance
	if amount == 0 {
		return 0, dErrors.New(dErrors.CodeNoBalance, "No balance to claim")
	}
	if acct.IsStale(sys.Epoch) || sys.Custodied < amount {
		return 0, dErrors.New(dErrors.CodeInvalidState, "insufficient custodied funds")
	}
	acct.EscrowedBalance = 0
	sys.Custodied -= amount
	return amount, nil
}

// WithdrawAll empties the custody total, starts a new custody epoch and
// returns what it held. Per-account balances are left untouched; escrow from
// earlier epochs stays on record but can no longer be claimed.
func WithdrawAll(sys *models.SystemState) uint64 {
	amount := sys.Custodied
	sys.Custodied = 0
	sys.Epoch++
	return amount
}
