// Package payment defines the external value-transfer collaborator invoked when
// escrowed funds leave custody.
package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	id "remittance/pkg/domain"
)

// Reason records why value left custody.
type Reason string

const (
	ReasonClaim             Reason = "claim"
	ReasonEmergencyWithdraw Reason = "emergency_withdraw"
)

// Transfer is a single payout. Reference is unique per payout and may be used
// by the rail as an idempotency key.
type Transfer struct {
	Reference uuid.UUID
	To        id.Address
	Amount    uint64
	Reason    Reason
}

// Rail moves value to an external wallet. It is invoked inside the state
// transaction of the operation it serves; returning an error rolls that
// operation back. The ctx it receives is marked as in-transaction, so any call
// back into the engine is refused.
type Rail interface {
	Transfer(ctx context.Context, t Transfer) error
}

// LedgerRail settles payouts into an in-process ledger of external wallets.
// It backs the in-memory deployment and tests.
type LedgerRail struct {
	mu        sync.Mutex
	transfers []Transfer
	balances  map[id.Address]uint64
}

func NewLedgerRail() *LedgerRail {
	return &LedgerRail{balances: make(map[id.Address]uint64)}
}

func (r *LedgerRail) Transfer(_ context.Context, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, t)
	r.balances[t.To] += t.Amount
	return nil
}

// Transfers returns every settled payout in order.
func (r *LedgerRail) Transfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, len(r.transfers))
	copy(out, r.transfers)
	return out
}

// Balance returns the total paid out to addr.
func (r *LedgerRail) Balance(addr id.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[addr]
}
