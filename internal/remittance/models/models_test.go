package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "remittance/pkg/domain-errors"
)

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"1":     Tier1,
		"4":     TierVIP,
		"tier2": Tier2,
		" VIP ": TierVIP,
		"NONE":  TierNone,
	}
	for in, want := range cases {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "5", "GOLD", "-1"} {
		_, err := ParseTier(in)
		require.Error(t, err, in)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), in)
	}

	assert.False(t, TierNone.IsActive())
	assert.True(t, TierVIP.IsActive())
}

// TestAccountState covers the derived lifecycle table: restriction dominates KYC status.
func TestAccountState(t *testing.T) {
	acct := &Account{}
	assert.Equal(t, StateUnverified, acct.State())

	acct.KYCStatus = KYCPending
	assert.Equal(t, StatePendingReview, acct.State())

	acct.KYCStatus = KYCRejected
	assert.Equal(t, StateRejected, acct.State())

	acct.KYCStatus = KYCApproved
	assert.Equal(t, StateRestricted, acct.State(), "approved without whitelist cannot transact")

	acct.Whitelisted = true
	assert.Equal(t, StateActive, acct.State())

	acct.Frozen = true
	assert.Equal(t, StateRestricted, acct.State())

	acct.Frozen = false
	acct.Blacklisted = true
	assert.Equal(t, StateRestricted, acct.State())

	acct.KYCStatus = KYCNone
	assert.Equal(t, StateRestricted, acct.State(), "blacklist applies regardless of KYC")
}

func TestAccount_UsedOn(t *testing.T) {
	acct := &Account{TodayUsed: 700, LimitDay: 20000}
	assert.Equal(t, uint64(700), acct.UsedOn(20000))
	assert.Equal(t, uint64(0), acct.UsedOn(20001))
	assert.Equal(t, uint64(700), acct.TodayUsed, "reads never roll the day over")
}

func TestAccount_Claimable(t *testing.T) {
	acct := &Account{EscrowedBalance: 700, EscrowEpoch: 0, Unbacked: 50}
	assert.False(t, acct.IsStale(0))
	assert.Equal(t, uint64(700), acct.Claimable(0))
	assert.Equal(t, uint64(50), acct.UnbackedIn(0))

	assert.True(t, acct.IsStale(1), "an emergency withdrawal took the backing value")
	assert.Zero(t, acct.Claimable(1))
	assert.Equal(t, uint64(750), acct.UnbackedIn(1))

	assert.False(t, (&Account{EscrowEpoch: 0}).IsStale(3), "an empty balance is never stale")
}

func TestTierLimitTable(t *testing.T) {
	table := TierLimitTable{Tier1: 1500, Tier2: 0}

	limit, ok := table.Limit(Tier1)
	assert.True(t, ok)
	assert.Equal(t, uint64(1500), limit)

	limit, ok = table.Limit(Tier2)
	assert.True(t, ok, "zero is a configured limit")
	assert.Zero(t, limit)

	_, ok = table.Limit(Tier3)
	assert.False(t, ok)

	clone := table.Clone()
	clone[Tier1] = 1
	assert.Equal(t, uint64(1500), table[Tier1])
}
