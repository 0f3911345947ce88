// Package limits implements the tier and daily-limit policy.
//
// Usage is tracked per calendar day (UTC). Rollover is lazy: reads compute as if
// usage were zero when the stored day is stale, and only a spend attempt
// rewrites the stored day.
package limits

import (
	"time"

	"remittance/internal/remittance/ledger"
	"remittance/internal/remittance/models"
	dErrors "remittance/pkg/domain-errors"
)

const secondsPerDay = 86400

// DefaultTierLimits are seeded when the system state is first initialised.
var DefaultTierLimits = models.TierLimitTable{
	models.Tier1:   1_500,
	models.Tier2:   5_000,
	models.Tier3:   20_000,
	models.TierVIP: 100_000,
}

// DayIndex returns the calendar day containing t, counted in days since the
// Unix epoch.
func DayIndex(t time.Time) int64 {
	secs := t.Unix()
	day := secs / secondsPerDay
	if secs < 0 && secs%secondsPerDay != 0 {
		day--
	}
	return day
}

// Remaining returns what acct may still send on day. Unconfigured tiers
// (including NONE) have nothing remaining.
func Remaining(acct *models.Account, table models.TierLimitTable, day int64) uint64 {
	limit, ok := table.Limit(acct.Tier)
	if !ok {
		return 0
	}
	used := acct.UsedOn(day)
	if used >= limit {
		return 0
	}
	return limit - used
}

// RecordUsage rolls the account over to day if needed and adds amount to its
// usage. The account is left unchanged on failure.
func RecordUsage(acct *models.Account, table models.TierLimitTable, day int64, amount uint64) error {
	limit, ok := table.Limit(acct.Tier)
	if !ok {
		return dErrors.Newf(dErrors.CodeTierNotConfigured, "no limit configured for tier %s", acct.Tier)
	}
	used := acct.UsedOn(day)
	total, err := ledger.Add(used, amount)
	if err != nil {
		return err
	}
	if total > limit {
		return dErrors.Newf(dErrors.CodeLimitExceeded, "daily limit exceeded: %d remaining", limit-min(used, limit))
	}
	acct.LimitDay = day
	acct.TodayUsed = total
	return nil
}

// ValidateLimit checks a new ceiling for tier.
func ValidateLimit(tier models.Tier, limit uint64) error {
	if !tier.IsActive() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "tier %s cannot carry a limit", tier)
	}
	if limit > models.MaxAmount {
		return dErrors.New(dErrors.CodeOverflow, "limit exceeds the maximum amount")
	}
	return nil
}

// RequireConfigured fails TierNotConfigured unless tier is TIER1..VIP and has a limit.
func RequireConfigured(table models.TierLimitTable, tier models.Tier) error {
	if !tier.IsActive() {
		return dErrors.Newf(dErrors.CodeTierNotConfigured, "tier %s is not assignable", tier)
	}
	if _, ok := table.Limit(tier); !ok {
		return dErrors.Newf(dErrors.CodeTierNotConfigured, "no limit configured for tier %s", tier)
	}
	return nil
}
