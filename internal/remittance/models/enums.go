package models

import (
	"strconv"
	"strings"

	dErrors "remittance/pkg/domain-errors"
)

// Tier classifies an account and selects its daily spending ceiling.
// Numeric values match the wire codes used by the dashboard (0..4).
type Tier uint8

const (
	TierNone Tier = iota
	Tier1
	Tier2
	Tier3
	TierVIP
)

// ActiveTiers lists the tiers an approved account may hold, in ascending order.
var ActiveTiers = []Tier{Tier1, Tier2, Tier3, TierVIP}

// IsValid checks if the tier is one of the supported enum values.
func (t Tier) IsValid() bool {
	switch t {
	case TierNone, Tier1, Tier2, Tier3, TierVIP:
		return true
	}
	return false
}

// IsActive reports whether t may be assigned to an approved account.
func (t Tier) IsActive() bool {
	switch t {
	case Tier1, Tier2, Tier3, TierVIP:
		return true
	}
	return false
}

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "TIER1"
	case Tier2:
		return "TIER2"
	case Tier3:
		return "TIER3"
	case TierVIP:
		return "VIP"
	default:
		return "NONE"
	}
}

// ParseTier accepts a tier name (TIER1, VIP, ...) or its numeric code.
func ParseTier(s string) (Tier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TierNone, dErrors.New(dErrors.CodeInvalidInput, "tier is required")
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		t := Tier(n)
		if !t.IsValid() {
			return TierNone, dErrors.Newf(dErrors.CodeInvalidInput, "unknown tier code %d", n)
		}
		return t, nil
	}
	for _, t := range append([]Tier{TierNone}, ActiveTiers...) {
		if t.String() == s {
			return t, nil
		}
	}
	return TierNone, dErrors.Newf(dErrors.CodeInvalidInput, "unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// KYCStatus is the identity-verification state of an account.
type KYCStatus uint8

const (
	KYCNone KYCStatus = iota
	KYCPending
	KYCApproved
	KYCRejected
)

func (s KYCStatus) IsValid() bool {
	switch s {
	case KYCNone, KYCPending, KYCApproved, KYCRejected:
		return true
	}
	return false
}

func (s KYCStatus) String() string {
	switch s {
	case KYCPending:
		return "PENDING"
	case KYCApproved:
		return "APPROVED"
	case KYCRejected:
		return "REJECTED"
	default:
		return "NONE"
	}
}

func (s KYCStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AccountState is the lifecycle state derived from KYC status and flags.
// It is never stored.
type AccountState string

const (
	StateUnverified    AccountState = "unverified"
	StatePendingReview AccountState = "pending_review"
	StateActive        AccountState = "active"
	StateRejected      AccountState = "rejected"
	StateRestricted    AccountState = "restricted"
)
