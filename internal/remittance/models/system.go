package models

import id "remittance/pkg/domain"

// SystemState is the process-wide singleton referenced by every mutating operation.
type SystemState struct {
	Owner  id.Address `json:"owner"`
	Paused bool       `json:"paused"`

	// Custodied is the total value held by the system: credited on send,
	// released on claim and emergency withdraw.
	Custodied uint64 `json:"custodied"`

	// Epoch counts emergency withdrawals.
	Epoch uint64 `json:"epoch"`
}

func (s *SystemState) Clone() *SystemState {
	c := *s
	return &c
}

// IsOwner reports whether addr is the administrative owner.
func (s *SystemState) IsOwner(addr id.Address) bool {
	return !s.Owner.IsZero() && s.Owner == addr
}

// TierLimitTable maps tiers to daily ceilings. A tier absent from the table is
// unconfigured; a tier present with limit 0 is configured and blocks spending.
type TierLimitTable map[Tier]uint64

// Limit returns the configured ceiling for t.
func (t TierLimitTable) Limit(tier Tier) (uint64, bool) {
	limit, ok := t[tier]
	return limit, ok
}

func (t TierLimitTable) Clone() TierLimitTable {
	c := make(TierLimitTable, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// UserInfo is the read model returned for a single account.
type UserInfo struct {
	Address        id.Address   `json:"address"`
	Tier           Tier         `json:"tier"`
	DailyLimit     uint64       `json:"daily_limit"`
	TodayUsed      uint64       `json:"today_used"`
	RemainingLimit uint64       `json:"remaining_limit"`
	Balance        uint64       `json:"balance"`
	Unbacked       uint64       `json:"unbacked_balance,omitempty"`
	Whitelisted    bool         `json:"is_whitelisted"`
	Blacklisted    bool         `json:"is_blacklisted"`
	Frozen         bool         `json:"is_frozen"`
	KYCStatus      KYCStatus    `json:"kyc_status"`
	State          AccountState `json:"state"`
}

// SystemInfo is the read model for the singleton.
type SystemInfo struct {
	Owner           id.Address `json:"owner"`
	Paused          bool       `json:"paused"`
	ContractBalance uint64     `json:"contract_balance"`
}
