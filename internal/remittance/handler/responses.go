package handler

import (
	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
)

type SendResponse struct {
	Sender    id.Address `json:"sender"`
	Recipient id.Address `json:"recipient"`
	Amount    uint64     `json:"amount"`
}

type AmountResponse struct {
	Amount uint64 `json:"amount"`
}

type BalanceResponse struct {
	Address id.Address `json:"address"`
	Balance uint64     `json:"balance"`
}

type TierResponse struct {
	Address    id.Address  `json:"address"`
	Tier       models.Tier `json:"tier"`
	DailyLimit uint64      `json:"daily_limit"`
}

type RemainingLimitResponse struct {
	Address        id.Address `json:"address"`
	RemainingLimit uint64     `json:"remaining_limit"`
}

type StatusResponse struct {
	Address     id.Address       `json:"address"`
	KYCStatus   models.KYCStatus `json:"kyc_status"`
	KYCApproved bool             `json:"is_kyc_approved"`
	Whitelisted bool             `json:"is_whitelisted"`
	Blacklisted bool             `json:"is_blacklisted"`
	Frozen      bool             `json:"is_frozen"`
}

type AddressListResponse struct {
	Addresses []id.Address `json:"addresses"`
}

type TierLimitResponse struct {
	Tier  models.Tier `json:"tier"`
	Limit uint64      `json:"limit"`
}

type BatchResult struct {
	Address id.Address  `json:"address"`
	Tier    models.Tier `json:"tier"`
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"error_description,omitempty"`
}

type BatchApproveResponse struct {
	Results  []BatchResult `json:"results"`
	Approved int           `json:"approved"`
}
