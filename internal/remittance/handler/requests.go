package handler

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
)

// TierValue decodes a tier given as its numeric code (2) or its name ("TIER2").
type TierValue models.Tier

func (t *TierValue) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if raw == "null" {
		return dErrors.New(dErrors.CodeInvalidInput, "tier is required")
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	tier, err := models.ParseTier(raw)
	if err != nil {
		return err
	}
	*t = TierValue(tier)
	return nil
}

func (t TierValue) Tier() models.Tier { return models.Tier(t) }

type RequestKYCRequest struct {
	DocumentHash string `json:"document_hash"`
}

func (r *RequestKYCRequest) Validate() error {
	r.DocumentHash = strings.TrimSpace(r.DocumentHash)
	if r.DocumentHash == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "document_hash is required")
	}
	return nil
}

type SendRequest struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`

	recipient id.Address
}

func (r *SendRequest) Validate() error {
	addr, err := id.ParseAddress(r.Recipient)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "recipient: "+dErrors.MessageOf(err))
	}
	r.recipient = addr
	return nil
}

type ApproveKYCRequest struct {
	Tier *TierValue `json:"tier"`
}

func (r *ApproveKYCRequest) Validate() error {
	if r.Tier == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "tier is required")
	}
	return nil
}

type RejectKYCRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectKYCRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "reason is required")
	}
	return nil
}

// BatchApproveRequest pairs users[i] with tiers[i].
type BatchApproveRequest struct {
	Users []string    `json:"users"`
	Tiers []TierValue `json:"tiers"`

	users []id.Address
}

func (r *BatchApproveRequest) Validate() error {
	if len(r.Users) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "users must not be empty")
	}
	if len(r.Users) != len(r.Tiers) {
		return dErrors.New(dErrors.CodeInvalidInput, "users and tiers must have the same length")
	}
	r.users = make([]id.Address, len(r.Users))
	for i, raw := range r.Users {
		addr, err := id.ParseAddress(raw)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "users["+strconv.Itoa(i)+"]: "+dErrors.MessageOf(err))
		}
		r.users[i] = addr
	}
	return nil
}

func (r *BatchApproveRequest) tiers() []models.Tier {
	out := make([]models.Tier, len(r.Tiers))
	for i, t := range r.Tiers {
		out[i] = t.Tier()
	}
	return out
}

type SetTierRequest struct {
	Tier *TierValue `json:"tier"`
}

func (r *SetTierRequest) Validate() error {
	if r.Tier == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "tier is required")
	}
	return nil
}

type SetTierLimitRequest struct {
	Limit *uint64 `json:"limit"`
}

func (r *SetTierLimitRequest) Validate() error {
	if r.Limit == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "limit is required")
	}
	return nil
}

// SetFlagRequest sets one boolean account flag (frozen, blacklist, whitelist).
type SetFlagRequest struct {
	Value *bool `json:"value"`
}

func (r *SetFlagRequest) Validate() error {
	if r.Value == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "value is required")
	}
	return nil
}

var _ json.Unmarshaler = (*TierValue)(nil)
