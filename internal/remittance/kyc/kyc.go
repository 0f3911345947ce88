// Package kyc implements the KYC registry state machine. Functions mutate the
// passed records only on success; persistence and authorization belong to the
// caller.
package kyc

import (
	"sort"
	"strings"
	"time"

	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
)

const (
	maxDocumentHashLength = 256
	maxReasonLength       = 512
)

// Submit records a new verification request for acct. existing is the
// account's previous request, or nil.
func Submit(acct *models.Account, existing *models.KYCRequest, documentHash string, now time.Time) (*models.KYCRequest, error) {
	if acct.Blacklisted {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "Access denied")
	}
	switch acct.KYCStatus {
	case models.KYCPending:
		return nil, dErrors.New(dErrors.CodeAlreadyPending, "KYC request already pending")
	case models.KYCApproved:
		return nil, dErrors.New(dErrors.CodeAlreadyApproved, "KYC already approved")
	}
	documentHash = strings.TrimSpace(documentHash)
	if documentHash == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document hash is required")
	}
	if len(documentHash) > maxDocumentHashLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document hash is too long")
	}

	now = now.UTC()
	req := &models.KYCRequest{
		Address:          acct.Address,
		DocumentHash:     documentHash,
		SubmittedAt:      now,
		Status:           models.KYCPending,
		FirstSubmittedAt: now,
	}
	if existing != nil && !existing.FirstSubmittedAt.IsZero() {
		req.FirstSubmittedAt = existing.FirstSubmittedAt
	}
	acct.KYCStatus = models.KYCPending
	return req, nil
}

// Approve grants tier to a pending account and whitelists it. Today's usage is
// reset so the account starts with its full limit.
func Approve(acct *models.Account, req *models.KYCRequest, tier models.Tier, table models.TierLimitTable) error {
	if acct.KYCStatus != models.KYCPending || req == nil {
		return dErrors.New(dErrors.CodeInvalidState, "KYC request is not pending")
	}
	if err := limits.RequireConfigured(table, tier); err != nil {
		return err
	}
	acct.KYCStatus = models.KYCApproved
	acct.Tier = tier
	acct.Whitelisted = true
	acct.TodayUsed = 0
	req.Status = models.KYCApproved
	req.RejectionReason = ""
	return nil
}

// Reject closes a pending request with a reason. The request is kept so the
// reason stays readable until the account resubmits.
func Reject(acct *models.Account, req *models.KYCRequest, reason string) error {
	if acct.KYCStatus != models.KYCPending || req == nil {
		return dErrors.New(dErrors.CodeInvalidState, "KYC request is not pending")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "rejection reason is required")
	}
	if len(reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeInvalidInput, "rejection reason is too long")
	}
	acct.KYCStatus = models.KYCRejected
	req.Status = models.KYCRejected
	req.RejectionReason = reason
	return nil
}

// Pending returns the addresses with an open request, oldest submission first.
func Pending(reqs []*models.KYCRequest) []id.Address {
	open := make([]*models.KYCRequest, 0, len(reqs))
	for _, req := range reqs {
		if req.Status == models.KYCPending {
			open = append(open, req)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].SubmittedAt.Before(open[j].SubmittedAt)
	})
	out := make([]id.Address, len(open))
	for i, req := range open {
		out[i] = req.Address
	}
	return out
}

// Users returns every address that ever submitted, in the order given.
func Users(reqs []*models.KYCRequest) []id.Address {
	out := make([]id.Address, len(reqs))
	for i, req := range reqs {
		out[i] = req.Address
	}
	return out
}
