package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/httputil"
	adminmw "remittance/pkg/platform/middleware/admin"
	"remittance/pkg/requestcontext"
)

// registerAdmin mounts the owner commands. Ownership is checked by the admin
// service against the stored owner, not here.
func (h *Handler) registerAdmin(r chi.Router) {
	r.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))

	r.Post("/kyc/{address}/approve", h.handleApproveKYC)
	r.Post("/kyc/{address}/reject", h.handleRejectKYC)
	r.Post("/kyc/batch-approve", h.handleBatchApprove)

	r.Put("/users/{address}/tier", h.handleSetUserTier)
	r.Put("/users/{address}/frozen", h.flagHandler(h.admin.SetFrozen))
	r.Put("/users/{address}/blacklist", h.flagHandler(h.admin.SetBlacklist))
	r.Put("/users/{address}/whitelist", h.flagHandler(h.admin.SetWhitelist))
	r.Put("/tiers/{tier}/limit", h.handleSetTierLimit)

	r.Post("/pause", h.handlePause)
	r.Post("/unpause", h.handleUnpause)
	r.Post("/emergency-withdraw", h.handleEmergencyWithdraw)
}

func (h *Handler) handleApproveKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, ok := pathAddress(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ApproveKYCRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.admin.ApproveKYC(ctx, requestcontext.Caller(ctx), target, req.Tier.Tier()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRejectKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, ok := pathAddress(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectKYCRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.admin.RejectKYC(ctx, requestcontext.Caller(ctx), target, req.Reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBatchApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[BatchApproveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	outcomes, err := h.admin.BatchApprove(ctx, requestcontext.Caller(ctx), req.users, req.tiers())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := BatchApproveResponse{Results: make([]BatchResult, len(outcomes))}
	for i, o := range outcomes {
		res := BatchResult{Address: o.Address, Tier: o.Tier, OK: o.OK()}
		if o.OK() {
			resp.Approved++
		} else {
			res.Error = string(dErrors.CodeOf(o.Err))
			res.Message = dErrors.MessageOf(o.Err)
		}
		resp.Results[i] = res
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSetUserTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, ok := pathAddress(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetTierRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.admin.SetUserTier(ctx, requestcontext.Caller(ctx), target, req.Tier.Tier()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetTierLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tier, ok := pathTier(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetTierLimitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.admin.SetTierLimit(ctx, requestcontext.Caller(ctx), tier, *req.Limit); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) flagHandler(set func(ctx context.Context, caller, target id.Address, value bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		target, ok := pathAddress(w, r)
		if !ok {
			return
		}
		req, ok := httputil.DecodeAndPrepare[SetFlagRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		if err := set(ctx, requestcontext.Caller(ctx), target, *req.Value); err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.admin.Pause(ctx, requestcontext.Caller(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.admin.Unpause(ctx, requestcontext.Caller(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	amount, err := h.admin.EmergencyWithdraw(ctx, requestcontext.Caller(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: amount})
}

