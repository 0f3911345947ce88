// Package handler exposes the remittance engine and the admin command surface
// over HTTP. The caller of every /v1 route is the wallet address carried as
// the subject of the bearer session token.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"remittance/internal/remittance/admin"
	"remittance/internal/remittance/engine"
	"remittance/internal/remittance/models"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/httputil"
	authmw "remittance/pkg/platform/middleware/auth"
	"remittance/pkg/requestcontext"
)

// Engine is the user-facing surface of the remittance engine.
type Engine interface {
	RequestKYC(ctx context.Context, caller id.Address, documentHash string) error
	Send(ctx context.Context, sender, recipient id.Address, amount uint64) error
	Claim(ctx context.Context, caller id.Address) (uint64, error)

	UserInfo(ctx context.Context, addr id.Address) (*models.UserInfo, error)
	Balance(ctx context.Context, addr id.Address) (uint64, error)
	KYCStatus(ctx context.Context, addr id.Address) (models.KYCStatus, error)
	Tier(ctx context.Context, addr id.Address) (models.Tier, error)
	RemainingLimit(ctx context.Context, addr id.Address) (uint64, error)
	Flags(ctx context.Context, addr id.Address) (engine.Flags, error)
	KYCRequest(ctx context.Context, addr id.Address) (*models.KYCRequest, error)
	PendingKYC(ctx context.Context) ([]id.Address, error)
	KYCUsers(ctx context.Context) ([]id.Address, error)
	TierLimit(ctx context.Context, tier models.Tier) (uint64, error)
	SystemInfo(ctx context.Context) (*models.SystemInfo, error)
}

// Admin is the owner-only command surface.
type Admin interface {
	ApproveKYC(ctx context.Context, caller, target id.Address, tier models.Tier) error
	RejectKYC(ctx context.Context, caller, target id.Address, reason string) error
	BatchApprove(ctx context.Context, caller id.Address, targets []id.Address, tiers []models.Tier) ([]admin.Outcome, error)
	SetUserTier(ctx context.Context, caller, target id.Address, tier models.Tier) error
	SetTierLimit(ctx context.Context, caller id.Address, tier models.Tier, limit uint64) error
	SetFrozen(ctx context.Context, caller, target id.Address, frozen bool) error
	SetBlacklist(ctx context.Context, caller, target id.Address, blacklisted bool) error
	SetWhitelist(ctx context.Context, caller, target id.Address, whitelisted bool) error
	Pause(ctx context.Context, caller id.Address) error
	Unpause(ctx context.Context, caller id.Address) error
	EmergencyWithdraw(ctx context.Context, caller id.Address) (uint64, error)
}

// SessionRevoker invalidates a session token before it expires.
type SessionRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// Handler serves the /v1 API.
type Handler struct {
	logger       *slog.Logger
	engine       Engine
	admin        Admin
	jwtValidator authmw.JWTValidator
	revocations  authmw.TokenRevocationChecker
	revoker      SessionRevoker
	adminToken   string
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// RevocationStore records revoked sessions and answers revocation checks.
type RevocationStore interface {
	authmw.TokenRevocationChecker
	SessionRevoker
}

// WithRevocations enables logout and checks every token against the
// revocation list.
func WithRevocations(revocations RevocationStore) Option {
	return func(h *Handler) {
		h.revocations = revocations
		h.revoker = revocations
	}
}

// WithAdminToken additionally requires the operator token on /v1/admin routes.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// New creates a new remittance Handler.
func New(eng Engine, adm Admin, jwtValidator authmw.JWTValidator, opts ...Option) *Handler {
	h := &Handler{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		engine:       eng,
		admin:        adm,
		jwtValidator: jwtValidator,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the authenticated /v1 routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.jwtValidator, h.revocations, h.logger))

		r.Delete("/session", h.handleLogout)

		r.Post("/kyc", h.handleRequestKYC)
		r.Get("/kyc/pending", h.handlePendingKYC)
		r.Get("/kyc/users", h.handleKYCUsers)

		r.Post("/remittances", h.handleSend)
		r.Post("/remittances/claim", h.handleClaim)

		r.Get("/me", h.handleMe)
		r.Get("/me/balance", h.handleBalance)
		r.Get("/me/kyc", h.handleMyKYC)
		r.Get("/me/tier", h.handleTier)
		r.Get("/me/remaining-limit", h.handleRemainingLimit)
		r.Get("/me/status", h.handleStatus)

		r.Get("/users/{address}", h.handleUserInfo)
		r.Get("/users/{address}/kyc", h.handleUserKYC)
		r.Get("/tiers/{tier}/limit", h.handleTierLimit)
		r.Get("/system", h.handleSystem)

		r.Route("/admin", h.registerAdmin)
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.revoker == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "session revocation is not configured"))
		return
	}
	session, ok := authmw.GetSession(ctx)
	if !ok || session.JTI == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session has no token id"))
		return
	}
	if err := h.revoker.Revoke(ctx, session.JTI, session.ExpiresAt); err != nil {
		h.logger.ErrorContext(ctx, "failed to revoke session",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRequestKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	req, ok := httputil.DecodeAndPrepare[RequestKYCRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.engine.RequestKYC(ctx, caller, req.DocumentHash); err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.engine.KYCRequest(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	req, ok := httputil.DecodeAndPrepare[SendRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.engine.Send(ctx, caller, req.recipient, req.Amount); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SendResponse{Sender: caller, Recipient: req.recipient, Amount: req.Amount})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	amount, err := h.engine.Claim(ctx, requestcontext.Caller(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AmountResponse{Amount: amount})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	h.writeUserInfo(w, r, requestcontext.Caller(r.Context()))
}

func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	h.writeUserInfo(w, r, addr)
}

func (h *Handler) writeUserInfo(w http.ResponseWriter, r *http.Request, addr id.Address) {
	info, err := h.engine.UserInfo(r.Context(), addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	balance, err := h.engine.Balance(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Address: caller, Balance: balance})
}

func (h *Handler) handleMyKYC(w http.ResponseWriter, r *http.Request) {
	h.writeKYCRequest(w, r, requestcontext.Caller(r.Context()))
}

func (h *Handler) handleUserKYC(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	h.writeKYCRequest(w, r, addr)
}

func (h *Handler) writeKYCRequest(w http.ResponseWriter, r *http.Request, addr id.Address) {
	record, err := h.engine.KYCRequest(r.Context(), addr)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	tier, err := h.engine.Tier(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := TierResponse{Address: caller, Tier: tier}
	if tier.IsActive() {
		if resp.DailyLimit, err = h.engine.TierLimit(ctx, tier); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRemainingLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	remaining, err := h.engine.RemainingLimit(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RemainingLimitResponse{Address: caller, RemainingLimit: remaining})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	status, err := h.engine.KYCStatus(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	flags, err := h.engine.Flags(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Address:     caller,
		KYCStatus:   status,
		KYCApproved: status == models.KYCApproved,
		Whitelisted: flags.Whitelisted,
		Blacklisted: flags.Blacklisted,
		Frozen:      flags.Frozen,
	})
}

func (h *Handler) handlePendingKYC(w http.ResponseWriter, r *http.Request) {
	h.writeAddresses(w, r, h.engine.PendingKYC)
}

func (h *Handler) handleKYCUsers(w http.ResponseWriter, r *http.Request) {
	h.writeAddresses(w, r, h.engine.KYCUsers)
}

func (h *Handler) writeAddresses(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]id.Address, error)) {
	addrs, err := list(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if addrs == nil {
		addrs = []id.Address{}
	}
	httputil.WriteJSON(w, http.StatusOK, AddressListResponse{Addresses: addrs})
}

func (h *Handler) handleTierLimit(w http.ResponseWriter, r *http.Request) {
	tier, ok := pathTier(w, r)
	if !ok {
		return
	}
	limit, err := h.engine.TierLimit(r.Context(), tier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TierLimitResponse{Tier: tier, Limit: limit})
}

func (h *Handler) handleSystem(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.SystemInfo(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func pathAddress(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	addr, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.Address{}, false
	}
	return addr, true
}

func pathTier(w http.ResponseWriter, r *http.Request) (models.Tier, bool) {
	tier, err := models.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		httputil.WriteError(w, err)
		return models.TierNone, false
	}
	return tier, true
}
