package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	jwttoken "remittance/internal/jwt_token"
	"remittance/internal/remittance/admin"
	"remittance/internal/remittance/engine"
	"remittance/internal/remittance/handler"
	"remittance/internal/remittance/limits"
	"remittance/internal/remittance/payment"
	"remittance/internal/remittance/store/memory"
	id "remittance/pkg/domain"
	adminmw "remittance/pkg/platform/middleware/admin"
	"remittance/pkg/platform/middleware/requestid"
	"remittance/pkg/platform/middleware/requesttime"
	"remittance/pkg/testutil"
)

var (
	owner = id.MustParseAddress("0x00000000000000000000000000000000000000aa")
	alice = id.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob   = id.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

var requestTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// memoryRevocations is a process-local revocation list.
type memoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (m *memoryRevocations) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memoryRevocations) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

// =============================================================================
// Handler Test Suite
// =============================================================================
// Justification: the handler owns request decoding, caller resolution from the
// session token and the error-code to status mapping. The engine and admin
// service behind it are the real ones over the in-memory store.

type HandlerSuite struct {
	suite.Suite
	tokens      *jwttoken.JWTService
	revocations *memoryRevocations
	router      http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	st := memory.New()
	rail := payment.NewLedgerRail()
	eng, err := engine.New(st, rail)
	s.Require().NoError(err)
	adm, err := admin.New(st, rail)
	s.Require().NoError(err)
	s.Require().NoError(eng.Bootstrap(context.Background(), owner, limits.DefaultTierLimits.Clone()))

	s.tokens = jwttoken.NewJWTService("test-signing-key", "remittance", "remittance-api")
	s.revocations = &memoryRevocations{revoked: map[string]time.Time{}}
	s.router = s.newRouter(handler.New(eng, adm, jwttoken.NewJWTServiceAdapter(s.tokens),
		handler.WithRevocations(s.revocations)))
}

func (s *HandlerSuite) newRouter(h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.MiddlewareWithClock(func() time.Time { return requestTime }))
	h.Register(r)
	return r
}

func (s *HandlerSuite) token(addr id.Address) string {
	token, err := s.tokens.IssueSessionToken(addr, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *HandlerSuite) do(token, method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), method, path, body), token)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) as(addr id.Address, method, path string, body any) *httptest.ResponseRecorder {
	return s.do(s.token(addr), method, path, body)
}

func decode[T any](s *HandlerSuite, rec *httptest.ResponseRecorder) T {
	return testutil.UnmarshalResponse[T](s.T(), rec)
}

func (s *HandlerSuite) requireError(rec *httptest.ResponseRecorder, status int, code string) {
	testutil.AssertStatusAndError(s.T(), rec, status, code)
}

// activate registers addr and approves it at the given wire tier.
func (s *HandlerSuite) activate(addr id.Address, tier any) {
	rec := s.as(addr, http.MethodPost, "/v1/kyc", map[string]string{"document_hash": "Qm" + addr.Hex()[2:10]})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.as(owner, http.MethodPost, "/v1/admin/kyc/"+addr.Hex()+"/approve", map[string]any{"tier": tier})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
}

// =============================================================================
// Authentication
// =============================================================================

func (s *HandlerSuite) TestRequiresBearerToken() {
	s.Run("missing token", func() {
		s.requireError(s.do("", http.MethodGet, "/v1/me", nil), http.StatusUnauthorized, "unauthorized")
	})
	s.Run("foreign signing key", func() {
		other := jwttoken.NewJWTService("other-key", "remittance", "remittance-api")
		token, err := other.IssueSessionToken(alice, time.Hour)
		s.Require().NoError(err)
		s.requireError(s.do(token, http.MethodGet, "/v1/me", nil), http.StatusUnauthorized, "unauthorized")
	})
}

func (s *HandlerSuite) TestLogoutRevokesSession() {
	token := s.token(alice)
	s.Equal(http.StatusOK, s.do(token, http.MethodGet, "/v1/me", nil).Code)

	rec := s.do(token, http.MethodDelete, "/v1/session", nil)
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	s.requireError(s.do(token, http.MethodGet, "/v1/me", nil), http.StatusUnauthorized, "unauthorized")
	s.Equal(http.StatusOK, s.as(alice, http.MethodGet, "/v1/me", nil).Code, "a fresh session still works")
}

func (s *HandlerSuite) TestLogoutWithoutRevocationStore() {
	st := memory.New()
	rail := payment.NewLedgerRail()
	eng, err := engine.New(st, rail)
	s.Require().NoError(err)
	adm, err := admin.New(st, rail)
	s.Require().NoError(err)
	s.router = s.newRouter(handler.New(eng, adm, jwttoken.NewJWTServiceAdapter(s.tokens)))

	s.requireError(s.as(alice, http.MethodDelete, "/v1/session", nil), http.StatusServiceUnavailable, "unavailable")
}

// =============================================================================
// Remittance flow
// =============================================================================

func (s *HandlerSuite) TestSendAndClaim() {
	s.activate(alice, "TIER1")
	s.activate(bob, 2)

	rec := s.as(alice, http.MethodPost, "/v1/remittances", map[string]any{"recipient": bob.Hex(), "amount": 1000})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[handler.SendResponse](s, rec)
	s.Equal(alice, sent.Sender)
	s.Equal(bob, sent.Recipient)
	s.Equal(uint64(1000), sent.Amount)

	rec = s.as(alice, http.MethodGet, "/v1/me/remaining-limit", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(uint64(500), decode[handler.RemainingLimitResponse](s, rec).RemainingLimit)

	rec = s.as(bob, http.MethodGet, "/v1/me/balance", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(uint64(1000), decode[handler.BalanceResponse](s, rec).Balance)

	rec = s.as(bob, http.MethodGet, "/v1/me/tier", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	tier := decode[map[string]any](s, rec)
	s.Equal("TIER2", tier["tier"])
	s.Equal(float64(5000), tier["daily_limit"])

	rec = s.as(bob, http.MethodPost, "/v1/remittances/claim", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(uint64(1000), decode[handler.AmountResponse](s, rec).Amount)

	s.requireError(s.as(bob, http.MethodPost, "/v1/remittances/claim", nil), http.StatusConflict, "no_balance")

	rec = s.as(alice, http.MethodGet, "/v1/system", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	system := decode[map[string]any](s, rec)
	s.Equal(float64(0), system["contract_balance"])
	s.Equal(false, system["paused"])
}

func (s *HandlerSuite) TestSendErrors() {
	s.activate(alice, "TIER1")
	s.activate(bob, "TIER1")

	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"over the daily limit", map[string]any{"recipient": bob.Hex(), "amount": 1501}, http.StatusUnprocessableEntity, "limit_exceeded"},
		{"to self", map[string]any{"recipient": alice.Hex(), "amount": 10}, http.StatusBadRequest, "self_send"},
		{"zero amount", map[string]any{"recipient": bob.Hex(), "amount": 0}, http.StatusBadRequest, "invalid_input"},
		{"zero amount to self", map[string]any{"recipient": alice.Hex(), "amount": 0}, http.StatusBadRequest, "self_send"},
		{"malformed recipient", map[string]any{"recipient": "0x1234", "amount": 10}, http.StatusBadRequest, "invalid_input"},
		{"unknown field", map[string]any{"recipient": bob.Hex(), "amount": 10, "memo": "rent"}, http.StatusBadRequest, "bad_request"},
		{"empty body", "", http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.requireError(s.as(alice, http.MethodPost, "/v1/remittances", tc.body), tc.status, tc.code)
		})
	}

	s.Run("zero amount to a frozen recipient", func() {
		rec := s.as(owner, http.MethodPut, "/v1/admin/users/"+bob.Hex()+"/frozen", map[string]any{"value": true})
		s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
		s.requireError(s.as(alice, http.MethodPost, "/v1/remittances", map[string]any{"recipient": bob.Hex(), "amount": 0}),
			http.StatusConflict, "recipient_blocked")
	})
}

func (s *HandlerSuite) TestUnverifiedSenderIsForbidden() {
	rec := s.as(alice, http.MethodPost, "/v1/remittances", map[string]any{"recipient": bob.Hex(), "amount": 10})
	s.Require().Equal(http.StatusForbidden, rec.Code)
	s.Equal("KYC not approved", decode[map[string]string](s, rec)["error_description"])
}

func (s *HandlerSuite) TestPausedSystemIsUnavailable() {
	s.activate(alice, "TIER1")
	s.activate(bob, "TIER1")
	s.Require().Equal(http.StatusNoContent, s.as(owner, http.MethodPost, "/v1/admin/pause", nil).Code)

	s.requireError(s.as(alice, http.MethodPost, "/v1/remittances", map[string]any{"recipient": bob.Hex(), "amount": 10}),
		http.StatusServiceUnavailable, "system_paused")

	s.Require().Equal(http.StatusNoContent, s.as(owner, http.MethodPost, "/v1/admin/unpause", nil).Code)
	s.Equal(http.StatusCreated, s.as(alice, http.MethodPost, "/v1/remittances", map[string]any{"recipient": bob.Hex(), "amount": 10}).Code)
}

// =============================================================================
// Reads
// =============================================================================

func (s *HandlerSuite) TestKYCReads() {
	rec := s.as(alice, http.MethodPost, "/v1/kyc", map[string]string{"document_hash": "  QmAlice  "})
	s.Require().Equal(http.StatusCreated, rec.Code)
	created := decode[map[string]any](s, rec)
	s.Equal("QmAlice", created["document_hash"])
	s.Equal("PENDING", created["status"])

	s.requireError(s.as(alice, http.MethodPost, "/v1/kyc", map[string]string{"document_hash": "QmAgain"}),
		http.StatusConflict, "already_pending")

	rec = s.as(bob, http.MethodGet, "/v1/kyc/pending", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal([]id.Address{alice}, decode[handler.AddressListResponse](s, rec).Addresses)

	rec = s.as(bob, http.MethodGet, "/v1/users/"+alice.Hex()+"/kyc", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	s.requireError(s.as(alice, http.MethodGet, "/v1/users/"+bob.Hex()+"/kyc", nil), http.StatusNotFound, "not_found")
	s.requireError(s.as(alice, http.MethodGet, "/v1/users/not-an-address", nil), http.StatusBadRequest, "invalid_input")

	rec = s.as(alice, http.MethodGet, "/v1/me/status", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	status := decode[map[string]any](s, rec)
	s.Equal("PENDING", status["kyc_status"])
	s.Equal(false, status["is_kyc_approved"])

	rec = s.as(alice, http.MethodGet, "/v1/me", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("pending_review", decode[map[string]any](s, rec)["state"])
}

func (s *HandlerSuite) TestTierLimitPath() {
	rec := s.as(alice, http.MethodGet, "/v1/tiers/VIP/limit", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(uint64(100000), decode[handler.TierLimitResponse](s, rec).Limit)

	rec = s.as(alice, http.MethodGet, "/v1/tiers/3/limit", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(uint64(20000), decode[handler.TierLimitResponse](s, rec).Limit)

	s.requireError(s.as(alice, http.MethodGet, "/v1/tiers/GOLD/limit", nil), http.StatusBadRequest, "invalid_input")
}

// =============================================================================
// Admin
// =============================================================================

func (s *HandlerSuite) TestAdminTokenGate() {
	st := memory.New()
	rail := payment.NewLedgerRail()
	eng, err := engine.New(st, rail)
	s.Require().NoError(err)
	adm, err := admin.New(st, rail)
	s.Require().NoError(err)
	s.Require().NoError(eng.Bootstrap(context.Background(), owner, limits.DefaultTierLimits.Clone()))
	s.router = s.newRouter(handler.New(eng, adm, jwttoken.NewJWTServiceAdapter(s.tokens),
		handler.WithAdminToken("operator-secret")))

	s.requireError(s.as(owner, http.MethodPost, "/v1/admin/pause", nil), http.StatusUnauthorized, "unauthorized")

	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/admin/pause", nil), s.token(owner))
	req.Header.Set(adminmw.HeaderToken, "operator-secret")
	rec := testutil.DoRequest(s.router, req)
	s.Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	s.Equal(http.StatusOK, s.as(alice, http.MethodGet, "/v1/system", nil).Code, "non-admin routes are not gated")
}

func (s *HandlerSuite) TestAdminRoutesRequireOwner() {
	paths := []struct{ method, path string }{
		{http.MethodPost, "/v1/admin/pause"},
		{http.MethodPost, "/v1/admin/emergency-withdraw"},
		{http.MethodPut, "/v1/admin/tiers/TIER1/limit"},
	}
	bodies := map[string]any{"/v1/admin/tiers/TIER1/limit": map[string]any{"limit": 10}}
	for _, p := range paths {
		s.Run(p.path, func() {
			s.requireError(s.as(alice, p.method, p.path, bodies[p.path]), http.StatusForbidden, "unauthorized")
		})
	}
}

func (s *HandlerSuite) TestAdminFlagsAndLimits() {
	s.activate(alice, "TIER1")
	s.activate(bob, "TIER1")

	rec := s.as(owner, http.MethodPut, "/v1/admin/users/"+bob.Hex()+"/frozen", map[string]any{"value": true})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	s.requireError(s.as(owner, http.MethodPut, "/v1/admin/users/"+bob.Hex()+"/frozen", map[string]any{}),
		http.StatusBadRequest, "invalid_input")

	rec = s.as(bob, http.MethodGet, "/v1/me/status", nil)
	s.Equal(true, decode[map[string]any](s, rec)["is_frozen"])

	rec = s.as(owner, http.MethodPut, "/v1/admin/users/"+alice.Hex()+"/tier", map[string]any{"tier": "VIP"})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.as(owner, http.MethodPut, "/v1/admin/tiers/VIP/limit", map[string]any{"limit": 3000})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.as(alice, http.MethodGet, "/v1/me/remaining-limit", nil)
	s.Equal(uint64(3000), decode[handler.RemainingLimitResponse](s, rec).RemainingLimit)

	s.requireError(s.as(owner, http.MethodPut, "/v1/admin/users/"+alice.Hex()+"/tier", map[string]any{"tier": "GOLD"}),
		http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestBatchApprove() {
	for _, addr := range []id.Address{alice, bob} {
		s.Require().Equal(http.StatusCreated,
			s.as(addr, http.MethodPost, "/v1/kyc", map[string]string{"document_hash": "QmDoc"}).Code)
	}
	carol := id.MustParseAddress("0x00000000000000000000000000000000000000c0")

	rec := s.as(owner, http.MethodPost, "/v1/admin/kyc/batch-approve", map[string]any{
		"users": []string{alice.Hex(), carol.Hex(), bob.Hex()},
		"tiers": []any{"TIER1", 1, "VIP"},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[handler.BatchApproveResponse](s, rec)
	s.Equal(2, resp.Approved)
	s.Require().Len(resp.Results, 3)
	s.True(resp.Results[0].OK)
	s.False(resp.Results[1].OK)
	s.Equal("invalid_state", resp.Results[1].Error)
	s.True(resp.Results[2].OK)

	s.requireError(s.as(owner, http.MethodPost, "/v1/admin/kyc/batch-approve", map[string]any{
		"users": []string{alice.Hex()},
		"tiers": []any{},
	}), http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestRejectAndEmergencyWithdraw() {
	s.Require().Equal(http.StatusCreated,
		s.as(alice, http.MethodPost, "/v1/kyc", map[string]string{"document_hash": "QmDoc"}).Code)
	rec := s.as(owner, http.MethodPost, "/v1/admin/kyc/"+alice.Hex()+"/reject", map[string]string{"reason": "blurry scan"})
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.as(alice, http.MethodGet, "/v1/me/kyc", nil)
	s.Equal("blurry scan", decode[map[string]any](s, rec)["rejection_reason"])

	s.requireError(s.as(owner, http.MethodPost, "/v1/admin/emergency-withdraw", nil), http.StatusConflict, "not_paused")
	s.Require().Equal(http.StatusNoContent, s.as(owner, http.MethodPost, "/v1/admin/pause", nil).Code)
	rec = s.as(owner, http.MethodPost, "/v1/admin/emergency-withdraw", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(uint64(0), decode[handler.AmountResponse](s, rec).Amount)
}
