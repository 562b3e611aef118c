package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/api"
	"github.com/warp/token-ledger/auth"
	"github.com/warp/token-ledger/cache"
	"github.com/warp/token-ledger/ledger"
	"github.com/warp/token-ledger/pricefeed"
	"github.com/warp/token-ledger/store/memory"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type harness struct {
	server   *httptest.Server
	verifier *auth.Verifier
	ledger   *ledger.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithOracle(t, pricefeed.NewStatic(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(65000),
	}))
}

func newHarnessWithOracle(t *testing.T, oracle pricefeed.Oracle) *harness {
	t.Helper()

	unitPrice, _ := decimal.NewFromString("0.05")
	svc := ledger.NewService(zap.NewNop(), memory.New(), cache.NewMemory(nil), ledger.Config{
		UnitPrice: unitPrice,
	})

	verifier := auth.NewVerifier([]byte("test-secret"), "token-ledger")

	h := api.NewHandler(svc, oracle, zap.NewNop())
	srv := httptest.NewServer(api.NewRouter(h, verifier, zap.NewNop()))
	t.Cleanup(srv.Close)

	return &harness{server: srv, verifier: verifier, ledger: svc}
}

func (h *harness) token(t *testing.T, accountID string, isAdmin bool) string {
	t.Helper()
	role := "USER"
	if isAdmin {
		role = "ADMIN"
	}
	token, err := h.verifier.Issue(accountID, accountID+"@example.com", role, isAdmin, time.Minute)
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (h *harness) register(t *testing.T, email string) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/accounts", "", map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var account struct {
		ID string `json:"id"`
	}
	decodeInto(t, resp, &account)
	return account.ID
}

// =============================================================================
// FULL LIFECYCLE
// =============================================================================

func TestPurchaseLifecycle_EndToEnd(t *testing.T) {
	h := newHarness(t)

	// Register a user and submit a purchase.
	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)

	resp := h.do(t, http.MethodPost, "/api/purchases", userToken, map[string]string{
		"crypto_amount": "0.01",
		"crypto_symbol": "btc",
		"token_amount":  "100",
		"bonus_amount":  "10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var purchase struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		UsdValue string `json:"usd_value"`
	}
	decodeInto(t, resp, &purchase)
	assert.Equal(t, "PENDING", purchase.Status)
	assert.Equal(t, "2000", purchase.UsdValue)

	// The request shows up in the admin queue.
	adminToken := h.token(t, "admin-1", true)
	resp = h.do(t, http.MethodGet, "/api/purchases/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []struct {
		ID string `json:"id"`
	}
	decodeInto(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, purchase.ID, pending[0].ID)

	// Admin approves; the balance and transaction log reflect it.
	resp = h.do(t, http.MethodPost, "/api/purchases/"+purchase.ID+"/approve", adminToken,
		map[string]string{"message": "verified on-chain"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/accounts/me/balance", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var balance struct {
		Balance string `json:"balance"`
		Tier    struct {
			Name string `json:"name"`
		} `json:"tier"`
	}
	decodeInto(t, resp, &balance)
	assert.Equal(t, "110", balance.Balance)
	assert.Equal(t, "Bronze", balance.Tier.Name)

	resp = h.do(t, http.MethodGet, "/api/accounts/me/transactions", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []struct {
		Type        string `json:"type"`
		TokenAmount string `json:"token_amount"`
	}
	decodeInto(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "DEPOSIT", entries[0].Type)
	assert.Equal(t, "110", entries[0].TokenAmount)

	// A second decision conflicts.
	resp = h.do(t, http.MethodPost, "/api/purchases/"+purchase.ID+"/reject", adminToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWithdrawalLifecycle_EndToEnd(t *testing.T) {
	h := newHarness(t)

	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)
	adminToken := h.token(t, "admin-1", true)

	// Seed a balance through the admin adjustment endpoint.
	resp := h.do(t, http.MethodPost, "/api/admin/adjustments", adminToken, map[string]string{
		"account_id": accountID,
		"balance":    "500",
		"reason":     "test seed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Withdrawal reserves funds immediately.
	resp = h.do(t, http.MethodPost, "/api/withdrawals", userToken, map[string]string{
		"amount":         "200",
		"wallet_address": "0xabc",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var withdrawal struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	decodeInto(t, resp, &withdrawal)
	assert.Equal(t, "WITHDRAW", withdrawal.Type)
	assert.Equal(t, "PENDING", withdrawal.Status)

	var balance struct {
		Balance string `json:"balance"`
	}
	resp = h.do(t, http.MethodGet, "/api/accounts/me/balance", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &balance)
	assert.Equal(t, "300", balance.Balance)

	// Rejection restores the reservation.
	resp = h.do(t, http.MethodPost, "/api/purchases/"+withdrawal.ID+"/reject", adminToken,
		map[string]string{"message": "bad address"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/accounts/me/balance", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &balance)
	assert.Equal(t, "500", balance.Balance)
}

func TestWithdrawal_InsufficientBalance(t *testing.T) {
	h := newHarness(t)

	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)

	resp := h.do(t, http.MethodPost, "/api/withdrawals", userToken, map[string]string{
		"amount":         "10",
		"wallet_address": "0xabc",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Kind string `json:"kind"`
	}
	decodeInto(t, resp, &body)
	assert.Equal(t, "insufficient_balance", body.Kind)
}

// =============================================================================
// AUTHENTICATION & AUTHORIZATION
// =============================================================================

func TestAuthenticatedRoutes_RejectMissingToken(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/accounts/me/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/accounts/me/balance", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutes_RejectNonAdmin(t *testing.T) {
	h := newHarness(t)

	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)

	resp := h.do(t, http.MethodGet, "/api/purchases/pending", userToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/admin/adjustments", userToken, map[string]string{
		"account_id": accountID, "balance": "1000000", "reason": "self-service raise",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// VALIDATION & ERROR MAPPING
// =============================================================================

func TestCreatePurchase_NonNumericAmount(t *testing.T) {
	h := newHarness(t)

	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)

	resp := h.do(t, http.MethodPost, "/api/purchases", userToken, map[string]string{
		"crypto_amount": "0.01",
		"crypto_symbol": "BTC",
		"token_amount":  "one hundred",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Kind string `json:"kind"`
	}
	decodeInto(t, resp, &body)
	assert.Equal(t, "validation", body.Kind)
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	h := newHarness(t)

	h.register(t, "alice@example.com")
	resp := h.do(t, http.MethodPost, "/api/accounts", "", map[string]string{"email": "alice@example.com"})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDecidePurchase_UnknownRequest(t *testing.T) {
	h := newHarness(t)
	adminToken := h.token(t, "admin-1", true)

	resp := h.do(t, http.MethodPost, "/api/purchases/missing/approve", adminToken, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// PRICE FEED
// =============================================================================

func TestGetQuote(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/price?symbol=btc", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote struct {
		Symbol string `json:"symbol"`
		USD    string `json:"usd"`
	}
	decodeInto(t, resp, &quote)
	assert.Equal(t, "BTC", quote.Symbol)
	assert.Equal(t, "65000", quote.USD)

	resp = h.do(t, http.MethodGet, "/api/price?symbol=DOGE", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type brokenOracle struct{}

func (brokenOracle) Quote(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("feed down")
}

func TestGetQuote_FeedFailureIsNot404(t *testing.T) {
	h := newHarnessWithOracle(t, brokenOracle{})

	// A dead feed is a server-side failure; only an unknown symbol
	// maps to 404.
	resp := h.do(t, http.MethodGet, "/api/price?symbol=BTC", "", nil)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	decodeInto(t, resp, &body)
	assert.Equal(t, "internal", body.Kind)
	assert.NotContains(t, body.Error, "feed down", "internals must not leak to clients")
}

func TestMetrics_UseRoutePatternLabels(t *testing.T) {
	h := newHarness(t)

	accountID := h.register(t, "alice@example.com")
	userToken := h.token(t, accountID, false)
	adminToken := h.token(t, "admin-1", true)

	resp := h.do(t, http.MethodPost, "/api/purchases", userToken, map[string]string{
		"crypto_amount": "0.01",
		"crypto_symbol": "BTC",
		"token_amount":  "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var purchase struct {
		ID string `json:"id"`
	}
	decodeInto(t, resp, &purchase)

	resp = h.do(t, http.MethodPost, "/api/purchases/"+purchase.ID+"/approve", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	metrics := string(raw)

	// Per-ID paths would mint one label per request.
	assert.Contains(t, metrics, `path="/api/purchases/{id}/approve"`)
	assert.NotContains(t, metrics, purchase.ID)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
