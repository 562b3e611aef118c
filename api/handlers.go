/*
handlers.go - HTTP handlers for the token purchase ledger

REQUEST FLOW:
  1. Parse and decode the request
  2. Resolve the acting account from verified claims
  3. Delegate to the ledger service
  4. Map errors to status codes, serialize the response

ERROR MAPPING:
  400  validation, insufficient balance
  401  missing/invalid identity claims
  404  unknown account or purchase
  409  already-decided purchase, unique-key conflicts
  503  transaction could not be serialized within bounded retries
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/ledger"
	"github.com/warp/token-ledger/pricefeed"
)

// Handler holds the handler dependencies.
type Handler struct {
	Ledger *ledger.Service
	Oracle pricefeed.Oracle
	Log    *zap.Logger
}

func NewHandler(svc *ledger.Service, oracle pricefeed.Oracle, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Ledger: svc, Oracle: oracle, Log: log}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount registers a new account with a zero balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Log, &ledger.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	account, err := h.Ledger.RegisterAccount(r.Context(), req.Email)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetBalance returns the caller's balance and derived tier.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	summary, err := h.Ledger.GetAccountBalance(r.Context(), ledger.AccountID(claims.AccountID))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(summary))
}

// GetTransactions returns the caller's transaction log, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	entries, err := h.Ledger.ListTransactions(r.Context(), ledger.AccountID(claims.AccountID))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// PURCHASES
// =============================================================================

// CreatePurchase submits a new token purchase for approval.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Log, &ledger.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}

	cryptoAmount, err := parseAmount("crypto_amount", req.CryptoAmount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	tokenAmount, err := parseAmount("token_amount", req.TokenAmount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	bonusAmount := decimal.Zero
	if strings.TrimSpace(req.BonusAmount) != "" {
		if bonusAmount, err = parseAmount("bonus_amount", req.BonusAmount); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}

	created, err := h.Ledger.CreatePurchase(r.Context(), ledger.AccountID(claims.AccountID), ledger.CreatePurchaseInput{
		CryptoAmount: cryptoAmount,
		CryptoSymbol: req.CryptoSymbol,
		TokenAmount:  tokenAmount,
		BonusAmount:  bonusAmount,
		OrderID:      req.OrderID,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(created))
}

// ListMyPurchases returns the caller's purchase requests.
func (h *Handler) ListMyPurchases(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	purchases, err := h.Ledger.ListPurchases(r.Context(), ledger.AccountID(claims.AccountID))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTOs(purchases))
}

// ListPendingPurchases returns the admin approval queue.
func (h *Handler) ListPendingPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.Ledger.PendingPurchases(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTOs(purchases))
}

// ApprovePurchase applies an APPROVE decision.
func (h *Handler) ApprovePurchase(w http.ResponseWriter, r *http.Request) {
	h.decidePurchase(w, r, ledger.DecisionApprove)
}

// RejectPurchase applies a REJECT decision.
func (h *Handler) RejectPurchase(w http.ResponseWriter, r *http.Request) {
	h.decidePurchase(w, r, ledger.DecisionReject)
}

func (h *Handler) decidePurchase(w http.ResponseWriter, r *http.Request, decision ledger.Decision) {
	claims := ClaimsFrom(r.Context())
	requestID := ledger.RequestID(chi.URLParam(r, "id"))

	var req DecidePurchaseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.Log, &ledger.ValidationError{Field: "body", Message: "invalid JSON"})
			return
		}
	}

	decided, err := h.Ledger.DecidePurchase(r.Context(), requestID, decision,
		ledger.AccountID(claims.AccountID), req.Message)
	observeDecision(string(decision), err)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(decided))
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// InitiateWithdrawal reserves balance for a manual settlement.
func (h *Handler) InitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Log, &ledger.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	created, err := h.Ledger.InitiateWithdrawal(r.Context(),
		ledger.AccountID(claims.AccountID), amount, req.WalletAddress)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(created))
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustBalance is the audited administrative balance override.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())

	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Log, &ledger.ValidationError{Field: "body", Message: "invalid JSON"})
		return
	}
	balance, err := decimal.NewFromString(req.Balance)
	if err != nil {
		writeError(w, h.Log, &ledger.ValidationError{Field: "balance", Message: "must be numeric"})
		return
	}

	account, err := h.Ledger.AdjustBalance(r.Context(), ledger.AccountID(req.AccountID),
		balance, ledger.AccountID(claims.AccountID), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// =============================================================================
// PRICE FEED
// =============================================================================

// GetQuote returns the informational USD rate for a symbol.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, h.Log, &ledger.ValidationError{Field: "symbol", Message: "must not be empty"})
		return
	}

	rate, err := h.Oracle.Quote(r.Context(), symbol)
	if err != nil {
		// An unknown symbol is the client's problem; a failing feed is ours.
		if errors.Is(err, pricefeed.ErrUnknownSymbol) {
			writeError(w, h.Log, &ledger.NotFoundError{Kind: "quote", ID: symbol})
			return
		}
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteDTO{Symbol: strings.ToUpper(symbol), USD: rate.String()})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Message: "must be numeric"}
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, ledger.ErrValidation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status, kind = http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, ledger.ErrUnauthorized):
		status, kind = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ledger.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInvalidState):
		status, kind = http.StatusConflict, "invalid_state"
	case errors.Is(err, ledger.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrConcurrency):
		status, kind = http.StatusServiceUnavailable, "concurrency"
	}

	if status == http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.Error(err))
		// Do not leak internals to clients.
		writeJSON(w, status, errorResponse{Error: "internal error", Kind: kind})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
