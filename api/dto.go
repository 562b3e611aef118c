/*
dto.go - Request and response shapes for the HTTP API

Amounts travel as strings and are parsed with shopspring/decimal in the
handlers; a non-numeric amount is a validation error, never a silent
zero. DTOs are pure data carriers - validation lives in the handlers
and the ledger.
*/
package api

import (
	"time"

	"github.com/warp/token-ledger/ledger"
	"github.com/warp/token-ledger/tier"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateAccountRequest struct {
	Email string `json:"email"`
}

type CreatePurchaseRequest struct {
	CryptoAmount string `json:"crypto_amount"`
	CryptoSymbol string `json:"crypto_symbol"`
	TokenAmount  string `json:"token_amount"`
	BonusAmount  string `json:"bonus_amount,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
}

type DecidePurchaseRequest struct {
	Message string `json:"message,omitempty"`
}

type WithdrawRequest struct {
	Amount        string `json:"amount"`
	WalletAddress string `json:"wallet_address"`
}

type AdjustBalanceRequest struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Reason    string `json:"reason"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Balance   string `json:"balance"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type PurchaseDTO struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	CryptoAmount  string `json:"crypto_amount"`
	CryptoSymbol  string `json:"crypto_symbol"`
	TokenAmount   string `json:"token_amount"`
	BonusAmount   string `json:"bonus_amount"`
	UsdValue      string `json:"usd_value"`
	UnitPrice     string `json:"unit_price"`
	Status        string `json:"status"`
	AdminMessage  string `json:"admin_message,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	OrderID       string `json:"order_id"`
	Type          string `json:"type"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	TokenAmount string `json:"token_amount"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type BalanceDTO struct {
	AccountID string  `json:"account_id"`
	Balance   string  `json:"balance"`
	Tier      TierDTO `json:"tier"`
}

type TierDTO struct {
	Name         string `json:"name"`
	BonusPercent int64  `json:"bonus_percent"`
	Progress     string `json:"progress"`
	NextName     string `json:"next_name,omitempty"`
	AmountToNext string `json:"amount_to_next"`
}

type QuoteDTO struct {
	Symbol string `json:"symbol"`
	USD    string `json:"usd"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Email:     a.Email,
		Balance:   a.Balance.String(),
		Role:      string(a.Role),
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPurchaseDTO(r *ledger.PurchaseRequest) PurchaseDTO {
	return PurchaseDTO{
		ID:            string(r.ID),
		AccountID:     string(r.AccountID),
		CryptoAmount:  r.CryptoAmount.String(),
		CryptoSymbol:  r.CryptoSymbol,
		TokenAmount:   r.TokenAmount.String(),
		BonusAmount:   r.BonusAmount.String(),
		UsdValue:      r.UsdValue.String(),
		UnitPrice:     r.UnitPrice.String(),
		Status:        string(r.Status),
		AdminMessage:  r.AdminMessage,
		WalletAddress: r.WalletAddress,
		OrderID:       r.OrderID,
		Type:          string(r.Type),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPurchaseDTOs(reqs []ledger.PurchaseRequest) []PurchaseDTO {
	out := make([]PurchaseDTO, len(reqs))
	for i := range reqs {
		out[i] = toPurchaseDTO(&reqs[i])
	}
	return out
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = EntryDTO{
			ID:          string(e.ID),
			AccountID:   string(e.AccountID),
			Amount:      e.Amount.String(),
			TokenAmount: e.TokenAmount.String(),
			Type:        string(e.Type),
			Status:      string(e.Status),
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func toBalanceDTO(b *ledger.BalanceSummary) BalanceDTO {
	return BalanceDTO{
		AccountID: string(b.AccountID),
		Balance:   b.Balance.String(),
		Tier:      toTierDTO(b.Tier),
	}
}

func toTierDTO(t tier.Tier) TierDTO {
	return TierDTO{
		Name:         t.Name,
		BonusPercent: t.BonusPercent,
		Progress:     t.Progress.String(),
		NextName:     t.NextName,
		AmountToNext: t.AmountToNext.String(),
	}
}
