/*
Package ledger implements the token purchase ledger: the purchase request
lifecycle, balance crediting, and the append-only transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: identity record owning a token balance
  - PurchaseRequest: a pending intent to acquire (or withdraw) tokens
  - Entry: an immutable transaction-log record of a completed movement

DESIGN PRINCIPLES:
  1. Precision: all monetary and token amounts use decimal.Decimal.
     Repeated additions on binary floats drift; balances must not.
  2. Type Safety: strong typing for IDs prevents mixing account,
     request, and entry identifiers.
  3. Single writer: the balance field is only ever mutated inside the
     ledger's transactional operations (see service.go).
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type RequestID string
type EntryID string

// =============================================================================
// ACCOUNT
// =============================================================================

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account is an identity record with a token balance.
//
// INVARIANT: Balance is explainable as the sum of completed crediting
// entries minus completed debits. It is mutated only by the ledger's
// transactional operations or the audited admin adjustment path.
type Account struct {
	ID           AccountID
	Email        string
	PasswordHash string // credential storage only; verification lives elsewhere
	Balance      decimal.Decimal
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// PURCHASE REQUEST
// =============================================================================

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

type RequestType string

const (
	TypeDeposit  RequestType = "DEPOSIT"
	TypeWithdraw RequestType = "WITHDRAW"
)

// PurchaseRequest records an intent to acquire tokens (DEPOSIT) or to
// withdraw them (WITHDRAW).
//
// INVARIANTS:
//   - Status transitions only PENDING -> APPROVED or PENDING -> REJECTED.
//     A decided request is never re-decided.
//   - TokenAmount + BonusAmount is fixed at creation, never recomputed.
//   - OrderID is unique across the store.
type PurchaseRequest struct {
	ID            RequestID
	AccountID     AccountID
	CryptoAmount  decimal.Decimal
	CryptoSymbol  string
	TokenAmount   decimal.Decimal
	BonusAmount   decimal.Decimal
	UsdValue      decimal.Decimal
	UnitPrice     decimal.Decimal
	Status        RequestStatus
	AdminMessage  string
	WalletAddress string
	OrderID       string
	Type          RequestType
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreditTotal is the amount credited to the balance when a DEPOSIT
// request is approved.
func (r *PurchaseRequest) CreditTotal() decimal.Decimal {
	return r.TokenAmount.Add(r.BonusAmount)
}

// Decision is an administrator verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// =============================================================================
// TRANSACTION LOG ENTRY
// =============================================================================

type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryAdjustment EntryType = "ADJUSTMENT"
)

type EntryStatus string

const (
	EntryCompleted EntryStatus = "COMPLETED"
)

// Entry is a transaction-log record of a completed monetary movement.
// Append-only: once written it is never updated or deleted.
type Entry struct {
	ID          EntryID
	AccountID   AccountID
	Amount      decimal.Decimal // USD-equivalent value
	TokenAmount decimal.Decimal // signed token delta
	Type        EntryType
	Status      EntryStatus
	CreatedAt   time.Time
}
