/*
service.go - The purchase ledger service

PURPOSE:
  Owns the purchase lifecycle and all balance mutations. Every write
  that touches a balance runs inside the store's WithTx boundary, so a
  failure at any step leaves no partial effect.

THE CRITICAL OPERATION:
  DecidePurchase on APPROVE performs, atomically:
    1. Re-read the account's current balance
    2. newBalance = balance + tokenAmount + bonusAmount
    3. Write the new balance
    4. Flip request status PENDING -> APPROVED (compare-and-swap)
    5. Append a DEPOSIT transaction-log entry
  If any step fails, the transaction rolls back: status stays PENDING
  and the balance is unchanged.

DECIDE-ONCE:
  Decisions are deliberately not idempotent. A second decision on an
  already-decided request fails with InvalidStateError instead of being
  silently accepted; silent acceptance is how balances get credited
  twice.

WITHDRAWALS:
  Withdrawals debit the balance at initiation (the funds are reserved
  for manual off-chain settlement) but only write a transaction-log
  entry at administrative completion. Deposits are the mirror image:
  no effect at creation, credit at approval. This asymmetry is a
  product decision, not an oversight.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/cache"
	"github.com/warp/token-ledger/tier"
)

// maxTxRetries bounds the retry loop on serialization failures. Past
// this the operation fails with ErrConcurrency rather than spinning.
const maxTxRetries = 3

// withdrawalMessage is the fixed administrator-facing note attached to
// every withdrawal request at initiation.
const withdrawalMessage = "Withdrawal requested; funds reserved pending manual settlement."

// =============================================================================
// SERVICE
// =============================================================================

// Config carries the ledger's injected settings.
type Config struct {
	// UnitPrice is the fixed token unit price used to compute the
	// USD-equivalent of a purchase (tokens divided by unit price).
	UnitPrice decimal.Decimal

	// TTLs for the cached read models. Zero means a sensible default.
	BalanceTTL      time.Duration
	TransactionsTTL time.Duration
}

// Service is the purchase ledger. All balance-changing call sites
// funnel through it.
type Service struct {
	store TxStore
	cache cache.Cache // optional; nil bypasses caching
	log   *zap.Logger
	cfg   Config
	now   func() time.Time
}

func NewService(log *zap.Logger, store TxStore, c cache.Cache, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BalanceTTL <= 0 {
		cfg.BalanceTTL = 30 * time.Second
	}
	if cfg.TransactionsTTL <= 0 {
		cfg.TransactionsTTL = time.Minute
	}
	return &Service{
		store: store,
		cache: c,
		log:   log,
		cfg:   cfg,
		now:   time.Now,
	}
}

func balanceKey(id AccountID) string      { return "balance:" + string(id) }
func transactionsKey(id AccountID) string { return "transactions:" + string(id) }

// =============================================================================
// ACCOUNT REGISTRATION
// =============================================================================

// RegisterAccount creates an account with a zero balance and USER role.
func (s *Service) RegisterAccount(ctx context.Context, email string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Message: "must be a valid email address"}
	}

	now := s.now()
	a := &Account{
		ID:        AccountID(uuid.NewString()),
		Email:     email,
		Balance:   decimal.Zero,
		Role:      RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info("account registered", zap.String("account_id", string(a.ID)))
	return a, nil
}

// =============================================================================
// CREATE PURCHASE
// =============================================================================

// CreatePurchaseInput carries the client-supplied purchase fields.
type CreatePurchaseInput struct {
	CryptoAmount decimal.Decimal
	CryptoSymbol string
	TokenAmount  decimal.Decimal
	BonusAmount  decimal.Decimal // optional, >= 0
	OrderID      string          // optional, must be unique if supplied
}

// CreatePurchase records an intent to buy tokens. The request starts
// PENDING; nothing is credited until an administrator approves it.
func (s *Service) CreatePurchase(ctx context.Context, accountID AccountID, in CreatePurchaseInput) (*PurchaseRequest, error) {
	if !in.CryptoAmount.IsPositive() {
		return nil, &ValidationError{Field: "crypto_amount", Message: "must be positive"}
	}
	if strings.TrimSpace(in.CryptoSymbol) == "" {
		return nil, &ValidationError{Field: "crypto_symbol", Message: "must not be empty"}
	}
	if !in.TokenAmount.IsPositive() {
		return nil, &ValidationError{Field: "token_amount", Message: "must be positive"}
	}
	if in.BonusAmount.IsNegative() {
		return nil, &ValidationError{Field: "bonus_amount", Message: "must not be negative"}
	}

	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}

	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}

	now := s.now()
	req := &PurchaseRequest{
		ID:           RequestID(uuid.NewString()),
		AccountID:    accountID,
		CryptoAmount: in.CryptoAmount,
		CryptoSymbol: strings.ToUpper(strings.TrimSpace(in.CryptoSymbol)),
		TokenAmount:  in.TokenAmount,
		BonusAmount:  in.BonusAmount,
		UsdValue:     in.TokenAmount.Div(s.cfg.UnitPrice),
		UnitPrice:    s.cfg.UnitPrice,
		Status:       StatusPending,
		OrderID:      orderID,
		Type:         TypeDeposit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePurchase(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info("purchase created",
		zap.String("request_id", string(req.ID)),
		zap.String("account_id", string(accountID)),
		zap.String("token_amount", req.TokenAmount.String()))
	return req, nil
}

// =============================================================================
// DECIDE PURCHASE - The atomic transition
// =============================================================================

// DecidePurchase applies an administrator decision to a PENDING request.
// Exactly one decision can ever succeed per request.
func (s *Service) DecidePurchase(ctx context.Context, requestID RequestID, decision Decision, actingAdminID AccountID, message string) (*PurchaseRequest, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, &ValidationError{Field: "decision", Message: "must be APPROVE or REJECT"}
	}

	var (
		decided        *PurchaseRequest
		balanceTouched bool
	)
	err := s.withRetry(ctx, func(st Store) error {
		balanceTouched = false

		req, err := st.Purchase(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return &InvalidStateError{
				Kind:    "purchase",
				ID:      string(requestID),
				Current: string(req.Status),
				Wanted:  string(StatusPending),
			}
		}

		now := s.now()
		switch decision {
		case DecisionApprove:
			if err := s.approveLocked(ctx, st, req, message, now); err != nil {
				return err
			}
			req.Status = StatusApproved
			balanceTouched = true
		case DecisionReject:
			if req.Type == TypeWithdraw {
				// Release the reservation taken at initiation, recorded
				// as an adjustment so the balance stays explainable by
				// the log.
				if err := s.releaseWithdrawalLocked(ctx, st, req, now); err != nil {
					return err
				}
				balanceTouched = true
			}
			if err := st.TransitionPurchase(ctx, requestID, StatusPending, StatusRejected, message, now); err != nil {
				return err
			}
			req.Status = StatusRejected
		}
		req.AdminMessage = message
		req.UpdatedAt = now
		decided = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	if balanceTouched {
		cache.Invalidate(ctx, s.cache, s.log,
			balanceKey(decided.AccountID), transactionsKey(decided.AccountID))
	}

	s.log.Info("purchase decided",
		zap.String("request_id", string(requestID)),
		zap.String("decision", string(decision)),
		zap.String("admin_id", string(actingAdminID)))
	return decided, nil
}

// approveLocked runs inside the store transaction. Branches on request
// type: deposits credit now, withdrawals were debited at initiation and
// only gain their log entry here.
func (s *Service) approveLocked(ctx context.Context, st Store, req *PurchaseRequest, message string, now time.Time) error {
	switch req.Type {
	case TypeDeposit:
		account, err := st.Account(ctx, req.AccountID)
		if err != nil {
			return err
		}
		credit := req.CreditTotal()
		if err := st.UpdateBalance(ctx, account.ID, account.Balance.Add(credit), now); err != nil {
			return err
		}
		if err := st.TransitionPurchase(ctx, req.ID, StatusPending, StatusApproved, message, now); err != nil {
			return err
		}
		return st.AppendEntry(ctx, &Entry{
			ID:          EntryID(uuid.NewString()),
			AccountID:   req.AccountID,
			Amount:      req.UsdValue,
			TokenAmount: credit,
			Type:        EntryDeposit,
			Status:      EntryCompleted,
			CreatedAt:   now,
		})
	case TypeWithdraw:
		if err := st.TransitionPurchase(ctx, req.ID, StatusPending, StatusApproved, message, now); err != nil {
			return err
		}
		return st.AppendEntry(ctx, &Entry{
			ID:          EntryID(uuid.NewString()),
			AccountID:   req.AccountID,
			Amount:      req.UsdValue,
			TokenAmount: req.TokenAmount.Neg(),
			Type:        EntryWithdrawal,
			Status:      EntryCompleted,
			CreatedAt:   now,
		})
	default:
		return fmt.Errorf("unknown request type %q", req.Type)
	}
}

// releaseWithdrawalLocked credits back the amount reserved when the
// withdrawal was initiated.
func (s *Service) releaseWithdrawalLocked(ctx context.Context, st Store, req *PurchaseRequest, now time.Time) error {
	account, err := st.Account(ctx, req.AccountID)
	if err != nil {
		return err
	}
	if err := st.UpdateBalance(ctx, account.ID, account.Balance.Add(req.TokenAmount), now); err != nil {
		return err
	}
	return st.AppendEntry(ctx, &Entry{
		ID:          EntryID(uuid.NewString()),
		AccountID:   req.AccountID,
		Amount:      req.UsdValue,
		TokenAmount: req.TokenAmount,
		Type:        EntryAdjustment,
		Status:      EntryCompleted,
		CreatedAt:   now,
	})
}

// =============================================================================
// INITIATE WITHDRAWAL - Optimistic debit
// =============================================================================

// InitiateWithdrawal reserves tokens for manual settlement. The balance
// is debited immediately; the transaction-log entry is written only at
// administrative completion, mirroring the approval path.
func (s *Service) InitiateWithdrawal(ctx context.Context, accountID AccountID, amount decimal.Decimal, walletAddress string) (*PurchaseRequest, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if strings.TrimSpace(walletAddress) == "" {
		return nil, &ValidationError{Field: "wallet_address", Message: "must not be empty"}
	}

	var req *PurchaseRequest
	err := s.withRetry(ctx, func(st Store) error {
		account, err := st.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return &InsufficientBalanceError{
				AccountID: accountID,
				Available: account.Balance,
				Requested: amount,
			}
		}

		now := s.now()
		if err := st.UpdateBalance(ctx, accountID, account.Balance.Sub(amount), now); err != nil {
			return err
		}

		req = &PurchaseRequest{
			ID:            RequestID(uuid.NewString()),
			AccountID:     accountID,
			TokenAmount:   amount,
			BonusAmount:   decimal.Zero,
			UsdValue:      amount.Div(s.cfg.UnitPrice),
			UnitPrice:     s.cfg.UnitPrice,
			Status:        StatusPending,
			AdminMessage:  withdrawalMessage,
			WalletAddress: strings.TrimSpace(walletAddress),
			OrderID:       uuid.NewString(),
			Type:          TypeWithdraw,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return st.CreatePurchase(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	cache.Invalidate(ctx, s.cache, s.log,
		balanceKey(accountID), transactionsKey(accountID))

	s.log.Info("withdrawal initiated",
		zap.String("request_id", string(req.ID)),
		zap.String("account_id", string(accountID)),
		zap.String("amount", amount.String()))
	return req, nil
}

// =============================================================================
// ADMIN BALANCE ADJUSTMENT - The single audited override path
// =============================================================================

// AdjustBalance sets an account balance directly. This is the only
// balance write outside purchase processing; the delta is recorded as
// an ADJUSTMENT entry so the transaction log still explains the balance.
func (s *Service) AdjustBalance(ctx context.Context, accountID AccountID, newBalance decimal.Decimal, actingAdminID AccountID, reason string) (*Account, error) {
	if newBalance.IsNegative() {
		return nil, &ValidationError{Field: "balance", Message: "must not be negative"}
	}

	var adjusted *Account
	err := s.withRetry(ctx, func(st Store) error {
		account, err := st.Account(ctx, accountID)
		if err != nil {
			return err
		}

		now := s.now()
		delta := newBalance.Sub(account.Balance)
		if err := st.UpdateBalance(ctx, accountID, newBalance, now); err != nil {
			return err
		}
		if err := st.AppendEntry(ctx, &Entry{
			ID:          EntryID(uuid.NewString()),
			AccountID:   accountID,
			Amount:      delta.Div(s.cfg.UnitPrice),
			TokenAmount: delta,
			Type:        EntryAdjustment,
			Status:      EntryCompleted,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		account.Balance = newBalance
		account.UpdatedAt = now
		adjusted = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache.Invalidate(ctx, s.cache, s.log,
		balanceKey(accountID), transactionsKey(accountID))

	s.log.Info("balance adjusted",
		zap.String("account_id", string(accountID)),
		zap.String("admin_id", string(actingAdminID)),
		zap.String("reason", reason))
	return adjusted, nil
}

// =============================================================================
// READS
// =============================================================================

// BalanceSummary is the display read of a balance, with the derived
// tier. Tier output is never persisted.
type BalanceSummary struct {
	AccountID AccountID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Tier      tier.Tier       `json:"tier"`
}

// GetAccountBalance returns the balance and tier, read-through cached.
func (s *Service) GetAccountBalance(ctx context.Context, accountID AccountID) (*BalanceSummary, error) {
	return cache.ReadThrough(ctx, s.cache, s.log, balanceKey(accountID), s.cfg.BalanceTTL,
		func(ctx context.Context) (*BalanceSummary, error) {
			account, err := s.store.Account(ctx, accountID)
			if err != nil {
				return nil, err
			}
			return &BalanceSummary{
				AccountID: account.ID,
				Balance:   account.Balance,
				Tier:      tier.TierFor(account.Balance),
			}, nil
		})
}

// ListTransactions returns the account's transaction log, newest first,
// read-through cached.
func (s *Service) ListTransactions(ctx context.Context, accountID AccountID) ([]Entry, error) {
	return cache.ReadThrough(ctx, s.cache, s.log, transactionsKey(accountID), s.cfg.TransactionsTTL,
		func(ctx context.Context) ([]Entry, error) {
			if _, err := s.store.Account(ctx, accountID); err != nil {
				return nil, err
			}
			return s.store.EntriesByAccount(ctx, accountID)
		})
}

// ListPurchases returns an account's purchase requests, newest first.
func (s *Service) ListPurchases(ctx context.Context, accountID AccountID) ([]PurchaseRequest, error) {
	return s.store.PurchasesByAccount(ctx, accountID)
}

// PendingPurchases returns every PENDING request, for the admin queue.
func (s *Service) PendingPurchases(ctx context.Context) ([]PurchaseRequest, error) {
	return s.store.PendingPurchases(ctx)
}

// Account returns the raw account record.
func (s *Service) Account(ctx context.Context, accountID AccountID) (*Account, error) {
	return s.store.Account(ctx, accountID)
}

// =============================================================================
// RETRY
// =============================================================================

// withRetry runs fn inside a store transaction, retrying a bounded
// number of times on serialization failures.
func (s *Service) withRetry(ctx context.Context, fn func(Store) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConcurrency) {
			return err
		}
		s.log.Warn("transaction serialization failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}
