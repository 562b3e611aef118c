/*
store.go - Persistence interfaces for accounts, purchases, and entries

PURPOSE:
  Defines the boundary between the ledger and the database. Different
  implementations back these with SQLite or in-memory storage.

KEY INTERFACES:
  AccountStore:  balance and identity record access
  PurchaseStore: purchase request persistence with a compare-and-swap
                 status transition
  EntryStore:    append-only transaction log (no Update, no Delete)
  TxStore:       Store plus a transactional boundary (WithTx)

APPEND-ONLY CONTRACT:
  EntryStore exposes no update or delete. Corrections are recorded as
  new ADJUSTMENT entries, never edits.

STATUS TRANSITIONS:
  TransitionPurchase is a compare-and-swap on the status column. If two
  decisions race for the same request, exactly one observes PENDING and
  wins; the loser gets InvalidStateError. Combined with WithTx this is
  what makes double-crediting impossible.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// CreateAccount persists a new account. Returns ConflictError if the
	// email is already registered.
	CreateAccount(ctx context.Context, a *Account) error

	// Account returns the account or NotFoundError.
	Account(ctx context.Context, id AccountID) (*Account, error)

	// AccountByEmail returns the account or NotFoundError.
	AccountByEmail(ctx context.Context, email string) (*Account, error)

	// UpdateBalance writes a new balance. By contract this is called only
	// from inside a ledger WithTx operation or the audited admin
	// adjustment path; nothing else writes balances.
	UpdateBalance(ctx context.Context, id AccountID, balance decimal.Decimal, at time.Time) error
}

// =============================================================================
// PURCHASE STORE
// =============================================================================

type PurchaseStore interface {
	// CreatePurchase persists a new request. Returns ConflictError if the
	// order identifier already exists.
	CreatePurchase(ctx context.Context, r *PurchaseRequest) error

	// Purchase returns the request or NotFoundError.
	Purchase(ctx context.Context, id RequestID) (*PurchaseRequest, error)

	// TransitionPurchase moves a request from status `from` to `to`,
	// stamping the admin message and update time. Compare-and-swap: if
	// the current status is not `from`, it returns InvalidStateError and
	// writes nothing.
	TransitionPurchase(ctx context.Context, id RequestID, from, to RequestStatus, message string, at time.Time) error

	// PurchasesByAccount returns an account's requests, newest first.
	PurchasesByAccount(ctx context.Context, id AccountID) ([]PurchaseRequest, error)

	// PendingPurchases returns all PENDING requests, oldest first.
	PendingPurchases(ctx context.Context) ([]PurchaseRequest, error)
}

// =============================================================================
// TRANSACTION LOG STORE - Append-only
// =============================================================================

type EntryStore interface {
	// AppendEntry is a write-once insert. There is no update or delete.
	AppendEntry(ctx context.Context, e *Entry) error

	// EntriesByAccount returns entries ordered newest first.
	EntriesByAccount(ctx context.Context, id AccountID) ([]Entry, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store is the full persistence surface the ledger operates against.
type Store interface {
	AccountStore
	PurchaseStore
	EntryStore
}

// TxStore adds the transactional boundary. Every balance-affecting
// operation in the ledger runs inside WithTx: if fn returns an error the
// transaction is rolled back and no partial effect is observable.
//
// Implementations must serialize conflicting writers; a transaction that
// cannot be serialized surfaces ErrConcurrency.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
