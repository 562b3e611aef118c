// Package memory provides an in-memory ledger.TxStore for tests and
// local development. WithTx takes a snapshot and restores it on error,
// so the transactional contract matches the SQLite store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/token-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	emails    map[string]ledger.AccountID
	purchases map[ledger.RequestID]ledger.PurchaseRequest
	orders    map[string]ledger.RequestID
	entries   map[ledger.AccountID][]ledger.Entry
}

func New() *Store {
	return &Store{
		accounts:  make(map[ledger.AccountID]ledger.Account),
		emails:    make(map[string]ledger.AccountID),
		purchases: make(map[ledger.RequestID]ledger.PurchaseRequest),
		orders:    make(map[string]ledger.RequestID),
		entries:   make(map[ledger.AccountID][]ledger.Entry),
	}
}

var _ ledger.TxStore = (*Store)(nil)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(_ context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccountLocked(a)
}

func (s *Store) createAccountLocked(a *ledger.Account) error {
	if _, ok := s.emails[a.Email]; ok {
		return &ledger.ConflictError{Kind: "email", Key: a.Email}
	}
	s.accounts[a.ID] = *a
	s.emails[a.Email] = a.ID
	return nil
}

func (s *Store) Account(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(id)
}

func (s *Store) accountLocked(id ledger.AccountID) (*ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "account", ID: string(id)}
	}
	out := a
	return &out, nil
}

func (s *Store) AccountByEmail(_ context.Context, email string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[email]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "account", ID: email}
	}
	return s.accountLocked(id)
}

func (s *Store) UpdateBalance(_ context.Context, id ledger.AccountID, balance decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBalanceLocked(id, balance, at)
}

func (s *Store) updateBalanceLocked(id ledger.AccountID, balance decimal.Decimal, at time.Time) error {
	a, ok := s.accounts[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "account", ID: string(id)}
	}
	a.Balance = balance
	a.UpdatedAt = at
	s.accounts[id] = a
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func (s *Store) CreatePurchase(_ context.Context, r *ledger.PurchaseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPurchaseLocked(r)
}

func (s *Store) createPurchaseLocked(r *ledger.PurchaseRequest) error {
	if _, ok := s.orders[r.OrderID]; ok {
		return &ledger.ConflictError{Kind: "order", Key: r.OrderID}
	}
	s.purchases[r.ID] = *r
	s.orders[r.OrderID] = r.ID
	return nil
}

func (s *Store) Purchase(_ context.Context, id ledger.RequestID) (*ledger.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.purchaseLocked(id)
}

func (s *Store) purchaseLocked(id ledger.RequestID) (*ledger.PurchaseRequest, error) {
	r, ok := s.purchases[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	out := r
	return &out, nil
}

func (s *Store) TransitionPurchase(_ context.Context, id ledger.RequestID, from, to ledger.RequestStatus, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionPurchaseLocked(id, from, to, message, at)
}

func (s *Store) transitionPurchaseLocked(id ledger.RequestID, from, to ledger.RequestStatus, message string, at time.Time) error {
	r, ok := s.purchases[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	if r.Status != from {
		return &ledger.InvalidStateError{
			Kind:    "purchase",
			ID:      string(id),
			Current: string(r.Status),
			Wanted:  string(from),
		}
	}
	r.Status = to
	r.AdminMessage = message
	r.UpdatedAt = at
	s.purchases[id] = r
	return nil
}

func (s *Store) PurchasesByAccount(_ context.Context, id ledger.AccountID) ([]ledger.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.PurchaseRequest
	for _, r := range s.purchases {
		if r.AccountID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PendingPurchases(_ context.Context) ([]ledger.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.PurchaseRequest
	for _, r := range s.purchases {
		if r.Status == ledger.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// ENTRIES - Append-only
// =============================================================================

func (s *Store) AppendEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

func (s *Store) appendEntryLocked(e *ledger.Entry) error {
	s.entries[e.AccountID] = append(s.entries[e.AccountID], *e)
	return nil
}

func (s *Store) EntriesByAccount(_ context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.entries[id]
	out := make([]ledger.Entry, len(src))
	// Stored oldest-first; return newest-first.
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and restore
// =============================================================================

// WithTx executes fn under the store lock. A snapshot is taken first
// and restored if fn fails, so partial effects are never observable.
// Holding the lock for the whole transaction also serializes racing
// decisions: the loser re-reads a non-PENDING status.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(&txView{parent: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type snapshot struct {
	accounts  map[ledger.AccountID]ledger.Account
	emails    map[string]ledger.AccountID
	purchases map[ledger.RequestID]ledger.PurchaseRequest
	orders    map[string]ledger.RequestID
	entries   map[ledger.AccountID][]ledger.Entry
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		accounts:  make(map[ledger.AccountID]ledger.Account, len(s.accounts)),
		emails:    make(map[string]ledger.AccountID, len(s.emails)),
		purchases: make(map[ledger.RequestID]ledger.PurchaseRequest, len(s.purchases)),
		orders:    make(map[string]ledger.RequestID, len(s.orders)),
		entries:   make(map[ledger.AccountID][]ledger.Entry, len(s.entries)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.emails {
		snap.emails[k] = v
	}
	for k, v := range s.purchases {
		snap.purchases[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.entries {
		cp := make([]ledger.Entry, len(v))
		copy(cp, v)
		snap.entries[k] = cp
	}
	return snap
}

func (s *Store) restoreLocked(snap snapshot) {
	s.accounts = snap.accounts
	s.emails = snap.emails
	s.purchases = snap.purchases
	s.orders = snap.orders
	s.entries = snap.entries
}

// txView routes Store calls back to the parent without re-locking.
// Only valid inside WithTx while the parent lock is held.
type txView struct {
	parent *Store
}

var _ ledger.Store = (*txView)(nil)

func (v *txView) CreateAccount(_ context.Context, a *ledger.Account) error {
	return v.parent.createAccountLocked(a)
}

func (v *txView) Account(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return v.parent.accountLocked(id)
}

func (v *txView) AccountByEmail(_ context.Context, email string) (*ledger.Account, error) {
	id, ok := v.parent.emails[email]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "account", ID: email}
	}
	return v.parent.accountLocked(id)
}

func (v *txView) UpdateBalance(_ context.Context, id ledger.AccountID, balance decimal.Decimal, at time.Time) error {
	return v.parent.updateBalanceLocked(id, balance, at)
}

func (v *txView) CreatePurchase(_ context.Context, r *ledger.PurchaseRequest) error {
	return v.parent.createPurchaseLocked(r)
}

func (v *txView) Purchase(_ context.Context, id ledger.RequestID) (*ledger.PurchaseRequest, error) {
	return v.parent.purchaseLocked(id)
}

func (v *txView) TransitionPurchase(_ context.Context, id ledger.RequestID, from, to ledger.RequestStatus, message string, at time.Time) error {
	return v.parent.transitionPurchaseLocked(id, from, to, message, at)
}

func (v *txView) PurchasesByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.PurchaseRequest, error) {
	var out []ledger.PurchaseRequest
	for _, r := range v.parent.purchases {
		if r.AccountID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (v *txView) PendingPurchases(ctx context.Context) ([]ledger.PurchaseRequest, error) {
	var out []ledger.PurchaseRequest
	for _, r := range v.parent.purchases {
		if r.Status == ledger.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *txView) AppendEntry(_ context.Context, e *ledger.Entry) error {
	return v.parent.appendEntryLocked(e)
}

func (v *txView) EntriesByAccount(_ context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	src := v.parent.entries[id]
	out := make([]ledger.Entry, len(src))
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out, nil
}
