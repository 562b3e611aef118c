package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/token-ledger/ledger"
	"github.com/warp/token-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedAccount(t *testing.T, st *sqlite.Store, id, email, balance string) *ledger.Account {
	t.Helper()
	now := time.Now()
	a := &ledger.Account{
		ID:        ledger.AccountID(id),
		Email:     email,
		Balance:   dec(balance),
		Role:      ledger.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateAccount(context.Background(), a))
	return a
}

func seedPurchase(t *testing.T, st *sqlite.Store, id string, accountID ledger.AccountID) *ledger.PurchaseRequest {
	t.Helper()
	now := time.Now()
	r := &ledger.PurchaseRequest{
		ID:           ledger.RequestID(id),
		AccountID:    accountID,
		CryptoAmount: dec("0.01"),
		CryptoSymbol: "BTC",
		TokenAmount:  dec("100"),
		BonusAmount:  dec("0"),
		UsdValue:     dec("2000"),
		UnitPrice:    dec("0.05"),
		Status:       ledger.StatusPending,
		OrderID:      "order-" + id,
		Type:         ledger.TypeDeposit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.CreatePurchase(context.Background(), r))
	return r
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestAccount_RoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	seedAccount(t, st, "acct-1", "alice@example.com", "123.456789")

	got, err := st.Account(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	// TEXT storage must preserve decimal precision exactly.
	assert.Equal(t, "123.456789", got.Balance.String())

	byEmail, err := st.AccountByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byEmail.ID)
}

func TestAccount_NotFound(t *testing.T) {
	st := newStore(t)

	_, err := st.Account(context.Background(), "missing")

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	st := newStore(t)

	seedAccount(t, st, "acct-1", "alice@example.com", "0")
	err := st.CreateAccount(context.Background(), &ledger.Account{
		ID: "acct-2", Email: "alice@example.com", Balance: dec("0"),
		Role: ledger.RoleUser, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})

	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestCreatePurchase_DuplicateOrderID(t *testing.T) {
	st := newStore(t)
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")

	first := seedPurchase(t, st, "req-1", account.ID)
	dup := *first
	dup.ID = "req-2"
	err := st.CreatePurchase(context.Background(), &dup)

	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestUpdateBalance_UnknownAccount(t *testing.T) {
	st := newStore(t)

	err := st.UpdateBalance(context.Background(), "missing", dec("10"), time.Now())

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// STATUS TRANSITION - the compare-and-swap
// =============================================================================

func TestTransitionPurchase_CAS(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")
	req := seedPurchase(t, st, "req-1", account.ID)

	// First transition wins.
	err := st.TransitionPurchase(ctx, req.ID, ledger.StatusPending, ledger.StatusApproved, "ok", time.Now())
	require.NoError(t, err)

	got, err := st.Purchase(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, got.Status)
	assert.Equal(t, "ok", got.AdminMessage)

	// Second transition from PENDING loses: zero rows matched.
	err = st.TransitionPurchase(ctx, req.ID, ledger.StatusPending, ledger.StatusRejected, "no", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	var stateErr *ledger.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(ledger.StatusApproved), stateErr.Current)

	// The losing transition changed nothing.
	got, err = st.Purchase(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, got.Status)
	assert.Equal(t, "ok", got.AdminMessage)
}

func TestTransitionPurchase_UnknownRequest(t *testing.T) {
	st := newStore(t)

	err := st.TransitionPurchase(context.Background(), "missing",
		ledger.StatusPending, ledger.StatusApproved, "", time.Now())

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackLeavesNoPartialEffect(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "50")
	req := seedPurchase(t, st, "req-1", account.ID)

	boom := assert.AnError
	err := st.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.UpdateBalance(ctx, account.ID, dec("160"), time.Now()); err != nil {
			return err
		}
		if err := tx.TransitionPurchase(ctx, req.ID, ledger.StatusPending, ledger.StatusApproved, "", time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Both writes rolled back together.
	got, err := st.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "50", got.Balance.String())

	gotReq, err := st.Purchase(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, gotReq.Status)
}

func TestWithTx_CommitPersists(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "50")

	err := st.WithTx(ctx, func(tx ledger.Store) error {
		return tx.UpdateBalance(ctx, account.ID, dec("75"), time.Now())
	})
	require.NoError(t, err)

	got, err := st.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "75", got.Balance.String())
}

// =============================================================================
// LISTS
// =============================================================================

func TestEntries_NewestFirst(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")

	base := time.Now()
	for i, amount := range []string{"1", "2", "3"} {
		require.NoError(t, st.AppendEntry(ctx, &ledger.Entry{
			ID:          ledger.EntryID("entry-" + amount),
			AccountID:   account.ID,
			Amount:      dec(amount),
			TokenAmount: dec(amount),
			Type:        ledger.EntryDeposit,
			Status:      ledger.EntryCompleted,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	entries, err := st.EntriesByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "3", entries[0].TokenAmount.String())
	assert.Equal(t, "1", entries[2].TokenAmount.String())
}

func TestEntries_SubsecondFractionOrdering(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")

	// 500ms and 510ms fractions: ".5" is a prefix of ".51", the case
	// where a trimmed-zero encoding sorts against the clock.
	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	older := base.Add(500 * time.Millisecond)
	newer := base.Add(510 * time.Millisecond)

	for _, e := range []struct {
		id string
		at time.Time
	}{{"entry-old", older}, {"entry-new", newer}} {
		require.NoError(t, st.AppendEntry(ctx, &ledger.Entry{
			ID:          ledger.EntryID(e.id),
			AccountID:   account.ID,
			Amount:      dec("1"),
			TokenAmount: dec("1"),
			Type:        ledger.EntryDeposit,
			Status:      ledger.EntryCompleted,
			CreatedAt:   e.at,
		}))
	}

	entries, err := st.EntriesByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("entry-new"), entries[0].ID, "newest entry must come first")
	assert.Equal(t, ledger.EntryID("entry-old"), entries[1].ID)
}

func TestPendingPurchases_SubsecondFractionOrdering(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")

	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	for _, p := range []struct {
		id string
		at time.Time
	}{{"req-new", base.Add(510 * time.Millisecond)}, {"req-old", base.Add(500 * time.Millisecond)}} {
		require.NoError(t, st.CreatePurchase(ctx, &ledger.PurchaseRequest{
			ID: ledger.RequestID(p.id), AccountID: account.ID,
			CryptoAmount: dec("1"), CryptoSymbol: "BTC",
			TokenAmount: dec("100"), BonusAmount: dec("0"),
			UsdValue: dec("2000"), UnitPrice: dec("0.05"),
			Status: ledger.StatusPending, OrderID: "order-" + p.id,
			Type: ledger.TypeDeposit, CreatedAt: p.at, UpdatedAt: p.at,
		}))
	}

	pending, err := st.PendingPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ledger.RequestID("req-old"), pending[0].ID, "oldest request must come first")
	assert.Equal(t, ledger.RequestID("req-new"), pending[1].ID)
}

func TestPendingPurchases_OldestFirst(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, st, "acct-1", "alice@example.com", "0")

	older := seedPurchase(t, st, "req-1", account.ID)
	time.Sleep(2 * time.Millisecond)
	newer := seedPurchase(t, st, "req-2", account.ID)

	// Approved requests fall out of the queue.
	decided := seedPurchase(t, st, "req-3", account.ID)
	require.NoError(t, st.TransitionPurchase(ctx, decided.ID,
		ledger.StatusPending, ledger.StatusApproved, "", time.Now()))

	pending, err := st.PendingPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, newer.ID, pending[1].ID)
}
