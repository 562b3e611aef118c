/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces. The same patterns apply to PostgreSQL - only minor
SQL dialect differences.

KEY TABLES:
  accounts:   identity records and the balance column
  purchases:  purchase/withdrawal requests with status
  entries:    immutable transaction log

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the entries table.

STATUS TRANSITIONS:
  TransitionPurchase is UPDATE ... WHERE id = ? AND status = ?. Zero
  rows affected means another decision already won; the caller gets
  InvalidStateError. This is the compare-and-swap that serializes
  racing admin decisions.

CONCURRENCY:
  Opened in WAL mode: multiple readers, a single writer at a time. A
  mutex serializes WithTx writers in-process; SQLITE_BUSY from another
  process surfaces as the ledger's concurrency error.

DECIMALS:
  Amounts are stored as TEXT and parsed with shopspring/decimal.
  REAL columns would silently lose precision on repeated additions.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/token-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes WithTx writers

	ops // non-transactional path, backed by db
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// writer contention on file databases.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	s.ops = ops{q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ ledger.TxStore = (*Store)(nil)

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		crypto_amount TEXT NOT NULL,
		crypto_symbol TEXT NOT NULL,
		token_amount TEXT NOT NULL,
		bonus_amount TEXT NOT NULL,
		usd_value TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		status TEXT NOT NULL,
		admin_message TEXT NOT NULL DEFAULT '',
		wallet_address TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_account
		ON purchases(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_purchases_status
		ON purchases(status);

	-- Transaction log: append-only, no update/delete path exists
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		token_amount TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a database transaction. Rolls back on error,
// commits otherwise. Commit/rollback failures that stem from lock
// contention surface as the ledger's concurrency error.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}

	if err := fn(&ops{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteErr(err)
	}
	return nil
}

// =============================================================================
// SHARED QUERY IMPLEMENTATION
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx, so the same method
// set serves the direct and transactional paths.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ops struct {
	q queryer
}

var _ ledger.Store = (*ops)(nil)

// --- accounts ---

func (o *ops) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, balance, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), a.Email, a.PasswordHash, a.Balance.String(), string(a.Role),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if isUniqueViolation(err) {
		return &ledger.ConflictError{Kind: "email", Key: a.Email}
	}
	return mapSQLiteErr(err)
}

func (o *ops) Account(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, balance, role, created_at, updated_at
		FROM accounts WHERE id = ?`, string(id))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "account", ID: string(id)}
	}
	return a, mapSQLiteErr(err)
}

func (o *ops) AccountByEmail(ctx context.Context, email string) (*ledger.Account, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, balance, role, created_at, updated_at
		FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "account", ID: email}
	}
	return a, mapSQLiteErr(err)
}

func (o *ops) UpdateBalance(ctx context.Context, id ledger.AccountID, balance decimal.Decimal, at time.Time) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.String(), formatTime(at), string(id))
	if err != nil {
		return mapSQLiteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "account", ID: string(id)}
	}
	return nil
}

// --- purchases ---

const purchaseColumns = `id, account_id, crypto_amount, crypto_symbol, token_amount,
	bonus_amount, usd_value, unit_price, status, admin_message, wallet_address,
	order_id, type, created_at, updated_at`

func (o *ops) CreatePurchase(ctx context.Context, r *ledger.PurchaseRequest) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.AccountID), r.CryptoAmount.String(), r.CryptoSymbol,
		r.TokenAmount.String(), r.BonusAmount.String(), r.UsdValue.String(),
		r.UnitPrice.String(), string(r.Status), r.AdminMessage, r.WalletAddress,
		r.OrderID, string(r.Type), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if isUniqueViolation(err) {
		return &ledger.ConflictError{Kind: "order", Key: r.OrderID}
	}
	return mapSQLiteErr(err)
}

func (o *ops) Purchase(ctx context.Context, id ledger.RequestID) (*ledger.PurchaseRequest, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, string(id))
	r, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	return r, mapSQLiteErr(err)
}

func (o *ops) TransitionPurchase(ctx context.Context, id ledger.RequestID, from, to ledger.RequestStatus, message string, at time.Time) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE purchases SET status = ?, admin_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), message, formatTime(at), string(id), string(from))
	if err != nil {
		return mapSQLiteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLiteErr(err)
	}
	if n == 0 {
		// Distinguish a missing request from a lost race.
		cur, err := o.Purchase(ctx, id)
		if err != nil {
			return err
		}
		return &ledger.InvalidStateError{
			Kind:    "purchase",
			ID:      string(id),
			Current: string(cur.Status),
			Wanted:  string(from),
		}
	}
	return nil
}

func (o *ops) PurchasesByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.PurchaseRequest, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE account_id = ? ORDER BY created_at DESC`, string(id))
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	return collectPurchases(rows)
}

func (o *ops) PendingPurchases(ctx context.Context) ([]ledger.PurchaseRequest, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE status = ? ORDER BY created_at ASC`, string(ledger.StatusPending))
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()
	return collectPurchases(rows)
}

// --- entries ---

func (o *ops) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO entries (id, account_id, amount, token_amount, type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.AccountID), e.Amount.String(), e.TokenAmount.String(),
		string(e.Type), string(e.Status), formatTime(e.CreatedAt))
	return mapSQLiteErr(err)
}

func (o *ops) EntriesByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, account_id, amount, token_amount, type, status, created_at
		FROM entries WHERE account_id = ? ORDER BY created_at DESC, rowid DESC`, string(id))
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                             ledger.Entry
			idStr, acct, amount, tokenAmt string
			typ, status, createdAt        string
		)
		if err := rows.Scan(&idStr, &acct, &amount, &tokenAmt, &typ, &status, &createdAt); err != nil {
			return nil, err
		}
		e.ID = ledger.EntryID(idStr)
		e.AccountID = ledger.AccountID(acct)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for entry %s: %w", idStr, err)
		}
		if e.TokenAmount, err = decimal.NewFromString(tokenAmt); err != nil {
			return nil, fmt.Errorf("corrupt token amount for entry %s: %w", idStr, err)
		}
		e.Type = ledger.EntryType(typ)
		e.Status = ledger.EntryStatus(status)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING / HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var (
		a                          ledger.Account
		id, email, hash, balance   string
		role, createdAt, updatedAt string
		err                        error
	)
	if err = row.Scan(&id, &email, &hash, &balance, &role, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.ID = ledger.AccountID(id)
	a.Email = email
	a.PasswordHash = hash
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance for account %s: %w", id, err)
	}
	a.Role = ledger.Role(role)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPurchase(row rowScanner) (*ledger.PurchaseRequest, error) {
	var (
		r                                              ledger.PurchaseRequest
		id, acct, cryptoAmt, symbol                    string
		tokenAmt, bonusAmt, usdValue, unitPrice        string
		status, message, wallet, orderID, typ, created string
		updated                                        string
		err                                            error
	)
	if err = row.Scan(&id, &acct, &cryptoAmt, &symbol, &tokenAmt, &bonusAmt,
		&usdValue, &unitPrice, &status, &message, &wallet, &orderID, &typ,
		&created, &updated); err != nil {
		return nil, err
	}
	r.ID = ledger.RequestID(id)
	r.AccountID = ledger.AccountID(acct)
	if r.CryptoAmount, err = decimal.NewFromString(cryptoAmt); err != nil {
		return nil, fmt.Errorf("corrupt crypto amount for purchase %s: %w", id, err)
	}
	r.CryptoSymbol = symbol
	if r.TokenAmount, err = decimal.NewFromString(tokenAmt); err != nil {
		return nil, fmt.Errorf("corrupt token amount for purchase %s: %w", id, err)
	}
	if r.BonusAmount, err = decimal.NewFromString(bonusAmt); err != nil {
		return nil, fmt.Errorf("corrupt bonus amount for purchase %s: %w", id, err)
	}
	if r.UsdValue, err = decimal.NewFromString(usdValue); err != nil {
		return nil, fmt.Errorf("corrupt usd value for purchase %s: %w", id, err)
	}
	if r.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("corrupt unit price for purchase %s: %w", id, err)
	}
	r.Status = ledger.RequestStatus(status)
	r.AdminMessage = message
	r.WalletAddress = wallet
	r.OrderID = orderID
	r.Type = ledger.RequestType(typ)
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectPurchases(rows *sql.Rows) ([]ledger.PurchaseRequest, error) {
	var out []ledger.PurchaseRequest
	for rows.Next() {
		r, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width: RFC3339Nano trims trailing fraction
// zeros, so ".5Z" would sort lexicographically after ".51Z" and break
// the ORDER BY created_at guarantees. Nine fraction digits keep TEXT
// order identical to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapSQLiteErr translates lock contention into the ledger's concurrency
// error so the service's bounded retry can engage.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ledger.ErrConcurrency, err)
		}
	}
	return err
}
