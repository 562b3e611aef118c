/*
errors.go - Centralized error taxonomy for the ledger

PURPOSE:
  All error kinds in one place. Callers classify with errors.Is against
  the sentinels; structured errors carry context and Unwrap to them.

ERROR KINDS:
  ErrValidation          malformed or out-of-range input
  ErrNotFound            referenced account/purchase does not exist
  ErrInvalidState        operation not permitted in current state
  ErrInsufficientBalance withdrawal exceeds balance
  ErrConflict            unique-key violation on creation
  ErrConcurrency         atomic update could not be serialized
  ErrUnauthorized        missing/invalid identity claim or role
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrConcurrency         = errors.New("concurrent update could not be serialized")
	ErrUnauthorized        = errors.New("unauthorized")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing account or purchase request.
type NotFoundError struct {
	Kind string // "account", "purchase"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError reports an operation attempted against an entity in
// the wrong state, e.g. deciding an already-decided purchase.
type InvalidStateError struct {
	Kind    string
	ID      string
	Current string
	Wanted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Kind, e.ID, e.Current, e.Wanted)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InsufficientBalanceError reports a debit exceeding the available balance.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConflictError reports a unique-key violation on creation.
type ConflictError struct {
	Kind string // "email", "order"
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConflict)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
