package checkout

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"
)

// Error classes. Use errors.Is against these to pick a response.
var (
	// ErrValidation: the request is malformed; nothing was written.
	ErrValidation = errors.New("invalid checkout request")
	// ErrStockConflict: a product has fewer units than requested.
	ErrStockConflict = errors.New("insufficient stock")
	// ErrPersistence: the store failed; the whole unit was rolled back and
	// the request is safe to retry.
	ErrPersistence = errors.New("store unavailable")
)

var (
	// ErrEmptyCart is returned for a checkout without lines.
	ErrEmptyCart = &ValidationError{Field: "lines", Reason: "cart is empty"}
	// ErrMissingCustomer is returned when no customer identity is supplied.
	ErrMissingCustomer = &ValidationError{Field: "customer", Reason: "customer is required"}

	// ErrIdempotencyKeyMismatch is returned when a key is reused for a
	// different request body.
	ErrIdempotencyKeyMismatch = errors.New("idempotency key was used for a different request")
	// ErrDuplicateIdempotencyKey is returned by Tx.InsertTransaction when a
	// concurrent commit already used the key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrTransactionNotFound is returned by lookups of unknown transactions.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ValidationError is a field-level request problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MaxLineQuantity bounds the quantity of one item in a sale, before and
// after duplicate lines are merged. Stock and line columns are INTEGER.
const MaxLineQuantity = math.MaxInt32

// InvalidQuantityError indicates a line with a quantity outside
// [1, MaxLineQuantity].
type InvalidQuantityError struct {
	ItemID   string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > MaxLineQuantity {
		return fmt.Sprintf("quantity must be at most %d for item %s, got %d", MaxLineQuantity, e.ItemID, e.Quantity)
	}
	return fmt.Sprintf("quantity must be at least 1 for item %s, got %d", e.ItemID, e.Quantity)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrValidation }

// ItemNotFoundError indicates a line references an unknown catalog item.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

func (e *ItemNotFoundError) Is(target error) bool { return target == ErrValidation }

// KindMismatchError indicates the client labelled an item with the wrong kind.
type KindMismatchError struct {
	ItemID    string
	Requested string
	Actual    string
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("item %s is a %s, not a %s", e.ItemID, e.Actual, e.Requested)
}

func (e *KindMismatchError) Is(target error) bool { return target == ErrValidation }

// InsufficientStockError reports the first product line that cannot be
// fulfilled. The engine never retries these.
type InsufficientStockError struct {
	ItemID    string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrStockConflict }

// PersistenceError wraps a store failure during a named step.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// InvalidTransitionError is returned for a disallowed payment status change.
type InvalidTransitionError struct {
	From PaymentStatus
	To   PaymentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payment status cannot change from %s to %s", e.From, e.To)
}
