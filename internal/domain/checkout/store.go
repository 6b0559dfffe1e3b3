package checkout

import (
	"context"
	"time"
)

// Store persists transactions and owns the stock rows.
type Store interface {
	// InTx runs fn in one isolated unit of work. Any error returned by fn
	// rolls back every write made through tx; fn's error is returned as is.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindTransaction(ctx context.Context, id string) (*Transaction, error)
	// FindByIdempotencyKey returns ErrTransactionNotFound when no commit
	// used key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
}

// Tx is the write surface available inside Store.InTx.
type Tx interface {
	// LockStock locks the given product rows until the unit of work ends and
	// returns their quantity on hand. Rows are locked in ascending id order.
	// Unknown ids are absent from the result.
	LockStock(ctx context.Context, productIDs []string) (map[string]int, error)
	// AdjustStock adds delta to a locked product row.
	AdjustStock(ctx context.Context, productID string, delta int) error
	InsertAdjustment(ctx context.Context, adj InventoryAdjustment) error
	// InsertTransaction returns ErrDuplicateIdempotencyKey when the key is
	// already taken.
	InsertTransaction(ctx context.Context, t *Transaction) error
	// ClaimCoupon consumes one use of code, failing with
	// coupon.ErrCouponUsageLimitReached when none is left.
	ClaimCoupon(ctx context.Context, code string) error

	GetTransactionForUpdate(ctx context.Context, id string) (*Transaction, error)
	UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus, reason string, at time.Time) error
}
