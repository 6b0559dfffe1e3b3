package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
)

const idempotencyKeyConstraint = "transactions_idempotency_key_key"

const (
	transactionColumns = `id, COALESCE(idempotency_key, ''), request_hash,
		customer_id, customer_name, customer_phone, cashier_id,
		subtotal, discount, tax_percent, tax, total, tip,
		amount_tendered, change_due, coupon_code, payment_method, payment_status,
		void_reason, created_at, updated_at`

	getTransactionSQL = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	getTransactionForUpdateSQL = getTransactionSQL + ` FOR UPDATE`

	getTransactionByKeySQL = `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	listTransactionsSQL = `SELECT ` + transactionColumns + ` FROM transactions
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`

	getLinesSQL = `SELECT item_id, name, kind, quantity, unit_price, line_total
		FROM transaction_lines WHERE transaction_id = $1 ORDER BY position`

	insertTransactionSQL = `INSERT INTO transactions (
			id, idempotency_key, request_hash, customer_id, customer_name, customer_phone, cashier_id,
			subtotal, discount, tax_percent, tax, total, tip,
			amount_tendered, change_due, coupon_code, payment_method, payment_status,
			void_reason, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	insertLineSQL = `INSERT INTO transaction_lines (transaction_id, position, item_id, name, kind, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	lockStockSQL = `SELECT id, quantity_on_hand FROM catalog_items
		WHERE id = ANY($1) AND kind = 'product' ORDER BY id FOR UPDATE`

	adjustStockSQL = `UPDATE catalog_items SET quantity_on_hand = quantity_on_hand + $2
		WHERE id = $1 AND kind = 'product'`

	insertAdjustmentSQL = `INSERT INTO inventory_adjustments (product_id, delta, reason, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	claimCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND active = TRUE AND (max_uses = 0 OR uses < max_uses)`

	updatePaymentStatusSQL = `UPDATE transactions SET payment_status = $2,
		void_reason = CASE WHEN $3 <> '' THEN $3 ELSE void_reason END,
		updated_at = $4
		WHERE id = $1`
)

var _ checkout.Store = (*CheckoutStore)(nil)

// CheckoutStore implements checkout.Store backed by PostgreSQL. Stock rows
// are locked with SELECT ... FOR UPDATE so concurrent checkouts of the same
// product serialize on the row.
type CheckoutStore struct {
	pool *pgxpool.Pool
}

// NewCheckoutStore returns a CheckoutStore that uses the given pool.
func NewCheckoutStore(pool *pgxpool.Pool) *CheckoutStore {
	return &CheckoutStore{pool: pool}
}

// InTx runs fn inside a READ COMMITTED transaction. Any error from fn
// rolls it back and is returned unchanged.
func (s *CheckoutStore) InTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// FindTransaction returns a transaction with its lines.
func (s *CheckoutStore) FindTransaction(ctx context.Context, id string) (*checkout.Transaction, error) {
	return findTransaction(ctx, s.pool, getTransactionSQL, id)
}

// FindByIdempotencyKey returns the transaction committed under key.
func (s *CheckoutStore) FindByIdempotencyKey(ctx context.Context, key string) (*checkout.Transaction, error) {
	return findTransaction(ctx, s.pool, getTransactionByKeySQL, key)
}

// ListTransactions streams transactions created in [from, to) to fn in
// creation order. Lines are not loaded.
func (s *CheckoutStore) ListTransactions(ctx context.Context, from, to time.Time, fn func(t *checkout.Transaction) error) error {
	rows, err := s.pool.Query(ctx, listTransactionsSQL, from, to)
	if err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return fmt.Errorf("scanning transaction: %w", err)
		}
		if err := fn(&t); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}
	return nil
}

// LoadLines fills t.Lines.
func (s *CheckoutStore) LoadLines(ctx context.Context, t *checkout.Transaction) error {
	lines, err := loadLines(ctx, s.pool, t.ID)
	if err != nil {
		return err
	}
	t.Lines = lines
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

var _ checkout.Tx = (*pgTx)(nil)

func (t *pgTx) LockStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	rows, err := t.tx.Query(ctx, lockStockSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("locking stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			qty int32
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scanning stock row: %w", err)
		}
		stock[id] = int(qty)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locking stock: %w", err)
	}
	return stock, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	tag, err := t.tx.Exec(ctx, adjustStockSQL, productID, delta)
	if err != nil {
		return fmt.Errorf("adjusting stock of %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjusting stock of %q: %w", productID, catalog.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertAdjustment(ctx context.Context, adj checkout.InventoryAdjustment) error {
	return insertAdjustment(ctx, t.tx, adj)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *checkout.Transaction) error {
	_, err := t.tx.Exec(ctx, insertTransactionSQL,
		txn.ID, txn.IdempotencyKey, txn.RequestHash,
		txn.Customer.ID, txn.Customer.Name, txn.Customer.Phone, txn.CashierID,
		txn.Subtotal, txn.Discount, txn.TaxPercent, txn.Tax, txn.Total, txn.Tip,
		txn.AmountTendered, txn.Change, txn.CouponCode,
		string(txn.PaymentMethod), string(txn.PaymentStatus),
		txn.VoidReason, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, idempotencyKeyConstraint) {
			return checkout.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting transaction %q: %w", txn.ID, err)
	}

	batch := &pgx.Batch{}
	for i, l := range txn.Lines {
		batch.Queue(insertLineSQL,
			txn.ID, i, l.ItemID, l.Name, string(l.Kind), l.Quantity, l.UnitPrice, l.LineTotal,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting lines of %q: %w", txn.ID, err)
	}
	return nil
}

func (t *pgTx) ClaimCoupon(ctx context.Context, code string) error {
	tag, err := t.tx.Exec(ctx, claimCouponSQL, code)
	if err != nil {
		return fmt.Errorf("claiming coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsageLimitReached
	}
	return nil
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id string) (*checkout.Transaction, error) {
	return findTransaction(ctx, t.tx, getTransactionForUpdateSQL, id)
}

func (t *pgTx) UpdatePaymentStatus(ctx context.Context, id string, status checkout.PaymentStatus, reason string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, updatePaymentStatusSQL, id, string(status), reason, at)
	if err != nil {
		return fmt.Errorf("updating payment status of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return checkout.ErrTransactionNotFound
	}
	return nil
}

func insertAdjustment(ctx context.Context, q querier, adj checkout.InventoryAdjustment) error {
	_, err := q.Exec(ctx, insertAdjustmentSQL,
		adj.ProductID, adj.Delta, string(adj.Reason), adj.TransactionID, adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("logging adjustment for %q: %w", adj.ProductID, err)
	}
	return nil
}

func findTransaction(ctx context.Context, q querier, sql, arg string) (*checkout.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("getting transaction %q: %w", arg, err)
	}

	lines, err := loadLines(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	t.Lines = lines
	return &t, nil
}

func loadLines(ctx context.Context, q querier, transactionID string) ([]checkout.Line, error) {
	rows, err := q.Query(ctx, getLinesSQL, transactionID)
	if err != nil {
		return nil, fmt.Errorf("getting lines of %q: %w", transactionID, err)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, fmt.Errorf("getting lines of %q: %w", transactionID, err)
	}
	return lines, nil
}

func scanTransaction(row pgx.Row) (checkout.Transaction, error) {
	var (
		t      checkout.Transaction
		method string
		status string
	)
	err := row.Scan(
		&t.ID, &t.IdempotencyKey, &t.RequestHash,
		&t.Customer.ID, &t.Customer.Name, &t.Customer.Phone, &t.CashierID,
		&t.Subtotal, &t.Discount, &t.TaxPercent, &t.Tax, &t.Total, &t.Tip,
		&t.AmountTendered, &t.Change, &t.CouponCode, &method, &status,
		&t.VoidReason, &t.CreatedAt, &t.UpdatedAt,
	)
	t.PaymentMethod = checkout.PaymentMethod(method)
	t.PaymentStatus = checkout.PaymentStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

func scanLine(row pgx.CollectableRow) (checkout.Line, error) {
	var (
		l    checkout.Line
		kind string
		qty  int32
	)
	err := row.Scan(&l.ItemID, &l.Name, &kind, &qty, &l.UnitPrice, &l.LineTotal)
	l.Kind = catalog.Kind(kind)
	l.Quantity = int(qty)
	return l, err
}
