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
)

const (
	itemColumns = `id, name, kind, category, unit_price, quantity_on_hand, duration_minutes`

	listItemsSQL = `SELECT ` + itemColumns + ` FROM catalog_items ORDER BY kind DESC, id`

	getItemByIDSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = $1`

	getItemsByIDsSQL = `SELECT ` + itemColumns + ` FROM catalog_items WHERE id = ANY($1) ORDER BY id`

	upsertItemSQL = `INSERT INTO catalog_items (id, name, kind, category, unit_price, quantity_on_hand, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			unit_price = EXCLUDED.unit_price,
			duration_minutes = EXCLUDED.duration_minutes`

	restockSQL = `UPDATE catalog_items SET quantity_on_hand = quantity_on_hand + $2
		WHERE id = $1 AND kind = 'product'`
)

var (
	_ catalog.Reader    = (*CatalogRepository)(nil)
	_ catalog.Restocker = (*CatalogRepository)(nil)
)

// CatalogRepository implements catalog.Reader and catalog.Restocker backed
// by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns services first, then products, each ordered by ID.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing catalog items: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// GetItem returns a single item or catalog.ErrNotFound.
func (r *CatalogRepository) GetItem(ctx context.Context, id string) (*catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}
	return &item, nil
}

// GetItems returns the items matching ids. Unknown ids are skipped.
func (r *CatalogRepository) GetItems(ctx context.Context, ids []string) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting items by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// Upsert inserts or refreshes a catalog entry. Stock on hand of an existing
// product is left untouched; use Restock to move it.
func (r *CatalogRepository) Upsert(ctx context.Context, item catalog.Item) error {
	_, err := r.pool.Exec(ctx, upsertItemSQL,
		item.ID, item.Name, string(item.Kind), item.Category,
		item.UnitPrice, item.QuantityOnHand, item.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("upserting item %q: %w", item.ID, err)
	}
	return nil
}

// Restock adds qty units to a product and logs an inventory adjustment in
// the same transaction.
func (r *CatalogRepository) Restock(ctx context.Context, id string, qty int, reason string) error {
	if qty <= 0 {
		return fmt.Errorf("restock %q: quantity must be positive, got %d", id, qty)
	}
	if reason == "" {
		reason = string(checkout.ReasonRestock)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, restockSQL, id, qty)
		if err != nil {
			return fmt.Errorf("restocking %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrNotFound
		}
		return insertAdjustment(ctx, tx, checkout.InventoryAdjustment{
			ProductID: id,
			Delta:     qty,
			Reason:    checkout.AdjustmentReason(reason),
			CreatedAt: time.Now().UTC(),
		})
	})
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		item catalog.Item
		kind string
		qty  *int32
		dur  int32
	)
	err := row.Scan(
		&item.ID, &item.Name, &kind, &item.Category,
		&item.UnitPrice, &qty, &dur,
	)
	item.Kind = catalog.Kind(kind)
	item.DurationMinutes = int(dur)
	if qty != nil {
		q := int(*qty)
		item.QuantityOnHand = &q
	}
	return item, err
}
