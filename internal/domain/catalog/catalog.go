// Package catalog describes sellable items: services with a fixed price and
// duration, and physical products with a quantity on hand.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("item not found")

// Kind discriminates the two variants of a sellable item.
type Kind string

const (
	// KindService is a bookable service (haircut, session). Never stock-tracked.
	KindService Kind = "service"
	// KindProduct is a physical good with a quantity on hand.
	KindProduct Kind = "product"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindService, KindProduct:
		return true
	default:
		return false
	}
}

func (k Kind) String() string { return string(k) }

// Item is a sellable catalog entry. QuantityOnHand is set only for products;
// DurationMinutes is meaningful only for services.
type Item struct {
	ID              string
	Name            string
	Kind            Kind
	Category        string
	UnitPrice       decimal.Decimal
	QuantityOnHand  *int
	DurationMinutes int
}

// Tracked reports whether checkouts of this item consume stock.
func (i Item) Tracked() bool {
	switch i.Kind {
	case KindProduct:
		return true
	case KindService:
		return false
	default:
		return false
	}
}

// Available returns the quantity on hand, or zero for untracked items.
func (i Item) Available() int {
	if i.QuantityOnHand == nil {
		return 0
	}
	return *i.QuantityOnHand
}

// Reader provides read-only access to the catalog.
type Reader interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	GetItems(ctx context.Context, ids []string) ([]Item, error)
	List(ctx context.Context) ([]Item, error)
}

// Restocker adds units to a product outside of checkout.
type Restocker interface {
	Restock(ctx context.Context, id string, qty int, reason string) error
}
