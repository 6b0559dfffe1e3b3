package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/db"
	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
	"github.com/xenking/pos-checkout/internal/repository"
)

type itemJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Kind            string          `json:"kind"`
	Category        string          `json:"category"`
	Price           decimal.Decimal `json:"price"`
	Quantity        *int            `json:"quantity"`
	DurationMinutes int             `json:"durationMinutes"`
}

type couponJSON struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discountType"`
	Value        decimal.Decimal `json:"value"`
	MinItems     int             `json:"minItems"`
	Description  string          `json:"description"`
	MaxUses      int             `json:"maxUses"`
	MaxDiscount  decimal.Decimal `json:"maxDiscount"`
	ValidFrom    *time.Time      `json:"validFrom"`
	ValidUntil   *time.Time      `json:"validUntil"`
}

func main() {
	var (
		databaseURL string
		itemsFile   string
		couponsFile string
		restock     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&itemsFile, "items-file", "", "catalog JSON file (defaults to the embedded demo catalog)")
	flag.StringVar(&couponsFile, "coupons-file", "", "coupons JSON file (defaults to the embedded demo coupons)")
	flag.StringVar(&restock, "restock", "", "comma separated id=qty pairs to restock after seeding")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, itemsFile, couponsFile, restock); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, itemsFile, couponsFile, restock string) error {
	deltas, err := parseRestock(restock)
	if err != nil {
		return errors.Wrap(err, "parse restock")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	itemsData, err := readOr(itemsFile, db.SeedItems)
	if err != nil {
		return errors.Wrap(err, "read items")
	}
	if err := seedItems(ctx, repository.NewCatalogRepository(pool), itemsData); err != nil {
		return errors.Wrap(err, "seed items")
	}

	couponsData, err := readOr(couponsFile, db.SeedCoupons)
	if err != nil {
		return errors.Wrap(err, "read coupons")
	}
	if err := seedCoupons(ctx, repository.NewCouponRepository(pool), couponsData); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := applyRestock(ctx, repository.NewCatalogRepository(pool), deltas); err != nil {
		return errors.Wrap(err, "restock")
	}

	return nil
}

type restockDelta struct {
	ID  string
	Qty int
}

// parseRestock reads "towel=5,shampoo=12". An empty string means no restock.
func parseRestock(s string) ([]restockDelta, error) {
	var out []restockDelta
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, qty, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, errors.Errorf("invalid pair %q: want id=qty", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil || n <= 0 {
			return nil, errors.Errorf("invalid quantity in %q", pair)
		}
		out = append(out, restockDelta{ID: strings.TrimSpace(id), Qty: n})
	}
	return out, nil
}

func applyRestock(ctx context.Context, repo catalog.Restocker, deltas []restockDelta) error {
	for _, d := range deltas {
		if err := repo.Restock(ctx, d.ID, d.Qty, ""); err != nil {
			return errors.Wrapf(err, "restock %s", d.ID)
		}
		slog.Info("restocked item", slog.String("id", d.ID), slog.Int("qty", d.Qty))
	}
	return nil
}

func readOr(path string, embedded []byte) ([]byte, error) {
	if path == "" {
		return embedded, nil
	}
	slog.Info("reading seed file", slog.String("path", path))
	return os.ReadFile(path)
}

type itemUpserter interface {
	Upsert(ctx context.Context, item catalog.Item) error
}

func seedItems(ctx context.Context, repo itemUpserter, data []byte) error {
	items, err := parseItems(data)
	if err != nil {
		return err
	}

	slog.Info("upserting catalog items", slog.Int("count", len(items)))

	for _, it := range items {
		if err := repo.Upsert(ctx, it); err != nil {
			return errors.Wrapf(err, "upsert item %s", it.ID)
		}
		slog.Info("upserted item",
			slog.String("id", it.ID),
			slog.String("kind", it.Kind.String()),
			slog.String("name", it.Name),
		)
	}
	return nil
}

// parseItems decodes and validates catalog entries. Products must carry a
// starting quantity; services must not.
func parseItems(data []byte) ([]catalog.Item, error) {
	var raw []itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse items JSON")
	}

	items := make([]catalog.Item, 0, len(raw))
	for _, r := range raw {
		kind := catalog.Kind(r.Kind)
		switch {
		case r.ID == "" || r.Name == "":
			return nil, errors.Errorf("item %q: id and name are required", r.ID)
		case !kind.Valid():
			return nil, errors.Errorf("item %q: unknown kind %q", r.ID, r.Kind)
		case r.Price.IsNegative():
			return nil, errors.Errorf("item %q: negative price", r.ID)
		case kind == catalog.KindProduct && (r.Quantity == nil || *r.Quantity < 0):
			return nil, errors.Errorf("item %q: product needs a non-negative quantity", r.ID)
		case kind == catalog.KindService && r.Quantity != nil:
			return nil, errors.Errorf("item %q: services do not track quantity", r.ID)
		}
		items = append(items, catalog.Item{
			ID:              r.ID,
			Name:            r.Name,
			Kind:            kind,
			Category:        r.Category,
			UnitPrice:       r.Price,
			QuantityOnHand:  r.Quantity,
			DurationMinutes: r.DurationMinutes,
		})
	}
	return items, nil
}

type couponUpserter interface {
	Upsert(ctx context.Context, rule coupon.Rule) error
}

func seedCoupons(ctx context.Context, repo couponUpserter, data []byte) error {
	rules, err := parseCoupons(data)
	if err != nil {
		return err
	}

	slog.Info("upserting coupons", slog.Int("count", len(rules)))

	for _, r := range rules {
		if err := repo.Upsert(ctx, r); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", r.Code)
		}
		slog.Info("upserted coupon", slog.String("code", r.Code), slog.String("description", r.Description))
	}
	return nil
}

func parseCoupons(data []byte) ([]coupon.Rule, error) {
	var raw []couponJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse coupons JSON")
	}

	rules := make([]coupon.Rule, 0, len(raw))
	for _, r := range raw {
		dt := coupon.DiscountType(r.DiscountType)
		if r.Code == "" {
			return nil, errors.New("coupon code is required")
		}
		if !dt.Valid() {
			return nil, errors.Errorf("coupon %q: unknown discount type %q", r.Code, r.DiscountType)
		}
		rules = append(rules, coupon.Rule{
			Code:         r.Code,
			DiscountType: dt,
			Value:        r.Value,
			MinItems:     r.MinItems,
			Description:  r.Description,
			ValidFrom:    r.ValidFrom,
			ValidUntil:   r.ValidUntil,
			MaxUses:      r.MaxUses,
			MaxDiscount:  r.MaxDiscount,
		})
	}
	return rules, nil
}
