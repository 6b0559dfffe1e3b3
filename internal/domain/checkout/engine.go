package checkout

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

const instrumentationName = "github.com/xenking/pos-checkout/internal/domain/checkout"

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// CommitTimeout bounds the reserve/commit unit of work. The caller's
	// context stops applying once reserving starts.
	CommitTimeout  time.Duration
	Notifier       Notifier
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	now   func() time.Time
	newID func() string
}

// Engine runs checkouts against a catalog and a transactional store.
type Engine struct {
	catalog  catalog.Reader
	coupons  coupon.Validator
	store    Store
	calc     pricing.Calculator
	notifier Notifier

	commitTimeout time.Duration
	now           func() time.Time
	newID         func() string

	tracer   trace.Tracer
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewEngine wires an Engine. coupons may be nil when coupon codes are not
// accepted.
func NewEngine(
	items catalog.Reader,
	coupons coupon.Validator,
	store Store,
	calc pricing.Calculator,
	opts Options,
) (*Engine, error) {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = func() string { return uuid.New().String() }
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("pos.checkout.attempts",
		metric.WithDescription("Checkout attempts by terminal state"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create attempts counter")
	}
	duration, err := meter.Float64Histogram("pos.checkout.duration",
		metric.WithDescription("Checkout latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return &Engine{
		catalog:       items,
		coupons:       coupons,
		store:         store,
		calc:          calc,
		notifier:      opts.Notifier,
		commitTimeout: opts.CommitTimeout,
		now:           opts.now,
		newID:         opts.newID,
		tracer:        opts.TracerProvider.Tracer(instrumentationName),
		attempts:      attempts,
		duration:      duration,
	}, nil
}

// Draft is a priced cart that passed validation against the catalog.
type Draft struct {
	Cart   *cart.Cart
	Totals pricing.Totals
	Coupon *coupon.Discount
}

// Quote prices lines with the current catalog without reserving anything.
func (e *Engine) Quote(ctx context.Context, lines []LineRequest, adj pricing.Adjustment, couponCode string) (*Draft, error) {
	ctx, span := e.tracer.Start(ctx, "checkout.Quote")
	defer span.End()

	if err := validateLines(lines); err != nil {
		return nil, err
	}
	if err := validateAdjustment(adj, couponCode); err != nil {
		return nil, err
	}
	return e.prepare(ctx, lines, adj, couponCode)
}

// Checkout validates req, reserves stock and commits the sale.
//
// Cancelling ctx is honored only while validating. Once reserving begins the
// unit of work runs to completion (bounded by Options.CommitTimeout) and
// either fully commits or fully rolls back.
func (e *Engine) Checkout(ctx context.Context, req Request) (_ *Result, rerr error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.Int("pos.lines", len(req.Lines))),
	)
	defer span.End()

	state := StateOpen
	defer func() {
		e.finish(ctx, span, state, start, rerr)
	}()

	state = StateValidating
	if err := validateRequest(req); err != nil {
		state = StateRejected
		return nil, err
	}

	hash := fingerprint(req)
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := e.replay(ctx, key, hash)
		if err != nil {
			state = StateRejected
			return nil, err
		}
		if existing != nil {
			state = StateCommitted
			return &Result{Transaction: existing, State: state, Replayed: true}, nil
		}
	}

	draft, err := e.prepare(ctx, req.Lines, req.Adjustment, req.CouponCode)
	if err != nil {
		state = StateRejected
		return nil, err
	}
	txn, err := e.buildTransaction(req, key, hash, draft)
	if err != nil {
		state = StateRejected
		return nil, err
	}

	// Last point at which the caller may cancel.
	if err := ctx.Err(); err != nil {
		state = StateRejected
		return nil, errors.Wrap(err, "checkout cancelled")
	}

	state = StateReserving
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.commitTimeout)
	defer cancel()

	if err := e.commit(commitCtx, txn, draft); err != nil {
		if key != "" && lostKeyRace(err) {
			existing, lookupErr := e.replay(commitCtx, key, hash)
			if lookupErr != nil {
				state = StateAborted
				return nil, lookupErr
			}
			if existing != nil {
				state = StateCommitted
				return &Result{Transaction: existing, State: state, Replayed: true}, nil
			}
		}
		state = StateAborted
		return nil, classify("commit checkout", err)
	}

	state = StateCommitted
	e.notifier.Notify(SaleEvent{
		TransactionID: txn.ID,
		Amount:        txn.Total,
		OccurredAt:    txn.CreatedAt,
	})
	return &Result{Transaction: txn, State: state}, nil
}

// lostKeyRace reports whether err may come from a concurrent request with the
// same idempotency key committing first: either the key insert collided, or
// the winner already consumed the stock or coupon this request needed.
func lostKeyRace(err error) bool {
	var stockErr *InsufficientStockError
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.As(err, &stockErr) ||
		errors.Is(err, coupon.ErrCouponUsageLimitReached)
}

// replay returns the transaction committed under key, nil when there is
// none, or ErrIdempotencyKeyMismatch when key was used for another request.
func (e *Engine) replay(ctx context.Context, key, hash string) (*Transaction, error) {
	existing, err := e.store.FindByIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		return nil, nil
	case err != nil:
		return nil, &PersistenceError{Op: "lookup idempotency key", Err: err}
	case existing.RequestHash != "" && existing.RequestHash != hash:
		return nil, ErrIdempotencyKeyMismatch
	default:
		return existing, nil
	}
}

// prepare resolves lines against the catalog into a priced cart. Prices come
// from the catalog at this moment; stock is only checked under lock later.
func (e *Engine) prepare(ctx context.Context, lines []LineRequest, adj pricing.Adjustment, couponCode string) (*Draft, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if !slices.Contains(ids, l.ItemID) {
			ids = append(ids, l.ItemID)
		}
	}

	items, err := e.catalog.GetItems(ctx, ids)
	if err != nil {
		return nil, &PersistenceError{Op: "read catalog", Err: err}
	}
	byID := make(map[string]catalog.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	c := cart.New()
	for _, l := range lines {
		it, ok := byID[l.ItemID]
		if !ok {
			return nil, &ItemNotFoundError{ItemID: l.ItemID}
		}
		if l.Kind != "" && l.Kind != it.Kind {
			return nil, &KindMismatchError{ItemID: l.ItemID, Requested: string(l.Kind), Actual: string(it.Kind)}
		}
		c.Add(it, l.Quantity)
	}
	for _, l := range c.Lines() {
		if l.Quantity > MaxLineQuantity {
			return nil, &InvalidQuantityError{ItemID: l.ItemID, Quantity: l.Quantity}
		}
	}

	draft := &Draft{Cart: c}
	code := strings.TrimSpace(couponCode)
	if code != "" {
		if e.coupons == nil {
			return nil, coupon.ErrInvalidCoupon
		}
		cl := c.Lines()
		couponItems := make([]coupon.Item, len(cl))
		for i, l := range cl {
			couponItems[i] = coupon.Item{ItemID: l.ItemID, Price: l.UnitPrice, Quantity: l.Quantity}
		}
		discount, err := e.coupons.Validate(ctx, code, couponItems)
		if err != nil {
			return nil, classify("validate coupon", err)
		}
		adj.DiscountType = pricing.DiscountFixed
		adj.DiscountValue = discount.Amount
		draft.Coupon = discount
		c.ApplyCoupon(discount.Code)
	}

	c.SetAdjustment(adj)
	draft.Totals = c.Draft(e.calc)
	return draft, nil
}

func (e *Engine) buildTransaction(req Request, key, hash string, draft *Draft) (*Transaction, error) {
	totals := draft.Totals
	status, tendered, change, err := settle(req.Payment, totals.AmountDue)
	if err != nil {
		return nil, err
	}

	cl := draft.Cart.Lines()
	lines := make([]Line, len(cl))
	for i, l := range cl {
		lines[i] = Line{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Kind:      l.Kind,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: e.calc.LineTotal(pricing.Line{
				ItemID: l.ItemID, Kind: l.Kind, Quantity: l.Quantity, UnitPrice: l.UnitPrice,
			}),
		}
	}

	now := e.now().UTC()
	return &Transaction{
		ID:             e.newID(),
		IdempotencyKey: key,
		RequestHash:    hash,
		Customer:       req.Customer,
		CashierID:      req.CashierID,
		Lines:          lines,
		Subtotal:       totals.Subtotal,
		Discount:       totals.Discount,
		TaxPercent:     draft.Cart.Adjustment().TaxPercent,
		Tax:            totals.Tax,
		Total:          totals.Total,
		Tip:            totals.Tip,
		AmountTendered: tendered,
		Change:         change,
		CouponCode:     draft.Cart.CouponCode(),
		PaymentMethod:  req.Payment.Method,
		PaymentStatus:  status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// settle derives the payment status, the amount tendered and the change.
// Without an explicit status or tendered amount the sale is settled in full.
func settle(p Payment, due decimal.Decimal) (PaymentStatus, decimal.Decimal, decimal.Decimal, error) {
	tendered := p.AmountTendered
	status := p.Status

	if status == "" {
		switch {
		case tendered.IsZero():
			tendered = due
			status = PaymentPaid
		case tendered.GreaterThanOrEqual(due):
			status = PaymentPaid
		default:
			status = PaymentPartial
		}
	}
	if status == PaymentPartial && tendered.GreaterThanOrEqual(due) && due.IsPositive() {
		return "", decimal.Zero, decimal.Zero, &ValidationError{
			Field: "amountTendered", Reason: "partial payment must be less than the amount due",
		}
	}

	change := decimal.Zero
	if tendered.GreaterThan(due) {
		change = tendered.Sub(due)
	}
	return status, tendered, change, nil
}

// commit is the reserve and commit unit of work: lock product rows, check all
// of them, then write the transaction, the stock decrements, the adjustment
// log and the coupon claim.
func (e *Engine) commit(ctx context.Context, txn *Transaction, draft *Draft) error {
	products := txn.ProductLines()
	ids := make([]string, len(products))
	for i, l := range products {
		ids[i] = l.ItemID
	}
	slices.Sort(ids)

	return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		stock, err := tx.LockStock(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock stock")
		}
		for _, l := range products {
			available, ok := stock[l.ItemID]
			if !ok {
				return &ItemNotFoundError{ItemID: l.ItemID}
			}
			if l.Quantity > available {
				return &InsufficientStockError{ItemID: l.ItemID, Available: available, Requested: l.Quantity}
			}
		}

		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		for _, l := range products {
			if err := tx.AdjustStock(ctx, l.ItemID, -l.Quantity); err != nil {
				return errors.Wrapf(err, "decrement %s", l.ItemID)
			}
			if err := tx.InsertAdjustment(ctx, InventoryAdjustment{
				ProductID:     l.ItemID,
				Delta:         -l.Quantity,
				Reason:        ReasonSale,
				TransactionID: txn.ID,
				CreatedAt:     txn.CreatedAt,
			}); err != nil {
				return errors.Wrapf(err, "log adjustment for %s", l.ItemID)
			}
		}
		if draft.Coupon != nil {
			if err := tx.ClaimCoupon(ctx, draft.Coupon.Code); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) finish(ctx context.Context, span trace.Span, state State, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("pos.checkout.state", state.String()))
	e.attempts.Add(ctx, 1, attrs)
	e.duration.Record(ctx, e.now().Sub(start).Seconds(), attrs)
	span.SetAttributes(attribute.String("pos.checkout.state", state.String()))

	lg := zctx.From(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lg.Info("Checkout failed", zap.Stringer("state", state), zap.Error(err))
		return
	}
	lg.Debug("Checkout finished", zap.Stringer("state", state))
}

// classify passes domain errors through and wraps everything else as a
// persistence failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrStockConflict),
		errors.Is(err, ErrPersistence),
		errors.Is(err, ErrIdempotencyKeyMismatch),
		errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		return err
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
