package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
	"github.com/xenking/pos-checkout/internal/domain/pricing"
)

var fixedNow = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

// --- Helpers ---

func newTestService(id string, price int64) catalog.Item {
	return catalog.Item{
		ID:              id,
		Name:            id,
		Kind:            catalog.KindService,
		UnitPrice:       decimal.NewFromInt(price),
		DurationMinutes: 30,
	}
}

func newTestProduct(id string, price int64, stock int) catalog.Item {
	return catalog.Item{
		ID:             id,
		Name:           id,
		Kind:           catalog.KindProduct,
		UnitPrice:      decimal.NewFromInt(price),
		QuantityOnHand: &stock,
	}
}

func salonCatalog() *mockCatalog {
	return newMockCatalog(
		newTestService("haircut", 300),
		newTestProduct("hair-oil", 500, 3),
	)
}

func salonRequest() Request {
	return Request{
		Customer:  Customer{ID: "cust-1", Name: "Ayesha"},
		CashierID: "staff-7",
		Lines: []LineRequest{
			{ItemID: "haircut", Kind: catalog.KindService, Quantity: 1},
			{ItemID: "hair-oil", Kind: catalog.KindProduct, Quantity: 2},
		},
		Adjustment: pricing.Adjustment{
			DiscountType:  pricing.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			TaxPercent:    decimal.NewFromInt(17),
		},
		Payment: Payment{Method: MethodCash},
	}
}

func newTestEngine(t *testing.T, items catalog.Reader, coupons coupon.Validator, store Store) (*Engine, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	e, err := NewEngine(items, coupons, store, pricing.New(0), Options{Notifier: n})
	require.NoError(t, err)
	e.now = func() time.Time { return fixedNow }
	return e, n
}

func assertDec(t *testing.T, want int64, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "%s: expected %d, got %s", field, want, got)
}

// --- Tests ---

func TestEngine_Checkout_SalonExample(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, notifier := newTestEngine(t, salonCatalog(), nil, store)

	res, err := e.Checkout(context.Background(), salonRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, res.State)
	assert.False(t, res.Replayed)

	txn := res.Transaction
	require.NotEmpty(t, txn.ID)
	assertDec(t, 1300, txn.Subtotal, "subtotal")
	assertDec(t, 130, txn.Discount, "discount")
	assertDec(t, 199, txn.Tax, "tax")
	assertDec(t, 1369, txn.Total, "total")
	assert.True(t, txn.Balanced())
	assert.Equal(t, PaymentPaid, txn.PaymentStatus)
	assertDec(t, 1369, txn.AmountTendered, "tendered")
	assert.Equal(t, fixedNow, txn.CreatedAt)

	require.Len(t, txn.Lines, 2)
	assertDec(t, 1000, txn.Lines[1].LineTotal, "oil line")

	assert.Equal(t, 1, store.stockOf("hair-oil"))
	require.Len(t, store.adjustments, 1)
	assert.Equal(t, InventoryAdjustment{
		ProductID:     "hair-oil",
		Delta:         -2,
		Reason:        ReasonSale,
		TransactionID: txn.ID,
		CreatedAt:     fixedNow,
	}, store.adjustments[0])

	events := notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, txn.ID, events[0].TransactionID)
	assertDec(t, 1369, events[0].Amount, "event amount")
	assert.False(t, events[0].Voided)
}

func TestEngine_Checkout_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantIs  error
		wantAs  any
		wantMsg string
	}{
		{
			name:   "empty cart",
			mutate: func(r *Request) { r.Lines = nil },
			wantIs: ErrEmptyCart,
		},
		{
			name:   "zero quantity",
			mutate: func(r *Request) { r.Lines[1].Quantity = 0 },
			wantAs: new(*InvalidQuantityError),
		},
		{
			name:   "quantity above integer column",
			mutate: func(r *Request) { r.Lines[1].Quantity = MaxLineQuantity + 1 },
			wantAs: new(*InvalidQuantityError),
		},
		{
			name: "merged quantity above integer column",
			mutate: func(r *Request) {
				r.Lines[1].Quantity = MaxLineQuantity
				r.Lines = append(r.Lines, LineRequest{ItemID: "hair-oil", Kind: catalog.KindProduct, Quantity: 2})
			},
			wantAs:  new(*InvalidQuantityError),
			wantMsg: "at most",
		},
		{
			name:   "missing customer",
			mutate: func(r *Request) { r.Customer = Customer{Phone: "0300"} },
			wantIs: ErrMissingCustomer,
		},
		{
			name:   "unknown item",
			mutate: func(r *Request) { r.Lines[0].ItemID = "massage" },
			wantAs: new(*ItemNotFoundError),
		},
		{
			name:   "kind mismatch",
			mutate: func(r *Request) { r.Lines[0].Kind = catalog.KindProduct },
			wantAs: new(*KindMismatchError),
		},
		{
			name:   "unknown kind",
			mutate: func(r *Request) { r.Lines[0].Kind = catalog.Kind("membership") },
			wantMsg: "unknown kind",
		},
		{
			name:    "coupon with manual discount",
			mutate:  func(r *Request) { r.CouponCode = "MEMBER10" },
			wantMsg: "cannot be combined",
		},
		{
			name: "percentage above 100",
			mutate: func(r *Request) {
				r.Adjustment.DiscountValue = decimal.NewFromInt(101)
			},
			wantMsg: "must not exceed 100",
		},
		{
			name:    "tax above 100",
			mutate:  func(r *Request) { r.Adjustment.TaxPercent = decimal.NewFromInt(101) },
			wantMsg: "taxRate",
		},
		{
			name:    "tax with huge exponent",
			mutate:  func(r *Request) { r.Adjustment.TaxPercent = decimal.New(1, 50_000_000) },
			wantMsg: "out of range",
		},
		{
			name: "fixed discount too large",
			mutate: func(r *Request) {
				r.Adjustment.DiscountType = pricing.DiscountFixed
				r.Adjustment.DiscountValue = decimal.New(1, 13)
			},
			wantMsg: "out of range",
		},
		{
			name:    "tip with tiny exponent",
			mutate:  func(r *Request) { r.Adjustment.Tip = decimal.New(1, -50_000_000) },
			wantMsg: "out of range",
		},
		{
			name:    "tendered too large",
			mutate:  func(r *Request) { r.Payment.AmountTendered = decimal.New(5, 12) },
			wantMsg: "amountTendered",
		},
		{
			name:    "negative tip",
			mutate:  func(r *Request) { r.Adjustment.Tip = decimal.NewFromInt(-1) },
			wantMsg: "tip",
		},
		{
			name:    "missing payment method",
			mutate:  func(r *Request) { r.Payment.Method = "" },
			wantMsg: "payment method is required",
		},
		{
			name:    "cancelled at creation",
			mutate:  func(r *Request) { r.Payment.Status = PaymentCancelled },
			wantMsg: "paymentStatus",
		},
		{
			name: "partial with full tender",
			mutate: func(r *Request) {
				r.Payment.Status = PaymentPartial
				r.Payment.AmountTendered = decimal.NewFromInt(2000)
			},
			wantMsg: "partial payment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(map[string]int{"hair-oil": 3})
			e, notifier := newTestEngine(t, salonCatalog(), nil, store)

			req := salonRequest()
			tt.mutate(&req)

			res, err := e.Checkout(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrValidation)

			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantAs != nil {
				assert.ErrorAs(t, err, tt.wantAs)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}

			assert.Equal(t, 3, store.stockOf("hair-oil"))
			assert.Zero(t, store.txnCount())
			assert.Empty(t, notifier.Events())
		})
	}
}

func TestEngine_Checkout_InsufficientStock(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, notifier := newTestEngine(t, salonCatalog(), nil, store)

	req := salonRequest()
	req.Lines[1].Quantity = 5

	_, err := e.Checkout(context.Background(), req)
	require.ErrorIs(t, err, ErrStockConflict)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "hair-oil", stockErr.ItemID)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	assert.Equal(t, 3, store.stockOf("hair-oil"))
	assert.Zero(t, store.txnCount())
	assert.Empty(t, notifier.Events())
}

func TestEngine_Checkout_DuplicateLinesAreMerged(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, _ := newTestEngine(t, salonCatalog(), nil, store)

	req := salonRequest()
	req.Lines = append(req.Lines, LineRequest{ItemID: "hair-oil", Kind: catalog.KindProduct, Quantity: 2})

	_, err := e.Checkout(context.Background(), req)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, store.stockOf("hair-oil"))
}

func TestEngine_Checkout_Atomicity(t *testing.T) {
	for _, op := range []string{"LockStock", "InsertTransaction", "AdjustStock", "InsertAdjustment", "ClaimCoupon"} {
		t.Run(op, func(t *testing.T) {
			store := newMemStore(map[string]int{"hair-oil": 3})
			store.failOn = op
			store.failErr = errors.New("connection reset by peer")

			validator := &mockCouponValidator{discount: &coupon.Discount{Code: "MEMBER10", Amount: decimal.NewFromInt(100)}}
			e, notifier := newTestEngine(t, salonCatalog(), validator, store)

			req := salonRequest()
			req.Adjustment.DiscountType = pricing.DiscountNone
			req.Adjustment.DiscountValue = decimal.Zero
			req.CouponCode = "MEMBER10"

			_, err := e.Checkout(context.Background(), req)
			require.ErrorIs(t, err, ErrPersistence)

			var pErr *PersistenceError
			require.ErrorAs(t, err, &pErr)
			assert.Contains(t, pErr.Error(), "connection reset")

			assert.Equal(t, 3, store.stockOf("hair-oil"))
			assert.Zero(t, store.txnCount())
			assert.Empty(t, store.adjustments)
			assert.Empty(t, notifier.Events())
		})
	}
}

func TestEngine_Checkout_NoOverselling(t *testing.T) {
	const (
		stock    = 5
		attempts = 40
	)
	store := newMemStore(map[string]int{"hair-oil": stock})
	e, notifier := newTestEngine(t, newMockCatalog(newTestProduct("hair-oil", 500, stock)), nil, store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
		other     []error
	)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Checkout(context.Background(), Request{
				Customer: Customer{ID: fmt.Sprintf("cust-%d", i)},
				Lines:    []LineRequest{{ItemID: "hair-oil", Kind: catalog.KindProduct, Quantity: 1}},
				Payment:  Payment{Method: MethodCard},
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, ErrStockConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, stock, committed)
	assert.Equal(t, attempts-stock, conflicts)
	assert.Equal(t, 0, store.stockOf("hair-oil"))
	assert.Equal(t, stock, store.txnCount())
	assert.Len(t, notifier.Events(), stock)
}

func TestEngine_Checkout_IdempotencyKeyReuse(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, notifier := newTestEngine(t, salonCatalog(), nil, store)

	req := salonRequest()
	req.IdempotencyKey = "till-3-000042"

	first, err := e.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, store.stockOf("hair-oil"))
	assert.Equal(t, 1, store.txnCount())
	assert.Len(t, notifier.Events(), 1)
}

func TestEngine_Checkout_IdempotencyKeyMismatch(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, _ := newTestEngine(t, salonCatalog(), nil, store)

	req := salonRequest()
	req.IdempotencyKey = "till-3-000043"
	_, err := e.Checkout(context.Background(), req)
	require.NoError(t, err)

	req.Lines[1].Quantity = 1
	_, err = e.Checkout(context.Background(), req)
	require.ErrorIs(t, err, ErrIdempotencyKeyMismatch)
	assert.Equal(t, 1, store.stockOf("hair-oil"))
}

func TestEngine_Checkout_ConcurrentSameKey(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 10})
	e, _ := newTestEngine(t, newMockCatalog(newTestService("haircut", 300), newTestProduct("hair-oil", 500, 10)), nil, store)

	req := salonRequest()
	req.IdempotencyKey = "till-1-race"
	first, err := e.Checkout(context.Background(), req)
	require.NoError(t, err)

	// The second request misses the lookup and loses the insert race.
	store.hideKeys = true
	second, err := e.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, 8, store.stockOf("hair-oil"))
}

func TestEngine_Checkout_ConcurrentSameKeyScarceStock(t *testing.T) {
	for _, tt := range []struct {
		name    string
		stock   int
		coupons int
	}{
		{name: "last units", stock: 2, coupons: -1},
		{name: "last coupon use", stock: 10, coupons: 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(map[string]int{"hair-oil": tt.stock})
			var validator coupon.Validator
			req := salonRequest()
			req.IdempotencyKey = "till-1-race"
			if tt.coupons >= 0 {
				store.couponLeft["LAST1"] = tt.coupons
				validator = &mockCouponValidator{discount: &coupon.Discount{Code: "LAST1", Amount: decimal.NewFromInt(50)}}
				req.Adjustment = pricing.Adjustment{}
				req.CouponCode = "LAST1"
			}
			e, notifier := newTestEngine(t, newMockCatalog(
				newTestService("haircut", 300),
				newTestProduct("hair-oil", 500, tt.stock),
			), validator, store)

			first, err := e.Checkout(context.Background(), req)
			require.NoError(t, err)

			// The retry misses the lookup, then finds the stock or coupon
			// already taken by the request it duplicates.
			store.hideKeys = true
			second, err := e.Checkout(context.Background(), req)
			require.NoError(t, err)

			assert.True(t, second.Replayed)
			assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
			assert.Equal(t, tt.stock-2, store.stockOf("hair-oil"))
			assert.Equal(t, 1, store.txnCount())
			assert.Len(t, notifier.Events(), 1)
		})
	}
}

func TestEngine_Checkout_ScarceStockWithoutKey(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 2})
	e, _ := newTestEngine(t, newMockCatalog(newTestService("haircut", 300), newTestProduct("hair-oil", 500, 2)), nil, store)

	_, err := e.Checkout(context.Background(), salonRequest())
	require.NoError(t, err)
	_, err = e.Checkout(context.Background(), salonRequest())
	require.ErrorIs(t, err, ErrStockConflict)
}

func TestEngine_Checkout_Cancellation(t *testing.T) {
	t.Run("cancelled while validating", func(t *testing.T) {
		store := newMemStore(map[string]int{"hair-oil": 3})
		e, _ := newTestEngine(t, salonCatalog(), nil, store)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Checkout(ctx, salonRequest())
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 3, store.stockOf("hair-oil"))
		assert.Zero(t, store.txnCount())
	})

	t.Run("cancel during reserving is not honored", func(t *testing.T) {
		store := newMemStore(map[string]int{"hair-oil": 3})
		e, _ := newTestEngine(t, salonCatalog(), nil, store)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store.onLock = cancel

		res, err := e.Checkout(ctx, salonRequest())
		require.NoError(t, err)
		assert.Equal(t, StateCommitted, res.State)
		assert.Equal(t, 1, store.stockOf("hair-oil"))
	})
}

func TestEngine_Checkout_Coupon(t *testing.T) {
	t.Run("applied as fixed discount and claimed", func(t *testing.T) {
		store := newMemStore(map[string]int{"hair-oil": 3})
		store.couponLeft["MEMBER10"] = 1
		validator := &mockCouponValidator{discount: &coupon.Discount{Code: "MEMBER10", Amount: decimal.NewFromInt(130)}}
		e, _ := newTestEngine(t, salonCatalog(), validator, store)

		req := salonRequest()
		req.Adjustment.DiscountType = pricing.DiscountNone
		req.Adjustment.DiscountValue = decimal.Zero
		req.CouponCode = "MEMBER10"

		res, err := e.Checkout(context.Background(), req)
		require.NoError(t, err)

		assertDec(t, 130, res.Transaction.Discount, "discount")
		assertDec(t, 1369, res.Transaction.Total, "total")
		assert.Equal(t, "MEMBER10", res.Transaction.CouponCode)
		assert.Equal(t, 0, store.couponLeft["MEMBER10"])
	})

	t.Run("exhausted at commit aborts", func(t *testing.T) {
		store := newMemStore(map[string]int{"hair-oil": 3})
		store.couponLeft["MEMBER10"] = 0
		validator := &mockCouponValidator{discount: &coupon.Discount{Code: "MEMBER10", Amount: decimal.NewFromInt(130)}}
		e, _ := newTestEngine(t, salonCatalog(), validator, store)

		req := salonRequest()
		req.Adjustment.DiscountType = pricing.DiscountNone
		req.Adjustment.DiscountValue = decimal.Zero
		req.CouponCode = "MEMBER10"

		_, err := e.Checkout(context.Background(), req)
		require.ErrorIs(t, err, coupon.ErrCouponUsageLimitReached)
		assert.Equal(t, 3, store.stockOf("hair-oil"))
		assert.Zero(t, store.txnCount())
	})

	t.Run("invalid code rejected", func(t *testing.T) {
		store := newMemStore(map[string]int{"hair-oil": 3})
		e, _ := newTestEngine(t, salonCatalog(), &mockCouponValidator{err: coupon.ErrInvalidCoupon}, store)

		req := salonRequest()
		req.Adjustment.DiscountType = pricing.DiscountNone
		req.Adjustment.DiscountValue = decimal.Zero
		req.CouponCode = "NOPE"

		_, err := e.Checkout(context.Background(), req)
		require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	})
}

func TestEngine_Checkout_Payment(t *testing.T) {
	tests := []struct {
		name         string
		payment      Payment
		wantStatus   PaymentStatus
		wantTendered int64
		wantChange   int64
	}{
		{
			name:         "settled in full by default",
			payment:      Payment{Method: MethodCard},
			wantStatus:   PaymentPaid,
			wantTendered: 1369,
		},
		{
			name:         "cash with change",
			payment:      Payment{Method: MethodCash, AmountTendered: decimal.NewFromInt(1500)},
			wantStatus:   PaymentPaid,
			wantTendered: 1500,
			wantChange:   131,
		},
		{
			name:         "short tender is partial",
			payment:      Payment{Method: MethodCash, AmountTendered: decimal.NewFromInt(1000)},
			wantStatus:   PaymentPartial,
			wantTendered: 1000,
		},
		{
			name:       "explicit pending",
			payment:    Payment{Method: MethodTransfer, Status: PaymentPending},
			wantStatus: PaymentPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(map[string]int{"hair-oil": 3})
			e, _ := newTestEngine(t, salonCatalog(), nil, store)

			req := salonRequest()
			req.Payment = tt.payment

			res, err := e.Checkout(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, res.Transaction.PaymentStatus)
			assertDec(t, tt.wantTendered, res.Transaction.AmountTendered, "tendered")
			assertDec(t, tt.wantChange, res.Transaction.Change, "change")
		})
	}
}

func TestEngine_Checkout_CatalogUnavailable(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	items := salonCatalog()
	items.err = errors.New("dial tcp: connection refused")
	e, _ := newTestEngine(t, items, nil, store)

	_, err := e.Checkout(context.Background(), salonRequest())
	require.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestEngine_Quote(t *testing.T) {
	store := newMemStore(map[string]int{"hair-oil": 3})
	e, _ := newTestEngine(t, salonCatalog(), nil, store)

	req := salonRequest()
	draft, err := e.Quote(context.Background(), req.Lines, req.Adjustment, "")
	require.NoError(t, err)

	assertDec(t, 1369, draft.Totals.Total, "total")
	assert.Equal(t, 2, draft.Cart.Len())
	assert.Equal(t, 3, store.stockOf("hair-oil"))
	assert.Zero(t, store.txnCount())
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateCommitted, StateRejected, StateAborted} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []State{StateOpen, StateValidating, StateReserving} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestFingerprint_EquivalentAmounts(t *testing.T) {
	base := salonRequest()
	base.Payment.AmountTendered = decimal.RequireFromString("1369")

	for _, tt := range []struct{ discount, tendered string }{
		{"10.0", "1369.00"},
		{"1e1", "1.369e3"},
		{"10.000", "1369"},
	} {
		req := salonRequest()
		req.Adjustment.DiscountValue = decimal.RequireFromString(tt.discount)
		req.Payment.AmountTendered = decimal.RequireFromString(tt.tendered)
		assert.Equal(t, fingerprint(base), fingerprint(req), "%s/%s", tt.discount, tt.tendered)
	}

	other := salonRequest()
	other.Adjustment.DiscountValue = decimal.RequireFromString("10.5")
	assert.NotEqual(t, fingerprint(base), fingerprint(other))
}
