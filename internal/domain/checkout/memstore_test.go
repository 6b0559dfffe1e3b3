package checkout

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/catalog"
	"github.com/xenking/pos-checkout/internal/domain/coupon"
)

// --- Mock implementations ---

// memStore serializes every unit of work behind one mutex and applies staged
// writes only when fn succeeds, which gives the same guarantees the engine
// expects from row locks in PostgreSQL.
type memStore struct {
	mu          sync.Mutex
	stock       map[string]int
	txns        map[string]*Transaction
	byKey       map[string]string
	adjustments []InventoryAdjustment
	couponLeft  map[string]int

	failOn  string
	failErr error
	// onLock runs inside the unit of work right after stock is locked.
	onLock func()
	// hideKeys makes the next FindByIdempotencyKey miss once, simulating a
	// request that looked up its key just before a concurrent one committed.
	hideKeys bool
}

func newMemStore(stock map[string]int) *memStore {
	return &memStore{
		stock:      stock,
		txns:       make(map[string]*Transaction),
		byKey:      make(map[string]string),
		couponLeft: make(map[string]int),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		stock:      maps.Clone(s.stock),
		txns:       make(map[string]*Transaction),
		couponLeft: maps.Clone(s.couponLeft),
		status:     make(map[string]PaymentStatus),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}

	s.stock = tx.stock
	s.couponLeft = tx.couponLeft
	s.adjustments = append(s.adjustments, tx.adjustments...)
	for id, t := range tx.txns {
		s.txns[id] = t
		if t.IdempotencyKey != "" {
			s.byKey[t.IdempotencyKey] = id
		}
	}
	for id, st := range tx.status {
		s.txns[id].PaymentStatus = st
	}
	return nil
}

func (s *memStore) FindTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) FindByIdempotencyKey(_ context.Context, key string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideKeys {
		s.hideKeys = false
		return nil, ErrTransactionNotFound
	}
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *s.txns[id]
	return &cp, nil
}

func (s *memStore) stockOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[id]
}

func (s *memStore) txnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

type memTx struct {
	s           *memStore
	stock       map[string]int
	txns        map[string]*Transaction
	adjustments []InventoryAdjustment
	couponLeft  map[string]int
	status      map[string]PaymentStatus
}

func (t *memTx) fail(op string) error {
	if t.s.failOn == op {
		return t.s.failErr
	}
	return nil
}

func (t *memTx) LockStock(_ context.Context, ids []string) (map[string]int, error) {
	if err := t.fail("LockStock"); err != nil {
		return nil, err
	}
	if !slices.IsSorted(ids) {
		return nil, errors.New("ids must be sorted")
	}
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if q, ok := t.stock[id]; ok {
			out[id] = q
		}
	}
	if t.s.onLock != nil {
		t.s.onLock()
	}
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, id string, delta int) error {
	if err := t.fail("AdjustStock"); err != nil {
		return err
	}
	t.stock[id] += delta
	return nil
}

func (t *memTx) InsertAdjustment(_ context.Context, adj InventoryAdjustment) error {
	if err := t.fail("InsertAdjustment"); err != nil {
		return err
	}
	t.adjustments = append(t.adjustments, adj)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *Transaction) error {
	if err := t.fail("InsertTransaction"); err != nil {
		return err
	}
	if txn.IdempotencyKey != "" {
		if _, ok := t.s.byKey[txn.IdempotencyKey]; ok {
			return ErrDuplicateIdempotencyKey
		}
	}
	cp := *txn
	t.txns[txn.ID] = &cp
	return nil
}

func (t *memTx) ClaimCoupon(_ context.Context, code string) error {
	if err := t.fail("ClaimCoupon"); err != nil {
		return err
	}
	left, ok := t.couponLeft[code]
	if !ok {
		return nil
	}
	if left <= 0 {
		return coupon.ErrCouponUsageLimitReached
	}
	t.couponLeft[code] = left - 1
	return nil
}

func (t *memTx) GetTransactionForUpdate(_ context.Context, id string) (*Transaction, error) {
	txn, ok := t.s.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

func (t *memTx) UpdatePaymentStatus(_ context.Context, id string, status PaymentStatus, _ string, _ time.Time) error {
	if err := t.fail("UpdatePaymentStatus"); err != nil {
		return err
	}
	t.status[id] = status
	return nil
}

type mockCatalog struct {
	items map[string]catalog.Item
	err   error
}

func newMockCatalog(items ...catalog.Item) *mockCatalog {
	m := &mockCatalog{items: make(map[string]catalog.Item, len(items))}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockCatalog) GetItem(_ context.Context, id string) (*catalog.Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &it, nil
}

func (m *mockCatalog) GetItems(_ context.Context, ids []string) ([]catalog.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Item
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockCatalog) List(_ context.Context) ([]catalog.Item, error) {
	return slices.Collect(maps.Values(m.items)), nil
}

type mockCouponValidator struct {
	discount *coupon.Discount
	err      error
}

func (m *mockCouponValidator) Validate(_ context.Context, _ string, _ []coupon.Item) (*coupon.Discount, error) {
	return m.discount, m.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []SaleEvent
}

func (n *recordingNotifier) Notify(ev SaleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []SaleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.events)
}
