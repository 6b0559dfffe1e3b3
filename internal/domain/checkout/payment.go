package checkout

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Get returns a committed transaction by id.
func (e *Engine) Get(ctx context.Context, id string) (*Transaction, error) {
	t, err := e.store.FindTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "get transaction", Err: err}
	}
	return t, nil
}

// UpdatePaymentStatus moves a transaction to status. Moving to cancelled is a
// void and restocks its products.
func (e *Engine) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Transaction, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown payment status " + string(status)}
	}
	if status == PaymentCancelled {
		return e.Void(ctx, id, "payment cancelled")
	}

	ctx, span := e.tracer.Start(ctx, "checkout.UpdatePaymentStatus")
	defer span.End()

	var updated *Transaction
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.PaymentStatus == status {
			updated = t
			return nil
		}
		if !t.PaymentStatus.CanTransitionTo(status) {
			return &InvalidTransitionError{From: t.PaymentStatus, To: status}
		}

		now := e.now().UTC()
		if err := tx.UpdatePaymentStatus(ctx, id, status, "", now); err != nil {
			return errors.Wrap(err, "update payment status")
		}
		t.PaymentStatus = status
		t.UpdatedAt = now
		updated = t
		return nil
	})
	if err != nil {
		return nil, classifyUpdate("update payment status", err)
	}
	return updated, nil
}

// Void cancels a transaction and returns every product unit it sold to
// stock, logging one "void" adjustment per product line. Voiding an already
// cancelled transaction returns it unchanged.
func (e *Engine) Void(ctx context.Context, id, reason string) (*Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "checkout.Void")
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "voided"
	}

	var (
		voided  *Transaction
		changed bool
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if t.PaymentStatus == PaymentCancelled {
			voided = t
			return nil
		}
		if !t.PaymentStatus.CanTransitionTo(PaymentCancelled) {
			return &InvalidTransitionError{From: t.PaymentStatus, To: PaymentCancelled}
		}

		products := t.ProductLines()
		ids := make([]string, len(products))
		for i, l := range products {
			ids[i] = l.ItemID
		}
		slices.Sort(ids)
		if _, err := tx.LockStock(ctx, ids); err != nil {
			return errors.Wrap(err, "lock stock")
		}

		now := e.now().UTC()
		for _, l := range products {
			if err := tx.AdjustStock(ctx, l.ItemID, l.Quantity); err != nil {
				return errors.Wrapf(err, "restock %s", l.ItemID)
			}
			if err := tx.InsertAdjustment(ctx, InventoryAdjustment{
				ProductID:     l.ItemID,
				Delta:         l.Quantity,
				Reason:        ReasonVoid,
				TransactionID: t.ID,
				CreatedAt:     now,
			}); err != nil {
				return errors.Wrapf(err, "log adjustment for %s", l.ItemID)
			}
		}
		if err := tx.UpdatePaymentStatus(ctx, id, PaymentCancelled, reason, now); err != nil {
			return errors.Wrap(err, "update payment status")
		}

		t.PaymentStatus = PaymentCancelled
		t.VoidReason = reason
		t.UpdatedAt = now
		voided, changed = t, true
		return nil
	})
	if err != nil {
		return nil, classifyUpdate("void transaction", err)
	}

	if changed {
		zctx.From(ctx).Info("Transaction voided",
			zap.String("transaction_id", voided.ID),
			zap.String("reason", reason),
		)
		e.notifier.Notify(SaleEvent{
			TransactionID: voided.ID,
			Amount:        voided.Total,
			OccurredAt:    voided.UpdatedAt,
			Voided:        true,
		})
	}
	return voided, nil
}

func classifyUpdate(op string, err error) error {
	var transitionErr *InvalidTransitionError
	switch {
	case errors.Is(err, ErrTransactionNotFound), errors.As(err, &transitionErr):
		return err
	default:
		return classify(op, err)
	}
}
