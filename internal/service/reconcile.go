package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

const reconcileBatch = 100

// Reconciler resolves withdrawals whose settlement outcome was unknown when
// they were submitted. Each pending withdrawal is looked up on the network by
// its idempotency key; a payment the network never saw is submitted again
// under the same key.
type Reconciler struct {
	ledger     Ledger
	engine     *TransferEngine
	lookup     settlement.Lookup
	dispatcher *outcome.Dispatcher
	logger     *zap.Logger
	grace      time.Duration
	now        func() time.Time
}

func NewReconciler(ledger Ledger, engine *TransferEngine, lookup settlement.Lookup, dispatcher *outcome.Dispatcher, grace time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		engine:     engine,
		lookup:     lookup,
		dispatcher: dispatcher,
		logger:     logger,
		grace:      grace,
		now:        time.Now,
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce processes one batch of withdrawals pending for longer than
// the grace period and returns how many it resolved.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.ledger.ListPendingWithdrawals(ctx, r.now().Add(-r.grace), reconcileBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		t := &pending[i]
		logger := r.logger.With(
			zap.Stringer("transfer_id", t.ID),
			zap.String("idempotency_key", t.IdempotencyKey))

		var res TransferResult
		receipt, err := r.lookup.LookupPayment(ctx, t.IdempotencyKey)
		switch {
		case errors.Is(err, settlement.ErrPaymentNotFound):
			logger.Info("payment unknown to network, resubmitting")
			res = r.engine.Submit(ctx, t)
		case err != nil:
			logger.Warn("payment lookup failed", zap.Error(err))
			continue
		default:
			res = r.engine.ApplyReceipt(ctx, t, receipt)
		}
		if res.Status == Pending || res.Status == DuplicateNoop {
			continue
		}

		resolved++
		logger.Info("pending withdrawal resolved", zap.Stringer("result", res.Status))
		r.notify(ctx, res)
	}
	return resolved, nil
}

func (r *Reconciler) notify(ctx context.Context, res TransferResult) {
	account, err := r.ledger.GetAccount(ctx, *res.Transfer.SourceAccountID)
	if err != nil {
		r.logger.Error("load withdrawal account", zap.Error(err))
		return
	}
	o := outcome.Outcome{
		Adapter:        account.Adapter,
		SourceID:       account.UniqueID,
		Address:        res.Transfer.DestinationAddress,
		Amount:         domain.FormatAmount(res.Transfer.Amount),
		IdempotencyKey: res.Transfer.IdempotencyKey,
	}
	r.dispatcher.Dispatch(context.WithoutCancel(ctx), withdrawalOutcome(o, res))
}
