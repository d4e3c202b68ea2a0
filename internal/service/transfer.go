package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/settlement"
	"github.com/punchamoorthee/tipledger/internal/store"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer engine results, labeled by kind and result",
	}, []string{"kind", "result"})

	settlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_settlement_duration_seconds",
		Help:    "Latency of settlement network submissions",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"status"})
)

type ResultStatus int

const (
	Settled ResultStatus = iota + 1
	DuplicateNoop
	Pending
	Failed
)

func (s ResultStatus) String() string {
	switch s {
	case Settled:
		return "settled"
	case DuplicateNoop:
		return "duplicate"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// TransferResult is the outcome of an engine operation that did not error.
// A duplicate is a result, not an error: Transfer then holds the earlier
// transfer with the same idempotency key.
type TransferResult struct {
	Status   ResultStatus
	Transfer *domain.Transfer
	// Settlement is the network status behind a Failed withdrawal.
	Settlement settlement.Status
	// Balance is the credited account's balance as committed by a deposit.
	Balance decimal.Decimal
}

// TransferEngine moves balances. Every mutation runs in one ledger
// transaction that re-checks the spender's balance under a row lock.
type TransferEngine struct {
	ledger        Ledger
	network       settlement.Network
	logger        *zap.Logger
	settleTimeout time.Duration
}

func NewTransferEngine(ledger Ledger, network settlement.Network, settleTimeout time.Duration, logger *zap.Logger) *TransferEngine {
	return &TransferEngine{
		ledger:        ledger,
		network:       network,
		logger:        logger,
		settleTimeout: settleTimeout,
	}
}

// TransferInternal moves amount from source to target.
func (e *TransferEngine) TransferInternal(ctx context.Context, source, target *domain.Account, amount decimal.Decimal, idempotencyKey string) (TransferResult, error) {
	if source.ID == target.ID {
		return TransferResult{}, domain.ErrSelfReference
	}
	amount = domain.FixAmount(amount)
	if !amount.IsPositive() {
		return TransferResult{}, domain.ErrInvalidAmount
	}

	var result TransferResult
	err := e.ledger.WithinTransaction(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		// Looked up under the lock so a same-key request that waited on it
		// sees the committed transfer rather than the drained balance.
		existing, err := findExisting(ctx, tx, idempotencyKey, domain.KindTip)
		if err != nil {
			return err
		}
		if existing != nil {
			result = TransferResult{Status: DuplicateNoop, Transfer: existing}
			return nil
		}
		if !locked[source.ID].CanPay(amount) {
			return domain.ErrInsufficientBalance
		}

		t := &domain.Transfer{
			ID:              uuid.New(),
			Kind:            domain.KindTip,
			Status:          domain.StatusSettled,
			SourceAccountID: &source.ID,
			TargetAccountID: &target.ID,
			Amount:          amount,
			IdempotencyKey:  idempotencyKey,
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		if err := tx.ApplyEntry(ctx, t.ID, source.ID, amount.Neg()); err != nil {
			return err
		}
		if err := tx.ApplyEntry(ctx, t.ID, target.ID, amount); err != nil {
			return err
		}
		result = TransferResult{Status: Settled, Transfer: t}
		return nil
	})
	if err != nil {
		return e.resolveError(ctx, err, idempotencyKey, domain.KindTip)
	}

	transfersTotal.WithLabelValues(string(domain.KindTip), result.Status.String()).Inc()
	return result, nil
}

// Deposit credits account with funds that arrived from the network.
func (e *TransferEngine) Deposit(ctx context.Context, account *domain.Account, amount decimal.Decimal, idempotencyKey string) (TransferResult, error) {
	amount = domain.FixAmount(amount)
	if !amount.IsPositive() {
		return TransferResult{}, domain.ErrInvalidAmount
	}

	var result TransferResult
	err := e.ledger.WithinTransaction(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		existing, err := findExisting(ctx, tx, idempotencyKey, domain.KindDeposit)
		if err != nil {
			return err
		}
		if existing != nil {
			result = TransferResult{Status: DuplicateNoop, Transfer: existing}
			return nil
		}

		t := &domain.Transfer{
			ID:              uuid.New(),
			Kind:            domain.KindDeposit,
			Status:          domain.StatusSettled,
			TargetAccountID: &account.ID,
			Amount:          amount,
			IdempotencyKey:  idempotencyKey,
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		if err := tx.ApplyEntry(ctx, t.ID, account.ID, amount); err != nil {
			return err
		}
		result = TransferResult{Status: Settled, Transfer: t, Balance: locked[account.ID].Balance.Add(amount)}
		return nil
	})
	if err != nil {
		return e.resolveError(ctx, err, idempotencyKey, domain.KindDeposit)
	}

	transfersTotal.WithLabelValues(string(domain.KindDeposit), result.Status.String()).Inc()
	return result, nil
}

// TransferExternal debits account, records a pending withdrawal and submits
// the payment. A definitive network failure credits the debit back. An
// unknown network outcome leaves the withdrawal pending for the reconciler.
func (e *TransferEngine) TransferExternal(ctx context.Context, account *domain.Account, destination string, amount decimal.Decimal, idempotencyKey string) (TransferResult, error) {
	if !e.network.IsValidAddress(destination) {
		return TransferResult{}, domain.ErrInvalidAddress
	}
	amount = domain.FixAmount(amount)
	if !amount.IsPositive() {
		return TransferResult{}, domain.ErrInvalidAmount
	}

	var (
		pending   *domain.Transfer
		duplicate *domain.Transfer
	)
	err := e.ledger.WithinTransaction(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		existing, err := findExisting(ctx, tx, idempotencyKey, domain.KindWithdrawal)
		if err != nil {
			return err
		}
		if existing != nil {
			duplicate = existing
			return nil
		}
		if !locked[account.ID].CanPay(amount) {
			return domain.ErrInsufficientBalance
		}

		t := &domain.Transfer{
			ID:                 uuid.New(),
			Kind:               domain.KindWithdrawal,
			Status:             domain.StatusPending,
			SourceAccountID:    &account.ID,
			DestinationAddress: destination,
			Amount:             amount,
			IdempotencyKey:     idempotencyKey,
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		if err := tx.ApplyEntry(ctx, t.ID, account.ID, amount.Neg()); err != nil {
			return err
		}
		pending = t
		return nil
	})
	if err != nil {
		return e.resolveError(ctx, err, idempotencyKey, domain.KindWithdrawal)
	}
	if duplicate != nil {
		transfersTotal.WithLabelValues(string(domain.KindWithdrawal), DuplicateNoop.String()).Inc()
		return TransferResult{Status: DuplicateNoop, Transfer: duplicate}, nil
	}

	result := e.Submit(ctx, pending)
	transfersTotal.WithLabelValues(string(domain.KindWithdrawal), result.Status.String()).Inc()
	return result, nil
}

// Submit sends a pending withdrawal to the network and applies the receipt.
// The debit is already committed, so the caller's cancellation does not stop
// the submission; only the engine's settle timeout bounds it.
func (e *TransferEngine) Submit(ctx context.Context, t *domain.Transfer) TransferResult {
	ctx = context.WithoutCancel(ctx)
	submitCtx, cancel := context.WithTimeout(ctx, e.settleTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := e.network.SubmitPayment(submitCtx, t.DestinationAddress, t.Amount, t.IdempotencyKey)
	if err != nil {
		settlementDuration.WithLabelValues("unknown").Observe(time.Since(start).Seconds())
		e.logger.Warn("settlement outcome unknown, withdrawal left pending",
			zap.Stringer("transfer_id", t.ID),
			zap.String("idempotency_key", t.IdempotencyKey),
			zap.Error(err))
		return TransferResult{Status: Pending, Transfer: t}
	}
	settlementDuration.WithLabelValues(string(receipt.Status)).Observe(time.Since(start).Seconds())

	return e.ApplyReceipt(ctx, t, receipt)
}

// ApplyReceipt resolves a pending withdrawal. Confirmed settles it; every
// other definitive status fails it and credits the amount back in the same
// transaction. If the ledger cannot be updated the withdrawal stays pending.
func (e *TransferEngine) ApplyReceipt(ctx context.Context, t *domain.Transfer, receipt settlement.Receipt) TransferResult {
	logger := e.logger.With(
		zap.Stringer("transfer_id", t.ID),
		zap.String("idempotency_key", t.IdempotencyKey),
		zap.String("settlement", string(receipt.Status)))

	if !receipt.Status.Definitive() {
		logger.Warn("unrecognised settlement status, withdrawal left pending")
		return TransferResult{Status: Pending, Transfer: t}
	}

	var err error
	if receipt.Status == settlement.Confirmed {
		err = e.ledger.WithinTransaction(ctx, func(tx store.Tx) error {
			return tx.UpdateTransferStatus(ctx, t.ID, domain.StatusPending, domain.StatusSettled, receipt.Reference)
		})
	} else {
		err = e.ledger.WithinTransaction(ctx, func(tx store.Tx) error {
			if err := tx.UpdateTransferStatus(ctx, t.ID, domain.StatusPending, domain.StatusFailed, receipt.Reference); err != nil {
				return err
			}
			if _, err := tx.LockAccounts(ctx, *t.SourceAccountID); err != nil {
				return err
			}
			return tx.ApplyEntry(ctx, t.ID, *t.SourceAccountID, t.Amount)
		})
	}

	if errors.Is(err, store.ErrStaleTransfer) {
		// resolved elsewhere, which already reported it
		logger.Info("withdrawal already resolved")
		return TransferResult{Status: DuplicateNoop, Transfer: t}
	}
	if err != nil {
		logger.Error("record settlement result, withdrawal left pending", zap.Error(err))
		return TransferResult{Status: Pending, Transfer: t}
	}

	resolved := *t
	resolved.Reference = receipt.Reference
	if receipt.Status == settlement.Confirmed {
		resolved.Status = domain.StatusSettled
		return TransferResult{Status: Settled, Transfer: &resolved}
	}
	resolved.Status = domain.StatusFailed
	logger.Info("withdrawal failed, debit restored")
	return TransferResult{Status: Failed, Transfer: &resolved, Settlement: receipt.Status}
}

// findExisting returns the live transfer holding key. A key reused for a
// different kind of transfer is rejected.
func findExisting(ctx context.Context, tx store.Tx, key string, kind domain.TransferKind) (*domain.Transfer, error) {
	existing, err := tx.FindTransferByKey(ctx, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.Kind != kind {
		return nil, domain.ErrIdempotencyMismatch
	}
	return existing, nil
}

// resolveError maps a rolled back transaction onto the engine's results. A
// unique violation means a concurrent request with the same key won.
func (e *TransferEngine) resolveError(ctx context.Context, err error, key string, kind domain.TransferKind) (TransferResult, error) {
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		existing, findErr := e.ledger.FindTransferByKey(ctx, key)
		if findErr != nil {
			return TransferResult{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, findErr)
		}
		if existing == nil {
			// the winner failed and released the key in between
			return TransferResult{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
		}
		if existing.Kind != kind {
			return TransferResult{}, domain.ErrIdempotencyMismatch
		}
		transfersTotal.WithLabelValues(string(kind), DuplicateNoop.String()).Inc()
		return TransferResult{Status: DuplicateNoop, Transfer: existing}, nil
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrIdempotencyMismatch),
		errors.Is(err, domain.ErrAccountNotFound):
		transfersTotal.WithLabelValues(string(kind), "rejected").Inc()
		return TransferResult{}, err
	}

	e.logger.Error("transfer rolled back",
		zap.String("kind", string(kind)),
		zap.String("idempotency_key", key),
		zap.Error(err))
	transfersTotal.WithLabelValues(string(kind), "error").Inc()
	return TransferResult{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
}
