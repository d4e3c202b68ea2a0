package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
	"github.com/punchamoorthee/tipledger/internal/store"
)

const (
	walletA = "GAAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQDZ7H"
	walletB = "GABAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEJXA"
	walletC = "GABQGAYDAMBQGAYDAMBQGAYDAMBQGAYDAMBQGAYDAMBQGAYDAMBQHGPC"
	// checksum of walletA with the last character changed
	badWallet = "GAAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQDZ7A"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []outcome.Outcome
	ctxErrs  []error
}

func (r *recorder) Notify(ctx context.Context, o outcome.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil
}

// contextErrors returns the state of the context each outcome was delivered on.
func (r *recorder) contextErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.ctxErrs...)
}

func (r *recorder) all() []outcome.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome.Outcome(nil), r.outcomes...)
}

func (r *recorder) kinds() []outcome.Kind {
	var kinds []outcome.Kind
	for _, o := range r.all() {
		kinds = append(kinds, o.Kind)
	}
	return kinds
}

// scriptedNetwork answers every submission with the same receipt or error and
// remembers what it was asked.
type scriptedNetwork struct {
	mu       sync.Mutex
	receipt  settlement.Receipt
	err      error
	calls    []string
	lookups  map[string]settlement.Receipt
	lookupFn func(key string) (settlement.Receipt, error)
}

func newScriptedNetwork(receipt settlement.Receipt, err error) *scriptedNetwork {
	return &scriptedNetwork{receipt: receipt, err: err, lookups: make(map[string]settlement.Receipt)}
}

func (n *scriptedNetwork) IsValidAddress(address string) bool {
	return settlement.IsValidAccountID(address)
}

func (n *scriptedNetwork) SubmitPayment(_ context.Context, destination string, _ decimal.Decimal, key string) (settlement.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, key)
	return n.receipt, n.err
}

func (n *scriptedNetwork) LookupPayment(_ context.Context, key string) (settlement.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lookupFn != nil {
		return n.lookupFn(key)
	}
	if r, ok := n.lookups[key]; ok {
		return r, nil
	}
	return settlement.Receipt{}, settlement.ErrPaymentNotFound
}

func (n *scriptedNetwork) script(receipt settlement.Receipt, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipt, n.err = receipt, err
}

func (n *scriptedNetwork) submissions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type harness struct {
	ledger    *store.MemoryStore
	engine    *TransferEngine
	processor *Processor
	notified  *recorder
	logger    *zap.Logger
}

func newHarness(t *testing.T, network settlement.Network) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := store.NewMemoryStore()
	notified := &recorder{}
	engine := NewTransferEngine(ledger, network, time.Second, logger)
	dispatcher := outcome.NewDispatcher(logger, notified)
	return &harness{
		ledger:    ledger,
		engine:    engine,
		processor: NewProcessor(ledger, engine, network, dispatcher, logger),
		notified:  notified,
		logger:    logger,
	}
}

func (h *harness) account(t *testing.T, uniqueID string) *domain.Account {
	t.Helper()
	acc, err := h.ledger.GetOrCreateAccount(context.Background(), "slack", uniqueID)
	require.NoError(t, err)
	return acc
}

func (h *harness) fund(t *testing.T, uniqueID, amount string) {
	t.Helper()
	res, err := h.engine.Deposit(context.Background(), h.account(t, uniqueID), decimal.RequireFromString(amount), "fund-"+uniqueID+"-"+amount)
	require.NoError(t, err)
	require.Equal(t, Settled, res.Status)
}

func (h *harness) balance(t *testing.T, uniqueID string) string {
	t.Helper()
	return domain.FormatAmount(h.account(t, uniqueID).Balance)
}

func tip(source, target, amount, key string) domain.TipRequest {
	return domain.TipRequest{Adapter: "slack", SourceID: source, TargetID: target, Amount: amount, IdempotencyKey: key}
}

func withdrawal(uniqueID, address, amount, key string) domain.WithdrawalRequest {
	return domain.WithdrawalRequest{Adapter: "slack", UniqueID: uniqueID, DestinationAddress: address, Amount: amount, IdempotencyKey: key}
}
