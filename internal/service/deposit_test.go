package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

func TestProcessDeposit(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	ctx := context.Background()

	o := h.processor.ProcessDeposit(ctx, domain.DepositEvent{Adapter: "slack", UniqueID: "A", Amount: "2.5", TransactionID: "tx1"})
	assert.Equal(t, outcome.DepositSucceeded, o.Kind)
	assert.Equal(t, "2.5000000", o.Amount)
	assert.Equal(t, "2.5000000", o.Balance)
	assert.Equal(t, "2.5000000", h.balance(t, "A"))

	replay := h.processor.ProcessDeposit(ctx, domain.DepositEvent{Adapter: "slack", UniqueID: "A", Amount: "2.5", TransactionID: "tx1"})
	assert.True(t, replay.IsNone())
	assert.Equal(t, "2.5000000", h.balance(t, "A"))
	assert.Equal(t, []outcome.Kind{outcome.DepositSucceeded}, h.notified.kinds())
}

func TestProcessDepositBySenderWallet(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	ctx := context.Background()
	require.Equal(t, outcome.RegistrationFirstWallet, h.processor.RegisterWalletAddress(ctx, "slack", "A", walletA).Kind)

	o := h.processor.ProcessDeposit(ctx, domain.DepositEvent{SenderAddress: walletA, Amount: "1", TransactionID: "tx1"})
	assert.Equal(t, outcome.DepositSucceeded, o.Kind)
	assert.Equal(t, "slack", o.Adapter)
	assert.Equal(t, "A", o.TargetID)
	assert.Equal(t, "1.0000000", h.balance(t, "A"))

	unknown := h.processor.ProcessDeposit(ctx, domain.DepositEvent{SenderAddress: walletB, Amount: "1", TransactionID: "tx2"})
	assert.Equal(t, outcome.DepositUnknownAccount, unknown.Kind)

	bad := h.processor.ProcessDeposit(ctx, domain.DepositEvent{SenderAddress: walletA, Amount: "-1", TransactionID: "tx3"})
	assert.Equal(t, outcome.DepositInvalidAmount, bad.Kind)
	assert.Equal(t, "1.0000000", h.balance(t, "A"))
}

func TestProcessDepositMissingTransactionID(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())

	o := h.processor.ProcessDeposit(context.Background(), domain.DepositEvent{Adapter: "slack", UniqueID: "A", Amount: "1"})
	assert.Equal(t, outcome.ProcessingFailed, o.Kind)
	assert.Equal(t, "0.0000000", h.balance(t, "A"))
}
