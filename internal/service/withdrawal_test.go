package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

func TestProcessWithdrawal(t *testing.T) {
	network := settlement.NewSimulated()
	h := newHarness(t, network)
	h.fund(t, "A", "10")
	ctx := context.Background()

	o := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
	assert.Equal(t, outcome.WithdrawalSucceeded, o.Kind)
	assert.Equal(t, walletB, o.Address)
	assert.NotEmpty(t, o.Reference)
	assert.Equal(t, "6.0000000", h.balance(t, "A"))
	assert.True(t, network.Paid(walletB).Equal(decimal.NewFromInt(4)))

	transfer, err := h.ledger.GetTransfer(ctx, *o.TransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, transfer.Status)
	assert.Equal(t, o.Reference, transfer.Reference)

	replay := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
	assert.True(t, replay.IsNone())
	assert.Equal(t, "6.0000000", h.balance(t, "A"))
	assert.True(t, network.Paid(walletB).Equal(decimal.NewFromInt(4)))
}

func TestProcessWithdrawalUsesRegisteredWallet(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")
	ctx := context.Background()

	o := h.processor.ProcessWithdrawal(ctx, withdrawal("A", "", "1", "w1"))
	assert.Equal(t, outcome.WithdrawalNoAddressProvided, o.Kind)

	require.Equal(t, outcome.RegistrationFirstWallet, h.processor.RegisterWalletAddress(ctx, "slack", "A", walletA).Kind)

	o = h.processor.ProcessWithdrawal(ctx, withdrawal("A", "  ", "1", "w2"))
	assert.Equal(t, outcome.WithdrawalSucceeded, o.Kind)
	assert.Equal(t, walletA, o.Address)
	assert.Equal(t, "9.0000000", h.balance(t, "A"))
}

func TestProcessWithdrawalRejections(t *testing.T) {
	tests := []struct {
		name string
		req  domain.WithdrawalRequest
		want outcome.Kind
	}{
		{name: "invalid amount", req: withdrawal("A", walletB, "abc", "w1"), want: outcome.WithdrawalInvalidAmount},
		{name: "zero amount", req: withdrawal("A", walletB, "0", "w2"), want: outcome.WithdrawalInvalidAmount},
		{name: "bad checksum", req: withdrawal("A", badWallet, "1", "w3"), want: outcome.WithdrawalInvalidAddress},
		{name: "not an address", req: withdrawal("A", "somewhere", "1", "w4"), want: outcome.WithdrawalInvalidAddress},
		{name: "more than balance", req: withdrawal("A", walletB, "10.0000001", "w5"), want: outcome.WithdrawalInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := settlement.NewSimulated()
			h := newHarness(t, network)
			h.fund(t, "A", "10")

			o := h.processor.ProcessWithdrawal(context.Background(), tt.req)
			assert.Equal(t, tt.want, o.Kind)
			assert.Equal(t, "10.0000000", h.balance(t, "A"))
			assert.True(t, network.Paid(walletB).IsZero())
		})
	}
}

func TestProcessWithdrawalCompensates(t *testing.T) {
	tests := []struct {
		status settlement.Status
		want   outcome.Kind
	}{
		{settlement.DestinationAccountDoesNotExist, outcome.WithdrawalDestinationAccountDoesNotExist},
		{settlement.ReferenceError, outcome.WithdrawalReferenceError},
		{settlement.SubmissionFailed, outcome.WithdrawalSubmissionFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			network := newScriptedNetwork(settlement.Receipt{Status: tt.status}, nil)
			h := newHarness(t, network)
			h.fund(t, "A", "10")
			ctx := context.Background()

			o := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
			assert.Equal(t, tt.want, o.Kind)
			assert.Equal(t, "10.0000000", h.balance(t, "A"))

			transfer, err := h.ledger.GetTransfer(ctx, *o.TransferID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, transfer.Status)

			entries, err := h.ledger.GetEntries(ctx, h.account(t, "A").ID)
			require.NoError(t, err)
			var sum decimal.Decimal
			for _, e := range entries {
				if e.TransferID == transfer.ID {
					sum = sum.Add(e.Delta)
				}
			}
			assert.True(t, sum.IsZero(), "debit and credit back cancel out")

			// a failed withdrawal releases its key
			network.script(settlement.Receipt{Status: settlement.Confirmed, Reference: "tx-2"}, nil)
			retry := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
			assert.Equal(t, outcome.WithdrawalSucceeded, retry.Kind)
			assert.Equal(t, "6.0000000", h.balance(t, "A"))
		})
	}
}

func TestProcessWithdrawalUnknownOutcomeStaysPending(t *testing.T) {
	network := newScriptedNetwork(settlement.Receipt{}, settlement.ErrUnknownOutcome)
	h := newHarness(t, network)
	h.fund(t, "A", "10")
	ctx := context.Background()

	o := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
	assert.Equal(t, outcome.WithdrawalPending, o.Kind)
	assert.Equal(t, "6.0000000", h.balance(t, "A"))

	transfer, err := h.ledger.GetTransfer(ctx, *o.TransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, transfer.Status)

	// the key stays taken while the outcome is unknown
	replay := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "4", "w1"))
	assert.True(t, replay.IsNone())
	assert.Equal(t, []string{"w1"}, network.submissions())
}

func TestTransferExternalIgnoresCallerCancellation(t *testing.T) {
	network := newScriptedNetwork(settlement.Receipt{Status: settlement.Confirmed, Reference: "tx"}, nil)
	h := newHarness(t, network)
	h.fund(t, "A", "10")

	ctx, cancel := context.WithCancel(context.Background())
	account := h.account(t, "A")
	cancelling := &cancelOnSubmit{scriptedNetwork: network, cancel: cancel}
	h.engine.network = cancelling

	res, err := h.engine.TransferExternal(ctx, account, walletB, decimal.NewFromInt(1), "w1")
	require.NoError(t, err)
	assert.Equal(t, Settled, res.Status)
	assert.Equal(t, "9.0000000", h.balance(t, "A"))
}

type cancelOnSubmit struct {
	*scriptedNetwork
	cancel context.CancelFunc
}

func (n *cancelOnSubmit) SubmitPayment(ctx context.Context, destination string, amount decimal.Decimal, key string) (settlement.Receipt, error) {
	n.cancel()
	if ctx.Err() != nil {
		return settlement.Receipt{}, errors.New("submission context cancelled")
	}
	return n.scriptedNetwork.SubmitPayment(ctx, destination, amount, key)
}

func TestBreakerOpenCompensates(t *testing.T) {
	network := newScriptedNetwork(settlement.Receipt{}, settlement.ErrUnknownOutcome)
	cfg := settlement.DefaultBreakerConfig()
	cfg.Name = "service-test"
	cfg.ConsecutiveFailures = 1
	breaker := settlement.NewBreaker(network, cfg, zap.NewNop())
	h := newHarness(t, breaker)
	h.fund(t, "A", "10")
	ctx := context.Background()

	first := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "1", "w1"))
	assert.Equal(t, outcome.WithdrawalPending, first.Kind)

	second := h.processor.ProcessWithdrawal(ctx, withdrawal("A", walletB, "1", "w2"))
	assert.Equal(t, outcome.WithdrawalSubmissionFailed, second.Kind)
	assert.Equal(t, []string{"w1"}, network.submissions())
	assert.Equal(t, "9.0000000", h.balance(t, "A"))
}
