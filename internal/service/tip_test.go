package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

func TestProcessTip(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")
	ctx := context.Background()

	o := h.processor.ProcessTip(ctx, tip("A", "B", "3", "k1"))
	assert.Equal(t, outcome.TipSucceeded, o.Kind)
	assert.Equal(t, "3.0000000", o.Amount)
	require.NotNil(t, o.TransferID)
	assert.Equal(t, "7.0000000", h.balance(t, "A"))
	assert.Equal(t, "3.0000000", h.balance(t, "B"))

	replay := h.processor.ProcessTip(ctx, tip("A", "B", "3", "k1"))
	assert.True(t, replay.IsNone())
	assert.Equal(t, "7.0000000", h.balance(t, "A"))
	assert.Equal(t, "3.0000000", h.balance(t, "B"))
	assert.Equal(t, []outcome.Kind{outcome.TipSucceeded}, h.notified.kinds())

	entries, err := h.ledger.GetEntries(ctx, h.account(t, "B").ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, *o.TransferID, entries[0].TransferID)
}

func TestProcessTipRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.TipRequest
		want    outcome.Kind
		balance string
	}{
		{name: "more than balance", req: tip("A", "B", "20", "k1"), want: outcome.TipInsufficientBalance, balance: "10.0000000"},
		{name: "self tip", req: tip("A", "A", "1", "k2"), want: outcome.TipReferenceError},
		{name: "self tip beyond balance", req: tip("A", "A", "11", "k3"), want: outcome.TipInsufficientBalance, balance: "10.0000000"},
		{name: "not a number", req: tip("A", "B", "lots", "k4"), want: outcome.TipInvalidAmount},
		{name: "zero", req: tip("A", "B", "0", "k5"), want: outcome.TipInvalidAmount},
		{name: "rounds to zero", req: tip("A", "B", "0.00000001", "k6"), want: outcome.TipInvalidAmount},
		{name: "negative", req: tip("A", "B", "-1", "k7"), want: outcome.TipInvalidAmount},
		{name: "missing key", req: tip("A", "B", "1", ""), want: outcome.ProcessingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, settlement.NewSimulated())
			h.fund(t, "A", "10")

			o := h.processor.ProcessTip(context.Background(), tt.req)
			assert.Equal(t, tt.want, o.Kind)
			assert.Equal(t, tt.balance, o.Balance)
			assert.Equal(t, "10.0000000", h.balance(t, "A"))
			assert.Equal(t, []outcome.Kind{tt.want}, h.notified.kinds())
		})
	}
}

func TestProcessTipRoundsAmount(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "1")

	o := h.processor.ProcessTip(context.Background(), tip("A", "B", "0.123456789", "k1"))
	assert.Equal(t, outcome.TipSucceeded, o.Kind)
	assert.Equal(t, "0.1234568", o.Amount)
	assert.Equal(t, "0.8765432", h.balance(t, "A"))
}

func TestConcurrentTipsNeverOverdraw(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")

	const attempts = 25
	var wg sync.WaitGroup
	results := make([]outcome.Kind, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("T%d", i%3)
			results[i] = h.processor.ProcessTip(context.Background(), tip("A", target, "1", fmt.Sprintf("k%d", i))).Kind
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, k := range results {
		switch k {
		case outcome.TipSucceeded:
			succeeded++
		case outcome.TipInsufficientBalance:
		default:
			t.Errorf("unexpected outcome %q", k)
		}
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, "0.0000000", h.balance(t, "A"))

	total := decimal.Zero
	for i := 0; i < 3; i++ {
		total = total.Add(h.account(t, fmt.Sprintf("T%d", i)).Balance)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(10)))
}

func TestConcurrentTipsSameKey(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.processor.ProcessTip(context.Background(), tip("A", "B", "2", "same"))
		}()
	}
	wg.Wait()

	assert.Equal(t, []outcome.Kind{outcome.TipSucceeded}, h.notified.kinds())
	assert.Equal(t, "8.0000000", h.balance(t, "A"))
	assert.Equal(t, "2.0000000", h.balance(t, "B"))
}

func TestTransferInternalDuplicateAndMismatch(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")
	ctx := context.Background()
	a, b := h.account(t, "A"), h.account(t, "B")

	first, err := h.engine.TransferInternal(ctx, a, b, decimal.NewFromInt(1), "k1")
	require.NoError(t, err)
	assert.Equal(t, Settled, first.Status)

	again, err := h.engine.TransferInternal(ctx, a, b, decimal.NewFromInt(1), "k1")
	require.NoError(t, err)
	assert.Equal(t, DuplicateNoop, again.Status)
	assert.Equal(t, first.Transfer.ID, again.Transfer.ID)

	_, err = h.engine.Deposit(ctx, a, decimal.NewFromInt(1), "k1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	_, err = h.engine.TransferInternal(ctx, a, a, decimal.NewFromInt(1), "k2")
	assert.ErrorIs(t, err, domain.ErrSelfReference)

	_, err = h.engine.TransferInternal(ctx, a, b, decimal.NewFromInt(100), "k3")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, "9.0000000", h.balance(t, "A"))
}

func TestTipKeyUsedByOtherKind(t *testing.T) {
	h := newHarness(t, settlement.NewSimulated())
	h.fund(t, "A", "10")

	o := h.processor.ProcessTip(context.Background(), tip("A", "B", "1", "fund-A-10"))
	assert.Equal(t, outcome.ProcessingFailed, o.Kind)
	assert.Equal(t, "10.0000000", h.balance(t, "A"))
}
