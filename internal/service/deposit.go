package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
)

// ProcessDeposit credits funds observed on the network. The account is named
// directly or found through the sender's registered wallet; the network
// transaction id is the idempotency key.
func (p *Processor) ProcessDeposit(ctx context.Context, ev domain.DepositEvent) outcome.Outcome {
	o := outcome.Outcome{
		Adapter:        ev.Adapter,
		TargetID:       ev.UniqueID,
		Address:        ev.SenderAddress,
		Amount:         ev.Amount,
		IdempotencyKey: ev.TransactionID,
	}

	handled, err := p.alreadyHandled(ctx, ev.TransactionID, domain.KindDeposit)
	if err != nil {
		return p.failed(ctx, o, err)
	}
	if handled {
		return o
	}

	amount, err := domain.ParseAmount(ev.Amount)
	if err != nil {
		o.Kind = outcome.DepositInvalidAmount
		return p.dispatch(ctx, o)
	}
	o.Amount = domain.FormatAmount(amount)

	var account *domain.Account
	switch {
	case ev.Adapter != "" && ev.UniqueID != "":
		account, err = p.ledger.GetOrCreateAccount(ctx, ev.Adapter, ev.UniqueID)
	case ev.SenderAddress != "":
		account, err = p.ledger.FindAccountByWallet(ctx, ev.SenderAddress)
	default:
		err = domain.ErrAccountNotFound
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		o.Kind = outcome.DepositUnknownAccount
		return p.dispatch(ctx, o)
	}
	if err != nil {
		return p.failed(ctx, o, err)
	}
	o.Adapter = account.Adapter
	o.TargetID = account.UniqueID

	res, err := p.engine.Deposit(ctx, account, amount, ev.TransactionID)
	if err != nil {
		return p.failed(ctx, o, err)
	}
	if res.Status == DuplicateNoop {
		o.Kind = outcome.None
		return o
	}

	o.Kind = outcome.DepositSucceeded
	o.TransferID = &res.Transfer.ID
	o.Balance = domain.FormatAmount(res.Balance)
	return p.dispatch(ctx, o)
}
