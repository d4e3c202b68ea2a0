package service

import (
	"context"
	"errors"
	"strings"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

// ProcessWithdrawal pays out to an external wallet. Without an explicit
// destination the account's registered wallet is used.
func (p *Processor) ProcessWithdrawal(ctx context.Context, req domain.WithdrawalRequest) outcome.Outcome {
	o := outcome.Outcome{
		Adapter:        req.Adapter,
		SourceID:       req.UniqueID,
		Address:        req.DestinationAddress,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}

	handled, err := p.alreadyHandled(ctx, req.IdempotencyKey, domain.KindWithdrawal)
	if err != nil {
		return p.failed(ctx, o, err)
	}
	if handled {
		return o
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		o.Kind = outcome.WithdrawalInvalidAmount
		return p.dispatch(ctx, o)
	}
	o.Amount = domain.FormatAmount(amount)

	account, err := p.ledger.GetOrCreateAccount(ctx, req.Adapter, req.UniqueID)
	if err != nil {
		return p.failed(ctx, o, err)
	}

	address := strings.TrimSpace(req.DestinationAddress)
	if address == "" {
		address = account.WalletAddress
	}
	if address == "" {
		o.Kind = outcome.WithdrawalNoAddressProvided
		return p.dispatch(ctx, o)
	}
	o.Address = address
	if !p.network.IsValidAddress(address) {
		o.Kind = outcome.WithdrawalInvalidAddress
		return p.dispatch(ctx, o)
	}
	if !account.CanPay(amount) {
		if p.takenMeanwhile(ctx, req.IdempotencyKey, domain.KindWithdrawal) {
			return o
		}
		o.Kind = outcome.WithdrawalInsufficientBalance
		o.Balance = domain.FormatAmount(account.Balance)
		return p.dispatch(ctx, o)
	}

	res, err := p.engine.TransferExternal(ctx, account, address, amount, req.IdempotencyKey)
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		if p.takenMeanwhile(ctx, req.IdempotencyKey, domain.KindWithdrawal) {
			return o
		}
		o.Kind = outcome.WithdrawalInsufficientBalance
		return p.dispatch(ctx, o)
	case errors.Is(err, domain.ErrInvalidAddress):
		o.Kind = outcome.WithdrawalInvalidAddress
		return p.dispatch(ctx, o)
	case err != nil:
		return p.failed(ctx, o, err)
	case res.Status == DuplicateNoop:
		return o
	}

	return p.dispatch(ctx, withdrawalOutcome(o, res))
}

// withdrawalOutcome names the result of a submitted withdrawal.
func withdrawalOutcome(o outcome.Outcome, res TransferResult) outcome.Outcome {
	o.TransferID = &res.Transfer.ID
	o.Reference = res.Transfer.Reference

	switch res.Status {
	case Settled:
		o.Kind = outcome.WithdrawalSucceeded
	case Pending:
		o.Kind = outcome.WithdrawalPending
	case Failed:
		switch res.Settlement {
		case settlement.DestinationAccountDoesNotExist:
			o.Kind = outcome.WithdrawalDestinationAccountDoesNotExist
		case settlement.ReferenceError:
			o.Kind = outcome.WithdrawalReferenceError
		default:
			o.Kind = outcome.WithdrawalSubmissionFailed
		}
	}
	return o
}
