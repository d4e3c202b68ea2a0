package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
)

// ProcessTip moves funds between two users of the same adapter.
func (p *Processor) ProcessTip(ctx context.Context, req domain.TipRequest) outcome.Outcome {
	o := outcome.Outcome{
		Adapter:        req.Adapter,
		SourceID:       req.SourceID,
		TargetID:       req.TargetID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	}

	handled, err := p.alreadyHandled(ctx, req.IdempotencyKey, domain.KindTip)
	if err != nil {
		return p.failed(ctx, o, err)
	}
	if handled {
		return o
	}

	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		o.Kind = outcome.TipInvalidAmount
		return p.dispatch(ctx, o)
	}
	o.Amount = domain.FormatAmount(amount)

	source, err := p.ledger.GetOrCreateAccount(ctx, req.Adapter, req.SourceID)
	if err != nil {
		return p.failed(ctx, o, err)
	}
	if !source.CanPay(amount) {
		if p.takenMeanwhile(ctx, req.IdempotencyKey, domain.KindTip) {
			return o
		}
		o.Kind = outcome.TipInsufficientBalance
		o.Balance = domain.FormatAmount(source.Balance)
		return p.dispatch(ctx, o)
	}
	if req.SourceID == req.TargetID {
		o.Kind = outcome.TipReferenceError
		return p.dispatch(ctx, o)
	}
	target, err := p.ledger.GetOrCreateAccount(ctx, req.Adapter, req.TargetID)
	if err != nil {
		return p.failed(ctx, o, err)
	}

	res, err := p.engine.TransferInternal(ctx, source, target, amount, req.IdempotencyKey)
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		// a concurrent spend drained the account after the first check
		if p.takenMeanwhile(ctx, req.IdempotencyKey, domain.KindTip) {
			return o
		}
		o.Kind = outcome.TipInsufficientBalance
	case errors.Is(err, domain.ErrSelfReference):
		o.Kind = outcome.TipReferenceError
	case err != nil:
		o.Kind = outcome.TipTransferFailed
	case res.Status == DuplicateNoop:
		return o
	default:
		o.Kind = outcome.TipSucceeded
		o.TransferID = &res.Transfer.ID
	}
	return p.dispatch(ctx, o)
}
