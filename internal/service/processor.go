package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/settlement"
)

// errMissingKey is returned internally when a request carries no
// idempotency key; such requests cannot be deduplicated and are refused.
var errMissingKey = errors.New("idempotency key is required")

// Processor validates chat-platform requests, drives the transfer engine and
// dispatches exactly one outcome per request that changed (or was refused a
// change to) the ledger. Redelivered requests produce outcome.None.
type Processor struct {
	ledger     Ledger
	engine     *TransferEngine
	network    settlement.Network
	dispatcher *outcome.Dispatcher
	logger     *zap.Logger
}

func NewProcessor(ledger Ledger, engine *TransferEngine, network settlement.Network, dispatcher *outcome.Dispatcher, logger *zap.Logger) *Processor {
	return &Processor{
		ledger:     ledger,
		engine:     engine,
		network:    network,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// dispatch notifies on a context detached from the caller, since the ledger
// change it reports is already committed.
func (p *Processor) dispatch(ctx context.Context, o outcome.Outcome) outcome.Outcome {
	p.dispatcher.Dispatch(context.WithoutCancel(ctx), o)
	return o
}

// alreadyHandled reports whether key was used by an earlier transfer of the
// same kind. The engine checks again under lock.
func (p *Processor) alreadyHandled(ctx context.Context, key string, kind domain.TransferKind) (bool, error) {
	if key == "" {
		return false, errMissingKey
	}
	existing, err := p.ledger.FindTransferByKey(ctx, key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if existing.Kind != kind {
		return false, domain.ErrIdempotencyMismatch
	}
	return true, nil
}

// takenMeanwhile reports whether a concurrent request with the same key
// committed after the first lookup. A refusal is then a redelivery of a
// request that already succeeded and must not be reported.
func (p *Processor) takenMeanwhile(ctx context.Context, key string, kind domain.TransferKind) bool {
	handled, err := p.alreadyHandled(ctx, key, kind)
	return err == nil && handled
}

func (p *Processor) failed(ctx context.Context, o outcome.Outcome, err error) outcome.Outcome {
	p.logger.Error("request processing failed",
		zap.String("adapter", o.Adapter),
		zap.String("idempotency_key", o.IdempotencyKey),
		zap.Error(err))
	o.Kind = outcome.ProcessingFailed
	return p.dispatch(ctx, o)
}
