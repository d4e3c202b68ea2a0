package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
)

// GetBalance returns the account's balance, creating the account at zero on
// first sight.
func (p *Processor) GetBalance(ctx context.Context, adapter, uniqueID string) (decimal.Decimal, error) {
	account, err := p.ledger.GetOrCreateAccount(ctx, adapter, uniqueID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// SetWalletAddress validates address and stores it on the account,
// returning the address it replaced.
func (p *Processor) SetWalletAddress(ctx context.Context, account *domain.Account, address string) (string, error) {
	address = strings.TrimSpace(address)
	if !p.network.IsValidAddress(address) {
		return "", domain.ErrInvalidAddress
	}
	return p.ledger.SetWalletAddress(ctx, account.ID, address)
}

// RegisterWalletAddress records the wallet a user withdraws to by default and
// deposits from.
func (p *Processor) RegisterWalletAddress(ctx context.Context, adapter, uniqueID, address string) outcome.Outcome {
	o := outcome.Outcome{
		Adapter:  adapter,
		SourceID: uniqueID,
		Address:  strings.TrimSpace(address),
	}

	account, err := p.ledger.GetOrCreateAccount(ctx, adapter, uniqueID)
	if err != nil {
		return p.failed(ctx, o, err)
	}

	previous, err := p.SetWalletAddress(ctx, account, address)
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		o.Kind = outcome.RegistrationInvalidAddress
	case errors.Is(err, domain.ErrAddressTaken):
		o.Kind = outcome.RegistrationAddressTaken
	case err != nil:
		return p.failed(ctx, o, err)
	case previous == "":
		o.Kind = outcome.RegistrationFirstWallet
	case previous == o.Address:
		o.Kind = outcome.RegistrationSameWallet
	default:
		o.Kind = outcome.RegistrationReplacedWallet
		o.PreviousAddress = previous
	}
	return p.dispatch(ctx, o)
}
