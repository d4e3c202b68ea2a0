package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tipledger/internal/domain"
)

var (
	// ErrDuplicateKey is returned by InsertTransfer when a non-failed transfer
	// already holds the idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already in use")
	// ErrStaleTransfer is returned by UpdateTransferStatus when the transfer
	// is no longer in the expected status.
	ErrStaleTransfer = errors.New("transfer status changed concurrently")
)

// Tx is the set of operations available inside WithinTransaction. All of them
// see and mutate the same atomic unit of work.
type Tx interface {
	// LockAccounts locks the accounts for update in ascending id order and
	// returns their current state keyed by id.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error)
	// FindTransferByKey returns the non-failed transfer holding key, or nil.
	FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error)
	InsertTransfer(ctx context.Context, t *domain.Transfer) error
	// ApplyEntry records a ledger entry and adds delta to the account balance.
	// It fails with domain.ErrInsufficientBalance if the balance would go negative.
	ApplyEntry(ctx context.Context, transferID uuid.UUID, accountID int64, delta decimal.Decimal) error
	UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reference string) error
}
