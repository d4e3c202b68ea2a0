package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/store"
)

// Ledger is the persistence the service layer needs. It is implemented by
// store.LedgerStore and store.MemoryStore.
type Ledger interface {
	WithinTransaction(ctx context.Context, fn func(store.Tx) error) error
	GetOrCreateAccount(ctx context.Context, adapter, uniqueID string) (*domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	FindAccountByWallet(ctx context.Context, address string) (*domain.Account, error)
	SetWalletAddress(ctx context.Context, accountID int64, address string) (string, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error)
	ListPendingWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transfer, error)
	GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
}

var (
	_ Ledger = (*store.LedgerStore)(nil)
	_ Ledger = (*store.MemoryStore)(nil)
)
