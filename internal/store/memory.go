package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tipledger/internal/domain"
)

// MemoryStore is an in-process ledger for local development and tests.
// Transactions are fully serialized on one mutex and rolled back from an
// undo journal.
type MemoryStore struct {
	mu sync.Mutex

	accounts  map[int64]*domain.Account
	byKey     map[accountKey]int64
	byWallet  map[string]int64
	transfers map[uuid.UUID]*domain.Transfer
	liveKeys  map[string]uuid.UUID
	entries   []domain.LedgerEntry

	nextAccountID int64
	nextEntryID   int64
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[int64]*domain.Account),
		byKey:     make(map[accountKey]int64),
		byWallet:  make(map[string]int64),
		transfers: make(map[uuid.UUID]*domain.Transfer),
		liveKeys:  make(map[string]uuid.UUID),
		now:       time.Now,
	}
}

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(tx)
}

func (s *MemoryStore) GetOrCreateAccount(ctx context.Context, adapter, uniqueID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{adapter: adapter, uniqueID: uniqueID}
	if id, ok := s.byKey[key]; ok {
		return s.copyAccount(id), nil
	}

	s.nextAccountID++
	now := s.now()
	s.accounts[s.nextAccountID] = &domain.Account{
		ID:        s.nextAccountID,
		Adapter:   adapter,
		UniqueID:  uniqueID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byKey[key] = s.nextAccountID
	return s.copyAccount(s.nextAccountID), nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.copyAccount(id), nil
}

func (s *MemoryStore) FindAccountByWallet(ctx context.Context, address string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byWallet[address]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return s.copyAccount(id), nil
}

func (s *MemoryStore) SetWalletAddress(ctx context.Context, accountID int64, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return "", domain.ErrAccountNotFound
	}
	previous := acc.WalletAddress
	if previous == address {
		return previous, nil
	}
	if owner, taken := s.byWallet[address]; taken && owner != accountID {
		return "", domain.ErrAddressTaken
	}

	if previous != "" {
		delete(s.byWallet, previous)
	}
	acc.WalletAddress = address
	acc.UpdatedAt = s.now()
	s.byWallet[address] = accountID
	return previous, nil
}

func (s *MemoryStore) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findTransferByKey(key), nil
}

func (s *MemoryStore) ListPendingWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transfer
	for _, t := range s.transfers {
		if t.Kind == domain.KindWithdrawal && t.Status == domain.StatusPending && t.CreatedAt.Before(olderThan) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	entries := []domain.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			entries = append(entries, s.entries[i])
		}
	}
	return entries, nil
}

func (s *MemoryStore) copyAccount(id int64) *domain.Account {
	cp := *s.accounts[id]
	return &cp
}

func (s *MemoryStore) findTransferByKey(key string) *domain.Transfer {
	id, ok := s.liveKeys[key]
	if !ok {
		return nil
	}
	cp := *s.transfers[id]
	return &cp
}

// memTx mutates the store directly and records how to undo each change.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	locked := make(map[int64]*domain.Account, len(ids))
	for _, id := range ids {
		if _, ok := t.s.accounts[id]; !ok {
			return nil, domain.ErrAccountNotFound
		}
		locked[id] = t.s.copyAccount(id)
	}
	return locked, nil
}

func (t *memTx) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	return t.s.findTransferByKey(key), nil
}

func (t *memTx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	if _, ok := t.s.liveKeys[tr.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	now := t.s.now()
	tr.CreatedAt, tr.UpdatedAt = now, now
	cp := *tr
	t.s.transfers[tr.ID] = &cp
	if tr.Status != domain.StatusFailed {
		t.s.liveKeys[tr.IdempotencyKey] = tr.ID
	}
	t.undo = append(t.undo, func() {
		delete(t.s.transfers, cp.ID)
		if t.s.liveKeys[cp.IdempotencyKey] == cp.ID {
			delete(t.s.liveKeys, cp.IdempotencyKey)
		}
	})
	return nil
}

func (t *memTx) ApplyEntry(ctx context.Context, transferID uuid.UUID, accountID int64, delta decimal.Decimal) error {
	acc, ok := t.s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	next := domain.FixAmount(acc.Balance.Add(delta))
	if next.IsNegative() {
		return domain.ErrInsufficientBalance
	}

	prevBalance, prevUpdated := acc.Balance, acc.UpdatedAt
	acc.Balance = next
	acc.UpdatedAt = t.s.now()

	t.s.nextEntryID++
	t.s.entries = append(t.s.entries, domain.LedgerEntry{
		ID:         t.s.nextEntryID,
		TransferID: transferID,
		AccountID:  accountID,
		Delta:      delta,
		CreatedAt:  acc.UpdatedAt,
	})

	t.undo = append(t.undo, func() {
		acc.Balance, acc.UpdatedAt = prevBalance, prevUpdated
		t.s.entries = slices.Delete(t.s.entries, len(t.s.entries)-1, len(t.s.entries))
		t.s.nextEntryID--
	})
	return nil
}

func (t *memTx) UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reference string) error {
	tr, ok := t.s.transfers[id]
	if !ok || tr.Status != from {
		return ErrStaleTransfer
	}
	prev := *tr

	tr.Status = to
	if reference != "" {
		tr.Reference = reference
	}
	tr.UpdatedAt = t.s.now()
	if to == domain.StatusFailed && t.s.liveKeys[tr.IdempotencyKey] == id {
		delete(t.s.liveKeys, tr.IdempotencyKey)
	}

	t.undo = append(t.undo, func() {
		*tr = prev
		if prev.Status != domain.StatusFailed {
			t.s.liveKeys[prev.IdempotencyKey] = prev.ID
		}
	})
	return nil
}
