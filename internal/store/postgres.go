package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

const accountColumns = `id, adapter, unique_id, balance::text, COALESCE(wallet_address, ''), created_at, updated_at`

const transferColumns = `id, kind, status, source_account_id, target_account_id,
	COALESCE(destination_address, ''), amount::text, idempotency_key, COALESCE(reference, ''),
	created_at, updated_at`

type accountKey struct {
	adapter  string
	uniqueID string
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore persists accounts, transfers and ledger entries in Postgres.
type LedgerStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	// (adapter, unique_id) -> id never changes once assigned, so identities
	// are cached to skip the upsert on hot accounts.
	accountIDs *lru.Cache[accountKey, int64]
}

// Connect opens and pings a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func NewLedgerStore(db *pgxpool.Pool, cacheSize int, logger *zap.Logger) (*LedgerStore, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[accountKey, int64](cacheSize)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{db: db, logger: logger, accountIDs: cache}, nil
}

func (s *LedgerStore) Close() {
	s.db.Close()
}

// WithinTransaction runs fn in a READ COMMITTED transaction. Row locks taken
// through Tx.LockAccounts make concurrent spenders of one account serialize,
// and the later one re-reads the committed balance.
func (s *LedgerStore) WithinTransaction(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapError(err))
	}
	return nil
}

// GetOrCreateAccount returns the account, creating it with a zero balance on
// first reference.
func (s *LedgerStore) GetOrCreateAccount(ctx context.Context, adapter, uniqueID string) (*domain.Account, error) {
	key := accountKey{adapter: adapter, uniqueID: uniqueID}
	if id, ok := s.accountIDs.Get(key); ok {
		acc, err := s.GetAccount(ctx, id)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
		s.accountIDs.Remove(key)
	}

	acc, err := scanAccount(s.db.QueryRow(ctx,
		`INSERT INTO accounts (adapter, unique_id) VALUES ($1, $2)
		 ON CONFLICT (adapter, unique_id) DO UPDATE SET adapter = EXCLUDED.adapter
		 RETURNING `+accountColumns,
		adapter, uniqueID))
	if err != nil {
		return nil, fmt.Errorf("get or create account: %w", err)
	}
	s.accountIDs.Add(key, acc.ID)
	return acc, nil
}

// GetAccount retrieves a single account by ID.
func (s *LedgerStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	return acc, err
}

// FindAccountByWallet returns the account that registered address.
func (s *LedgerStore) FindAccountByWallet(ctx context.Context, address string) (*domain.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE wallet_address = $1", address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	return acc, err
}

// SetWalletAddress replaces the account's wallet address and returns the
// previous one.
func (s *LedgerStore) SetWalletAddress(ctx context.Context, accountID int64, address string) (string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var previous string
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(wallet_address, '') FROM accounts WHERE id = $1 FOR UPDATE", accountID,
	).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	if previous == address {
		return previous, nil
	}

	_, err = tx.Exec(ctx,
		"UPDATE accounts SET wallet_address = $1, updated_at = now() WHERE id = $2", address, accountID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", domain.ErrAddressTaken
		}
		return "", fmt.Errorf("update wallet address: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("tx commit failed: %w", err)
	}
	return previous, nil
}

// GetTransfer retrieves transfer details.
func (s *LedgerStore) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	t, err := scanTransfer(s.db.QueryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransferNotFound
	}
	return t, err
}

func (s *LedgerStore) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	return findTransferByKey(ctx, s.db, key)
}

// ListPendingWithdrawals returns withdrawals still pending that were created
// before olderThan, oldest first.
func (s *LedgerStore) ListPendingWithdrawals(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transfer, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+transferColumns+` FROM transfers
		 WHERE status = 'pending' AND kind = 'withdrawal' AND created_at < $1
		 ORDER BY created_at LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetEntries retrieves ledger entries for a specific account, newest first.
func (s *LedgerStore) GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := s.db.Query(ctx,
		"SELECT id, transfer_id, account_id, delta::text, created_at FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id DESC",
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e     domain.LedgerEntry
			delta string
		)
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &delta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Delta, err = decimal.NewFromString(delta)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	// Acquire locks in ID order
	locked := make(map[int64]*domain.Account, len(ordered))
	for _, id := range ordered {
		acc, err := scanAccount(t.tx.QueryRow(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrAccountNotFound
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		locked[id] = acc
	}
	return locked, nil
}

func (t *pgTx) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	return findTransferByKey(ctx, t.tx, key)
}

func (t *pgTx) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	var dest *string
	if tr.DestinationAddress != "" {
		dest = &tr.DestinationAddress
	}
	var ref *string
	if tr.Reference != "" {
		ref = &tr.Reference
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO transfers (id, kind, status, source_account_id, target_account_id,
			destination_address, amount, idempotency_key, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		 RETURNING created_at, updated_at`,
		tr.ID, string(tr.Kind), string(tr.Status), tr.SourceAccountID, tr.TargetAccountID,
		dest, domain.FormatAmount(tr.Amount), tr.IdempotencyKey, ref,
	).Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("transfer insert failed: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) ApplyEntry(ctx context.Context, transferID uuid.UUID, accountID int64, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = balance + $1::numeric, updated_at = now() WHERE id = $2",
		domain.FormatAmount(delta), accountID)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	_, err = t.tx.Exec(ctx,
		"INSERT INTO ledger_entries (transfer_id, account_id, delta) VALUES ($1, $2, $3::numeric)",
		transferID, accountID, domain.FormatAmount(delta))
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reference string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE transfers SET status = $1, reference = COALESCE(NULLIF($2, ''), reference), updated_at = now()
		 WHERE id = $3 AND status = $4`,
		string(to), reference, id, string(from))
	if err != nil {
		return fmt.Errorf("transfer status update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransfer
	}
	return nil
}

func findTransferByKey(ctx context.Context, q querier, key string) (*domain.Transfer, error) {
	t, err := scanTransfer(q.QueryRow(ctx,
		"SELECT "+transferColumns+" FROM transfers WHERE idempotency_key = $1 AND status <> 'failed'", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return t, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acc     domain.Account
		balance string
	)
	if err := row.Scan(&acc.ID, &acc.Adapter, &acc.UniqueID, &balance, &acc.WalletAddress, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	acc.Balance = b
	return &acc, nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t              domain.Transfer
		kind, status   string
		amount         string
		source, target *int64
	)
	err := row.Scan(&t.ID, &kind, &status, &source, &target,
		&t.DestinationAddress, &amount, &t.IdempotencyKey, &t.Reference, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TransferKind(kind)
	t.Status = domain.TransferStatus(status)
	t.SourceAccountID = source
	t.TargetAccountID = target
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &t, nil
}

// mapError translates constraint violations into ledger errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateKey
		case pgCheckViolation:
			return domain.ErrInsufficientBalance
		}
	}
	return err
}
