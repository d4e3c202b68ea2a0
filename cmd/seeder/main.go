package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/config"
	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/logger"
	"github.com/punchamoorthee/tipledger/internal/service"
	"github.com/punchamoorthee/tipledger/internal/settlement"
	"github.com/punchamoorthee/tipledger/internal/store"
)

var (
	totalAccounts  int
	initialBalance string
	adapter        string
)

func init() {
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of accounts to seed")
	flag.StringVar(&initialBalance, "balance", "100", "Balance credited to each account")
	flag.StringVar(&adapter, "adapter", "bench", "Adapter the accounts belong to")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := seed(context.Background(), cfg, log); err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}
}

func uniqueID(i int) string {
	return fmt.Sprintf("user-%d", i)
}

func seed(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	amount, err := domain.ParseAmount(initialBalance)
	if err != nil {
		return fmt.Errorf("invalid -balance: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := store.Migrate(pool, log); err != nil {
		return err
	}

	log.Info("seeding database", zap.Int("accounts", totalAccounts), zap.String("adapter", adapter))

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE adapter = $1", adapter).Scan(&count); err != nil {
		return err
	}

	// Bulk insert the identities, balances are credited below
	if count == 0 {
		rows := make([][]interface{}, 0, totalAccounts)
		now := time.Now()
		for i := 1; i <= totalAccounts; i++ {
			rows = append(rows, []interface{}{adapter, uniqueID(i), now, now})
		}
		copied, err := pool.CopyFrom(ctx,
			pgx.Identifier{"accounts"},
			[]string{"adapter", "unique_id", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("bulk insert failed: %w", err)
		}
		log.Info("accounts inserted", zap.Int64("count", copied))
	} else {
		log.Info("accounts already present, skipping insert", zap.Int("count", count))
	}

	ledger, err := store.NewLedgerStore(pool, totalAccounts, log)
	if err != nil {
		return err
	}
	engine := service.NewTransferEngine(ledger, settlement.NewSimulated(), time.Second, log)

	// Deposit keys are stable, so re-running the seeder credits nothing twice.
	credited := 0
	for i := 1; i <= totalAccounts; i++ {
		account, err := ledger.GetOrCreateAccount(ctx, adapter, uniqueID(i))
		if err != nil {
			return err
		}
		res, err := engine.Deposit(ctx, account, amount, fmt.Sprintf("seed-%s-%d", adapter, i))
		if err != nil {
			return err
		}
		if res.Status == service.Settled {
			credited++
		}
	}

	log.Info("seeding complete", zap.Int("credited", credited))
	return nil
}
