package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/api"
	"github.com/punchamoorthee/tipledger/internal/config"
	"github.com/punchamoorthee/tipledger/internal/ingest"
	"github.com/punchamoorthee/tipledger/internal/logger"
	"github.com/punchamoorthee/tipledger/internal/outcome"
	"github.com/punchamoorthee/tipledger/internal/service"
	"github.com/punchamoorthee/tipledger/internal/settlement"
	"github.com/punchamoorthee/tipledger/internal/store"
)

func main() {
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

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	ledger, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	network, lookup, err := openNetwork(cfg, log)
	if err != nil {
		return err
	}

	metrics, err := outcome.NewMetricsNotifier(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	notifiers := []outcome.Notifier{outcome.NewLogNotifier(log), metrics}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		notifiers = append(notifiers, outcome.NewRedisNotifier(rdb, cfg.OutcomePrefix))
	}
	dispatcher := outcome.NewDispatcher(log, notifiers...)

	engine := service.NewTransferEngine(ledger, network, cfg.SettlementTimeout, log)
	processor := service.NewProcessor(ledger, engine, network, dispatcher, log)
	reconciler := service.NewReconciler(ledger, engine, lookup, dispatcher, cfg.ReconcileGrace, log)
	go reconciler.Run(ctx, cfg.ReconcileInterval)

	if rdb != nil {
		consumerName := cfg.DepositConsumer
		if consumerName == "" {
			consumerName, _ = os.Hostname()
		}
		consumer := ingest.NewDepositConsumer(rdb, ingest.ConsumerConfig{
			Stream:   cfg.DepositStream,
			Group:    cfg.DepositGroup,
			Consumer: consumerName,
		}, processor, log)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("deposit consumer failed", zap.Error(err))
			}
		}()
	}

	handler := api.NewHandler(processor, ledger, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("settlement", cfg.SettlementMode))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SettlementTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (service.Ledger, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory ledger, balances are lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(pool, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	ledger, err := store.NewLedgerStore(pool, cfg.AccountCache, log)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return ledger, ledger.Close, nil
}

func openNetwork(cfg *config.Config, log *zap.Logger) (settlement.Network, settlement.Lookup, error) {
	if cfg.SettlementMode == config.SettlementSimulated {
		log.Warn("using simulated settlement network")
		sim := settlement.NewSimulated()
		return sim, sim, nil
	}

	gateway, err := settlement.NewGateway(cfg.GatewayURL, cfg.SettlementTimeout, log)
	if err != nil {
		return nil, nil, err
	}
	return settlement.NewBreaker(gateway, settlement.DefaultBreakerConfig(), log), gateway, nil
}
