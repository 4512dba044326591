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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/adapter/chain/evm"
	"avelon-ledger/internal/adapter/chain/mirror"
	"avelon-ledger/internal/adapter/chain/price"
	"avelon-ledger/internal/adapter/events"
	"avelon-ledger/internal/adapter/events/kafka"
	httpadp "avelon-ledger/internal/adapter/http"
	"avelon-ledger/internal/adapter/repository/memory"
	"avelon-ledger/internal/adapter/repository/relational"
	"avelon-ledger/internal/config"
	"avelon-ledger/internal/domain/chain"
	"avelon-ledger/internal/domain/event"
	"avelon-ledger/internal/domain/uow"
	"avelon-ledger/internal/infrastructure/cache"
	"avelon-ledger/internal/infrastructure/db"
	"avelon-ledger/internal/infrastructure/logger"
	"avelon-ledger/internal/infrastructure/metrics"
	loanuc "avelon-ledger/internal/usecase/loan"
	"avelon-ledger/internal/usecase/monitor"
	"avelon-ledger/internal/usecase/reconcile"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("ledger stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Ledger()
	health := httpadp.NewHandler()

	store, err := openStore(cfg, log, health)
	if err != nil {
		return err
	}

	var verifier chain.Verifier = evm.Offline{}
	if cfg.EthRPCURL != "" {
		client, err := evm.Dial(cfg.EthRPCURL)
		if err != nil {
			return fmt.Errorf("dial ethereum rpc: %w", err)
		}
		defer client.Close()
		verifier = evm.NewVerifier(client, cfg.EthConfirmations, log, m)
	} else {
		log.Warn("ETH_RPC_URL not set; deposits and repayments will be refused")
	}

	prices, err := price.NewStatic(cfg.EthPriceUSD)
	if err != nil {
		return err
	}

	mir := mirror.New(cfg.Thresholds, cfg.TreasuryAddress)
	sinks := []event.Sink{events.NewLogSink(log), mir}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		sinks = append(sinks, kp)
	}
	dispatcher := events.NewAsyncDispatcher(1024, log, m, sinks...)

	loans := loanuc.NewUsecase(store, verifier, prices, dispatcher, log, m, loanuc.Config{
		Thresholds:      cfg.Thresholds,
		TreasuryAddress: cfg.TreasuryAddress,
		EscrowAddress:   cfg.EscrowAddress,
		ExpireOverdue:   cfg.ExpireOverdue,
	})
	rec := reconcile.NewService(store, mir, log)

	// The mirror lives in process, so it only holds loans created since
	// boot. Sweeping it against a durable store would flag every older loan.
	var sweepRec monitor.Reconciler
	if cfg.LedgerStore == config.StoreMemory {
		sweepRec = rec
	}
	mon := monitor.New(store, loans, sweepRec, dispatcher, log, m, monitor.Config{
		Schedule:      cfg.RiskSweepSchedule,
		AutoLiquidate: cfg.AutoLiquidate,
		ExpireOverdue: cfg.ExpireOverdue,
	})
	if err := mon.Start(); err != nil {
		return fmt.Errorf("schedule risk sweep: %w", err)
	}

	var rdb redis.Cmdable
	if r, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB); err != nil {
		if cfg.LedgerStore != config.StoreMemory {
			return err
		}
		log.WithError(err).Warn("redis unavailable; request idempotency disabled")
	} else {
		defer func() { _ = r.Close() }()
		rdb = r
		health.WithCheck("redis", func(ctx context.Context) error { return r.Ping(ctx).Err() })
	}

	e := httpadp.NewRouter(httpadp.RouterDeps{
		Health:         health,
		Loans:          httpadp.NewLoanHandler(loans, rec, cfg.Development()),
		Redis:          rdb,
		IdempotencyTTL: cfg.IdempotencyTTL(),
		Log:            log,
	})

	addr := ":" + cfg.AppPort
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if serr := e.Shutdown(shutdown); serr != nil {
		log.WithError(serr).Error("http shutdown")
	}
	mon.Stop(shutdown)
	if derr := dispatcher.Close(shutdown); derr != nil {
		log.WithError(derr).Warn("event queue not drained")
	}
	log.Info("stopped")
	return err
}

func openStore(cfg *config.Config, log *logrus.Logger, health *httpadp.Handler) (uow.UnitOfWork, error) {
	if cfg.LedgerStore == config.StoreMemory {
		log.Warn("using the in-memory ledger store; data is lost on restart")
		return memory.NewStore(), nil
	}
	gdb, err := db.OpenGorm(cfg.DBDriver, cfg.DSN(), logger.Gorm(log))
	if err != nil {
		return nil, err
	}
	if err := relational.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	health.WithCheck("database", sqlDB.PingContext)
	log.WithField("driver", cfg.DBDriver).Info("ledger store connected")
	return relational.NewGormUoW(gdb), nil
}
