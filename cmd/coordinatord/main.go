// Command coordinatord runs one staking-pool coordinator per configured
// chain, plus the operator HTTP API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chimerapool/stakepool-coordinator/internal/api"
	"github.com/chimerapool/stakepool-coordinator/internal/chainconfig"
	"github.com/chimerapool/stakepool-coordinator/internal/config"
	"github.com/chimerapool/stakepool-coordinator/internal/coordinator"
	"github.com/chimerapool/stakepool-coordinator/internal/eligibility"
	"github.com/chimerapool/stakepool-coordinator/internal/maturity"
	"github.com/chimerapool/stakepool-coordinator/internal/nodegateway"
	"github.com/chimerapool/stakepool-coordinator/internal/payoutsender"
	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
	"github.com/chimerapool/stakepool-coordinator/internal/rewards"
	"github.com/chimerapool/stakepool-coordinator/internal/stakedetect"
	"github.com/chimerapool/stakepool-coordinator/internal/store"
	"github.com/chimerapool/stakepool-coordinator/internal/webhook"
	"github.com/chimerapool/stakepool-coordinator/internal/work"
)

// exitInvariantViolation is returned when the store and the chain may
// disagree about what was paid; a human has to reconcile before restart.
const exitInvariantViolation = 70

// payableStore narrows *store.Store to the payout sender's interface.
type payableStore struct {
	*store.Store
}

func (s payableStore) BeginPayable(ctx context.Context, chain poolmodel.CurrencyAddress) (payoutsender.PayableTx, error) {
	return s.Store.BeginPayable(ctx, chain)
}

func main() {
	var (
		configDir      = flag.String("config-dir", "configs", "directory of per-chain YAML configuration files")
		migrationsPath = flag.String("migrations", "migrations", "path to SQL migration files")
		listenAddr     = flag.String("listen", ":8080", "operator API listen address")
		metricsAddr    = flag.String("metrics", ":9090", "Prometheus metrics listen address")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	chains, err := chainconfig.LoadDir(*configDir)
	if err != nil {
		logger.Fatalf("failed to load chain configuration: %v", err)
	}
	if len(chains) == 0 {
		logger.Fatalf("no chains configured in %s", *configDir)
	}

	dbConfig := &store.Config{
		Host:     config.GetEnv("STAKEPOOL_DB_HOST", "localhost"),
		Port:     config.GetEnvInt("STAKEPOOL_DB_PORT", 5432),
		Database: config.GetEnv("STAKEPOOL_DB_NAME", "stakepool"),
		Username: config.GetEnv("STAKEPOOL_DB_USER", "stakepool"),
		Password: config.GetEnv("STAKEPOOL_DB_PASSWORD", ""),
		SSLMode:  config.GetEnv("STAKEPOOL_DB_SSLMODE", "disable"),
		MaxConns: config.GetEnvInt("STAKEPOOL_DB_MAX_CONNS", 25),
		MinConns: config.GetEnvInt("STAKEPOOL_DB_MIN_CONNS", 5),
	}

	if err := store.RunMigrations(dbConfig, *migrationsPath); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	db, err := store.New(dbConfig)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := coordinator.NewSupervisor(logger)

	for _, chain := range chains {
		coord, tipStream, err := buildCoordinator(chain, db, logger)
		if err != nil {
			logger.Fatalf("failed to build coordinator for %s: %v", chain.ChainName, err)
		}
		go func(name string) {
			if err := tipStream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("[%s] tip stream stopped: %v", name, err)
			}
		}(chain.ChainName)
		supervisor.Add(coord)
	}

	apiServer := &http.Server{
		Addr:    *listenAddr,
		Handler: api.NewServer(supervisor).Handler(),
	}
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server stopped: %v", err)
		}
	}()

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()

	err = supervisor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	if errors.Is(err, poolmodel.ErrInvariantViolation) {
		logger.Printf("fatal invariant violation, manual reconciliation required: %v", err)
		os.Exit(exitInvariantViolation)
	}
	if err != nil {
		logger.Printf("coordinator failed: %v", err)
		os.Exit(1)
	}
	logger.Printf("shutdown complete")
}

func buildCoordinator(chain *chainconfig.Chain, db *store.Store, logger *log.Logger) (*coordinator.Coordinator, *nodegateway.TipStream, error) {
	node, err := nodegateway.NewClient(nodegateway.Config{
		ChainName:   chain.ChainName,
		RPCHost:     chain.Node.RPCHost,
		RPCPort:     chain.Node.RPCPort,
		RPCUser:     chain.Node.RPCUser,
		RPCPassword: chain.Node.RPCPassword,
	})
	if err != nil {
		return nil, nil, err
	}

	tipStream := nodegateway.NewTipStream(chain.ChainName, chain.Node.ZMQPortBlockNotify, logger)

	checker := eligibility.Checker{
		PoolPrimaryAddress: chain.PoolPrimaryAddress,
		TestChain:          chain.IsTestChain,
	}

	webhooks := webhook.NewSender(webhook.Config{Endpoints: chain.WebhookEndpoints}, logger)

	coord := coordinator.New(
		chain,
		node,
		db,
		checker,
		work.NewAccountant(chain.ChainID, node, db),
		stakedetect.NewDetector(chain.ChainID, db),
		maturity.NewTracker(chain.ChainID, node, db, logger),
		rewards.NewService(chain.ChainID, db, poolmodel.ZeroMoney, logger),
		payoutsender.NewService(chain.ChainID, chain.PoolAddress, chain.TxFee(), payableStore{db}, node, logger),
		webhooks,
		tipStream.Tips(),
		coordinator.DefaultIntervals(),
		logger,
	)
	return coord, tipStream, nil
}
