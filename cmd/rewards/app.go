package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"solana-rewards-indexer/internal/config"
	"solana-rewards-indexer/internal/events"
	"solana-rewards-indexer/internal/helius"
	"solana-rewards-indexer/internal/logger"
	"solana-rewards-indexer/internal/observability"
	"solana-rewards-indexer/internal/pipeline"
	"solana-rewards-indexer/internal/storage"
	chstore "solana-rewards-indexer/internal/storage/clickhouse"
	"solana-rewards-indexer/internal/storage/memory"
	"solana-rewards-indexer/internal/storage/migrations"
	pgstore "solana-rewards-indexer/internal/storage/postgres"
	"solana-rewards-indexer/internal/tokens"
)

// app holds the wired components of one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store     storage.ProductionStore
	ledger    storage.TransferStore
	publisher events.Publisher
	client    *helius.Client
	resolver  *tokens.Resolver

	initializer *pipeline.Initializer
	updater     *pipeline.Updater
	runner      *pipeline.Runner

	closers []func()
}

// loadConfig reads the config file and sets up logging.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Addr = flags.metricsAddr
	}
	logger.Init(&logger.Options{
		Level:   logger.ParseLevel(cfg.Log.Level),
		NoColor: cfg.Log.NoColor,
	})
	return cfg, nil
}

// openStorage connects the production store and the optional ClickHouse ledger,
// applying migrations to both.
func openStorage(ctx context.Context, cfg *config.Config, useMemory bool, a *app) error {
	if useMemory {
		a.logger.Warn("using in-memory storage, nothing will be persisted")
		a.store = memory.NewProductionStore()
		return nil
	}

	if cfg.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required (or DATABASE_URL), use --use-memory for a dry run")
	}
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	a.store = pgstore.NewStore(pool)
	a.logger.Info("connected to postgres")

	if cfg.Storage.ClickHouseDSN == "" {
		return nil
	}
	if err := chstore.EnsureDatabase(ctx, cfg.Storage.ClickHouseDSN); err != nil {
		return err
	}
	conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { conn.Close() })
	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	a.ledger = chstore.NewTransferLedger(conn)
	a.logger.Info("mirroring transfers to clickhouse")
	return nil
}

// newApp wires storage, the Helius client, the token resolver and the pipeline.
func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger.L()}
	if err := openStorage(ctx, cfg, flags.useMemory, a); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, a.logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	} else {
		a.publisher = events.NopPublisher{}
	}

	a.client = helius.NewClient(cfg.Helius.APIKey,
		helius.WithAPIURL(cfg.Helius.APIURL),
		helius.WithRPCURL(cfg.Helius.RPCURL),
		helius.WithCommitment(cfg.Helius.Commitment),
		helius.WithTimeout(cfg.Helius.Timeout),
		helius.WithRateLimit(cfg.Helius.RequestsPerSecond),
		helius.WithLogger(a.logger),
	)

	a.resolver = tokens.NewResolver(a.store, a.client, a.logger)
	if err := a.resolver.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load known tokens: %w", err)
	}

	pcfg := pipelineConfig(cfg)
	deps := pipeline.Deps{
		Feed:      a.client,
		Resolver:  a.resolver,
		Store:     a.store,
		Ledger:    a.ledger,
		Publisher: a.publisher,
		Logger:    a.logger,
	}
	a.initializer = pipeline.NewInitializer(pcfg, deps, nil)
	a.updater = pipeline.NewUpdater(pcfg, deps)
	a.runner = pipeline.NewRunner(pcfg, a.initializer, a.updater, a.store, a.logger)
	return a, nil
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		MaxConsecutiveErrors:  cfg.Pipeline.MaxConsecutiveErrors,
		FinishedConfirmations: cfg.Pipeline.FinishedConfirmations,
		RetryDelay:            cfg.Pipeline.RetryDelay,
		CallLimit:             cfg.Helius.CallLimit,
		PageSize:              cfg.Helius.PageSize,
		ProcessBatchSize:      cfg.Pipeline.ProcessBatchSize,
		AggregateBatchSize:    cfg.Pipeline.AggregateBatchSize,
		MigrateBatchSize:      cfg.Pipeline.MigrateBatchSize,
		StagingDir:            cfg.Storage.StagingDir,
		StageChunkSize:        cfg.Pipeline.StageChunkSize,
		Workers:               cfg.Pipeline.Workers,
	}
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// startMetricsServer serves /metrics and /health until ctx is done.
func startMetricsServer(ctx context.Context, addr string, log *slog.Logger) {
	if addr == "" || addr == "-" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// wsEndpoint adds the api key to the websocket URL unless it carries one.
func wsEndpoint(raw, apiKey string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	if q.Get("api-key") == "" && apiKey != "" {
		q.Set("api-key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
