package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fuselabs/fuseforge/internal/adapters/memory"
	redisadapter "github.com/fuselabs/fuseforge/internal/adapters/redis"
	"github.com/fuselabs/fuseforge/internal/clients/chain"
	"github.com/fuselabs/fuseforge/internal/clients/genai"
	"github.com/fuselabs/fuseforge/internal/config"
	"github.com/fuselabs/fuseforge/internal/costing"
	"github.com/fuselabs/fuseforge/internal/logging"
	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/internal/orchestrator"
	"github.com/fuselabs/fuseforge/internal/reconcile"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// app is the explicitly constructed object graph. No ambient registry:
// every collaborator is wired here and handed down.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	ledger   ports.AssetLedger
	store    ports.FusionStore
	orch     *orchestrator.Orchestrator
	worker   *reconcile.Worker
}

func buildApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	levelName, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	logger := logging.New(level)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var ledger ports.AssetLedger
	var store ports.FusionStore
	if cfg.Redis.Addr != "" {
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ledger = redisadapter.NewLedger(client, redisadapter.WithPrefix(cfg.Redis.KeyPrefix))
		store = redisadapter.NewStore(client, redisadapter.WithPrefix(cfg.Redis.KeyPrefix))
		logger.Info("using redis persistence", "addr", cfg.Redis.Addr)
	} else {
		ledger = memory.NewLedger()
		store = memory.NewStore()
		logger.Warn("no redis configured, using in-memory persistence")
	}

	if cfg.Generation.BaseURL == "" {
		return nil, fmt.Errorf("generation.baseUrl is required")
	}
	if cfg.Mint.BaseURL == "" {
		return nil, fmt.Errorf("mint.baseUrl is required")
	}
	gen := genai.New(cfg.Generation.BaseURL,
		genai.WithRateLimit(cfg.Generation.RatePerSecond, cfg.Generation.RateBurst))
	mint := chain.New(cfg.Mint.BaseURL)

	orch := orchestrator.New(ledger, store, gen, mint, costing.DefaultPolicy(), logger, m, orchestrator.Config{
		GenerationTimeout: cfg.Generation.Timeout.Std(),
		MintTimeout:       cfg.Mint.Timeout.Std(),
		RetryInitialWait:  cfg.Fusion.RetryInitialWait.Std(),
		RetryMaxAttempts:  cfg.Fusion.RetryMaxAttempts,
	})

	worker := reconcile.New(store, mint, orch.Finalizer(), logger, m, reconcile.Config{
		Interval:      cfg.Reconcile.Interval.Std(),
		StuckDeadline: cfg.Reconcile.StuckDeadline.Std(),
		LookupTimeout: cfg.Reconcile.LookupTimeout.Std(),
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		ledger:   ledger,
		store:    store,
		orch:     orch,
		worker:   worker,
	}, nil
}
