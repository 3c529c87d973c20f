// Command synapsed is the composition-root entry point: it loads
// configuration, opens the store, wires every component (embedding,
// trigger, consolidation, scoring, tier manager, scheduler, orchestrator),
// and serves the REST API until an interrupt signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/synapsed/synapsed/internal/api"
	"github.com/synapsed/synapsed/internal/consolidation"
	"github.com/synapsed/synapsed/internal/embedding"
	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/orchestrator"
	"github.com/synapsed/synapsed/internal/scheduler"
	"github.com/synapsed/synapsed/internal/scoring"
	"github.com/synapsed/synapsed/internal/store"
	"github.com/synapsed/synapsed/internal/tiermanager"
	"github.com/synapsed/synapsed/internal/trigger"
	"github.com/synapsed/synapsed/pkg/config"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "synapsed",
	Short:   "Tiered memory store with consolidation dynamics",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.GetLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	gateway, err := store.Open(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Dimension:       cfg.Database.VectorDimension,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer gateway.Close()

	if cfg.Embedding.Provider != "mock" {
		report := embedding.CheckOllama(ctx, cfg.Embedding.BaseURL, cfg.Embedding.Model)
		if report.Status != embedding.StatusAvailable {
			log.Warn("embedding provider not ready", "status", report.Status, "message", report.Message)
		}
	}
	embedder := buildEmbeddingProvider(cfg)

	triggerEngine, err := trigger.New(trigger.Config{Categories: trigger.DefaultCategories()})
	if err != nil {
		return fmt.Errorf("initializing trigger engine: %w", err)
	}
	if cfg.EventTrigger.PatternFile != "" {
		if categories, err := trigger.LoadCategoriesFromFile(cfg.EventTrigger.PatternFile); err != nil {
			log.Warn("failed to load trigger pattern file, using defaults", "error", err)
		} else if err := triggerEngine.Reload(trigger.Config{Categories: categories}); err != nil {
			log.Warn("trigger pattern file is invalid, using defaults", "error", err)
		}
		if stopWatch, err := triggerEngine.WatchFile(cfg.EventTrigger.PatternFile, cfg.EventTrigger.ReloadDebounce); err != nil {
			log.Warn("failed to watch trigger pattern file", "error", err)
		} else {
			defer stopWatch()
		}
	}

	consolidationEngine := consolidation.New(gateway)

	scorer, err := scoring.New(scoring.Weights{
		Recency:    cfg.Scoring.RecencyWeight,
		Importance: cfg.Scoring.ImportanceWeight,
		Relevance:  cfg.Scoring.RelevanceWeight,
	}, cfg.Scoring.RecencyLambda)
	if err != nil {
		return fmt.Errorf("initializing scorer: %w", err)
	}

	tierMgr := tiermanager.New(gateway, tiermanager.Config{
		Enabled:                 cfg.TierManager.Enabled,
		ScanInterval:            cfg.TierManager.ScanInterval,
		MaxConcurrentMigrations: int64(cfg.TierManager.MaxConcurrentMigrations),
		Rules: map[store.Tier]tiermanager.TierRule{
			store.TierWorking: {Next: store.TierWarm, MinAgeHours: cfg.TierManager.WorkingMinAgeHours, RecallThreshold: cfg.TierManager.WorkingToWarmThreshold, MigrationBatchSize: cfg.TierManager.MigrationBatchSize},
			store.TierWarm:    {Next: store.TierCold, MinAgeHours: cfg.TierManager.WarmMinAgeHours, RecallThreshold: cfg.TierManager.WarmToColdThreshold, MigrationBatchSize: cfg.TierManager.MigrationBatchSize},
			store.TierCold:    {Next: store.TierFrozen, MinAgeHours: cfg.TierManager.ColdMinAgeHours, RecallThreshold: cfg.TierManager.ColdToFrozenThreshold, MigrationBatchSize: cfg.TierManager.MigrationBatchSize},
		},
	})
	if err := tierMgr.Start(ctx); err != nil {
		return fmt.Errorf("starting tier manager: %w", err)
	}
	defer tierMgr.Stop()

	sched := scheduler.New(
		func(jobCtx context.Context, batchSize int) (int, error) {
			return tierMgr.TriggerScan(jobCtx, batchSize)
		},
		scheduler.Config{
			Enabled:               cfg.Scheduler.Enabled,
			CronExpression:        cfg.Scheduler.CronExpression,
			MaxProcessingDuration: cfg.Scheduler.MaxProcessingDuration,
			RunOnStartup:          cfg.Scheduler.RunOnStartup,
			MinInterval:           cfg.Scheduler.MinInterval,
			MaxTierLoadThreshold:  cfg.Scheduler.MaxTierLoadThreshold,
			TimeOfDayOptimization: cfg.Scheduler.TimeOfDayOptimization,
		},
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	orch, err := orchestrator.New(orchestrator.Config{
		Store:             gateway,
		TriggerEngine:     triggerEngine,
		TriggerCategories: trigger.DefaultCategories(),
		Consolidation:     consolidationEngine,
		Scorer:            scorer,
		TierManager:       tierMgr,
		Scheduler:         sched,
	})
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	if !cfg.RestAPI.Enabled {
		log.Info("REST API disabled, running background components until shutdown")
		<-ctx.Done()
		return nil
	}

	server := api.NewServer(orch, embedder, cfg)
	return server.StartWithContext(ctx, 30*time.Second)
}

func buildEmbeddingProvider(cfg *config.Config) embedding.Provider {
	var base embedding.Provider
	switch cfg.Embedding.Provider {
	case "mock":
		base = embedding.NewMockProvider(cfg.Embedding.Dimension)
	default:
		base = embedding.NewOllamaProvider(embedding.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		}, cfg.Embedding.Dimension)
	}
	return embedding.NewCachedProvider(base, cfg.Cache.Capacity, cfg.Cache.TTL)
}
