package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagwise/flagwise/pkg/alerting"
	"github.com/flagwise/flagwise/pkg/cli"
	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/detect"
	"github.com/flagwise/flagwise/pkg/pipeline"
	"github.com/flagwise/flagwise/pkg/rules"
	"github.com/flagwise/flagwise/pkg/server"
	"github.com/flagwise/flagwise/pkg/session"
	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/telemetry/logging"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the FlagWise monitoring server",
	Long: `Start the FlagWise monitoring server with the specified configuration.

The server listens on the configured address and scores submitted
prompt/response pairs through the detection rule engine, the session
aggregator, and the alert rule engine.

Examples:
  # Start with default config
  flagwise run

  # Start with custom config
  flagwise run --config /etc/flagwise/config.yaml

  # Override listen address
  flagwise run --listen 0.0.0.0:8080

  # Validate config without starting the server
  flagwise run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Telemetry.Logging)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.Install()
	log := logger.Slog()

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("FlagWise v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	// Storage backend
	store, err := buildStore(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer store.Close()
	fmt.Printf("✓ Storage initialized (%s)\n", cfg.Storage.Backend)

	// Rule loading with file watch and periodic refresh
	source := rules.NewFileSource(cfg.Rules.FilePath, log)
	loader, err := rules.NewLoader(source, &rules.LoaderConfig{
		RefreshInterval:  cfg.Rules.RefreshInterval,
		WatchFile:        cfg.Rules.Watch,
		DebounceInterval: cfg.Rules.DebounceInterval,
	}, log)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to load rules: %w", err))
	}
	if collector != nil {
		loader.SetMetrics(collector.Detection())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loader.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start rule loader: %w", err))
	}
	defer loader.Stop()

	snap := loader.Snapshot()
	fmt.Printf("✓ Rules loaded (%d detection, %d alert)\n",
		len(snap.Detection), len(snap.Alerts))

	// Detection engine
	engine, err := detect.NewEngine(&detect.Config{
		FlagThreshold:     cfg.Detection.FlagThreshold,
		ChatbotThresholds: cfg.Detection.ChatbotThresholds,
		RuleTimeout:       cfg.Detection.RuleTimeout,
		MaxRules:          cfg.Detection.MaxRules,
	}, log)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create detection engine: %w", err))
	}

	// Session aggregation; finalized sessions land in the store
	aggregator, err := session.NewAggregator(&session.Config{
		Lanes:             cfg.Sessions.Lanes,
		LaneBuffer:        cfg.Sessions.LaneBuffer,
		IdleTimeout:       cfg.Sessions.IdleTimeout,
		SweepSchedule:     cfg.Sessions.SweepSchedule,
		BurstWindow:       cfg.Sessions.BurstWindow,
		BurstThreshold:    cfg.Sessions.BurstThreshold,
		MaxDistinctModels: cfg.Sessions.MaxDistinctModels,
		RiskLevelWindow:   cfg.Sessions.RiskLevelWindow,
	}, store, log)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create session aggregator: %w", err))
	}
	if collector != nil {
		aggregator.SetMetrics(collector.Sessions())
	}

	sweeper := session.NewSweeper(aggregator)
	if err := sweeper.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start session sweeper: %w", err))
	}
	defer sweeper.Stop()

	// Alerting
	alertEngine, err := alerting.NewEngine(&alerting.Config{
		Cooldown:        cfg.Alerting.Cooldown,
		MaxWindow:       cfg.Alerting.MaxWindow,
		CleanupInterval: cfg.Alerting.CleanupInterval,
	}, log)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create alert engine: %w", err))
	}
	if collector != nil {
		alertEngine.SetMetrics(collector.Alerts())
	}

	monitor, err := pipeline.NewMonitor(pipeline.MonitorOptions{
		Loader:     loader,
		Engine:     engine,
		Aggregator: aggregator,
		Alerts:     alertEngine,
		Store:      store,
		Notifier:   pipeline.NewLogNotifier(log),
		Collector:  collector,
	})
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create pipeline: %w", err))
	}
	defer func() {
		if err := monitor.Close(context.Background()); err != nil {
			log.Error("pipeline close failed", "error", err)
		}
	}()

	// Retention pruning
	var pruner *storage.Pruner
	if cfg.Storage.Retention.Schedule != "" {
		pruner = storage.NewPruner(store, &storage.RetentionConfig{
			RequestRetentionDays: cfg.Storage.Retention.RequestDays,
			SessionRetentionDays: cfg.Storage.Retention.SessionDays,
			AlertRetentionDays:   cfg.Storage.Retention.AlertDays,
			PruneSchedule:        cfg.Storage.Retention.Schedule,
		})
		if collector != nil {
			pruner.SetMetrics(collector.Storage())
		}
		if err := pruner.Start(ctx); err != nil {
			log.Warn("failed to start retention pruner", "error", err)
		} else {
			defer pruner.Stop()
		}
	}

	srv := server.NewServer(&cfg.Server, &cfg.Telemetry.Metrics, monitor, store, collector)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Monitor endpoint: %s://%s/chatbots/monitor\n", scheme, cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: %s://%s/health\n", scheme, cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: %s://%s%s\n", scheme, cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		return nil
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}

		fmt.Println("✓ Server stopped")
		return nil
	}
}

// buildStore constructs the configured storage backend.
func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(&storage.SQLiteConfig{
			Path:         cfg.Storage.SQLite.Path,
			MaxOpenConns: cfg.Storage.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.Storage.SQLite.MaxIdleConns,
			WALMode:      cfg.Storage.SQLite.WALMode,
			BusyTimeout:  cfg.Storage.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		return store, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}
