package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/arcade"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/providers"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/store/lite"
	"github.com/parleyhq/parley/internal/store/pg"
	"github.com/parleyhq/parley/internal/tracing"
	"github.com/parleyhq/parley/internal/vault"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the turn gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	v, err := vault.New([]byte(cfg.Vault.MasterSecret))
	if err != nil {
		slog.Error("failed to initialize vault", "error", err)
		os.Exit(1)
	}

	lettaOpts := []providers.LettaOption{}
	if cfg.Letta.BaseURL != "" {
		lettaOpts = append(lettaOpts, providers.WithLettaBaseURL(cfg.Letta.BaseURL))
	}
	if cfg.Letta.Model != "" {
		lettaOpts = append(lettaOpts, providers.WithLettaModel(cfg.Letta.Model))
	}
	provider := providers.NewLettaProvider(cfg.Letta.APIKey, lettaOpts...)

	aggOpts := []mcp.Option{}
	if cfg.Arcade.APIKey != "" {
		arcadeOpts := []arcade.Option{}
		if cfg.Arcade.BaseURL != "" {
			arcadeOpts = append(arcadeOpts, arcade.WithBaseURL(cfg.Arcade.BaseURL))
		}
		aggOpts = append(aggOpts, mcp.WithGateway(
			arcade.NewClient(cfg.Arcade.APIKey, "parley-gateway", arcadeOpts...)))
	}
	aggregator := mcp.NewAggregator(stores.ToolServers, stores.Credentials, v, aggOpts...)

	scheduler := bus.GoScheduler{}
	events := bus.NewMemoryBus()
	resolver := agent.NewResolver(stores.Conversations, provider, scheduler)
	orch := agent.NewOrchestrator(
		stores.Conversations,
		stores.Messages,
		provider,
		aggregator,
		resolver,
		scheduler,
		agent.WithConfig(agent.Config{
			HistoryLimit:     cfg.Turn.HistoryLimit,
			StepHistoryLimit: cfg.Turn.StepHistoryLimit,
			MaxInputMessages: cfg.Turn.MaxInputMessages,
			MaxSteps:         cfg.Turn.MaxSteps,
			MaxResearchCalls: int32(cfg.Turn.MaxResearchCalls),
			BufferLimit:      cfg.Turn.BufferBytes,
			StorageLimit:     cfg.Turn.StorageBytes,
		}),
		agent.WithRedactor(agent.NewRedactor(
			cfg.Letta.APIKey,
			cfg.Arcade.APIKey,
			cfg.Vault.MasterSecret,
			cfg.Database.PostgresDSN,
		)),
		agent.WithEventBus(events),
	)

	srv := gateway.NewServer(cfg, orch, stores.Conversations)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// openStores picks the backend from config: Postgres when a DSN is present,
// the standalone sqlite file otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	storeCfg := store.Config{
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}
	if cfg.IsManaged() {
		slog.Info("storage.backend", "kind", "postgres")
		return pg.NewStores(storeCfg)
	}
	slog.Info("storage.backend", "kind", "sqlite", "path", storeCfg.SQLitePath)
	return lite.NewStores(storeCfg)
}
