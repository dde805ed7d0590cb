package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Morlock52/psscript-sub005/internal/checkpoint"
	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/server"
	"github.com/Morlock52/psscript-sub005/internal/tool"
	"github.com/Morlock52/psscript-sub005/internal/tool/builtins"
	"github.com/Morlock52/psscript-sub005/internal/workflow"
)

var serveListenAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis HTTP API",
	Long: `Starts the HTTP API with SQLite-backed checkpoints, streaming
progress events and background checkpoint cleanup. The server drains
in-flight requests on SIGINT/SIGTERM; running workflows checkpoint their
state and can be resumed after restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddress, "listen", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenAddress != "" {
		cfg.Server.ListenAddress = serveListenAddress
	}
	logger := newLogger(cfg.Logging)

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	client := llm.NewClient(provider,
		llm.WithMaxRetries(cfg.LLM.MaxRetries),
		llm.WithBackoff(cfg.LLM.RetryBaseDelay, cfg.LLM.RetryMaxDelay),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond),
		llm.WithClientLogger(logger),
	)

	registry := tool.NewRegistry()
	if err := builtins.RegisterBuiltinTools(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	executor := tool.NewExecutor(registry,
		tool.WithTimeout(cfg.Workflow.ToolTimeout),
		tool.WithLogger(logger),
	)

	storeCfg := checkpoint.DefaultSQLiteConfig(cfg.Checkpoint.Path)
	storeCfg.BusyTimeout = cfg.Checkpoint.BusyTimeout
	storeCfg.Retention = cfg.Checkpoint.Expiry
	store, err := checkpoint.NewSQLiteStore(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	bus := events.NewBus(
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithBusLogger(logger),
	)
	defer bus.Close()

	orchestrator := workflow.NewOrchestrator(client, executor, registry, store, bus,
		workflow.WithRiskThreshold(int(cfg.Workflow.RiskThreshold)),
		workflow.WithToolConcurrency(cfg.Workflow.ToolConcurrency),
		workflow.WithMaxIterations(cfg.Workflow.MaxIterations),
		workflow.WithMaxConcurrentWorkflows(cfg.Workflow.MaxConcurrentWorkflows),
		workflow.WithOrchestratorLogger(logger),
	)
	gate := workflow.NewFeedbackGate(orchestrator, logger)

	srv := server.New(cfg.Server, server.Deps{
		Orchestrator: orchestrator,
		Gate:         gate,
		Bus:          bus,
		Registry:     registry,
		Model:        client,
		StoreHealth:  store.Health,
	}, server.WithServerLogger(logger), server.WithVersion(version))

	ctx := cmd.Context()
	if cfg.Checkpoint.GCInterval > 0 {
		sweeper := checkpoint.NewSweeper(store,
			checkpoint.WithSweepInterval(cfg.Checkpoint.GCInterval),
			checkpoint.WithSweeperLogger(logger),
			// An expired thread's stream buffer has nothing left to say.
			checkpoint.WithExpiredHook(bus.Drop),
		)
		go sweeper.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
