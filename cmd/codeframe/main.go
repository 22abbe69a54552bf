// CodeFRAME orchestrator server. Wires the store, event bus, LLM provider,
// agent pool, and coordinator behind the HTTP API and runs until signalled.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeframe-dev/codeframe/pkg/agent"
	"github.com/codeframe-dev/codeframe/pkg/api"
	"github.com/codeframe-dev/codeframe/pkg/auth"
	"github.com/codeframe-dev/codeframe/pkg/bus"
	"github.com/codeframe-dev/codeframe/pkg/config"
	"github.com/codeframe-dev/codeframe/pkg/coordinator"
	"github.com/codeframe-dev/codeframe/pkg/events"
	"github.com/codeframe-dev/codeframe/pkg/gates"
	"github.com/codeframe-dev/codeframe/pkg/llm"
	"github.com/codeframe-dev/codeframe/pkg/pool"
	"github.com/codeframe-dev/codeframe/pkg/store"
	"github.com/codeframe-dev/codeframe/pkg/version"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to a .env file with configuration overrides")
	flag.Parse()

	// Load .env overrides; a missing file is fine.
	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, using existing environment", "path", *envPath, "error", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	slog.Info("Starting codeframe", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Store (runs migrations on open)
	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store opened", "path", cfg.DatabasePath)

	// 3. Event bus and the change-notification relay
	b := bus.New(bus.Options{
		QueueSize:  cfg.SubscriberQueueSize,
		EvictTicks: cfg.OverflowEvictTicks,
	})
	b.Start()
	defer b.Close()

	publisher := events.NewPublisher(st, b)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()
	go publisher.Relay(relayCtx, st.Changes())

	// 4. LLM provider with retry, plus the pricing table
	if cfg.LLMAPIKey == "" {
		slog.Warn("LLM_API_KEY is empty; completions will fail against most providers")
	}
	var provider llm.CompletionProvider = llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	provider = llm.WithRetry(provider, llm.DefaultRetryConfig())

	pricing, err := llm.LoadPricing(cfg.ModelPricingPath)
	if err != nil {
		slog.Error("Failed to load model pricing", "path", cfg.ModelPricingPath, "error", err)
		os.Exit(1)
	}

	// 5. Agent pool, gates, coordinator
	factory := agent.NewFactory(provider, cfg.LLMModel)
	p := pool.New(st, publisher, cfg.MaxConcurrentAgents)
	engine := gates.NewEngine(gates.Config{
		TestCommand:      cfg.GateTestCommand,
		CoverageCommand:  cfg.GateCoverageCommand,
		TypeCheckCommand: cfg.GateTypeCheckCommand,
		LintCommand:      cfg.GateLintCommand,
	}, provider, cfg.LLMModel)

	coord := coordinator.New(coordinator.Options{
		Config:    cfg,
		Store:     st,
		Publisher: publisher,
		Pool:      p,
		Factory:   factory,
		Gates:     engine,
		Lead:      provider,
		Pricing:   pricing,
	})

	// 6. HTTP server
	// An empty API_TOKEN disables authentication (local development).
	verifier := auth.NewTokenVerifier(cfg.APIToken)
	if !verifier.Enabled() {
		slog.Warn("API_TOKEN is empty; the API accepts unauthenticated requests")
	}
	server := api.NewServer(cfg, st, coord, b, p, verifier)

	// 7. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := server.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("codeframe started", "max_agents", cfg.MaxConcurrentAgents, "hosted_mode", cfg.HostedMode)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then stop sessions.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	coordCtx, coordCancel := context.WithTimeout(ctx, 30*time.Second)
	defer coordCancel()
	coord.Shutdown(coordCtx)

	slog.Info("Shutdown complete")
}
