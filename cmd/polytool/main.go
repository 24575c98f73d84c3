// Command polytool runs the agent orchestration service.
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

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/polytool/polytool/config"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/memory"
	"github.com/polytool/polytool/memory/postgres"
	"github.com/polytool/polytool/model"
	"github.com/polytool/polytool/model/anthropic"
	"github.com/polytool/polytool/model/openai"
	"github.com/polytool/polytool/orchestrator"
	"github.com/polytool/polytool/retriever"
	"github.com/polytool/polytool/server"
	"github.com/polytool/polytool/tool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "polytool",
		Short:         "Agent orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serve)
	return root
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sessionCount, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	adapter := model.NewAdapter(func(o *model.AdapterOptions) {
		o.Priority = cfg.Model.Priority
		o.FailureThreshold = cfg.Model.FailureThreshold
		o.Cooldown = cfg.Model.Cooldown
		o.MaxRateLimitRetries = cfg.Model.MaxRateLimitRetries
		o.RateLimit = rate.Limit(cfg.Model.RateLimit)
		o.Burst = cfg.Model.Burst
		o.Logger = logger
	})
	if err := registerBackends(adapter, cfg, logger); err != nil {
		return err
	}

	registry := tool.NewRegistry(builtinTools()...)
	gateway := tool.NewGateway(registry, func(o *tool.GatewayOptions) { o.Logger = logger })
	ret := retriever.New(store, retriever.NewHashEmbedder(0), func(o *retriever.Options) { o.Logger = logger })

	orch := orchestrator.New(store, adapter, gateway, ret, func(o *orchestrator.Options) {
		o.Instructions = cfg.Orchestrator.Instructions
		o.MaxToolRounds = cfg.Orchestrator.MaxToolRounds
		o.ContextTopK = cfg.Orchestrator.ContextTopK
		o.RecentWindow = cfg.Orchestrator.RecentWindow
		o.BusyPolicy = orchestrator.BusyPolicy(cfg.Orchestrator.BusyPolicy)
		o.BackendHint = cfg.Model.Default
		o.Params = model.GenerationParams{
			Temperature: cfg.Orchestrator.Temperature,
			MaxTokens:   cfg.Orchestrator.MaxTokens,
		}
		o.Logger = logger
	})
	defer orch.Wait()

	srv := server.New(orch, func(o *server.Options) {
		o.SessionCount = sessionCount
		o.Logger = logger
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.start", "addr", cfg.Server.Addr, "tools", registry.Names())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func buildStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (memory.Store, func() int, func(), error) {
	switch cfg.Memory.Driver {
	case "postgres":
		pg := postgres.New(cfg.Memory.DSN, func(o *postgres.Options) {
			o.FragmentCap = cfg.Memory.FragmentCap
			o.MinRecentWindow = cfg.Memory.MinRecentWindow
			o.Logger = logger
		})
		if err := pg.Init(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		if cfg.Memory.IdleTimeout > 0 {
			go sweepIdleSessions(ctx, pg, cfg.Memory.IdleTimeout, logger)
		}
		count := func() int {
			n, err := pg.Sessions(ctx)
			if err != nil {
				return 0
			}
			return n
		}
		return pg, count, func() { _ = pg.Close() }, nil
	default:
		s := memory.NewInMemoryStore(func(o *memory.InMemoryOptions) {
			o.FragmentCap = cfg.Memory.FragmentCap
			o.MinRecentWindow = cfg.Memory.MinRecentWindow
			o.IdleTimeout = cfg.Memory.IdleTimeout
			o.Logger = logger
		})
		return s, s.Len, func() { _ = s.Close() }, nil
	}
}

// sweepIdleSessions periodically archives postgres sessions past the idle
// timeout; the in-memory store runs its own janitor.
func sweepIdleSessions(ctx context.Context, pg *postgres.Store, idleTimeout time.Duration, logger logging.Logger) {
	interval := idleTimeout / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := pg.ArchiveIdle(ctx, idleTimeout); err != nil {
				logger.Warn("memory.archive.failed", "error", err)
			} else if n > 0 {
				logger.Info("memory.archive.done", "sessions", n)
			}
		}
	}
}

func registerBackends(adapter *model.Adapter, cfg *config.Config, logger logging.Logger) error {
	registered := 0
	if os.Getenv("OPENAI_API_KEY") != "" {
		adapter.Register(openai.New(func(o *openai.Options) {
			if cfg.Model.OpenAI.Model != "" {
				o.Model = cfg.Model.OpenAI.Model
			}
		}))
		logger.Info("backend.registered", "backend", "openai")
		registered++
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		adapter.Register(anthropic.New(func(o *anthropic.Options) {
			if cfg.Model.Anthropic.Model != "" {
				o.Model = cfg.Model.Anthropic.Model
			}
		}))
		logger.Info("backend.registered", "backend", "anthropic")
		registered++
	}
	if registered == 0 {
		return errors.New("no model backends available: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return nil
}

func builtinTools() []tool.Tool {
	currentTime := tool.NewFunctionTool(
		"current_time",
		"Returns the current date and time in UTC.",
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"utc": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	)
	return []tool.Tool{currentTime}
}
