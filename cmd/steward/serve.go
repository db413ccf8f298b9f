package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steward-dev/steward/internal/archive"
	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/config"
	"github.com/steward-dev/steward/internal/engine"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/judge"
	"github.com/steward-dev/steward/internal/mcp"
	"github.com/steward-dev/steward/internal/sandbox"
	"github.com/steward-dev/steward/internal/secrets"
	"github.com/steward-dev/steward/internal/server"
	"github.com/steward-dev/steward/internal/store"
	"github.com/steward-dev/steward/internal/telemetry"
	"github.com/steward-dev/steward/internal/tools"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session engine and control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger, redact := telemetry.NewLogger(os.Stdout, level)
	slog.SetDefault(logger)

	resolver := secrets.NewEnvResolver()
	apiKey, err := resolver.Resolve(ctx, cfg.APIKey)
	if err != nil {
		return err
	}
	redact.AddSecret(apiKey)

	backendKey, err := resolver.Resolve(ctx, cfg.BackendKey)
	if err != nil {
		return err
	}
	redact.AddSecret(backendKey)

	var st store.Store
	if cfg.Postgres != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Warn("no postgres configured, sessions are held in memory only")
		st = store.NewMemoryStore()
	}

	var client backend.Client
	if backendKey != "" {
		client = backend.NewAnthropicClientWithKey(backendKey)
	} else {
		client = backend.NewAnthropicClient()
	}

	rules, err := cfg.CompileGateRules()
	if err != nil {
		return err
	}
	selector := execmode.NewSelector(rules)

	var sb sandbox.Sandbox
	if cfg.SandboxBackend == "wasm" {
		sb = &sandbox.WasmSandbox{Module: cfg.WasmModule}
	} else {
		sb = &sandbox.ProcessSandbox{}
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		Root:      cfg.WorkingDir,
		Allowlist: cfg.AllowedCommands,
	})

	var mcpClients []*mcp.Client
	for _, sc := range cfg.MCPServers {
		c := mcp.NewClient(mcp.ServerConfig{Name: sc.Name, Command: sc.Command, Args: sc.Args})
		if err := c.Connect(ctx); err != nil {
			logger.Warn("mcp server unavailable", "server", sc.Name, "error", err)
			continue
		}
		n, err := c.RegisterTools(ctx, registry)
		if err != nil {
			logger.Warn("mcp tool discovery failed", "server", sc.Name, "error", err)
		}
		logger.Info("mcp server connected", "server", sc.Name, "tools", n)
		mcpClients = append(mcpClients, c)
	}
	defer func() {
		for _, c := range mcpClients {
			_ = c.Close()
		}
	}()

	metrics := telemetry.NewMetrics()
	guard, err := judge.ParseGuardLevel(cfg.GuardLevel)
	if err != nil {
		return err
	}
	cache := judge.NewVerdictCache(cfg.JudgeCacheTTL.Std())
	j := judge.New(judge.Options{
		Guard:  guard,
		Store:  st,
		Client: client,
		Cache:  cache,
		Model:  cfg.Model,
		Logger: logger,
		OnResult: func(v judge.Verdict) {
			if v.Source == judge.SourceCache {
				metrics.JudgeCacheHits.Inc()
			} else if v.Source != judge.SourceRule {
				metrics.JudgeCacheMisses.Inc()
			}
			metrics.JudgeVerdicts.WithLabelValues(string(v.Outcome), string(v.Source)).Inc()
		},
	})

	eng := engine.New(engine.Options{
		Store:       st,
		Client:      client,
		Selector:    selector,
		Registry:    registry,
		Sandbox:     sb,
		Judge:       j,
		Logger:      logger,
		Metrics:     metrics,
		Model:       cfg.Model,
		MaxTurns:    cfg.MaxTurns,
		TokenBudget: cfg.TokenBudget,
	})

	janitor := engine.NewJanitor(st, cache, cfg.Retention.Std(), logger)
	janitor.Start()
	defer janitor.Stop()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	}
	if apiKey != "" {
		opts = append(opts, server.WithAPIKey(apiKey))
	}
	if exp, err := buildExporter(ctx, cfg); err != nil {
		return err
	} else if exp != nil {
		opts = append(opts, server.WithExporter(exp))
	}
	srv := server.New(eng, st, opts...)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, logger, func(r config.Reload) {
			if g, err := judge.ParseGuardLevel(r.GuardLevel); err == nil {
				eng.SetGuard(g)
			}
			reloaded := config.Config{GateRules: r.GateRules}
			if rules, err := reloaded.CompileGateRules(); err == nil {
				selector.SetRules(rules)
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("steward ready", "listen", cfg.Listen, "guard_level", cfg.GuardLevel)
	return g.Wait()
}

func buildExporter(ctx context.Context, cfg config.Config) (archive.Exporter, error) {
	switch cfg.Archive.Backend {
	case "file":
		return &archive.FileExporter{Dir: cfg.Archive.Dir}, nil
	case "s3":
		return archive.NewS3Exporter(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix)
	}
	return nil, nil
}
