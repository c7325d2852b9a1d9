package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"rand-agent/internal/adapter/llm"
	"rand-agent/internal/adapter/tool"
	"rand-agent/internal/infra/config"
	"rand-agent/internal/infra/logger"
	"rand-agent/internal/infra/metrics"
	"rand-agent/internal/infra/tracer"
	"rand-agent/internal/usecase/randagent"
	"rand-agent/internal/usecase/scheduling"
)

// resetTaskName names the scheduled failure reset.
const resetTaskName = "dispatcher-reset"

// app is the fully wired runtime shared by prompt and bench.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	recorder   *metrics.Recorder
	tools      *tool.Registry
	dispatcher *randagent.Dispatcher
	scheduler  *scheduling.Scheduler
}

// initApp loads the config at path and wires logging, tracing, metrics,
// tools, agents and the scheduler. The returned cleanup releases all of them
// in reverse order and must be called even when the dispatcher is unused.
func initApp(ctx context.Context, path string) (*app, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// 1. Config
	cfg, err := config.Load(path)
	if err != nil {
		return fail(fmt.Errorf("config: %w", err))
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fail(fmt.Errorf("logger: %w", err))
	}
	cleanups = append(cleanups, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fail(fmt.Errorf("tracer: %w", err))
	}
	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	})

	// 3. Metrics
	rec := metrics.NewRecorder()
	if cfg.Metrics.Enabled {
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, cfg.Metrics, rec, log); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
		cleanups = append(cleanups, func() {
			cancel()
			<-done
		})
	}

	// 4. Tools
	tools, toolCleanup, err := initTools(ctx, cfg, log)
	if err != nil {
		return fail(fmt.Errorf("tools: %w", err))
	}
	cleanups = append(cleanups, toolCleanup)

	// 5. Agents
	built := llm.NewBuilder(log).
		WithHTTP(cfg.HTTP).
		WithCircuitBreaker(cfg.CircuitBreaker).
		WithTools(tools).
		Build(cfg.Agents, cfg.SystemPrompt)

	// 6. Dispatcher
	dispatcher := randagent.NewBuilder().
		Logger(log).
		Recorder(rec).
		MaxFailures(cfg.Dispatcher.MaxFailures).
		RetryPolicy(retryPolicy(cfg.Dispatcher.Retry)).
		OnAgentInvalid(func(id int32) {
			log.Warn("agent removed from rotation until reset", "agent_id", id)
		}).
		AddAgents(built...).
		Build()

	// 7. Scheduler
	sched, err := initScheduler(cfg.Dispatcher, dispatcher, log)
	if err != nil {
		return fail(fmt.Errorf("scheduler: %w", err))
	}
	sched.Start(ctx)
	cleanups = append(cleanups, sched.Stop)

	log.Info("randagent ready",
		"agents", dispatcher.LenTotal(),
		"tools", len(tools.List()),
		"reset_schedule", cfg.Dispatcher.ResetSchedule,
		"metrics", cfg.Metrics.Enabled,
	)

	return &app{
		cfg:        cfg,
		log:        log,
		recorder:   rec,
		tools:      tools,
		dispatcher: dispatcher,
		scheduler:  sched,
	}, cleanup, nil
}

// initTools registers the built-in tools and any configured MCP servers.
func initTools(ctx context.Context, cfg *config.Config, log *slog.Logger) (*tool.Registry, func(), error) {
	reg := tool.NewRegistry(log)
	if err := reg.Register(tool.NewDateTimeTool(log)); err != nil {
		return nil, func() {}, err
	}
	if err := registerNetworkTools(reg, cfg.Tools, log); err != nil {
		return nil, func() {}, err
	}

	if len(cfg.MCPServers) == 0 {
		return reg, func() {}, nil
	}

	bridge, err := tool.NewMCPBridge(ctx, cfg.MCPServers, log)
	if err != nil {
		// MCP servers are optional; agents still run with built-in tools.
		log.Warn("mcp bridge unavailable", "error", err)
		return reg, func() {}, nil
	}
	if err := bridge.RegisterInto(reg); err != nil {
		bridge.Close()
		return nil, func() {}, err
	}
	return reg, bridge.Close, nil
}

// registerNetworkTools adds the tools that call out over HTTP. web_search
// needs a SerpAPI key and is skipped without one.
func registerNetworkTools(reg *tool.Registry, cfg config.ToolsConfig, log *slog.Logger) error {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.WebSearchEnabled {
		if key := cfg.SearchAPIKey(); key != "" {
			backend := tool.NewSerpAPIBackend(client, cfg.SerpAPIURL, key, log)
			if err := reg.Register(tool.NewWebSearchTool(backend, cfg.SearchCacheTTL, log)); err != nil {
				return err
			}
		} else {
			log.Info("web_search disabled: no SerpAPI key", "env", config.SerpAPIKeyEnv)
		}
	}
	if cfg.GitHubTrendingEnabled {
		if err := reg.Register(tool.NewGitHubTrendingTool(client, cfg.GitHubURL, cfg.TrendingCacheTTL, log)); err != nil {
			return err
		}
	}
	return nil
}

// initScheduler wires the pool actions and, when configured, the periodic
// failure reset.
func initScheduler(cfg config.DispatcherConfig, pool scheduling.Pool, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log)
	sched.RegisterPoolActions(pool)

	if cfg.ResetSchedule == "" {
		return sched, nil
	}
	if _, err := scheduling.ParseSchedule(cfg.ResetSchedule); err != nil {
		return nil, errors.Join(fmt.Errorf("dispatcher.reset_schedule %q", cfg.ResetSchedule), err)
	}
	if err := sched.AddTask(scheduling.Task{
		Name:     resetTaskName,
		Schedule: cfg.ResetSchedule,
		Action:   scheduling.ActionResetFailures,
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

// retryPolicy converts the config block into a dispatcher policy. Zero
// fields fall back to the dispatcher defaults.
func retryPolicy(cfg config.RetryConfig) randagent.RetryPolicy {
	return randagent.RetryPolicy{
		InitialDelay: cfg.InitialDelay,
		Factor:       cfg.Factor,
		Jitter:       cfg.Jitter,
		MaxDelay:     cfg.MaxDelay,
		MaxAttempts:  cfg.MaxAttempts,
	}
}
