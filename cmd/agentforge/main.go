package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/AgentForge/internal/adapter/github"
	afhttp "github.com/Strob0t/AgentForge/internal/adapter/http"
	"github.com/Strob0t/AgentForge/internal/adapter/memory"
	afnats "github.com/Strob0t/AgentForge/internal/adapter/nats"
	"github.com/Strob0t/AgentForge/internal/adapter/openai"
	afotel "github.com/Strob0t/AgentForge/internal/adapter/otel"
	"github.com/Strob0t/AgentForge/internal/adapter/postgres"
	"github.com/Strob0t/AgentForge/internal/adapter/pyexec"
	"github.com/Strob0t/AgentForge/internal/adapter/render"
	"github.com/Strob0t/AgentForge/internal/adapter/ristretto"
	"github.com/Strob0t/AgentForge/internal/adapter/ws"
	"github.com/Strob0t/AgentForge/internal/config"
	"github.com/Strob0t/AgentForge/internal/logger"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/cache"
	"github.com/Strob0t/AgentForge/internal/port/database"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
	"github.com/Strob0t/AgentForge/internal/port/stagebackend"
	"github.com/Strob0t/AgentForge/internal/resilience"
	"github.com/Strob0t/AgentForge/internal/service"
)

func main() {
	args := os.Args[1:]
	var err error
	switch {
	case len(args) > 0 && args[0] == "migrate":
		err = runMigrate(args[1:])
	case len(args) > 0 && args[0] == "serve":
		err = run(args[1:])
	default:
		err = run(args)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"max_concurrent_runs", cfg.Pipeline.MaxConcurrentRuns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	shutdownOTel, err := afotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := afotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := afnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Close() }()
		queue = q
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	var statsCache cache.Cache
	if cfg.Cache.MaxSizeMB > 0 {
		c, err := ristretto.New(cfg.Cache.MaxSizeMB)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer c.Close()
		statsCache = c
	}

	// --- Stage backends ---

	openaiBreaker := resilience.NewBreaker("openai", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	githubBreaker := resilience.NewBreaker("github", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	renderBreaker := resilience.NewBreaker("render", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	llm := openai.NewClient(cfg.OpenAI, openaiBreaker)
	backends := stagebackend.Backends{
		Generator: llm,
		Repairer:  llm,
		Tester:    pyexec.NewTester(cfg.Tester),
		Publisher: github.NewPublisher(ctx, cfg.GitHub, githubBreaker),
		Releaser:  render.NewReleaser(cfg.Render, renderBreaker),
	}

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin, slog.Default())

	pipelineSvc := service.NewPipelineService(store, backends, cfg.Pipeline)
	pipelineSvc.SetMetrics(metrics)

	notifier := service.NewProgressNotifier(hub, queue, cfg.Pipeline.EventBuffer)
	notifier.SetMetrics(metrics)
	records := service.NewRecordService(store, hub, statsCache, cfg.Cache.StatsTTL)
	notifier.OnComplete(records.InvalidateStats)

	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		notifier.Run(context.WithoutCancel(ctx))
	}()

	deploySvc := service.NewDeployService(pipelineSvc, notifier, queue, cfg.Pipeline.EventBuffer)
	stopSub, err := deploySvc.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("deploy request subscriber: %w", err)
	}
	cancelSub := sync.OnceFunc(stopSub)
	defer cancelSub()

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	handlers := &afhttp.Handlers{
		Records:     records,
		Deploy:      deploySvc,
		Pipeline:    pipelineSvc,
		StoreDriver: cfg.Store.Driver,
		Queue:       queue,
		Clients:     hub,
		Breakers:    []*resilience.Breaker{openaiBreaker, githubBreaker, renderBreaker},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(afotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(afhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(afhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(afhttp.SecurityHeaders)

	r.Get("/ws", hub.HandleWS)
	afhttp.MountRoutes(r, handlers, limiter)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	// In-flight runs are not cancellable; let them finish before draining.
	cancelSub()
	deploySvc.Wait()
	notifier.Close()
	<-notifierDone

	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}
	hub.Close()
	slog.Info("shutdown complete")
	return nil
}

// openStore builds the configured record store and returns its cleanup.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		return postgres.NewStore(pool), pool.Close, nil
	default:
		slog.Warn("using in-memory record store; records are lost on restart")
		return memory.NewStore(), func() {}, nil
	}
}
