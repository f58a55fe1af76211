// Package main is the entrypoint for the dqrunner API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/dqrunner/internal/api"
	"github.com/kiranshivaraju/dqrunner/internal/api/handler"
	mw "github.com/kiranshivaraju/dqrunner/internal/api/middleware"
	"github.com/kiranshivaraju/dqrunner/internal/api/response"
	"github.com/kiranshivaraju/dqrunner/internal/cache"
	"github.com/kiranshivaraju/dqrunner/internal/config"
	"github.com/kiranshivaraju/dqrunner/internal/dbconn"
	"github.com/kiranshivaraju/dqrunner/internal/metrics"
	"github.com/kiranshivaraju/dqrunner/internal/runner"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/internal/validation"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "launcher", cfg.Validation.Launcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Check target connections, metrics, validation launcher
	pgStore := store.NewPostgresStore(pool)
	connector := dbconn.NewConnector(dbconn.Options{
		ConnectTimeout:  cfg.Check.ConnectTimeout,
		BreakerFailures: cfg.Check.BreakerFailures,
		BreakerCooldown: cfg.Check.BreakerCooldown,
	})
	recorder := metrics.NewPrometheusRecorder()

	launcher, local, err := newLauncher(ctx, cfg.Validation, connector)
	if err != nil {
		return fmt.Errorf("create validation launcher: %w", err)
	}
	slog.Info("validation launcher initialized", "launcher", cfg.Validation.Launcher)

	// 6. Create runner
	dq := runner.New(runner.Options{
		Store:             pgStore,
		Conns:             connector,
		Launcher:          launcher,
		Cache:             redisCache,
		Metrics:           recorder,
		CheckTimeout:      cfg.Check.Timeout,
		ValidationTimeout: cfg.Validation.Timeout,
	})
	if local != nil {
		local.SetCompleter(dq)
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: recorder.Handler(),

		RunCaseHandler:       handler.NewRunCaseHandler(dq),
		RunSuiteHandler:      handler.NewRunSuiteHandler(dq),
		RunCaseLogHandler:    handler.NewRunCaseLogHandler(dq, pgStore),
		GetCaseLogHandler:    handler.NewGetCaseLogHandler(pgStore),
		CaseLogStatusHandler: handler.NewCaseLogStatusHandler(redisCache, pgStore),
		CompleteHandler:      handler.NewCompleteCaseLogHandler(dq, pgStore),
	}
	router := api.NewRouter(deps)

	// 8. Start HTTP server. Checks run inside the request, so the write
	// timeout has to cover the check timeout.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Check.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if local != nil {
		waitValidations(shutdownCtx, local)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newLauncher builds the configured launcher. The local launcher is also
// returned on its own so it can be given the runner as completer.
func newLauncher(ctx context.Context, cfg config.ValidationConfig, conns dbconn.Provider) (validation.Launcher, *validation.LocalLauncher, error) {
	switch cfg.Launcher {
	case "glue":
		g, err := validation.NewGlueLauncherFromEnv(ctx, cfg.AWSRegion, cfg.GlueJobName, cfg.CallbackBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil
	case "local", "":
		l := validation.NewLocalLauncher(conns, validation.LocalOptions{
			Timeout:    cfg.Timeout,
			SampleRows: cfg.SampleRows,
		})
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unknown launcher %q", cfg.Launcher)
	}
}

// waitValidations lets in-flight local validation jobs record their result.
func waitValidations(ctx context.Context, l *validation.LocalLauncher) {
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timed out with data validation jobs still running")
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := s.Ping(r.Context()); err != nil {
			slog.Warn("health: database ping failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health: cache ping failed", "error", err)
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
