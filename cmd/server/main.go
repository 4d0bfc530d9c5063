package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	specpkg "github.com/daap14/blueprints/api"
	"github.com/daap14/blueprints/internal/api"
	"github.com/daap14/blueprints/internal/api/handler"
	"github.com/daap14/blueprints/internal/blueprint"
	"github.com/daap14/blueprints/internal/config"
	"github.com/daap14/blueprints/internal/database"
	"github.com/daap14/blueprints/internal/filter"
	"github.com/daap14/blueprints/internal/metrics"
	"github.com/daap14/blueprints/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx := context.Background()

	readFilter, err := filter.New(cfg.FilterKind())
	if err != nil {
		slog.Error("failed to select read filter", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open blueprint store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	repo := metrics.NewInstrumentedRepository(store, m)
	bpService := service.NewBlueprintService(repo, readFilter)

	openAPIHandler, err := handler.NewOpenAPIHandler(specpkg.OpenAPISpec)
	if err != nil {
		slog.Error("failed to load OpenAPI document", "error", err)
		os.Exit(1)
	}

	if cfg.WriteAPIKeyHash == "" {
		slog.Warn("WRITE_API_KEY_HASH is not set; write endpoints are unauthenticated")
	}

	router := api.NewRouter(api.RouterDeps{
		Service:         bpService,
		Store:           bpService,
		Backend:         cfg.StoreBackend,
		Version:         cfg.Version,
		WriteAPIKeyHash: cfg.WriteAPIKeyHash,
		OpenAPI:         openAPIHandler,
		Metrics:         m,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting blueprints server",
			"port", cfg.Port,
			"version", cfg.Version,
			"backend", cfg.StoreBackend,
			"filter", string(cfg.FilterKind()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		closeStore()
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		closeStore()
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

// openStore builds the repository selected by STORE_BACKEND. The returned
// func releases whatever the backend holds open and is safe to call twice.
func openStore(ctx context.Context, cfg *config.Config) (blueprint.Repository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("connected to postgres")
		return blueprint.NewPostgresRepository(db.Pool()), sync.OnceFunc(db.Close), nil

	case config.BackendSQLite:
		sqlDB, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLitePath)
		return blueprint.NewSQLiteRepository(sqlDB), sync.OnceFunc(func() { _ = sqlDB.Close() }), nil

	default:
		return blueprint.NewMemoryRepository(cfg.StoreShards), func() {}, nil
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(logHandler))
}
