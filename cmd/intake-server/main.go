// Package main is the entry point of the intake reference backend.
// It wires the in-memory repository, the failure simulator, and the HTTP
// router together and serves the intake REST contract.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/backend"
	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/openapi"
	"github.com/pitabwire/intake/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file (defaults when empty)")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "intake-server", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics := observability.InitMetrics(registry)

	// Step 4: Load the contract used to check request bodies.
	contract, err := openapi.New("")
	if err != nil {
		logger.Error("contract load failed", zap.Error(err))
		return 1
	}
	logger.Info("contract loaded",
		zap.String("title", contract.Title()),
		zap.String("version", contract.Version()),
		zap.Strings("operations", contract.OperationIDs()),
	)

	// Step 5: Load and validate the seed, build the repository.
	seed, err := backend.LoadSeed(cfg.Catalog.SeedFile)
	if err != nil {
		logger.Error("seed loading failed", zap.Error(err))
		return 1
	}
	if seed, err = seed.WithTemplateDirs(cfg.Catalog.TemplateDirs); err != nil {
		logger.Error("template loading failed", zap.Error(err), zap.Strings("dirs", cfg.Catalog.TemplateDirs))
		return 1
	}
	repo := backend.NewMemoryRepository(seed)
	metrics.SetTemplatesLoaded(repo.TemplateCount())

	// Step 6: Build the service and the HTTP router.
	svc := backend.NewService(repo,
		backend.WithContract(contract),
		backend.WithSimulator(backend.NewSimulator(cfg.Simulation)),
		backend.WithMetrics(metrics),
		backend.WithLogger(logger),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: registry,
		Readiness: observability.ReadinessChecks{
			CatalogLoaded:  repo.Loaded,
			ContractLoaded: contract.Loaded,
			Repository:     repo,
		},
		Routes: svc.Routes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", repo.TemplateCount()),
		zap.String("seed_checksum", seed.Checksum),
		zap.Float64("error_rate", cfg.Simulation.ErrorRate),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete", zap.Int("submissions", repo.Submissions()))
	return 0
}
