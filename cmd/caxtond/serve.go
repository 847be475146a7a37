package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/caxton-io/caxton/internal/config"
	"github.com/caxton-io/caxton/internal/server"
	"github.com/caxton-io/caxton/internal/telemetry"
)

// runServe loads configuration, wires every subsystem, and blocks until a
// shutdown signal arrives.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting caxtond",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}

	ctx := context.Background()
	sys, err := buildSystem(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build system", zap.Error(err))
	}
	sys.start(ctx, cfg)

	healthHandler := server.NewHealthHandler(logger, Version)
	healthHandler.RegisterCheck(server.NewPingHealthCheck("storage", sys.pool.Ping))

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", healthHandler.HandleHealth)
	healthMux.HandleFunc("/healthz", healthHandler.HandleHealthz)
	healthMux.HandleFunc("/ready", healthHandler.HandleReady)
	healthMux.HandleFunc("/readyz", healthHandler.HandleReady)
	healthMux.HandleFunc("/version", healthHandler.HandleVersion)

	healthManager := server.NewManager(healthMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HealthPort),
		ReadTimeout:     server.DefaultConfig().ReadTimeout,
		WriteTimeout:    server.DefaultConfig().WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	if err := healthManager.Start(); err != nil {
		logger.Fatal("failed to start health listener", zap.Error(err))
	}
	logger.Info("health listener started", zap.Int("port", cfg.Server.HealthPort))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsManager := server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		ReadTimeout:     server.DefaultConfig().ReadTimeout,
		WriteTimeout:    server.DefaultConfig().WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	if err := metricsManager.Start(); err != nil {
		logger.Fatal("failed to start metrics listener", zap.Error(err))
	}
	logger.Info("metrics listener started", zap.Int("port", cfg.Server.MetricsPort))

	logger.Info("caxtond is running")

	// healthManager owns the signal handling; metricsManager's listener
	// is shut down alongside it once a signal or listener error arrives.
	healthManager.WaitForShutdown()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := metricsManager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown error", zap.Error(err))
	}
	sys.stop(shutdownCtx)
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	logger.Info("caxtond stopped")
}
