package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmslite/clapictl/internal/api"
	"github.com/nmslite/clapictl/internal/audit"
	"github.com/nmslite/clapictl/internal/auth"
	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/cli"
	"github.com/nmslite/clapictl/internal/config"
	"github.com/nmslite/clapictl/internal/snmpcheck"
)

func main() {
	configPath := os.Getenv("CLAPICTL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("Invalid server configuration: %v", err)
	}

	// Initialize structured logger
	logger := config.InitLogger(cfg.Logging, os.Stdout, cfg.CLAPI.Debug)
	logger.Info("Starting clapictl gateway",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"clapi_path", cfg.CLAPI.Path,
		"remote", cfg.Remote.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := api.Dependencies{Logger: logger}

	// Invocation audit is optional
	var observer clapi.Observer
	if cfg.Database.Enabled {
		pool, err := audit.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("DB init failed: %v", err)
		}
		defer pool.Close()

		if err := audit.Migrate(ctx, pool); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}

		store := audit.NewStore(pool, logger)
		observer = store
		deps.Audit = store
		logger.Info("Invocation audit enabled", "database", cfg.Database.DBName)
	}

	runner, closeRunner, err := cli.NewRunner(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize CLAPI runner: %v", err)
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logger.Warn("Failed to close CLAPI runner", "error", err)
		}
	}()

	deps.CLAPI = cli.NewClient(cfg, runner, logger, observer)

	deps.Prober = snmpcheck.New(cfg.SNMP.Port, cfg.SNMP.Timeout(), cfg.SNMP.Retries)

	// Initialize authentication service
	authService, err := auth.NewService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AdminUsername,
		cfg.Auth.AdminPassword,
		cfg.Auth.JWTExpiry(),
	)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}
	deps.Auth = authService
	deps.Validator = authService

	router := api.NewRouter(cfg.CORS, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// In-flight CLAPI calls finish before Shutdown returns
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server stopped gracefully")
}
