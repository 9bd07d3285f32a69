package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/config"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/stats"
)

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittomds/config.yaml)")
	logLevel := fs.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer logger.Sync()

	fmt.Println("DittoMDS - extended attribute service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ========================================================================
	// Metrics
	// ========================================================================

	m := config.InitializeMetrics(cfg)
	metricsDone := make(chan error, 1)
	if m.Server != nil {
		go func() {
			metricsDone <- m.Server.Start(ctx)
		}()
	}

	// ========================================================================
	// Store, identity mapping and handler
	// ========================================================================

	st, err := config.CreateStore(ctx, &cfg.Store, m.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store: %v", err)
		}
	}()
	logger.Info("Attribute store: %s", cfg.Store.Type)

	if err := config.ProvisionObjects(ctx, st, cfg.Store.Objects); err != nil {
		return err
	}

	reg, err := config.InitializeIdmap(&cfg.Idmap)
	if err != nil {
		return err
	}

	statsReg := stats.NewRegistry()
	h := config.CreateHandler(cfg, st, reg, lock.NewManager(), statsReg, m.Xattr)

	srvCfg, err := config.BuildServerConfig(cfg)
	if err != nil {
		return err
	}
	logServerConfig(srvCfg)

	srv := server.New(srvCfg, h, statsReg, m.Connections)
	m.RegisterHealthChecks(cfg, st, srv)

	// ========================================================================
	// Run until signalled
	// ========================================================================

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running on %s. Press Ctrl+C to stop.", srvCfg.ListenAddress)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("Server stopped")

	case err := <-metricsDone:
		cancel()
		<-serverDone
		return err
	}

	return nil
}

func logServerConfig(cfg server.Config) {
	logger.Info("Server configuration:")
	logger.Info("  Listen address: %s", cfg.ListenAddress)
	if cfg.MaxConnections > 0 {
		logger.Info("  Max connections: %d", cfg.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	logger.Info("  Workers: %d, in flight per connection: %d", cfg.Workers, cfg.MaxInFlight)
	logger.Info("  Request timeout: %v", cfg.RequestTimeout)
	logger.Info("  Idle timeout: %v", cfg.IdleTimeout)
	logger.Info("  Shutdown timeout: %v", cfg.ShutdownTimeout)
	logger.Info("  Features granted: %s", cfg.Features)
	if cfg.RateLimit.RequestsPerSecond > 0 || cfg.RateLimit.PerClientRequestsPerSecond > 0 {
		logger.Info("  Rate limit: %d rps (burst %d), per client %d rps (burst %d)",
			cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
			cfg.RateLimit.PerClientRequestsPerSecond, cfg.RateLimit.PerClientBurst)
	}
	if cfg.StatsInterval == 0 {
		logger.Info("  (stats logging disabled)")
	}
}
