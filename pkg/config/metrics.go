package config

import (
	"context"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Store is the collector for the attribute store (never nil)
	Store metrics.StoreMetrics

	// Xattr is the collector for the request handler (never nil)
	Xattr metrics.XattrMetrics

	// Connections is the collector for the request server (never nil)
	Connections metrics.ServerMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Store:       metrics.NewNoopStoreMetrics(),
			Xattr:       metrics.NewNoopXattrMetrics(),
			Connections: metrics.NewNoopServerMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Metrics.Port,
		}),
		Store:       metrics.NewStoreMetrics(cfg.Store.Type),
		Xattr:       metrics.NewXattrMetrics(),
		Connections: metrics.NewServerMetrics(),
	}
}

// RegisterHealthChecks exposes the request server and the attribute store
// on the metrics server's /healthz. It does nothing when metrics are
// disabled.
func (r *MetricsResult) RegisterHealthChecks(cfg *Config, st store.ObjectStore, srv *server.Server) {
	if r.Server == nil {
		return
	}

	var target fid.FID
	if len(cfg.Store.Objects) > 0 {
		// Validated at load time
		target, _ = fid.Parse(cfg.Store.Objects[0])
	}

	r.Server.AddHealthCheck("server", srv.Healthy)
	r.Server.AddHealthCheck("store", StoreHealthCheck(st, target))
}

// StoreHealthCheck reports whether st answers a lookup of target. An
// unknown object still proves the backend is reachable.
func StoreHealthCheck(st store.ObjectStore, target fid.FID) metrics.HealthCheck {
	return func(ctx context.Context) error {
		_, err := st.GetObject(ctx, target)
		if err == nil || xattr.IsCode(err, xattr.ErrNoObject) {
			return nil
		}
		return err
	}
}
