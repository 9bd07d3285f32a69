package config

import (
	"fmt"

	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/idmap"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/metrics"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/stats"
	"github.com/marmos91/dittomds/pkg/store"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// FeatureMask returns the connection feature mask granted by the configuration.
func (c *XattrConfig) FeatureMask() (xattr.Features, error) {
	return xattr.ParseFeatures(c.Features)
}

// BuildServerConfig returns the request server configuration with the
// xattr settings the server advertises at connect time filled in.
func BuildServerConfig(cfg *Config) (server.Config, error) {
	features, err := cfg.Xattr.FeatureMask()
	if err != nil {
		return server.Config{}, fmt.Errorf("xattr.features: %w", err)
	}

	srvCfg := cfg.Server
	srvCfg.Features = features
	srvCfg.MaxEASize = cfg.Xattr.MaxEASize
	return srvCfg, nil
}

// CreateHandler wires the extended-attribute handler.
//
// The nodemap registry serves both as the caller resolver and the ACL
// translator. statsReg and m may be nil.
func CreateHandler(
	cfg *Config,
	st store.Store,
	reg *idmap.Registry,
	locks lock.Coordinator,
	statsReg *stats.Registry,
	m metrics.XattrMetrics,
) *handler.Handler {
	opts := handler.Options{
		Store:        st,
		Locks:        locks,
		Stats:        statsReg,
		Metrics:      m,
		MaxEASize:    cfg.Xattr.MaxEASize,
		LockTimeout:  cfg.Xattr.LockTimeout,
		MaxReplySize: cfg.Xattr.MaxReplySize,
		Allocator:    xattr.HeapAllocator{Limit: cfg.Xattr.AllocLimit},
	}
	if reg != nil {
		opts.Resolver = reg
		opts.Translator = reg
	}
	return handler.New(opts)
}
