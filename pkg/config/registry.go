package config

import (
	"fmt"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/idmap"
)

// InitializeIdmap creates the nodemap registry from the configuration.
//
// Nodemaps are registered in configuration order, which is the order
// client addresses are matched against their ranges. Clients outside
// every range use idmap.default, or a trusted pass-through nodemap when
// it is not configured.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeIdmap(&cfg.Idmap)
//	if err != nil {
//	    log.Fatalf("Failed to initialize nodemaps: %v", err)
//	}
func InitializeIdmap(cfg *IdmapConfig) (*idmap.Registry, error) {
	var def *idmap.Nodemap
	if cfg.Default != nil {
		n, err := idmap.NewNodemap(nodemapOptions(cfg.Default))
		if err != nil {
			return nil, fmt.Errorf("default nodemap: %w", err)
		}
		def = n
	}

	reg := idmap.NewRegistry(def)

	for i := range cfg.Nodemaps {
		nmCfg := &cfg.Nodemaps[i]
		logger.Debug("Creating nodemap %q (ranges: %v, trusted: %v, admin: %v)",
			nmCfg.Name, nmCfg.Ranges, nmCfg.Trusted, nmCfg.Admin)

		n, err := idmap.NewNodemap(nodemapOptions(nmCfg))
		if err != nil {
			return nil, err
		}
		if err := reg.Add(n); err != nil {
			return nil, err
		}
	}

	logger.Debug("Registered %d nodemap(s), default %q", len(cfg.Nodemaps), reg.Default().Name)
	return reg, nil
}

func nodemapOptions(cfg *NodemapConfig) idmap.Options {
	return idmap.Options{
		Name:        cfg.Name,
		Ranges:      cfg.Ranges,
		Trusted:     cfg.Trusted,
		Admin:       cfg.Admin,
		DenyUnknown: cfg.DenyUnknown,
		SquashUID:   cfg.SquashUID,
		SquashGID:   cfg.SquashGID,
		UIDs:        idPairs(cfg.UIDs),
		GIDs:        idPairs(cfg.GIDs),
	}
}

func idPairs(maps []IDMapConfig) []idmap.IDPair {
	pairs := make([]idmap.IDPair, 0, len(maps))
	for _, m := range maps {
		pairs = append(pairs, idmap.IDPair{Client: m.Client, FS: m.FS})
	}
	return pairs
}
