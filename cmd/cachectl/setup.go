package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/cachemgr/internal/cache"
	"github.com/objectfs/cachemgr/internal/config"
	"github.com/objectfs/cachemgr/pkg/utils"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

// load reads the configuration file, applies CACHEMGR_* overrides and
// installs the configured logger
func (o *globalOptions) load() (*config.Configuration, *slog.Logger, error) {
	cfg := config.NewDefault()
	if o.configFile != "" {
		if err := cfg.LoadFromFile(o.configFile); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Global.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// manager builds a manager from configuration without metrics
func (o *globalOptions) manager(ctx context.Context) (*cache.Manager, *config.Configuration, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	m, err := cache.NewManagerFromConfig(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}
