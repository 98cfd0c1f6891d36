package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/objectfs/cachemgr/internal/cache"
	"github.com/objectfs/cachemgr/internal/metrics"
	"github.com/objectfs/cachemgr/pkg/api"
	"github.com/objectfs/cachemgr/pkg/health"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics endpoint and admin API",
		Long:  "Build the configured caches, then serve Prometheus metrics and the admin API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector, err := metrics.NewCollector(&metrics.Config{
				Enabled:   cfg.Metrics.Enabled,
				Port:      cfg.Metrics.Port,
				Path:      cfg.Metrics.Path,
				Namespace: cfg.Metrics.Namespace,
			})
			if err != nil {
				return err
			}

			m, err := cache.NewManagerFromConfig(ctx, cfg, logger, collector)
			if err != nil {
				return err
			}
			defer func() {
				if err := m.Close(); err != nil {
					logger.Warn("Failed to close stores", "error", err)
				}
			}()
			collector.SetSizeSource(m.Sizes)

			if err := collector.Start(ctx); err != nil {
				return err
			}

			tracker := health.NewTracker(health.TrackerConfig{
				HealthCheckInterval: cfg.Admin.HealthCheckInterval,
			})
			for _, component := range m.Components() {
				tracker.RegisterComponent(component)
			}
			tracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
				logger.Warn("Store health changed",
					"component", component,
					"from", oldState.String(),
					"to", newState.String(),
					"error", err)
			})
			go tracker.StartHealthChecks(ctx, m.Check)

			var server *api.Server
			if cfg.Admin.Enabled {
				serverCfg := api.DefaultServerConfig()
				serverCfg.Address = cfg.Admin.Address
				serverCfg.StatsMaxAge = cfg.Admin.StatsMaxAge

				server = api.NewServer(serverCfg, m, tracker,
					api.WithLogger(logger.With("component", "admin-api")),
					api.WithMetricsHandler(collector.Handler()))
				if err := server.Start(); err != nil {
					return fmt.Errorf("start admin API: %w", err)
				}
			}

			logger.Info("cachectl serving", "caches", m.Names())
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			var errs []error
			if server != nil {
				errs = append(errs, server.Shutdown(shutdownCtx))
			}
			errs = append(errs, collector.Stop(shutdownCtx))
			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Time allowed for servers to drain")

	return cmd
}

