// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Command server runs the Portway gateway: an authenticating, rate-limited
// reverse proxy with per-backend circuit breakers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/portway/internal/api"
	"github.com/tomtom215/portway/internal/breaker"
	"github.com/tomtom215/portway/internal/config"
	"github.com/tomtom215/portway/internal/health"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/route"
	"github.com/tomtom215/portway/internal/supervisor"
	"github.com/tomtom215/portway/internal/supervisor/services"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

// run wires the gateway together and blocks until shutdown.
// Exit codes: 0 after a clean drain, 1 on fatal startup error or when
// in-flight requests outlived the drain timeout and shutdown was forced.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Int("backends", len(cfg.Backends)).
		Msg("Starting Portway")

	table, err := route.NewTable(cfg.Backends)
	if err != nil {
		logging.Err(err).Msg("Invalid backend configuration")
		return 1
	}
	for _, rt := range table.Routes() {
		logging.Info().
			Str("service", rt.Name).
			Str("prefix", rt.Prefix).
			Str("backend", rt.BaseURL.String()).
			Strs("required_roles", rt.RequiredRoles).
			Msg("Route registered")
	}

	breakers := breaker.NewRegistry(
		table.Names(),
		breaker.SettingsFromConfig(cfg.Breaker),
		breaker.DefaultObservers()...,
	)
	aggregator := health.NewAggregator(table, breakers, nil, cfg.Health.ProbeTimeout)

	router, err := api.NewRouter(cfg, table, breakers, aggregator)
	if err != nil {
		logging.Err(err).Msg("Router construction failed")
		return 1
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.DrainTimeout = cfg.Server.DrainTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.DrainTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)
	logging.Info().Str("addr", server.Addr).Msg("Gateway listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			// Tree died before any signal: fatal startup failure (e.g. port in use).
			logging.Err(err).Msg("Supervisor tree terminated unexpectedly")
			return 1
		}

	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, draining in-flight requests")
		stop()

		// The tree's own Timeout abandons services that outlive the drain
		// window; the extra slack here only guards against a wedged supervisor.
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Err(err).Msg("Shutdown finished with error")
				return 1
			}
		case <-time.After(cfg.Server.DrainTimeout + 5*time.Second):
			logging.Error().Msg("Supervisor tree did not stop, forcing exit")
			return 1
		}
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within drain timeout")
		}
		logging.Warn().Msg("Shutdown was forced")
		return 1
	}

	logging.Info().Msg("Shutdown complete")
	return 0
}
