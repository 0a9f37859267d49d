// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package main is the entry point for the Geosentry tracking server.
//
// Geosentry tracks device locations, detects geofence boundary crossings and
// scores theft likelihood from movement anomalies. The server assembles the
// tracking core, the outbound delivery pipeline, the periodic risk monitor and
// the operational HTTP endpoints under a supervision tree.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file and environment (Koanf v2)
//  2. Logging: zerolog, JSON or console output
//  3. Tracking core: history buffer, zone tracker, behavior profiles,
//     risk scorer, alert dispatcher and the orchestrator tying them together
//  4. Outbound pipeline: Watermill router delivering notifications and
//     device lock commands to their sinks
//  5. Periodic monitor: rescores online devices between reports
//  6. HTTP server: health, readiness and Prometheus metrics
//  7. Supervision tree: restarts crashed services with failure isolation
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins):
//   - Environment variables with the GEOSENTRY_ prefix
//   - Config file (config.yaml, /etc/geosentry/config.yaml or -config flag)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the supervision
// tree stops its services, the HTTP server drains in-flight requests and the
// delivery pipeline closes its router.
//
// # Example Usage
//
//	export GEOSENTRY_LOGGING_LEVEL=debug
//	export GEOSENTRY_SERVER_ADDR=:8080
//	./geosentry -config /etc/geosentry/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/api"
	"github.com/geosentry/geosentry/internal/config"
	"github.com/geosentry/geosentry/internal/history"
	"github.com/geosentry/geosentry/internal/logging"
	"github.com/geosentry/geosentry/internal/monitor"
	"github.com/geosentry/geosentry/internal/outbound"
	"github.com/geosentry/geosentry/internal/profile"
	"github.com/geosentry/geosentry/internal/risk"
	"github.com/geosentry/geosentry/internal/supervisor"
	"github.com/geosentry/geosentry/internal/tracking"
	"github.com/geosentry/geosentry/internal/zone"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (overrides search paths)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(cfg.Logging)
	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("log_level", cfg.Logging.Level).
		Msg("starting geosentry")

	// Tracking core.
	buffer := history.NewBuffer(cfg.History.Capacity)
	tracker := zone.NewTracker()
	profiles := profile.NewStore(cfg.Profile)
	scorer := risk.NewScorer(cfg.Risk)
	dispatcher := alert.NewDispatcher(cfg.Alert)
	zones := tracking.NewMemoryZoneRepository()

	pipeline, err := outbound.NewPipeline(cfg.Outbound, outbound.LogNotifier{}, outbound.LogCommander{})
	if err != nil {
		return fmt.Errorf("build delivery pipeline: %w", err)
	}

	core, err := tracking.New(cfg.Tracking, tracking.Deps{
		History:    buffer,
		Tracker:    tracker,
		Profiles:   profiles,
		Scorer:     scorer,
		Dispatcher: dispatcher,
		Zones:      zones,
		Publisher:  pipeline,
	})
	if err != nil {
		return fmt.Errorf("build tracking core: %w", err)
	}

	sweeper := monitor.New(cfg.Monitor, core)

	server := api.NewServer(cfg.Server,
		api.ReadyCheck{Name: "delivery", Check: func() bool {
			select {
			case <-pipeline.Running():
				return true
			default:
				return false
			}
		}},
	)

	// Supervision tree: delivery, core and API layers restart independently.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		return fmt.Errorf("build supervision tree: %w", err)
	}
	tree.AddDeliveryService(pipeline)
	tree.AddCoreService(sweeper)
	tree.AddAPIService(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervision tree exited with error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supervision tree: %w", err)
		}
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services did not stop within timeout")
	}
	if err := pipeline.Close(); err != nil {
		logging.Error().Err(err).Msg("delivery pipeline close failed")
	}

	logging.Info().Msg("shutdown complete")
	return nil
}
