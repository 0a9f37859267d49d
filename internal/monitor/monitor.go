// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package monitor periodically rescores online devices between reports.
// Risk is partly time-driven: a device that stops reporting while inside the
// night window, or sits still past a containment boundary change, only gets
// caught by these sweeps.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/geosentry/geosentry/internal/logging"
	"github.com/geosentry/geosentry/internal/tracking"
)

// Config holds the sweep settings.
type Config struct {
	// Interval between sweeps over the online device set.
	Interval time.Duration `koanf:"interval"`
}

// DefaultConfig returns the production sweep interval.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// Core is the slice of the orchestrator the monitor needs.
type Core interface {
	OnlineDevices() []string
	Reevaluate(ctx context.Context, deviceID string) (*tracking.Result, error)
}

// Service sweeps online devices on a fixed interval. It satisfies the
// supervision tree's service contract.
type Service struct {
	cfg  Config
	core Core
}

// New creates a monitor service.
func New(cfg Config, core Core) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Service{cfg: cfg, core: core}
}

// Serve runs sweeps until the context is canceled.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep rescores every online device. A device cleared mid-sweep is skipped;
// other failures are logged and the sweep continues.
func (s *Service) sweep(ctx context.Context) {
	devices := s.core.OnlineDevices()
	for _, deviceID := range devices {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.core.Reevaluate(ctx, deviceID); err != nil {
			if errors.Is(err, tracking.ErrUnknownDevice) {
				continue
			}
			logging.Warn().Err(err).Str("device_id", deviceID).Msg("periodic reevaluation failed")
		}
	}
	if len(devices) > 0 {
		logging.Debug().Int("devices", len(devices)).Msg("reevaluation sweep complete")
	}
}
