// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/geo"
	"github.com/geosentry/geosentry/internal/outbound"
	"github.com/geosentry/geosentry/internal/risk"
	"github.com/geosentry/geosentry/internal/zone"
)

var (
	// ErrInvalidFix marks a report whose coordinates are outside the valid
	// latitude/longitude ranges. No state is touched for such a report.
	ErrInvalidFix = errors.New("invalid fix coordinates")

	// ErrInvalidReport marks a report rejected for any other reason
	// (missing device, missing owner, malformed email).
	ErrInvalidReport = errors.New("invalid report")

	// ErrUnknownDevice is returned for operations on a device that has no
	// buffered history.
	ErrUnknownDevice = errors.New("unknown device")
)

// Report is one incoming location update from a device agent.
type Report struct {
	DeviceID  string  `json:"device_id" validate:"required"`
	OwnerID   string  `json:"owner_id" validate:"required"`
	UserEmail string  `json:"user_email" validate:"omitempty,email"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`

	AccuracyMeters float64   `json:"accuracy_meters" validate:"gte=0"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	// Device telemetry passed through to notifications untouched.
	BatteryLevel *int              `json:"battery_level,omitempty"`
	Charging     *bool             `json:"charging,omitempty"`
	NetworkType  string            `json:"network_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Result is the record returned for each evaluated report.
type Result struct {
	DeviceID      string               `json:"device_id"`
	Fix           geo.Fix              `json:"fix"`
	ZoneEvents    []zone.Event         `json:"zone_events,omitempty"`
	Assessment    risk.Assessment      `json:"assessment"`
	Notifications []alert.Notification `json:"notifications,omitempty"`
	Suppressed    int                  `json:"suppressed"`
	LockRequested bool                 `json:"lock_requested"`
}

// ZoneRepository supplies the active zones for a device owner. Zone lifecycle
// lives outside the core; this is the read side the orchestrator consumes.
type ZoneRepository interface {
	ActiveZones(ctx context.Context, ownerID string) ([]zone.Zone, error)
}

// Publisher hands admitted notifications and lock commands to the delivery
// pipeline. Satisfied by *outbound.Pipeline.
type Publisher interface {
	PublishNotification(n alert.Notification) error
	PublishLock(cmd outbound.LockCommand) error
}
