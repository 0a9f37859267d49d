// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package outbound

import (
	"context"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/logging"
)

// LogNotifier writes notifications to the application log. It is the default
// sink for deployments that have not wired a real delivery provider.
type LogNotifier struct{}

func (LogNotifier) SendNotification(_ context.Context, n alert.Notification) error {
	logging.Info().
		Str("notification_id", n.ID).
		Str("device_id", n.DeviceID).
		Str("owner_id", n.OwnerID).
		Str("category", string(n.Category)).
		Str("tier", string(n.Tier)).
		Str("title", n.Title).
		Msg("notification")
	return nil
}

// LogCommander logs lock commands instead of executing them.
type LogCommander struct{}

func (LogCommander) LockDevice(_ context.Context, cmd LockCommand) error {
	logging.Warn().
		Str("command_id", cmd.CommandID).
		Str("device_id", cmd.DeviceID).
		Str("reason", cmd.Reason).
		Msg("lock command (no device-command collaborator configured)")
	return nil
}
