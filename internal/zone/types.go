// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package zone defines circular geofences and tracks per-device containment.
//
// Zone lifecycle (create, update, delete) is a collaborator concern; this
// package only evaluates fixes against the active zones it is handed and
// maintains the inside/outside state machine per (device, zone) pair.
package zone

import (
	"time"

	"github.com/geosentry/geosentry/internal/geo"
)

// Kind classifies a zone's purpose. The kind does not change containment
// geometry; it feeds alert wording and collaborator routing.
type Kind string

const (
	// KindSafe marks home/office areas; leaving one is the interesting event.
	KindSafe Kind = "SAFE"

	// KindRestricted marks areas the device should not be in; entering one
	// is the interesting event.
	KindRestricted Kind = "RESTRICTED"

	// KindWork tracks work presence.
	KindWork Kind = "WORK"

	// KindSchool tracks presence at an educational institution.
	KindSchool Kind = "SCHOOL"
)

// Zone is a circular geofence owned by a user.
type Zone struct {
	ID              int64   `json:"id"`
	OwnerID         string  `json:"owner_id"`
	Name            string  `json:"name"`
	CenterLatitude  float64 `json:"center_latitude" validate:"latitude"`
	CenterLongitude float64 `json:"center_longitude" validate:"longitude"`
	RadiusMeters    float64 `json:"radius_meters" validate:"gt=0"`
	Kind            Kind    `json:"kind"`
	AlertOnEntry    bool    `json:"alert_on_entry"`
	AlertOnExit     bool    `json:"alert_on_exit"`
	AutoLockOnExit  bool    `json:"auto_lock_on_exit"`
	Active          bool    `json:"active"`
}

// ContainsPoint reports whether the coordinate lies within the zone's radius.
func (z Zone) ContainsPoint(lat, lon float64) bool {
	return geo.DistanceMeters(z.CenterLatitude, z.CenterLongitude, lat, lon) <= z.RadiusMeters
}

// EventType distinguishes containment transitions.
type EventType string

const (
	// EventEntry fires when a device crosses from outside to inside.
	EventEntry EventType = "entry"

	// EventExit fires when a device crosses from inside to outside.
	EventExit EventType = "exit"
)

// Event is a single containment transition for a (device, zone) pair.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"device_id"`
	Zone     Zone      `json:"zone"`
	Fix      geo.Fix   `json:"fix"`
	At       time.Time `json:"at"`

	// Notify is false when the zone's alert flag suppresses delivery for
	// this transition direction. The state transition itself still happened.
	Notify bool `json:"notify"`

	// RequestLock is set on exit events from zones with AutoLockOnExit.
	RequestLock bool `json:"request_lock"`
}
