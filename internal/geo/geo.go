// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package geo provides pure great-circle geometry and kinematics helpers.
//
// All functions are stateless and total: degenerate input (identical points,
// zero or near-zero time deltas) yields 0 rather than an error or a division
// blow-up. This is a documented policy, not an accident - near-duplicate
// fixes from jittery GPS agents are routine and must not produce infinite
// speeds.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// CoordinateEpsilon is the threshold below which two coordinate components
// are considered equal. 1e-7 degrees is roughly 1.1 cm at the equator, well
// below GPS accuracy, while avoiding direct float equality comparison.
const CoordinateEpsilon = 1e-7

// minElapsedHours is the smallest time delta considered meaningful for speed
// derivation. Anything at or below this (3.6 microseconds) is treated as a
// duplicate timestamp and yields speed 0.
const minElapsedHours = 1e-9

// Fix is a single timestamped location observation for a device.
// Immutable once created.
type Fix struct {
	DeviceID       string    `json:"device_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`

	// ReportedSpeedKmh is the speed claimed by the reporting agent, if any.
	// Derived speed from consecutive fixes is authoritative for scoring;
	// this value is carried through untouched.
	ReportedSpeedKmh *float64 `json:"reported_speed_kmh,omitempty"`
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the Haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// FixDistanceMeters returns the great-circle distance between two fixes.
func FixDistanceMeters(a, b Fix) float64 {
	return DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// SpeedKmh derives the average speed between two consecutive fixes.
// Returns 0 when the elapsed time is zero, negative (out-of-order fixes)
// or below minElapsedHours.
func SpeedKmh(prev, curr Fix) float64 {
	elapsedHours := curr.Timestamp.Sub(prev.Timestamp).Hours()
	if elapsedHours <= minElapsedHours {
		return 0
	}
	return FixDistanceMeters(prev, curr) / 1000.0 / elapsedHours
}

// BearingRadians returns the initial bearing from a to b in radians,
// measured clockwise from north, in the range (-pi, pi].
func BearingRadians(a, b Fix) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180.0

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return math.Atan2(y, x)
}

// SameCoordinate reports whether two coordinates are equal within
// CoordinateEpsilon on both axes.
func SameCoordinate(lat1, lon1, lat2, lon2 float64) bool {
	return math.Abs(lat1-lat2) < CoordinateEpsilon && math.Abs(lon1-lon2) < CoordinateEpsilon
}
