// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package risk fuses speed, location, time and pattern anomaly signals into
// a single theft-likelihood score and action tier.
package risk

import (
	"time"
)

// Tier is a discretized theft-likelihood bucket.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierVeryHigh Tier = "VERY_HIGH"
)

// Assessment is the result of one risk evaluation. Every score is in [0,1].
type Assessment struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	SpeedScore    float64 `json:"speed_score"`
	LocationScore float64 `json:"location_score"`
	TimeScore     float64 `json:"time_score"`
	PatternScore  float64 `json:"pattern_score"`

	RiskScore         float64 `json:"risk_score"`
	Tier              Tier    `json:"tier"`
	RecommendedAction string  `json:"recommended_action"`
}

// Config holds the scoring policy. The thresholds are operational policy
// constants carried over from the production deployment, not derived values;
// they are configurable rather than hardcoded for exactly that reason.
type Config struct {
	// HighSpeedKmh is the speed above which movement is scored as
	// vehicle flight (0.9).
	HighSpeedKmh float64 `koanf:"high_speed_kmh"`

	// WalkingSpeedKmh is the pace above which night movement counts as
	// suspicious.
	WalkingSpeedKmh float64 `koanf:"walking_speed_kmh"`

	// AccelerationKmh is the speed delta between consecutive legs that
	// scores as a snatch acceleration (0.7).
	AccelerationKmh float64 `koanf:"acceleration_kmh"`

	// SpeedStdDevThreshold is the speed standard deviation over the
	// variance window that scores as erratic movement (0.5).
	SpeedStdDevThreshold float64 `koanf:"speed_stddev_threshold"`

	// VarianceWindow is how many recent fixes feed the variance estimate.
	VarianceWindow int `koanf:"variance_window"`

	// FrequentRadiusMeters is the "known place" radius for location scoring.
	FrequentRadiusMeters float64 `koanf:"frequent_radius_meters"`

	// FarFromBaseMeters is the distance from home and work beyond which
	// the location score gets its second increment.
	FarFromBaseMeters float64 `koanf:"far_from_base_meters"`

	// NearWorkMeters is the radius within which the device counts as
	// present at the known work location.
	NearWorkMeters float64 `koanf:"near_work_meters"`

	// NightStartHour and NightEndHour bound the suspicious-movement night
	// window (inclusive, wrapping midnight).
	NightStartHour int `koanf:"night_start_hour"`
	NightEndHour   int `koanf:"night_end_hour"`

	// MinPatternObservations gates the pattern factor: below this many
	// observed points it stays neutral.
	MinPatternObservations int `koanf:"min_pattern_observations"`

	// SpeedWeight, LocationWeight, TimeWeight and PatternWeight are the
	// fusion weights. They should sum to 1.
	SpeedWeight    float64 `koanf:"speed_weight"`
	LocationWeight float64 `koanf:"location_weight"`
	TimeWeight     float64 `koanf:"time_weight"`
	PatternWeight  float64 `koanf:"pattern_weight"`

	// CompoundBoost multiplies the fused score when at least
	// CompoundMinFactors sub-scores exceed CompoundThreshold.
	CompoundBoost      float64 `koanf:"compound_boost"`
	CompoundThreshold  float64 `koanf:"compound_threshold"`
	CompoundMinFactors int     `koanf:"compound_min_factors"`

	// VeryHighThreshold, HighThreshold and MediumThreshold are the exact
	// tier boundaries (inclusive).
	VeryHighThreshold float64 `koanf:"very_high_threshold"`
	HighThreshold     float64 `koanf:"high_threshold"`
	MediumThreshold   float64 `koanf:"medium_threshold"`
}

// DefaultConfig returns the production scoring policy.
func DefaultConfig() Config {
	return Config{
		HighSpeedKmh:           60,
		WalkingSpeedKmh:        8,
		AccelerationKmh:        30,
		SpeedStdDevThreshold:   25,
		VarianceWindow:         10,
		FrequentRadiusMeters:   500,
		FarFromBaseMeters:      50000,
		NearWorkMeters:         1000,
		NightStartHour:         23,
		NightEndHour:           6,
		MinPatternObservations: 50,
		SpeedWeight:            0.4,
		LocationWeight:         0.3,
		TimeWeight:             0.2,
		PatternWeight:          0.1,
		CompoundBoost:          1.2,
		CompoundThreshold:      0.6,
		CompoundMinFactors:     2,
		VeryHighThreshold:      0.8,
		HighThreshold:          0.6,
		MediumThreshold:        0.4,
	}
}
