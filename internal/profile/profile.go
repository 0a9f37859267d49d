// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package profile learns a per-device behavioral summary online.
//
// The heuristics are deliberately simple single-pass rules, not clustering:
// the first fix seen during the night window becomes home, the first weekday
// office-hours fix becomes work, and distinct locations accumulate into a
// capped frequent-location set. The goal is to bootstrap risk scoring from a
// cold start without batch analysis of historical data; none of the learned
// values carry statistical guarantees.
package profile

import (
	"sync"
	"time"

	"github.com/geosentry/geosentry/internal/geo"
)

// Config holds the profile learning policy constants.
type Config struct {
	// RevisitRadiusMeters is how close a fix must be to an existing
	// frequent location to count as a revisit rather than a new place.
	RevisitRadiusMeters float64 `koanf:"revisit_radius_meters"`

	// MaxFrequentLocations caps the frequent-location set per device.
	// Beyond the cap the least recently confirmed entry is evicted.
	MaxFrequentLocations int `koanf:"max_frequent_locations"`

	// NightStartHour and NightEndHour bound the home-adoption window
	// (inclusive, wrapping midnight): hour >= start or hour <= end.
	NightStartHour int `koanf:"night_start_hour"`
	NightEndHour   int `koanf:"night_end_hour"`

	// WorkStartHour and WorkEndHour bound the weekday work window
	// (inclusive on both ends).
	WorkStartHour int `koanf:"work_start_hour"`
	WorkEndHour   int `koanf:"work_end_hour"`

	// MinPatternObservations is the observation count below which the
	// pattern anomaly factor stays neutral.
	MinPatternObservations int `koanf:"min_pattern_observations"`
}

// DefaultConfig returns the learning policy from the production deployment.
func DefaultConfig() Config {
	return Config{
		RevisitRadiusMeters:    500,
		MaxFrequentLocations:   50,
		NightStartHour:         22,
		NightEndHour:           6,
		WorkStartHour:          9,
		WorkEndHour:            17,
		MinPatternObservations: 50,
	}
}

// FrequentLocation is one learned recurring place for a device.
type FrequentLocation struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	FirstSeen     time.Time `json:"first_seen"`
	LastConfirmed time.Time `json:"last_confirmed"`
	Visits        int       `json:"visits"`
}

// Profile is an immutable snapshot of a device's learned behavior.
type Profile struct {
	DeviceID     string             `json:"device_id"`
	Home         *geo.Fix           `json:"home,omitempty"`
	Work         *geo.Fix           `json:"work,omitempty"`
	Frequent     []FrequentLocation `json:"frequent_locations"`
	Observations int                `json:"observations"`

	workStartHour int
	workEndHour   int
}

// HasWorkSchedule reports whether a work location has been learned.
func (p Profile) HasWorkSchedule() bool {
	return p.Work != nil
}

// IsWorkTime reports whether t falls in the weekday work window.
func (p Profile) IsWorkTime(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hour := t.Hour()
	return hour >= p.workStartHour && hour <= p.workEndHour
}

// NearFrequent reports whether the coordinate lies within radiusMeters of
// any learned frequent location.
func (p Profile) NearFrequent(lat, lon, radiusMeters float64) bool {
	for _, fl := range p.Frequent {
		if geo.DistanceMeters(fl.Latitude, fl.Longitude, lat, lon) < radiusMeters {
			return true
		}
	}
	return false
}

// record is the mutable per-device learning state.
type record struct {
	home         *geo.Fix
	work         *geo.Fix
	frequent     []FrequentLocation
	observations int
}

// Store holds behavior profiles for all tracked devices.
// Safe for concurrent use.
type Store struct {
	cfg Config

	mu      sync.RWMutex
	devices map[string]*record
}

// NewStore creates a profile store with the given learning policy.
// Zero-valued policy fields fall back to defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.RevisitRadiusMeters <= 0 {
		cfg.RevisitRadiusMeters = def.RevisitRadiusMeters
	}
	if cfg.MaxFrequentLocations <= 0 {
		cfg.MaxFrequentLocations = def.MaxFrequentLocations
	}
	if cfg.NightStartHour == 0 && cfg.NightEndHour == 0 {
		cfg.NightStartHour = def.NightStartHour
		cfg.NightEndHour = def.NightEndHour
	}
	if cfg.WorkStartHour == 0 {
		cfg.WorkStartHour = def.WorkStartHour
	}
	if cfg.WorkEndHour == 0 {
		cfg.WorkEndHour = def.WorkEndHour
	}
	if cfg.MinPatternObservations == 0 {
		cfg.MinPatternObservations = def.MinPatternObservations
	}
	return &Store{
		cfg:     cfg,
		devices: make(map[string]*record),
	}
}

// Config returns the store's learning policy.
func (s *Store) Config() Config {
	return s.cfg
}

// Observe folds one fix into the device's profile.
func (s *Store) Observe(fix geo.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[fix.DeviceID]
	if !ok {
		rec = &record{}
		s.devices[fix.DeviceID] = rec
	}
	rec.observations++

	if rec.home == nil && s.isNightHour(fix.Timestamp.Hour()) {
		home := fix
		rec.home = &home
	}
	if rec.work == nil && s.isWorkTime(fix.Timestamp) {
		work := fix
		rec.work = &work
	}

	s.observeFrequent(rec, fix)
}

// observeFrequent updates the frequent-location set for one fix.
// Must be called with s.mu held.
func (s *Store) observeFrequent(rec *record, fix geo.Fix) {
	for i := range rec.frequent {
		fl := &rec.frequent[i]
		if geo.DistanceMeters(fl.Latitude, fl.Longitude, fix.Latitude, fix.Longitude) < s.cfg.RevisitRadiusMeters {
			fl.LastConfirmed = fix.Timestamp
			fl.Visits++
			return
		}
	}

	if len(rec.frequent) >= s.cfg.MaxFrequentLocations {
		s.evictStalest(rec)
	}

	rec.frequent = append(rec.frequent, FrequentLocation{
		Latitude:      fix.Latitude,
		Longitude:     fix.Longitude,
		FirstSeen:     fix.Timestamp,
		LastConfirmed: fix.Timestamp,
		Visits:        1,
	})
}

// evictStalest drops the least recently confirmed frequent location.
// Must be called with s.mu held.
func (s *Store) evictStalest(rec *record) {
	if len(rec.frequent) == 0 {
		return
	}
	stalest := 0
	for i := 1; i < len(rec.frequent); i++ {
		if rec.frequent[i].LastConfirmed.Before(rec.frequent[stalest].LastConfirmed) {
			stalest = i
		}
	}
	rec.frequent = append(rec.frequent[:stalest], rec.frequent[stalest+1:]...)
}

func (s *Store) isNightHour(hour int) bool {
	return hour >= s.cfg.NightStartHour || hour <= s.cfg.NightEndHour
}

func (s *Store) isWorkTime(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hour := t.Hour()
	return hour >= s.cfg.WorkStartHour && hour <= s.cfg.WorkEndHour
}

// Snapshot returns a copy of the device's profile. The second return is
// false when the device has never been observed.
func (s *Store) Snapshot(deviceID string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.devices[deviceID]
	if !ok {
		return Profile{}, false
	}

	p := Profile{
		DeviceID:      deviceID,
		Observations:  rec.observations,
		workStartHour: s.cfg.WorkStartHour,
		workEndHour:   s.cfg.WorkEndHour,
	}
	if rec.home != nil {
		home := *rec.home
		p.Home = &home
	}
	if rec.work != nil {
		work := *rec.work
		p.Work = &work
	}
	if len(rec.frequent) > 0 {
		p.Frequent = make([]FrequentLocation, len(rec.frequent))
		copy(p.Frequent, rec.frequent)
	}
	return p, true
}

// Clear removes the device's profile entirely.
func (s *Store) Clear(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, deviceID)
}
