// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package risk

import (
	"math"
	"time"

	"github.com/geosentry/geosentry/internal/geo"
	"github.com/geosentry/geosentry/internal/profile"
)

// Scorer computes theft-likelihood assessments from recent movement and a
// learned behavior profile. Safe for concurrent use.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides the evaluation clock. Tests use this to pin the
// time-of-day factors.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a scorer. Zero-valued policy fields fall back to defaults.
func NewScorer(cfg Config, opts ...Option) *Scorer {
	def := DefaultConfig()
	if cfg.HighSpeedKmh <= 0 {
		cfg.HighSpeedKmh = def.HighSpeedKmh
	}
	if cfg.WalkingSpeedKmh <= 0 {
		cfg.WalkingSpeedKmh = def.WalkingSpeedKmh
	}
	if cfg.AccelerationKmh <= 0 {
		cfg.AccelerationKmh = def.AccelerationKmh
	}
	if cfg.SpeedStdDevThreshold <= 0 {
		cfg.SpeedStdDevThreshold = def.SpeedStdDevThreshold
	}
	if cfg.VarianceWindow <= 0 {
		cfg.VarianceWindow = def.VarianceWindow
	}
	if cfg.FrequentRadiusMeters <= 0 {
		cfg.FrequentRadiusMeters = def.FrequentRadiusMeters
	}
	if cfg.FarFromBaseMeters <= 0 {
		cfg.FarFromBaseMeters = def.FarFromBaseMeters
	}
	if cfg.NearWorkMeters <= 0 {
		cfg.NearWorkMeters = def.NearWorkMeters
	}
	if cfg.NightStartHour == 0 && cfg.NightEndHour == 0 {
		cfg.NightStartHour = def.NightStartHour
		cfg.NightEndHour = def.NightEndHour
	}
	if cfg.MinPatternObservations <= 0 {
		cfg.MinPatternObservations = def.MinPatternObservations
	}
	if cfg.SpeedWeight == 0 && cfg.LocationWeight == 0 && cfg.TimeWeight == 0 && cfg.PatternWeight == 0 {
		cfg.SpeedWeight = def.SpeedWeight
		cfg.LocationWeight = def.LocationWeight
		cfg.TimeWeight = def.TimeWeight
		cfg.PatternWeight = def.PatternWeight
	}
	if cfg.CompoundBoost <= 0 {
		cfg.CompoundBoost = def.CompoundBoost
	}
	if cfg.CompoundThreshold <= 0 {
		cfg.CompoundThreshold = def.CompoundThreshold
	}
	if cfg.CompoundMinFactors <= 0 {
		cfg.CompoundMinFactors = def.CompoundMinFactors
	}
	if cfg.VeryHighThreshold <= 0 {
		cfg.VeryHighThreshold = def.VeryHighThreshold
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = def.MediumThreshold
	}
	s := &Scorer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scoring policy in effect.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Assess evaluates the device's recent fixes (newest first, as returned by
// the history buffer) against its behavior profile. A nil profile means the
// device has no learned behavior yet; location and pattern factors stay
// neutral in that case. With no fixes at all the assessment is zero-risk.
func (s *Scorer) Assess(deviceID string, recent []geo.Fix, prof *profile.Profile) Assessment {
	a := Assessment{DeviceID: deviceID, Timestamp: s.now().UTC()}
	if len(recent) == 0 {
		a.Tier, a.RecommendedAction = s.tier(0)
		return a
	}

	current := recent[0]
	a.Timestamp = current.Timestamp
	speed := currentSpeed(recent)

	a.SpeedScore = s.speedScore(recent, speed)
	a.LocationScore = s.locationScore(prof, current)
	a.TimeScore = s.timeScore(prof, current, speed)
	a.PatternScore = s.patternScore(prof)

	risk := s.cfg.SpeedWeight*a.SpeedScore +
		s.cfg.LocationWeight*a.LocationScore +
		s.cfg.TimeWeight*a.TimeScore +
		s.cfg.PatternWeight*a.PatternScore

	elevated := 0
	for _, sub := range []float64{a.SpeedScore, a.LocationScore, a.TimeScore, a.PatternScore} {
		if sub > s.cfg.CompoundThreshold {
			elevated++
		}
	}
	if elevated >= s.cfg.CompoundMinFactors {
		risk *= s.cfg.CompoundBoost
	}

	a.RiskScore = clamp01(risk)
	a.Tier, a.RecommendedAction = s.tier(a.RiskScore)
	return a
}

// currentSpeed is the speed over the most recent leg, km/h.
func currentSpeed(recent []geo.Fix) float64 {
	if len(recent) < 2 {
		return 0
	}
	return geo.SpeedKmh(recent[1], recent[0])
}

// speedScore grades the movement itself. The checks run from most to least
// alarming; the first match wins.
func (s *Scorer) speedScore(recent []geo.Fix, speed float64) float64 {
	if len(recent) < 2 {
		return 0
	}

	if speed > s.cfg.HighSpeedKmh {
		return 0.9
	}

	if len(recent) >= 3 {
		prevLeg := geo.SpeedKmh(recent[2], recent[1])
		if math.Abs(speed-prevLeg) > s.cfg.AccelerationKmh {
			return 0.7
		}
	}

	if stdDev(legSpeeds(recent, s.cfg.VarianceWindow)) > s.cfg.SpeedStdDevThreshold {
		return 0.5
	}

	return clamp01(speed / s.cfg.HighSpeedKmh * 0.3)
}

// legSpeeds returns the km/h speed of each consecutive leg among the newest
// `window` fixes.
func legSpeeds(recent []geo.Fix, window int) []float64 {
	if window > len(recent) {
		window = len(recent)
	}
	if window < 2 {
		return nil
	}
	speeds := make([]float64, 0, window-1)
	for i := 0; i < window-1; i++ {
		speeds = append(speeds, geo.SpeedKmh(recent[i+1], recent[i]))
	}
	return speeds
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// locationScore grades where the device is relative to its learned places.
// Without a profile there is nothing to judge against, so it stays 0.
func (s *Scorer) locationScore(prof *profile.Profile, fix geo.Fix) float64 {
	if prof == nil {
		return 0
	}
	if prof.NearFrequent(fix.Latitude, fix.Longitude, s.cfg.FrequentRadiusMeters) {
		return 0
	}

	score := 0.4
	if s.farFromBases(prof, fix) {
		score += 0.4
	}
	return clamp01(score)
}

// farFromBases reports whether the fix is beyond the far threshold from every
// known base (home, work). At least one base must be known.
func (s *Scorer) farFromBases(prof *profile.Profile, fix geo.Fix) bool {
	known := false
	for _, base := range []*geo.Fix{prof.Home, prof.Work} {
		if base == nil {
			continue
		}
		known = true
		if geo.DistanceMeters(base.Latitude, base.Longitude, fix.Latitude, fix.Longitude) <= s.cfg.FarFromBaseMeters {
			return false
		}
	}
	return known
}

// timeScore grades movement against the time of day and the learned schedule.
// It reads the evaluation clock rather than the fix timestamp, so periodic
// rescoring picks up a device still moving as the clock crosses into the
// night window.
func (s *Scorer) timeScore(prof *profile.Profile, fix geo.Fix, speed float64) float64 {
	var score float64

	at := s.now()
	hour := at.Hour()
	if (hour >= s.cfg.NightStartHour || hour <= s.cfg.NightEndHour) && speed > s.cfg.WalkingSpeedKmh {
		score += 0.6
	}

	if prof != nil && prof.HasWorkSchedule() && prof.IsWorkTime(at) {
		d := geo.DistanceMeters(prof.Work.Latitude, prof.Work.Longitude, fix.Latitude, fix.Longitude)
		if d > s.cfg.NearWorkMeters {
			score += 0.3
		}
	}

	return clamp01(score)
}

// patternScore is an extension point for trajectory-vs-routine comparison.
// It stays neutral until the profile has enough history to be meaningful.
func (s *Scorer) patternScore(prof *profile.Profile) float64 {
	if prof == nil || prof.Observations < s.cfg.MinPatternObservations {
		return 0
	}
	// Enough history exists here to compare the current trajectory against
	// the device's routine; until that comparison lands, stay neutral.
	return 0
}

// tier maps a fused risk score to its bucket and recommended action.
// Boundaries are inclusive.
func (s *Scorer) tier(risk float64) (Tier, string) {
	switch {
	case risk >= s.cfg.VeryHighThreshold:
		return TierVeryHigh, "lock device and alert now"
	case risk >= s.cfg.HighThreshold:
		return TierHigh, "alert and monitor"
	case risk >= s.cfg.MediumThreshold:
		return TierMedium, "monitor closely"
	default:
		return TierLow, "normal monitoring"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
