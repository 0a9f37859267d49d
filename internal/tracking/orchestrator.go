// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package tracking is the entry point of the core: every incoming location
// report flows through the Orchestrator, which validates it, updates history,
// evaluates geofence containment, scores theft risk, folds the fix into the
// behavior profile and dispatches whatever alerts survive suppression.
package tracking

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/geo"
	"github.com/geosentry/geosentry/internal/history"
	"github.com/geosentry/geosentry/internal/logging"
	"github.com/geosentry/geosentry/internal/metrics"
	"github.com/geosentry/geosentry/internal/outbound"
	"github.com/geosentry/geosentry/internal/profile"
	"github.com/geosentry/geosentry/internal/risk"
	"github.com/geosentry/geosentry/internal/validation"
	"github.com/geosentry/geosentry/internal/zone"
)

// Config holds the orchestrator settings.
type Config struct {
	// Stripes is the size of the per-device lock pool. Reports for the
	// same device serialize on one stripe; different devices usually
	// proceed in parallel.
	Stripes int `koanf:"stripes"`

	// RecentWindow is how many buffered fixes feed each risk evaluation.
	RecentWindow int `koanf:"recent_window"`

	// OnlineWindow is how recently a device must have reported to be
	// picked up by periodic reevaluation.
	OnlineWindow time.Duration `koanf:"online_window"`
}

// DefaultConfig returns production orchestrator settings.
func DefaultConfig() Config {
	return Config{
		Stripes:      64,
		RecentWindow: 10,
		OnlineWindow: 5 * time.Minute,
	}
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	History    *history.Buffer
	Tracker    *zone.Tracker
	Profiles   *profile.Store
	Scorer     *risk.Scorer
	Dispatcher *alert.Dispatcher
	Zones      ZoneRepository
	Publisher  Publisher
}

// deviceMeta is the per-device report context kept for reevaluation.
type deviceMeta struct {
	ownerID   string
	userEmail string
	lastSeen  time.Time
}

// Orchestrator wires the tracking core together. Safe for concurrent use;
// reports for one device are processed strictly in arrival order.
type Orchestrator struct {
	cfg  Config
	deps Deps

	stripes []sync.Mutex

	zoneMu    sync.RWMutex
	zoneCache map[string][]zone.Zone

	metaMu sync.RWMutex
	meta   map[string]*deviceMeta
}

// New creates an orchestrator. All dependencies are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.History == nil || deps.Tracker == nil || deps.Profiles == nil ||
		deps.Scorer == nil || deps.Dispatcher == nil || deps.Zones == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("tracking: all dependencies are required")
	}
	def := DefaultConfig()
	if cfg.Stripes <= 0 {
		cfg.Stripes = def.Stripes
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = def.OnlineWindow
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		stripes:   make([]sync.Mutex, cfg.Stripes),
		zoneCache: make(map[string][]zone.Zone),
		meta:      make(map[string]*deviceMeta),
	}, nil
}

func (o *Orchestrator) stripe(deviceID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return &o.stripes[h.Sum32()%uint32(len(o.stripes))]
}

// OnLocationReport evaluates one incoming report. Validation failures reject
// the report before any state changes; collaborator failures downstream are
// logged and do not fail the evaluation.
func (o *Orchestrator) OnLocationReport(ctx context.Context, rep Report) (*Result, error) {
	start := time.Now()

	if err := validateReport(rep); err != nil {
		return nil, err
	}
	if rep.Timestamp.IsZero() {
		rep.Timestamp = time.Now().UTC()
	}

	mu := o.stripe(rep.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	fix := geo.Fix{
		DeviceID:         rep.DeviceID,
		Latitude:         rep.Latitude,
		Longitude:        rep.Longitude,
		AccuracyMeters:   rep.AccuracyMeters,
		Timestamp:        rep.Timestamp,
		ReportedSpeedKmh: rep.SpeedKmh,
	}

	// Profile state from before this fix judges the fix; the fix itself
	// only updates the profile afterwards.
	prof := o.snapshotProfile(rep.DeviceID)

	o.deps.History.Push(fix)
	recent := o.deps.History.Recent(rep.DeviceID, o.cfg.RecentWindow)

	zones := o.activeZones(ctx, rep.OwnerID)
	events := o.deps.Tracker.Evaluate(zones, fix)
	for _, ev := range events {
		metrics.ZoneEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	assessment := o.deps.Scorer.Assess(rep.DeviceID, recent, prof)
	metrics.RiskAssessments.WithLabelValues(string(assessment.Tier)).Inc()

	o.deps.Profiles.Observe(fix)
	o.touchDevice(rep)

	result := &Result{
		DeviceID:   rep.DeviceID,
		Fix:        fix,
		ZoneEvents: events,
		Assessment: assessment,
	}
	o.dispatch(rep, events, assessment, result)

	metrics.ReportsProcessed.Inc()
	metrics.TrackedDevices.Set(float64(len(o.deps.History.Devices())))
	metrics.ObserveEvaluation(start)

	logging.Debug().
		Str("device_id", rep.DeviceID).
		Float64("risk", assessment.RiskScore).
		Str("tier", string(assessment.Tier)).
		Int("zone_events", len(events)).
		Msg("report evaluated")

	return result, nil
}

// Reevaluate rescores a device from its buffered history without a new fix.
// The periodic monitor uses this to catch time-driven risk changes (a device
// that keeps moving into the night window, for example).
func (o *Orchestrator) Reevaluate(ctx context.Context, deviceID string) (*Result, error) {
	mu := o.stripe(deviceID)
	mu.Lock()
	defer mu.Unlock()

	o.metaMu.RLock()
	m, ok := o.meta[deviceID]
	o.metaMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	recent := o.deps.History.Recent(deviceID, o.cfg.RecentWindow)
	if len(recent) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	prof := o.snapshotProfile(deviceID)
	assessment := o.deps.Scorer.Assess(deviceID, recent, prof)
	metrics.RiskAssessments.WithLabelValues(string(assessment.Tier)).Inc()

	rep := Report{DeviceID: deviceID, OwnerID: m.ownerID, UserEmail: m.userEmail}
	result := &Result{
		DeviceID:   deviceID,
		Fix:        recent[0],
		Assessment: assessment,
	}
	o.dispatch(rep, nil, assessment, result)
	return result, nil
}

// ClearDevice removes every trace of a device: history, containment states,
// behavior profile and alert suppression records. The next report starts
// from a blank slate.
func (o *Orchestrator) ClearDevice(deviceID string) {
	mu := o.stripe(deviceID)
	mu.Lock()
	defer mu.Unlock()

	o.deps.History.Clear(deviceID)
	o.deps.Tracker.ClearDevice(deviceID)
	o.deps.Profiles.Clear(deviceID)
	o.deps.Dispatcher.ClearDevice(deviceID)

	o.metaMu.Lock()
	delete(o.meta, deviceID)
	o.metaMu.Unlock()

	metrics.TrackedDevices.Set(float64(len(o.deps.History.Devices())))
	logging.Info().Str("device_id", deviceID).Msg("device state cleared")
}

// OnZoneSetChanged invalidates the cached zone set after a collaborator
// creates, updates or deactivates zones for an owner.
func (o *Orchestrator) OnZoneSetChanged(ownerID string) {
	o.zoneMu.Lock()
	delete(o.zoneCache, ownerID)
	o.zoneMu.Unlock()
}

// OnZoneRemoved drops all containment state for a deleted zone and refreshes
// the owner's cached zone set.
func (o *Orchestrator) OnZoneRemoved(ownerID string, zoneID int64) {
	o.deps.Tracker.ClearZone(zoneID)
	o.OnZoneSetChanged(ownerID)
}

// OnlineDevices lists devices that reported within the online window.
func (o *Orchestrator) OnlineDevices() []string {
	o.metaMu.RLock()
	defer o.metaMu.RUnlock()

	cutoff := time.Now().Add(-o.cfg.OnlineWindow)
	var ids []string
	for id, m := range o.meta {
		if m.lastSeen.After(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// validateReport rejects malformed reports. Coordinate range failures map to
// ErrInvalidFix; everything else maps to ErrInvalidReport.
func validateReport(rep Report) error {
	if math.Abs(rep.Latitude) > 90 || math.Abs(rep.Longitude) > 180 {
		metrics.ReportsRejected.WithLabelValues("invalid_fix").Inc()
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidFix, rep.Latitude, rep.Longitude)
	}
	if verr := validation.ValidateStruct(&rep); verr != nil {
		metrics.ReportsRejected.WithLabelValues("invalid_report").Inc()
		return fmt.Errorf("%w: %s", ErrInvalidReport, verr)
	}
	return nil
}

func (o *Orchestrator) snapshotProfile(deviceID string) *profile.Profile {
	p, ok := o.deps.Profiles.Snapshot(deviceID)
	if !ok {
		return nil
	}
	return &p
}

// activeZones returns the owner's zones, from cache when possible. A failing
// repository is logged and treated as an empty zone set for this evaluation;
// the cache keeps the last good copy for the next one.
func (o *Orchestrator) activeZones(ctx context.Context, ownerID string) []zone.Zone {
	o.zoneMu.RLock()
	cached, ok := o.zoneCache[ownerID]
	o.zoneMu.RUnlock()
	if ok {
		return cached
	}

	zones, err := o.deps.Zones.ActiveZones(ctx, ownerID)
	if err != nil {
		logging.Error().Err(err).Str("owner_id", ownerID).Msg("zone repository lookup failed")
		return nil
	}

	o.zoneMu.Lock()
	o.zoneCache[ownerID] = zones
	o.zoneMu.Unlock()
	return zones
}

func (o *Orchestrator) touchDevice(rep Report) {
	o.metaMu.Lock()
	o.meta[rep.DeviceID] = &deviceMeta{
		ownerID:   rep.OwnerID,
		userEmail: rep.UserEmail,
		lastSeen:  time.Now(),
	}
	o.metaMu.Unlock()
}

// dispatch turns containment events and the risk assessment into notifications
// and lock commands, runs them through the suppression dispatcher and hands
// the survivors to the delivery pipeline.
func (o *Orchestrator) dispatch(rep Report, events []zone.Event, assessment risk.Assessment, result *Result) {
	var candidates []alert.Notification
	var locks []outbound.LockCommand

	for _, ev := range events {
		if ev.Notify {
			candidates = append(candidates, o.zoneNotification(rep, ev))
		}
		if ev.RequestLock {
			locks = append(locks, outbound.NewLockCommand(
				rep.DeviceID, rep.OwnerID,
				fmt.Sprintf("exited auto-lock zone %q", ev.Zone.Name),
			))
			candidates = append(candidates, o.lockNotification(rep, fmt.Sprintf(
				"Device %s is being locked after leaving zone %q.", rep.DeviceID, ev.Zone.Name)))
		}
	}

	switch assessment.Tier {
	case risk.TierVeryHigh:
		n := alert.NewNotification(rep.DeviceID, rep.OwnerID, alert.CategoryTheft, assessment.Tier,
			"Possible theft in progress",
			fmt.Sprintf("Device %s shows critical theft indicators (risk %.2f). %s.",
				rep.DeviceID, assessment.RiskScore, assessment.RecommendedAction))
		o.annotate(&n, rep)
		candidates = append(candidates, n)
		locks = append(locks, outbound.NewLockCommand(rep.DeviceID, rep.OwnerID, "critical theft risk"))
		candidates = append(candidates, o.lockNotification(rep, fmt.Sprintf(
			"Device %s is being locked due to critical theft risk.", rep.DeviceID)))
	case risk.TierHigh:
		n := alert.NewNotification(rep.DeviceID, rep.OwnerID, alert.CategoryRiskWarning, assessment.Tier,
			"Unusual device movement",
			fmt.Sprintf("Device %s shows elevated theft risk (%.2f). %s.",
				rep.DeviceID, assessment.RiskScore, assessment.RecommendedAction))
		o.annotate(&n, rep)
		candidates = append(candidates, n)
	}

	for _, n := range candidates {
		admitted, reason := o.deps.Dispatcher.Admit(n)
		if !admitted {
			metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
			result.Suppressed++
			continue
		}
		metrics.AlertsAdmitted.WithLabelValues(string(n.Category)).Inc()
		if err := o.deps.Publisher.PublishNotification(n); err != nil {
			logging.Error().Err(err).Str("device_id", n.DeviceID).Msg("notification publish failed")
			continue
		}
		result.Notifications = append(result.Notifications, n)
	}

	for _, cmd := range locks {
		if err := o.deps.Publisher.PublishLock(cmd); err != nil {
			logging.Error().Err(err).Str("device_id", cmd.DeviceID).Msg("lock command publish failed")
			continue
		}
		metrics.LockCommands.Inc()
		result.LockRequested = true
	}
}

func (o *Orchestrator) zoneNotification(rep Report, ev zone.Event) alert.Notification {
	category := alert.CategoryZoneEntry
	verb := "entered"
	if ev.Type == zone.EventExit {
		category = alert.CategoryZoneExit
		verb = "left"
	}
	n := alert.NewNotification(rep.DeviceID, rep.OwnerID, category, "",
		fmt.Sprintf("Device %s zone %q", verb, ev.Zone.Name),
		fmt.Sprintf("Device %s %s zone %q (%s) at %s.",
			rep.DeviceID, verb, ev.Zone.Name, ev.Zone.Kind, ev.At.Format(time.RFC3339)))
	n.Metadata = map[string]string{
		"zone_id":   fmt.Sprintf("%d", ev.Zone.ID),
		"zone_kind": string(ev.Zone.Kind),
	}
	o.annotate(&n, rep)
	return n
}

func (o *Orchestrator) lockNotification(rep Report, body string) alert.Notification {
	n := alert.NewNotification(rep.DeviceID, rep.OwnerID, alert.CategoryDeviceLock, "",
		"Device lock requested", body)
	o.annotate(&n, rep)
	return n
}

// annotate attaches delivery context and device telemetry to a notification.
func (o *Orchestrator) annotate(n *alert.Notification, rep Report) {
	n.UserEmail = rep.UserEmail
	if n.Metadata == nil {
		n.Metadata = make(map[string]string)
	}
	if rep.BatteryLevel != nil {
		n.Metadata["battery_level"] = fmt.Sprintf("%d", *rep.BatteryLevel)
	}
	if rep.Charging != nil {
		n.Metadata["charging"] = fmt.Sprintf("%t", *rep.Charging)
	}
	if rep.NetworkType != "" {
		n.Metadata["network_type"] = rep.NetworkType
	}
	for k, v := range rep.Metadata {
		n.Metadata[k] = v
	}
}
