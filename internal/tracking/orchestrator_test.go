// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/history"
	"github.com/geosentry/geosentry/internal/outbound"
	"github.com/geosentry/geosentry/internal/profile"
	"github.com/geosentry/geosentry/internal/risk"
	"github.com/geosentry/geosentry/internal/zone"
)

type fakePublisher struct {
	mu            sync.Mutex
	notifications []alert.Notification
	locks         []outbound.LockCommand
}

func (p *fakePublisher) PublishNotification(n alert.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
	return nil
}

func (p *fakePublisher) PublishLock(cmd outbound.LockCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locks = append(p.locks, cmd)
	return nil
}

func (p *fakePublisher) byCategory(cat alert.Category) []alert.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []alert.Notification
	for _, n := range p.notifications {
		if n.Category == cat {
			out = append(out, n)
		}
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *clock) set(t time.Time)         { c.t = t }

type testCore struct {
	orch *Orchestrator
	repo *MemoryZoneRepository
	pub  *fakePublisher
	hist *history.Buffer
	clk  *clock
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	hist := history.NewBuffer(history.DefaultCapacity)
	repo := NewMemoryZoneRepository()
	pub := &fakePublisher{}

	orch, err := New(Config{}, Deps{
		History:    hist,
		Tracker:    zone.NewTracker(),
		Profiles:   profile.NewStore(profile.Config{}),
		Scorer:     risk.NewScorer(risk.Config{}, risk.WithClock(clk.now)),
		Dispatcher: alert.NewDispatcher(alert.Config{RatePerSecond: -1}, alert.WithClock(clk.now)),
		Zones:      repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testCore{orch: orch, repo: repo, pub: pub, hist: hist, clk: clk}
}

func report(deviceID string, lat, lon float64, ts time.Time) Report {
	return Report{
		DeviceID:  deviceID,
		OwnerID:   "user-1",
		UserEmail: "owner@example.com",
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
	}
}

var homeZone = zone.Zone{
	ID:              1,
	OwnerID:         "user-1",
	Name:            "home",
	CenterLatitude:  28.6139,
	CenterLongitude: 77.2090,
	RadiusMeters:    100,
	Kind:            zone.KindSafe,
	AlertOnEntry:    true,
	AlertOnExit:     true,
	AutoLockOnExit:  true,
	Active:          true,
}

func TestOrchestrator_RejectsInvalidFix(t *testing.T) {
	tc := newTestCore(t)
	tests := []struct{ lat, lon float64 }{
		{95, 77},
		{-95, 77},
		{28, 190},
		{28, -190},
	}
	for _, tt := range tests {
		_, err := tc.orch.OnLocationReport(context.Background(), report("dev-1", tt.lat, tt.lon, time.Now()))
		if !errors.Is(err, ErrInvalidFix) {
			t.Errorf("lat=%v lon=%v: err = %v, want ErrInvalidFix", tt.lat, tt.lon, err)
		}
	}
	if tc.hist.Len("dev-1") != 0 {
		t.Error("rejected reports must not touch history")
	}
}

func TestOrchestrator_RejectsIncompleteReport(t *testing.T) {
	tc := newTestCore(t)

	rep := report("dev-1", 28.6139, 77.2090, time.Now())
	rep.OwnerID = ""
	if _, err := tc.orch.OnLocationReport(context.Background(), rep); !errors.Is(err, ErrInvalidReport) {
		t.Errorf("missing owner: err = %v, want ErrInvalidReport", err)
	}

	rep = report("", 28.6139, 77.2090, time.Now())
	if _, err := tc.orch.OnLocationReport(context.Background(), rep); !errors.Is(err, ErrInvalidReport) {
		t.Errorf("missing device: err = %v, want ErrInvalidReport", err)
	}

	rep = report("dev-1", 28.6139, 77.2090, time.Now())
	rep.UserEmail = "not-an-email"
	if _, err := tc.orch.OnLocationReport(context.Background(), rep); !errors.Is(err, ErrInvalidReport) {
		t.Errorf("bad email: err = %v, want ErrInvalidReport", err)
	}
}

func TestOrchestrator_ZoneEntryExitLifecycle(t *testing.T) {
	tc := newTestCore(t)
	tc.repo.SetZones("user-1", []zone.Zone{homeZone})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// First report inside: one entry event, one entry notification.
	res, err := tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}
	if len(res.ZoneEvents) != 1 || res.ZoneEvents[0].Type != zone.EventEntry {
		t.Fatalf("zone events = %+v, want one entry", res.ZoneEvents)
	}
	if got := tc.pub.byCategory(alert.CategoryZoneEntry); len(got) != 1 {
		t.Errorf("published %d entry notifications, want 1", len(got))
	}

	// Exit from an auto-lock zone: exit notification, lock command,
	// lock notification.
	tc.clk.advance(10 * time.Minute)
	res, err = tc.orch.OnLocationReport(ctx, report("dev-1", 28.7000, 77.3000, base.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}
	if len(res.ZoneEvents) != 1 || res.ZoneEvents[0].Type != zone.EventExit {
		t.Fatalf("zone events = %+v, want one exit", res.ZoneEvents)
	}
	if !res.LockRequested {
		t.Error("exit from an auto-lock zone must request a lock")
	}
	if got := tc.pub.byCategory(alert.CategoryZoneExit); len(got) != 1 {
		t.Errorf("published %d exit notifications, want 1", len(got))
	}
	if got := tc.pub.byCategory(alert.CategoryDeviceLock); len(got) != 1 {
		t.Errorf("published %d lock notifications, want 1", len(got))
	}
	tc.pub.mu.Lock()
	locks := len(tc.pub.locks)
	tc.pub.mu.Unlock()
	if locks != 1 {
		t.Errorf("published %d lock commands, want 1", locks)
	}
}

func TestOrchestrator_RepeatedEntrySuppressedWithinWindow(t *testing.T) {
	tc := newTestCore(t)
	entryOnly := homeZone
	entryOnly.AlertOnExit = false
	entryOnly.AutoLockOnExit = false
	tc.repo.SetZones("user-1", []zone.Zone{entryOnly})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Enter, leave, re-enter within a minute. The second entry transition
	// is real but its notification falls inside the suppression window.
	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))
	tc.orch.OnLocationReport(ctx, report("dev-1", 28.7000, 77.3000, base.Add(20*time.Second)))
	res, err := tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base.Add(40*time.Second)))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}

	if len(res.ZoneEvents) != 1 || res.ZoneEvents[0].Type != zone.EventEntry {
		t.Fatalf("zone events = %+v, want the re-entry transition", res.ZoneEvents)
	}
	if res.Suppressed != 1 {
		t.Errorf("suppressed = %d, want 1", res.Suppressed)
	}
	if got := tc.pub.byCategory(alert.CategoryZoneEntry); len(got) != 1 {
		t.Errorf("published %d entry notifications, want only the first", len(got))
	}
}

// A device that learned its home, then races away at 70 km/h through the
// night, must reach VERY_HIGH and trigger a lock plus an always-delivered
// theft alert.
func TestOrchestrator_NightTheftTriggersLockAndAlert(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	// Night fix at home teaches the profile.
	night1 := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	tc.clk.set(night1)
	if _, err := tc.orch.OnLocationReport(ctx, report("dev-1", 10.0, 20.0, night1)); err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}

	// The next night the device appears 60 km away, then keeps moving at
	// vehicle speed. 70 km/h over 2 minutes is ~2.33 km, ~0.021 degrees.
	night2 := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	tc.clk.set(night2)
	tc.orch.OnLocationReport(ctx, report("dev-1", 10.5396, 20.0, night2))
	tc.clk.advance(2 * time.Minute)
	res, err := tc.orch.OnLocationReport(ctx, report("dev-1", 10.5606, 20.0, night2.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}

	if res.Assessment.Tier != risk.TierVeryHigh {
		t.Fatalf("tier = %v (risk %.3f), want VERY_HIGH", res.Assessment.Tier, res.Assessment.RiskScore)
	}
	if !res.LockRequested {
		t.Error("critical theft risk must request a device lock")
	}
	theft := tc.pub.byCategory(alert.CategoryTheft)
	if len(theft) != 1 {
		t.Fatalf("published %d theft alerts, want 1", len(theft))
	}
	if theft[0].UserEmail != "owner@example.com" {
		t.Errorf("theft alert email = %q, want the reporter's", theft[0].UserEmail)
	}

	// Still fleeing one leg later: the critical alert bypasses suppression.
	tc.clk.advance(2 * time.Minute)
	res, err = tc.orch.OnLocationReport(ctx, report("dev-1", 10.5816, 20.0, night2.Add(4*time.Minute)))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}
	if res.Assessment.Tier != risk.TierVeryHigh {
		t.Fatalf("tier = %v, want VERY_HIGH sustained", res.Assessment.Tier)
	}
	if got := tc.pub.byCategory(alert.CategoryTheft); len(got) != 2 {
		t.Errorf("published %d theft alerts, want 2 (bypass suppression)", len(got))
	}
}

func TestOrchestrator_TelemetryPassedThrough(t *testing.T) {
	tc := newTestCore(t)
	tc.repo.SetZones("user-1", []zone.Zone{homeZone})

	battery := 17
	charging := false
	rep := report("dev-1", 28.6139, 77.2090, time.Now())
	rep.BatteryLevel = &battery
	rep.Charging = &charging
	rep.NetworkType = "cellular"

	if _, err := tc.orch.OnLocationReport(context.Background(), rep); err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}

	entries := tc.pub.byCategory(alert.CategoryZoneEntry)
	if len(entries) != 1 {
		t.Fatalf("want one entry notification, got %d", len(entries))
	}
	md := entries[0].Metadata
	if md["battery_level"] != "17" || md["charging"] != "false" || md["network_type"] != "cellular" {
		t.Errorf("telemetry metadata = %v", md)
	}
}

func TestOrchestrator_ZoneCacheRefreshedOnChange(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// No zones yet; the empty set gets cached.
	res, _ := tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))
	if len(res.ZoneEvents) != 0 {
		t.Fatalf("no zones configured, got events %+v", res.ZoneEvents)
	}

	// The owner creates a zone. Without invalidation the stale cache would
	// hide it; OnZoneSetChanged forces a refetch.
	tc.repo.SetZones("user-1", []zone.Zone{homeZone})
	tc.orch.OnZoneSetChanged("user-1")

	res, _ = tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base.Add(time.Minute)))
	if len(res.ZoneEvents) != 1 || res.ZoneEvents[0].Type != zone.EventEntry {
		t.Errorf("after zone change, events = %+v, want one entry", res.ZoneEvents)
	}
}

func TestOrchestrator_OnZoneRemovedClearsContainment(t *testing.T) {
	tc := newTestCore(t)
	tc.repo.SetZones("user-1", []zone.Zone{homeZone})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))

	// Zone deleted: containment state goes, cache refreshes to empty.
	tc.repo.SetZones("user-1", nil)
	tc.orch.OnZoneRemoved("user-1", homeZone.ID)

	// No exit event fires for a deleted zone.
	res, _ := tc.orch.OnLocationReport(ctx, report("dev-1", 28.7000, 77.3000, base.Add(time.Minute)))
	if len(res.ZoneEvents) != 0 {
		t.Errorf("deleted zone produced events: %+v", res.ZoneEvents)
	}
}

func TestOrchestrator_ClearDevice(t *testing.T) {
	tc := newTestCore(t)
	tc.repo.SetZones("user-1", []zone.Zone{homeZone})
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))
	tc.orch.ClearDevice("dev-1")

	if tc.hist.Len("dev-1") != 0 {
		t.Error("history must be purged")
	}
	if len(tc.orch.OnlineDevices()) != 0 {
		t.Error("cleared device must not count as online")
	}
	if _, err := tc.orch.Reevaluate(ctx, "dev-1"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Reevaluate after clear: err = %v, want ErrUnknownDevice", err)
	}

	// The next report is a clean first contact: entry fires again and the
	// suppression window does not carry over.
	res, err := tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("OnLocationReport: %v", err)
	}
	if len(res.ZoneEvents) != 1 || res.ZoneEvents[0].Type != zone.EventEntry {
		t.Errorf("post-clear events = %+v, want fresh entry", res.ZoneEvents)
	}
	if got := tc.pub.byCategory(alert.CategoryZoneEntry); len(got) != 2 {
		t.Errorf("published %d entry notifications, want 2 (fresh suppression state)", len(got))
	}
}

func TestOrchestrator_Reevaluate(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	if _, err := tc.orch.Reevaluate(ctx, "ghost"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device: err = %v, want ErrUnknownDevice", err)
	}

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, base))
	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6149, 77.2090, base.Add(time.Minute)))

	lenBefore := tc.hist.Len("dev-1")
	res, err := tc.orch.Reevaluate(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Reevaluate: %v", err)
	}
	if res.Assessment.DeviceID != "dev-1" {
		t.Errorf("assessment device = %q", res.Assessment.DeviceID)
	}
	if tc.hist.Len("dev-1") != lenBefore {
		t.Error("reevaluation must not grow history")
	}
	if len(res.ZoneEvents) != 0 {
		t.Error("reevaluation is risk-only; no containment transitions")
	}
}

func TestOrchestrator_OnlineDevices(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	tc.orch.OnLocationReport(ctx, report("dev-1", 28.6139, 77.2090, time.Now()))
	tc.orch.OnLocationReport(ctx, report("dev-2", 28.6139, 77.2090, time.Now()))

	online := tc.orch.OnlineDevices()
	if len(online) != 2 {
		t.Errorf("online = %v, want both devices", online)
	}
}

func TestOrchestrator_PerDeviceOrderingUnderConcurrency(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		deviceID := "dev-" + string(rune('a'+d))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rep := report(deviceID, 28.6139+float64(i)*0.0001, 77.2090, base.Add(time.Duration(i)*time.Second))
				if _, err := tc.orch.OnLocationReport(ctx, rep); err != nil {
					t.Errorf("%s report %d: %v", deviceID, i, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for d := 0; d < 8; d++ {
		deviceID := "dev-" + string(rune('a'+d))
		recent := tc.hist.Recent(deviceID, 50)
		if len(recent) != 50 {
			t.Fatalf("%s: %d fixes buffered, want 50", deviceID, len(recent))
		}
		for i := 1; i < len(recent); i++ {
			if recent[i].Timestamp.After(recent[i-1].Timestamp) {
				t.Fatalf("%s: history out of order at %d", deviceID, i)
			}
		}
	}
}
