// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package zone

import (
	"sync"

	"github.com/geosentry/geosentry/internal/geo"
)

// stateKey identifies one (device, zone) containment state.
type stateKey struct {
	deviceID string
	zoneID   int64
}

// Tracker is the containment state machine for every observed (device, zone)
// pair. States are created lazily on first evaluation; a pair with no state
// is treated as outside. Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	inside map[stateKey]bool
}

// NewTracker creates an empty containment tracker.
func NewTracker() *Tracker {
	return &Tracker{inside: make(map[stateKey]bool)}
}

// Evaluate applies one fix against the device's zones and returns the
// containment transitions it caused, in zone order. State updates on every
// call; an event is emitted only on an outside->inside or inside->outside
// crossing, so re-reporting from within a zone stays silent.
func (t *Tracker) Evaluate(zones []Zone, fix geo.Fix) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var events []Event
	for _, z := range zones {
		if !z.Active {
			continue
		}

		key := stateKey{deviceID: fix.DeviceID, zoneID: z.ID}
		wasInside := t.inside[key] // absent means outside
		isInside := z.ContainsPoint(fix.Latitude, fix.Longitude)
		t.inside[key] = isInside

		switch {
		case !wasInside && isInside:
			events = append(events, Event{
				Type:     EventEntry,
				DeviceID: fix.DeviceID,
				Zone:     z,
				Fix:      fix,
				At:       fix.Timestamp,
				Notify:   z.AlertOnEntry,
			})
		case wasInside && !isInside:
			events = append(events, Event{
				Type:        EventExit,
				DeviceID:    fix.DeviceID,
				Zone:        z,
				Fix:         fix,
				At:          fix.Timestamp,
				Notify:      z.AlertOnExit,
				RequestLock: z.AutoLockOnExit,
			})
		}
	}
	return events
}

// Inside reports the current containment state for a (device, zone) pair.
// Pairs never evaluated are outside.
func (t *Tracker) Inside(deviceID string, zoneID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inside[stateKey{deviceID: deviceID, zoneID: zoneID}]
}

// ClearDevice removes all containment state for a device.
func (t *Tracker) ClearDevice(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.inside {
		if key.deviceID == deviceID {
			delete(t.inside, key)
		}
	}
}

// ClearZone removes the state every device holds for a deleted zone.
func (t *Tracker) ClearZone(zoneID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.inside {
		if key.zoneID == zoneID {
			delete(t.inside, key)
		}
	}
}

// States returns the number of tracked (device, zone) pairs.
func (t *Tracker) States() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inside)
}
