// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package tracking

import (
	"context"
	"sync"

	"github.com/geosentry/geosentry/internal/zone"
)

// MemoryZoneRepository is an in-memory ZoneRepository. Deployments back this
// with a real zone service; it also serves as the default when none is wired.
type MemoryZoneRepository struct {
	mu    sync.RWMutex
	zones map[string][]zone.Zone
}

// NewMemoryZoneRepository creates an empty repository.
func NewMemoryZoneRepository() *MemoryZoneRepository {
	return &MemoryZoneRepository{zones: make(map[string][]zone.Zone)}
}

// SetZones replaces an owner's zone set.
func (r *MemoryZoneRepository) SetZones(ownerID string, zones []zone.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]zone.Zone, len(zones))
	copy(copied, zones)
	r.zones[ownerID] = copied
}

// ActiveZones returns the owner's active zones.
func (r *MemoryZoneRepository) ActiveZones(_ context.Context, ownerID string) ([]zone.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []zone.Zone
	for _, z := range r.zones[ownerID] {
		if z.Active {
			active = append(active, z)
		}
	}
	return active, nil
}
