// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package history maintains the per-device bounded buffer of recent fixes.
//
// The buffer is the single source of truth for every downstream speed,
// acceleration and variance calculation: scorers read ordered slices from
// here instead of taking fixes as ad hoc parameters, so they always see a
// consistent, capped view of the device's recent movement.
package history

import (
	"sync"

	"github.com/geosentry/geosentry/internal/geo"
)

// DefaultCapacity is the per-device fix retention limit.
const DefaultCapacity = 1000

// Buffer holds the most recent fixes for every tracked device, insertion
// ordered, oldest evicted past capacity. Safe for concurrent use; devices
// never share state.
type Buffer struct {
	capacity int

	mu      sync.RWMutex
	devices map[string]*deviceRing
}

// deviceRing is a fixed-capacity circular buffer of fixes for one device.
type deviceRing struct {
	fixes []geo.Fix
	head  int // index of the next write
	size  int
}

// NewBuffer creates a buffer retaining up to capacity fixes per device.
// Non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		devices:  make(map[string]*deviceRing),
	}
}

// Push appends a fix to the device's history, evicting the oldest entry
// when the ring is full.
func (b *Buffer) Push(fix geo.Fix) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring, ok := b.devices[fix.DeviceID]
	if !ok {
		ring = &deviceRing{fixes: make([]geo.Fix, b.capacity)}
		b.devices[fix.DeviceID] = ring
	}

	ring.fixes[ring.head] = fix
	ring.head = (ring.head + 1) % b.capacity
	if ring.size < b.capacity {
		ring.size++
	}
}

// Recent returns up to count fixes for the device, newest first.
// A count <= 0 or beyond the stored size is clamped to the stored size.
func (b *Buffer) Recent(deviceID string, count int) []geo.Fix {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ring, ok := b.devices[deviceID]
	if !ok || ring.size == 0 {
		return nil
	}

	if count <= 0 || count > ring.size {
		count = ring.size
	}

	out := make([]geo.Fix, count)
	for i := 0; i < count; i++ {
		// head points past the newest entry
		idx := (ring.head - 1 - i + b.capacity*2) % b.capacity
		out[i] = ring.fixes[idx]
	}
	return out
}

// Latest returns the most recent fix for the device, if any.
func (b *Buffer) Latest(deviceID string) (geo.Fix, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ring, ok := b.devices[deviceID]
	if !ok || ring.size == 0 {
		return geo.Fix{}, false
	}
	idx := (ring.head - 1 + b.capacity) % b.capacity
	return ring.fixes[idx], true
}

// Len returns the number of fixes currently stored for the device.
func (b *Buffer) Len(deviceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ring, ok := b.devices[deviceID]
	if !ok {
		return 0
	}
	return ring.size
}

// Devices returns the IDs of all devices with at least one stored fix.
func (b *Buffer) Devices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all stored fixes for the device.
func (b *Buffer) Clear(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devices, deviceID)
}
