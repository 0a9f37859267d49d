// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package alert decides which notifications actually go out. All spam
// suppression lives here; upstream components emit every event they see.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/geosentry/geosentry/internal/risk"
)

// Category is the deduplication class of a notification. Repeats of the same
// (device, category) pair inside the suppression window are dropped.
type Category string

const (
	CategoryZoneEntry   Category = "zone_entry"
	CategoryZoneExit    Category = "zone_exit"
	CategoryTheft       Category = "theft"
	CategoryRiskWarning Category = "risk_warning"
	CategoryDeviceLock  Category = "device_lock"
)

// Notification is one outbound alert, ready for a delivery collaborator.
type Notification struct {
	ID        string            `json:"id"`
	DeviceID  string            `json:"device_id"`
	OwnerID   string            `json:"owner_id"`
	UserEmail string            `json:"user_email,omitempty"`
	Category  Category          `json:"category"`
	Tier      risk.Tier         `json:"tier,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	At        time.Time         `json:"at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewNotification assembles a notification with a fresh ID.
func NewNotification(deviceID, ownerID string, cat Category, tier risk.Tier, title, body string) Notification {
	return Notification{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		OwnerID:  ownerID,
		Category: cat,
		Tier:     tier,
		Title:    title,
		Body:     body,
		At:       time.Now().UTC(),
	}
}

// Suppression outcomes reported by Admit.
const (
	ReasonSent        = "sent"
	ReasonDuplicate   = "duplicate"
	ReasonRateLimited = "rate_limited"
)

// Config holds the dispatch policy.
type Config struct {
	// SuppressionWindow is the minimum interval between notifications of
	// the same (device, category) pair.
	SuppressionWindow time.Duration `koanf:"suppression_window"`

	// RatePerSecond and Burst bound total outbound volume across all
	// devices. Zero disables the global limiter.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// DefaultConfig returns the production dispatch policy.
func DefaultConfig() Config {
	return Config{
		SuppressionWindow: 5 * time.Minute,
		RatePerSecond:     10,
		Burst:             20,
	}
}

type suppressKey struct {
	deviceID string
	category Category
}

// Dispatcher applies the suppression window and the global rate limit.
// Critical theft alerts bypass both. Safe for concurrent use.
type Dispatcher struct {
	cfg     Config
	now     func() time.Time
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSent map[suppressKey]time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher. Zero-valued policy fields fall back to
// defaults; RatePerSecond <= 0 disables the global limiter.
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = def.SuppressionWindow
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	d := &Dispatcher{
		cfg:      cfg,
		now:      time.Now,
		lastSent: make(map[suppressKey]time.Time),
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// critical reports whether the notification bypasses all suppression.
func critical(n Notification) bool {
	return n.Category == CategoryTheft && n.Tier == risk.TierVeryHigh
}

// Admit decides whether the notification may be delivered. It returns the
// outcome reason alongside the verdict; an admitted notification updates the
// last-sent record for its (device, category) pair.
func (d *Dispatcher) Admit(n Notification) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := suppressKey{deviceID: n.DeviceID, category: n.Category}

	if !critical(n) {
		if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.SuppressionWindow {
			return false, ReasonDuplicate
		}
		if d.limiter != nil && !d.limiter.Allow() {
			return false, ReasonRateLimited
		}
	}

	d.lastSent[key] = now
	return true, ReasonSent
}

// ClearDevice drops all suppression state for a device.
func (d *Dispatcher) ClearDevice(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.lastSent {
		if key.deviceID == deviceID {
			delete(d.lastSent, key)
		}
	}
}

// Prune drops suppression records older than the window; long-running
// deployments call this periodically to keep the map bounded.
func (d *Dispatcher) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	pruned := 0
	for key, last := range d.lastSent {
		if now.Sub(last) >= d.cfg.SuppressionWindow {
			delete(d.lastSent, key)
			pruned++
		}
	}
	return pruned
}
