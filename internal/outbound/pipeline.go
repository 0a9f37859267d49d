// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

// Package outbound carries admitted notifications and lock commands from the
// tracking core to external collaborators over an in-process message router.
// Delivery is asynchronous: the core publishes and moves on, and a failing
// collaborator never stalls or fails location processing.
package outbound

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/geosentry/geosentry/internal/alert"
	"github.com/geosentry/geosentry/internal/logging"
)

// Topics on the in-process bus.
const (
	TopicNotifications = "alerts.notify"
	TopicLockCommands  = "devices.lock"
)

// LockCommand asks the device-command collaborator to remotely lock a device.
type LockCommand struct {
	CommandID   string    `json:"command_id"`
	DeviceID    string    `json:"device_id"`
	OwnerID     string    `json:"owner_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewLockCommand assembles a lock command with a fresh ID.
func NewLockCommand(deviceID, ownerID, reason string) LockCommand {
	return LockCommand{
		CommandID:   uuid.NewString(),
		DeviceID:    deviceID,
		OwnerID:     ownerID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
}

// NotificationSink delivers admitted notifications to users. Implementations
// talk to mail, push or messaging providers.
type NotificationSink interface {
	SendNotification(ctx context.Context, n alert.Notification) error
}

// CommandSink executes remote device commands.
type CommandSink interface {
	LockDevice(ctx context.Context, cmd LockCommand) error
}

// Config holds the delivery pipeline settings.
type Config struct {
	// Buffer is the per-topic channel buffer between publish and delivery.
	Buffer int64 `koanf:"buffer"`

	// CloseTimeout is how long Close waits for in-flight deliveries.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// DeliveryTimeout bounds a single collaborator call.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`

	// BreakerFailureThreshold opens the lock-command circuit after this
	// many consecutive failures; BreakerTimeout is the open interval
	// before a probe is allowed through.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
}

// DefaultConfig returns production pipeline settings.
func DefaultConfig() Config {
	return Config{
		Buffer:                  256,
		CloseTimeout:            30 * time.Second,
		DeliveryTimeout:         10 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          time.Minute,
		BreakerMaxRequests:      1,
	}
}

// Pipeline owns the in-process pub/sub, the delivery router and the
// lock-command circuit breaker.
type Pipeline struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	router *message.Router

	notifier NotificationSink
	commands CommandSink
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

// NewPipeline wires the delivery router. Both sinks are required; use the
// logging sinks for deployments without real collaborators.
func NewPipeline(cfg Config, notifier NotificationSink, commands CommandSink) (*Pipeline, error) {
	if notifier == nil || commands == nil {
		return nil, fmt.Errorf("outbound: both sinks are required")
	}
	def := DefaultConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = def.BreakerMaxRequests
	}

	wmLogger := newRouterLogger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.Buffer,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create delivery router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	p := &Pipeline{
		cfg:      cfg,
		pubsub:   pubsub,
		router:   router,
		notifier: notifier,
		commands: commands,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "device-lock",
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	router.AddNoPublisherHandler("deliver-notifications", TopicNotifications, pubsub, p.handleNotification)
	router.AddNoPublisherHandler("deliver-lock-commands", TopicLockCommands, pubsub, p.handleLockCommand)
	return p, nil
}

// PublishNotification queues a notification for delivery.
func (p *Pipeline) PublishNotification(n alert.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := message.NewMessage(n.ID, payload)
	msg.Metadata.Set("device_id", n.DeviceID)
	msg.Metadata.Set("category", string(n.Category))
	return p.pubsub.Publish(TopicNotifications, msg)
}

// PublishLock queues a lock command for delivery.
func (p *Pipeline) PublishLock(cmd LockCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal lock command: %w", err)
	}
	msg := message.NewMessage(cmd.CommandID, payload)
	msg.Metadata.Set("device_id", cmd.DeviceID)
	return p.pubsub.Publish(TopicLockCommands, msg)
}

// handleNotification delivers one notification. A failed delivery is logged
// and the message dropped; collaborator faults never propagate upstream.
func (p *Pipeline) handleNotification(msg *message.Message) error {
	var n alert.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed notification")
		return nil
	}

	ctx, cancel := context.WithTimeout(msg.Context(), p.cfg.DeliveryTimeout)
	defer cancel()

	if err := p.notifier.SendNotification(ctx, n); err != nil {
		logging.Error().Err(err).
			Str("device_id", n.DeviceID).
			Str("category", string(n.Category)).
			Msg("notification delivery failed")
	}
	return nil
}

// handleLockCommand delivers one lock command through the circuit breaker.
// An open breaker sheds commands without touching the collaborator; as with
// notifications, failures are logged and dropped.
func (p *Pipeline) handleLockCommand(msg *message.Message) error {
	var cmd LockCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed lock command")
		return nil
	}

	ctx, cancel := context.WithTimeout(msg.Context(), p.cfg.DeliveryTimeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.commands.LockDevice(ctx, cmd)
	})
	if err != nil {
		logging.Error().Err(err).
			Str("device_id", cmd.DeviceID).
			Str("command_id", cmd.CommandID).
			Str("breaker_state", p.breaker.State().String()).
			Msg("lock command delivery failed")
	}
	return nil
}

// BreakerState reports the lock-command breaker state, for health reporting.
func (p *Pipeline) BreakerState() string {
	return p.breaker.State().String()
}

// Serve runs the delivery router until the context is canceled. It satisfies
// the supervision tree's service contract.
func (p *Pipeline) Serve(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running returns a channel that closes once the router is processing.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// Close stops the router and the in-process bus.
func (p *Pipeline) Close() error {
	if err := p.router.Close(); err != nil {
		return err
	}
	return p.pubsub.Close()
}
