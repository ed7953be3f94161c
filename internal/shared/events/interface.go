package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/shared/config"
)

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe registers handler for events whose type matches pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus returns the KurrentDB bus when enabled and the in-process bus
// otherwise. The returned string names the transport for startup logs.
func NewEventBus(ctx context.Context, cfg config.KurrentDBConfig, log zerolog.Logger) (EventBus, string, error) {
	if !cfg.Enabled {
		return NewLocalBus(log), "local", nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bus, err := NewBus(timeoutCtx, cfg, log)
	if err != nil {
		return nil, "", err
	}
	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, "", fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	return bus, "kurrentdb", nil
}

// Ensure Bus implements EventBus
var _ EventBus = (*Bus)(nil)

// Ensure LocalBus implements EventBus
var _ EventBus = (*LocalBus)(nil)
