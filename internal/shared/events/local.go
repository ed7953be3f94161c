package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type localSubscription struct {
	pattern  string
	consumer string
	handler  Handler
}

// LocalBus delivers events to in-process subscribers. Publish invokes every
// matching handler synchronously; handler errors are logged and never
// returned to the publisher.
type LocalBus struct {
	mu     sync.RWMutex
	subs   []localSubscription
	closed bool
	log    zerolog.Logger
}

// NewLocalBus creates an in-process event bus.
func NewLocalBus(log zerolog.Logger) *LocalBus {
	return &LocalBus{log: log.With().Str("component", "event_bus").Logger()}
}

func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	subs := make([]localSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		if MatchesPattern(event.Type, s.pattern) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler(ctx, event); err != nil {
			b.log.Error().Err(err).
				Str("consumer", s.consumer).
				Str("event_id", event.ID).
				Msg("Event handler failed")
		}
	}
	return nil
}

// Subscribe registers handler until ctx is cancelled.
func (b *LocalBus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	b.subs = append(b.subs, localSubscription{pattern: pattern, consumer: consumerName, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(consumerName)
	}()
	return nil
}

func (b *LocalBus) unsubscribe(consumerName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.consumer != consumerName {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

func (b *LocalBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
}

func (b *LocalBus) Health() error {
	return nil
}
