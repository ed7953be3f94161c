package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opensur/platform/internal/shared/config"
	"github.com/opensur/platform/internal/shared/types"
)

// Event represents a domain event
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	AggregateID types.ID        `json:"aggregate_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	ActorID     types.ID        `json:"actor_id,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// NewEvent creates an event with a generated ID and timestamp. payload is
// JSON encoded into Data.
func NewEvent(eventType, source string, aggregateID types.ID, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Source:      source,
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}, nil
}

// WithActor sets the acting user on the event
func (e Event) WithActor(actorID types.ID) Event {
	e.ActorID = actorID
	return e
}

// Decode unmarshals Data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// Bus provides event publishing and subscription using KurrentDB
type Bus struct {
	client *esdb.Client
	prefix string
	log    zerolog.Logger
}

// NewBus creates a new event bus connected to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig, log zerolog.Logger) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	prefix := cfg.StreamPrefix
	if prefix == "" {
		prefix = "opensur"
	}
	return &Bus{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "event_bus").Logger(),
	}, nil
}

func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// StreamName returns the stream an event is appended to. Events with an
// aggregate land in one stream per aggregate, so case.state_forwarded for
// case X goes to opensur-case-X. Others go to a stream per event type.
func (b *Bus) StreamName(event Event) string {
	if !event.AggregateID.IsZero() {
		category := event.Type
		if i := strings.Index(category, "."); i > 0 {
			category = category[:i]
		}
		return fmt.Sprintf("%s-%s-%s", b.prefix, category, event.AggregateID)
	}
	return fmt.Sprintf("%s-%s", b.prefix, strings.ReplaceAll(event.Type, ".", "-"))
}

// Publish publishes an event to the bus
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, b.StreamName(event), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe starts a catch-up subscription on $all filtered by event type.
// Delivery starts at the end of the log; handler errors are logged.
func (b *Bus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	sub, err := b.client.SubscribeToAll(ctx, esdb.SubscribeToAllOptions{
		From: esdb.End{},
		Filter: &esdb.SubscriptionFilter{
			Type:  esdb.EventFilterType,
			Regex: patternToRegex(pattern),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	go b.consume(ctx, sub, pattern, consumerName, handler)
	return nil
}

func (b *Bus) consume(ctx context.Context, sub *esdb.Subscription, pattern, consumerName string, handler Handler) {
	defer sub.Close()
	log := b.log.With().Str("consumer", consumerName).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		subEvent := sub.Recv()
		if subEvent.SubscriptionDropped != nil {
			log.Warn().Err(subEvent.SubscriptionDropped.Error).Msg("Subscription dropped")
			return
		}
		if subEvent.EventAppeared == nil || subEvent.EventAppeared.Event == nil {
			continue
		}

		recorded := subEvent.EventAppeared.Event
		if strings.HasPrefix(recorded.EventType, "$") || !MatchesPattern(recorded.EventType, pattern) {
			continue
		}

		var event Event
		if err := json.Unmarshal(recorded.Data, &event); err != nil {
			log.Error().Err(err).Str("event_type", recorded.EventType).Msg("Failed to decode event")
			continue
		}
		if event.ID == "" {
			event.ID = recorded.EventID.String()
		}

		if err := handler(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Event handler failed")
		}
	}
}

// patternToRegex converts "case.*" into "^case\..*$".
func patternToRegex(pattern string) string {
	var sb strings.Builder
	sb.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '.':
			sb.WriteString(`\.`)
		case '*':
			sb.WriteString(".*")
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('$')
	return sb.String()
}

// MatchesPattern reports whether eventType matches a dotted wildcard
// pattern. "*" matches everything and a trailing "*" segment matches the
// rest of the type.
func MatchesPattern(eventType, pattern string) bool {
	if pattern == "*" || pattern == ">" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	typeParts := strings.Split(eventType, ".")

	for i, pp := range patternParts {
		if pp == "*" {
			return true
		}
		if i >= len(typeParts) || pp != typeParts[i] {
			return false
		}
	}
	return len(patternParts) == len(typeParts)
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
