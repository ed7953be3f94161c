package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensur/platform/internal/shared/types"
)

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		eventType string
		pattern   string
		want      bool
	}{
		{"case.state_forwarded", "case.state_forwarded", true},
		{"case.state_forwarded", "case.*", true},
		{"case.state_forwarded", "*", true},
		{"case.promoted", "case.state_forwarded", false},
		{"authority.created", "case.*", false},
		{"cases.promoted", "case.*", false},
		{"case.state_forwarded.extra", "case.state_forwarded", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesPattern(tt.eventType, tt.pattern))
		})
	}
}

func TestPatternToRegex(t *testing.T) {
	assert.Equal(t, `^case\..*$`, patternToRegex("case.*"))
}

func TestNewEventDecode(t *testing.T) {
	id := types.NewID()
	ev, err := NewEvent("case.state_forwarded", "case", id, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, id, ev.AggregateID)

	var got map[string]string
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, "v", got["k"])
}

func TestStreamName(t *testing.T) {
	b := &Bus{prefix: "opensur"}
	id := types.MustParseID("6f1c2d3e-4b5a-4c6d-8e7f-9a0b1c2d3e4f")

	assert.Equal(t, "opensur-case-"+id.String(), b.StreamName(Event{Type: "case.state_forwarded", AggregateID: id}))
	assert.Equal(t, "opensur-case-promoted", b.StreamName(Event{Type: "case.promoted"}))
}

func TestLocalBus(t *testing.T) {
	bus := NewLocalBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, "case.*", "a", func(_ context.Context, e Event) error {
		got = append(got, "a:"+e.Type)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "authority.*", "b", func(_ context.Context, e Event) error {
		got = append(got, "b:"+e.Type)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "*", "c", func(_ context.Context, e Event) error {
		return errors.New("handler failure is not returned")
	}))

	require.NoError(t, bus.Publish(ctx, Event{Type: "case.state_forwarded"}))
	assert.Equal(t, []string{"a:case.state_forwarded"}, got)

	bus.Close()
	require.NoError(t, bus.Publish(ctx, Event{Type: "case.state_forwarded"}))
	assert.Len(t, got, 1)
	assert.NoError(t, bus.Health())
}
