package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var order []string
	bus.Subscribe(KindPolicyChanged, func(Event) {
		order = append(order, "first")
	})
	bus.Subscribe(KindPolicyChanged, func(Event) {
		order = append(order, "second")
	})

	bus.Publish(Event{Kind: KindPolicyChanged, Key: "autonomy-settings.level"})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBusKindIsolation(t *testing.T) {
	bus := NewBus(nil)

	var haltSeen, policySeen int
	bus.Subscribe(KindHalt, func(Event) { haltSeen++ })
	bus.Subscribe(KindPolicyChanged, func(Event) { policySeen++ })

	bus.Publish(Event{Kind: KindHalt, Reason: "quota exceeded"})

	assert.Equal(t, 1, haltSeen)
	assert.Equal(t, 0, policySeen)
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus(nil)

	var got Event
	bus.Subscribe(KindResume, func(evt Event) { got = evt })

	bus.Publish(Event{Kind: KindResume, Reason: "approved"})

	require.False(t, got.Time.IsZero())
	assert.Equal(t, "approved", got.Reason)
}

func TestBusNoSubscribers(t *testing.T) {
	bus := NewBus(nil)

	// Publishing with no subscribers must not panic.
	bus.Publish(Event{Kind: KindSafeModeChanged})

	assert.Equal(t, 0, bus.SubscriberCount(KindSafeModeChanged))
}
