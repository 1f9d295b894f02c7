package api

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpga/internal/logging"
)

func recv(t *testing.T, ch chan SSEEvent) SSEEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return SSEEvent{}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	other := b.Subscribe("r2")

	b.Publish("r1", SSEEvent{Type: EventGenerationCompleted, Data: map[string]any{"generation": 3}})
	got := recv(t, ch)
	assert.Equal(t, EventGenerationCompleted, got.Type)
	assert.Equal(t, 3, got.Data["generation"])
	assert.Empty(t, other)

	b.Unsubscribe("r1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe("r1", ch)
	b.Publish("r1", SSEEvent{Type: EventRunCompleted})
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	defer b.Unsubscribe("r1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("r1", SSEEvent{Type: EventGenerationCompleted, Data: map[string]any{"generation": i}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, 0, recv(t, ch).Data["generation"])
}

func TestBrokerTerminalEventReachesFullSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r1")
	defer b.Unsubscribe("r1", ch)

	for i := 0; i < cap(ch)+5; i++ {
		b.Publish("r1", SSEEvent{Type: EventGenerationCompleted, Data: map[string]any{"generation": i}})
	}
	require.Len(t, ch, cap(ch))
	b.Publish("r1", SSEEvent{Type: EventRunCompleted})

	var last SSEEvent
	for len(ch) > 0 {
		last = recv(t, ch)
	}
	assert.Equal(t, EventRunCompleted, last.Type)
}

func TestDeliverEvictsOnlyForTerminalEvents(t *testing.T) {
	ch := make(chan SSEEvent, 2)
	deliver(ch, SSEEvent{Type: EventRunStarted})
	deliver(ch, SSEEvent{Type: EventGenerationCompleted})
	deliver(ch, SSEEvent{Type: EventGenerationCompleted})
	require.Len(t, ch, 2)
	assert.Equal(t, EventRunStarted, (<-ch).Type, "progress events never evict")

	deliver(ch, SSEEvent{Type: EventGenerationCompleted})
	deliver(ch, SSEEvent{Type: EventRunFailed})
	require.Len(t, ch, 2)
	assert.Equal(t, EventGenerationCompleted, (<-ch).Type)
	assert.Equal(t, EventRunFailed, (<-ch).Type)
}

func TestTerminalEvent(t *testing.T) {
	assert.True(t, terminalEvent(EventRunCompleted))
	assert.True(t, terminalEvent(EventRunFailed))
	assert.False(t, terminalEvent(EventRunStarted))
	assert.False(t, terminalEvent(EventGenerationCompleted))
}

func TestRedisBroker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	b, err := NewRedisBroker(url, logging.Discard())
	require.NoError(t, err)
	defer b.Close()

	ch := b.Subscribe("redis-test")
	// the subscription is confirmed before Subscribe returns
	b.Publish("redis-test", SSEEvent{Type: EventRunCompleted, Data: map[string]any{"bestCost": 12.5}})
	got := recv(t, ch)
	assert.Equal(t, EventRunCompleted, got.Type)
	assert.Equal(t, 12.5, got.Data["bestCost"])

	b.Unsubscribe("redis-test", ch)
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
