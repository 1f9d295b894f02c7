package api

import (
	"sync"
)

// SSEEvent is one progress or lifecycle event of a run. It is delivered as
// an SSE frame or a WebSocket message.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Run event types.
const (
	EventRunStarted          = "run.started"
	EventGenerationCompleted = "generation.completed"
	EventRunCompleted        = "run.completed"
	EventRunFailed           = "run.failed"
)

func terminalEvent(t string) bool { return t == EventRunCompleted || t == EventRunFailed }

// EventBroker fans run events out to stream subscribers. Publish never blocks;
// a subscriber that falls behind misses progress events, but always gets the
// terminal run.completed or run.failed event.
type EventBroker interface {
	Subscribe(runID string) chan SSEEvent
	Unsubscribe(runID string, ch chan SSEEvent)
	Publish(runID string, evt SSEEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan SSEEvent {
	ch := make(chan SSEEvent, 32)
	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
	close(ch)
}

func (b *Broker) Publish(runID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[runID] {
		deliver(ch, evt)
	}
}

// deliver sends evt without blocking. Callers must be the only sender on ch.
// A full buffer drops evt, unless it is terminal: then the oldest buffered
// event is evicted to make room so the stream can still end.
func deliver(ch chan SSEEvent, evt SSEEvent) {
	for {
		select {
		case ch <- evt:
			return
		default:
		}
		if !terminalEvent(evt.Type) {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}
