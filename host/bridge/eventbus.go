package bridge

import (
	"sync"
	"time"
)

// FrameEvent is the JSON-serialisable envelope broadcast to WebSocket
// clients for every frame the relay heard.
type FrameEvent struct {
	Src        uint8     `json:"src"`
	Dst        uint8     `json:"dst"`
	Type       string    `json:"type"` // "data" or "ack"
	MsgID      uint16    `json:"msgId"`
	RequireAck bool      `json:"requireAck"`
	RSSIDbm    int16     `json:"rssiDbm"`
	Payload    []byte    `json:"payload,omitempty"` // base64 in JSON
	ReceivedAt time.Time `json:"receivedAt"`
}

// subscriber holds a buffered channel for one WebSocket connection
type subscriber struct {
	ch chan FrameEvent
}

// EventBus fans frame events out to all registered WebSocket clients.
// Channel-based subscribers keep the bus transport-agnostic and testable
// without a real WebSocket.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new client. Returns a receive channel and an
// unsubscribe function that must be called when the client disconnects
// (it closes the channel).
func (b *EventBus) Subscribe() (<-chan FrameEvent, func()) {
	s := &subscriber{ch: make(chan FrameEvent, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish sends an event to all current subscribers. Slow consumers are
// skipped (their buffer is full) to avoid stalling the serial ingest loop.
func (b *EventBus) Publish(e FrameEvent) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			// Slow consumer - drop silently
		}
	}
}

// Len returns the current subscriber count (useful for tests)
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
