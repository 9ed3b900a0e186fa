// Package events is an in-memory pub/sub bus for debate lifecycle events.
// Transports subscribe and relay the stream to clients; publishing never
// blocks the orchestrator (slow subscribers drop events).
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventThreadStarted  EventType = "thread_started"
	EventPhaseStarted   EventType = "phase_started"
	EventPhaseContent   EventType = "phase_content"
	EventChallenge      EventType = "challenge"
	EventPhaseComplete  EventType = "phase_complete"
	EventCommit         EventType = "commit"
	EventRoundComplete  EventType = "round_complete"
	EventThreadComplete EventType = "thread_complete"
	EventError          EventType = "error"
)

// Event is a single debate event published on the bus. Events for one thread
// are published in order; consumers see them as a linear stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"thread_id,omitempty"`

	// Phase fields.
	Phase    string `json:"phase,omitempty"`
	ModelRef string `json:"model_ref,omitempty"`
	Delta    string `json:"delta,omitempty"`

	// Challenge fields.
	Framing     string `json:"framing,omitempty"`
	Sycophantic bool   `json:"sycophantic,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`

	// Commit / round fields.
	Round      int     `json:"round,omitempty"`
	Rigor      float64 `json:"rigor,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Dissent    string  `json:"dissent,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`

	// Completion / error fields.
	Result    string `json:"result,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
