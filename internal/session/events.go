package session

import (
	"sync"
	"time"
)

// EventType names an orchestrator event.
type EventType string

const (
	EventMessage        EventType = "message"
	EventPhase          EventType = "phase"
	EventWarning        EventType = "warning"
	EventWarningCleared EventType = "warning_cleared"
	EventThinking       EventType = "thinking"
	EventInterim        EventType = "interim"
	EventProgress       EventType = "progress"
	EventEndRequested   EventType = "end_requested"
	EventEndCancelled   EventType = "end_cancelled"
	EventTextOnly       EventType = "text_only"
	EventChannel        EventType = "channel"
	EventComplete       EventType = "complete"
)

// Event is published to subscribers after every visible state change.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Message   *Message  `json:"message,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	Warning   *Warning  `json:"warning,omitempty"`
	Thinking  bool      `json:"thinking,omitempty"`
	Interim   string    `json:"interim,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	EndReason EndReason `json:"end_reason,omitempty"`
	TextOnly  bool      `json:"text_only,omitempty"`
	Channel   string    `json:"channel,omitempty"`
}

// bus fans events out to subscribers. A subscriber that falls behind by
// more than its buffer misses events; it can resync from a Snapshot.
type bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *bus) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- e:
		default:
		}
	}
}

// close ends every subscription.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
