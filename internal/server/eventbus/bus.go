// Package eventbus provides the in-process fan-out between the ledger and
// live observers (SSE streams). It is not persistent: disconnected clients
// miss events.
package eventbus

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Event is the post-commit projection of one ledger row.
type Event struct {
	EventID        string          `json:"event_id"`
	RootID         string          `json:"root_id"`
	EventType      string          `json:"event_type"`
	SourceID       *string         `json:"source_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ChangesApplied json.RawMessage `json:"changes_applied,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ErrTooManySubscribers is returned when the fan-out limit is reached.
var ErrTooManySubscribers = errors.New("too many subscribers")

const (
	maxSubscribers   = 200
	subscriberBuffer = 64
)

// Bus is a bounded single-process publish/subscribe hub. Publish never
// blocks: a subscriber whose buffer is full loses the event rather than
// stalling the publisher or its peers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener and returns its channel together with an
// unsubscribe function. Unsubscribing closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= maxSubscribers {
		return nil, nil, ErrTooManySubscribers
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// Publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	channels := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the current number of listeners.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
