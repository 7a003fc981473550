// Package changebus fans out workspace change events to every live subscriber.
package changebus

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"devsync/internal/metrics"
)

// Event types as sent on the wire.
const (
	TypeTreeInvalidated = "fs:tree"
	TypeFileChanged     = "fs:change"
	TypeRepoInvalidated = "git"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Event is a change notification. Path is only set for TypeFileChanged.
type Event struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// TreeInvalidated reports that the shape of the workspace tree changed.
func TreeInvalidated() Event { return Event{Type: TypeTreeInvalidated} }

// FileChanged reports that the content of the file at virtual path changed.
func FileChanged(path string) Event { return Event{Type: TypeFileChanged, Path: path} }

// RepoInvalidated reports that repository state changed and must be re-queried.
func RepoInvalidated() Event { return Event{Type: TypeRepoInvalidated} }

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	ch     chan Event
	lagged atomic.Bool
	once   sync.Once
}

// Events returns the channel events are delivered on. It is closed when the
// subscription is removed or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// TakeLagged reports whether events were dropped for this subscriber since
// the last call and clears the flag.
func (s *Subscription) TakeLagged() bool {
	return s.lagged.Swap(false)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus is a process-wide publish point. Publish never blocks: a subscriber
// whose buffer is full misses the event and is marked lagged.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	closed      bool
}

// New creates a Bus whose subscribers buffer bufferSize events.
// Non-positive sizes select DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber. Only events published after Subscribe
// returns are delivered. The caller must call Unsubscribe when done.
// On a closed bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.bufferSize)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subscribers[sub] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetBusSubscribers(n)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	sub.close()
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetBusSubscribers(n)
}

// Publish delivers event to every current subscriber without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.lagged.Store(true)
			metrics.RecordBusDrop()
		}
	}
	metrics.RecordBusEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription and rejects further subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, sub)
	}
	b.mu.Unlock()
	metrics.SetBusSubscribers(0)
}
