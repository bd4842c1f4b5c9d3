// Package events provides the typed in-process notification bus that
// connects the token store and the push channel to feed views. The set
// of event kinds is closed; subscribers register on view mount and must
// unsubscribe on teardown.
package events

import (
	"sync"

	"github.com/google/uuid"

	"feedsync/pkg/feed"
)

// Kind identifies an event type on the bus.
type Kind int

const (
	// CredentialChanged fires on login and logout.
	CredentialChanged Kind = iota
	// PostUpserted carries a full post record that was created or updated.
	PostUpserted
	// PostDeleted carries the ID of a deleted post.
	PostDeleted
)

// Event is a single bus notification. Post is set for PostUpserted,
// PostID for PostDeleted; CredentialChanged carries no payload.
type Event struct {
	Kind   Kind
	Post   *feed.Post
	PostID string
}

// Bus is a synchronous publish/subscribe hub. Handlers run on the
// publishing goroutine, one event at a time per subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]func(Event))}
}

// Subscribe registers a handler and returns the handle needed to
// unsubscribe it.
func (b *Bus) Subscribe(fn func(Event)) uuid.UUID {
	id := uuid.New()
	b.mu.Lock()
	b.subs[id] = fn
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a handler. Unknown handles are ignored, so calling
// it twice on teardown is safe.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Publish delivers the event to every current subscriber before
// returning, so each subscriber observes events in publish order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
