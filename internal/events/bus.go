package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// EventBus fans events out to subscribers
type EventBus interface {
	// Publish delivers an event to all matching subscribers without
	// blocking the caller; slow subscribers drop events.
	Publish(event Event)

	// Subscribe registers interest in the given event types. An empty
	// type list matches everything.
	Subscribe(types ...EventType) *Subscription

	// Unsubscribe removes a subscription and closes its channel
	Unsubscribe(id string)

	// Close shuts the bus down and closes all subscriber channels
	Close()
}

// Subscription is a registered event consumer
type Subscription struct {
	ID    string
	C     <-chan Event
	types map[EventType]bool
	ch    chan Event
}

// Matches reports whether the subscription wants this event type
func (s *Subscription) Matches(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	return s.types[t]
}

type bus struct {
	logger hclog.Logger
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

const subscriberBuffer = 64

// NewBus creates an in-memory event bus
func NewBus(logger hclog.Logger) EventBus {
	return &bus{
		logger: logger.Named("event-bus"),
		subs:   make(map[string]*Subscription),
	}
}

func (b *bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.Matches(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is not keeping up; progress events are
			// advisory so dropping is preferable to blocking a stage.
			b.logger.Debug("dropped event for slow subscriber",
				"subscription_id", sub.ID,
				"event_type", event.Type)
		}
	}
}

func (b *bus) Subscribe(types ...EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{
		ID:    uuid.New().String(),
		C:     ch,
		ch:    ch,
		types: make(map[EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	if b.closed {
		close(ch)
		return sub
	}

	b.subs[sub.ID] = sub
	return sub
}

func (b *bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

var (
	globalBus  EventBus
	globalOnce sync.Once
	globalMu   sync.RWMutex
)

// SetGlobalBus installs the process-wide event bus
func SetGlobalBus(b EventBus) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalBus = b
}

// GetGlobalBus returns the process-wide event bus, creating a default
// one on first use
func GetGlobalBus() EventBus {
	globalMu.RLock()
	if globalBus != nil {
		defer globalMu.RUnlock()
		return globalBus
	}
	globalMu.RUnlock()

	globalOnce.Do(func() {
		globalMu.Lock()
		if globalBus == nil {
			globalBus = NewBus(hclog.NewNullLogger())
		}
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalBus
}
