// Package eventbus is the typed, synchronous publish/subscribe registry
// that every Classic Browser Core component uses to reconcile state instead
// of holding direct handles to one another.
//
// Dispatch is synchronous and single-threaded per Bus: Emit walks the
// subscriber list for a topic in registration order and calls each one in
// turn. A panicking subscriber is recovered and logged so delivery
// continues to the remaining subscribers — grounded on the
// recover-and-continue idiom pkg/config.Reloader uses for its own
// change-callbacks.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Topic is a string key. The Core's topics are declared as constants in this
// package's topics.go and emitters/subscribers use those constants rather
// than ad-hoc strings, so a misspelled constant name fails to compile
// instead of silently going unheard.
type Topic string

// Handler receives a topic's payload. Payload shapes are documented next to
// each Topic constant; handlers type-assert to the documented shape.
type Handler func(payload any)

// unsubscribe removes one previously registered handler.
type unsubscribe func()

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a typed pub/sub registry. The zero value is not usable; construct
// with New.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic][]subscription
	next uint64
	log  *zap.Logger
}

// New creates an empty Bus. A nil logger is replaced with zap.NewNop().
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[Topic][]subscription),
		log:  log,
	}
}

// Subscribe registers handler against topic and returns a function that
// detaches it. Safe to call from within a handler invoked by Emit.
func (b *Bus) Subscribe(topic Topic, handler Handler) unsubscribe {
	return b.subscribe(topic, handler, false)
}

// SubscribeOnce registers a handler that automatically detaches itself
// after its first invocation.
func (b *Bus) SubscribeOnce(topic Topic, handler Handler) unsubscribe {
	return b.subscribe(topic, handler, true)
}

func (b *Bus) subscribe(topic Topic, handler Handler, once bool) unsubscribe {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler, once: once})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// RemoveAllListeners detaches every handler for topic, or for every topic
// when topic is the empty string.
func (b *Bus) RemoveAllListeners(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == "" {
		b.subs = make(map[Topic][]subscription)
		return
	}
	delete(b.subs, topic)
}

// Emit dispatches payload to every current subscriber of topic, in
// registration order. A subscriber that panics is recovered and logged;
// the remaining subscribers still receive the event. Nested Emit calls from
// within a handler are safe: Emit takes a snapshot of the subscriber list
// before dispatching, so a handler that subscribes or unsubscribes doesn't
// perturb the delivery already in progress.
func (b *Bus) Emit(topic Topic, payload any) {
	b.mu.Lock()
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.Unlock()

	var onceIDs []uint64
	for _, s := range list {
		b.dispatch(topic, s, payload)
		if s.once {
			onceIDs = append(onceIDs, s.id)
		}
	}

	if len(onceIDs) == 0 {
		return
	}
	b.mu.Lock()
	remaining := b.subs[topic][:0]
	for _, s := range b.subs[topic] {
		drop := false
		for _, id := range onceIDs {
			if s.id == id {
				drop = true
				break
			}
		}
		if !drop {
			remaining = append(remaining, s)
		}
	}
	b.subs[topic] = remaining
	b.mu.Unlock()
}

func (b *Bus) dispatch(topic Topic, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus subscriber panicked",
				zap.String("topic", string(topic)),
				zap.Any("recover", r),
			)
		}
	}()
	s.handler(payload)
}
