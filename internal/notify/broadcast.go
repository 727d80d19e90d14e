// Package notify carries the in-process, payload-free change notification
// that keeps independent status-store instances and UI indicators in sync.
// Observers re-read state on every notification rather than trusting a
// payload, so the broadcast itself stays trivially small.
package notify

import "sync"

// Broadcaster fans a notification out to every subscriber. Delivery is
// deferred to a separate goroutine so a mutation never fires subscriber
// callbacks synchronously inside its own call stack.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]func()
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func())}
}

// Subscribe registers fn and returns a function that removes the
// subscription. fn must be safe to call from a goroutine other than the
// publisher's.
func (b *Broadcaster) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish notifies every current subscriber. It returns before any
// subscriber runs.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	go func() {
		for _, fn := range fns {
			fn()
		}
	}()
}

var (
	defaultMu          sync.Mutex
	defaultBroadcaster *Broadcaster
)

// Default returns the process-wide broadcaster shared by all status-store
// instances that do not wire their own.
func Default() *Broadcaster {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBroadcaster == nil {
		defaultBroadcaster = NewBroadcaster()
	}
	return defaultBroadcaster
}
