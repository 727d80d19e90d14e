package notify

import (
	"sync"
	"testing"
	"time"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe(func() { wg.Done() })
	b.Subscribe(func() { wg.Done() })

	b.Publish()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribers were not notified")
	}
}

func TestBroadcaster_PublishIsDeferred(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	fired := false
	b.Subscribe(func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	mu.Lock()
	// Publishing while holding the lock the subscriber needs must not
	// deadlock: delivery happens outside the publisher's stack.
	b.Publish()
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		ok := fired
		mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Deferred delivery never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()

	notified := make(chan struct{}, 4)
	unsubscribe := b.Subscribe(func() { notified <- struct{}{} })
	unsubscribe()

	b.Publish()
	select {
	case <-notified:
		t.Fatal("Unsubscribed callback still notified")
	case <-time.After(100 * time.Millisecond):
	}
}
