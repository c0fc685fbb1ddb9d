// ABOUTME: Thread-safe TTL tracker for one-time nonces
// ABOUTME: Prevents replay of wallet sign-in messages and session statements

package replay

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a tracked nonce.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Tracker records nonces that have been consumed and rejects reuse
// within the TTL window. It is size-bounded: when full, the oldest nonce
// is evicted. Eviction is safe because the credential's own timestamp
// window has expired long before a full tracker cycles.
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // nonces in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewTracker creates a tracker with the given TTL and size bound. A
// background goroutine removes expired nonces once a minute.
func NewTracker(ttl time.Duration, maxSize int) *Tracker {
	t := &Tracker{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Consume atomically checks and records a nonce. It returns false if the
// nonce was already consumed within the TTL (replay), true if the nonce
// is fresh and is now recorded. The check-and-record is a single
// critical section so two concurrent presentations of the same nonce
// cannot both pass.
func (t *Tracker) Consume(nonce string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.seen[nonce]; ok && time.Since(e.seenAt) < t.ttl {
		return false
	}

	now := time.Now()
	if e, ok := t.seen[nonce]; ok {
		// Expired entry for the same nonce: refresh it.
		e.seenAt = now
		t.order.MoveToBack(e.element)
		return true
	}

	if len(t.seen) >= t.maxSize {
		t.evictOldest()
	}

	elem := t.order.PushBack(nonce)
	t.seen[nonce] = &entry{seenAt: now, element: elem}
	return true
}

// evictOldest removes the oldest nonce. Must be called with mu held.
func (t *Tracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	nonce, _ := front.Value.(string)
	t.order.Remove(front)
	delete(t.seen, nonce)
}

// cleanup periodically drops expired nonces.
func (t *Tracker) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.removeExpired()
		case <-t.done:
			return
		}
	}
}

// removeExpired drops every nonce older than the TTL.
func (t *Tracker) removeExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for nonce, e := range t.seen {
		if now.Sub(e.seenAt) > t.ttl {
			t.order.Remove(e.element)
			delete(t.seen, nonce)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
