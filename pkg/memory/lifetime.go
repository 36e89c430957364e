package memory

import (
	"sync"
	"time"
)

type tracked struct {
	deadline time.Time
	release  func()
}

// LifetimeTracker expires objects held longer than a maximum lifetime.
// Expired entries have their release function called once by Sweep.
type LifetimeTracker struct {
	maxLifetime time.Duration
	now         func() time.Time

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]tracked
}

// NewLifetimeTracker returns a tracker. A zero maxLifetime disables expiry.
func NewLifetimeTracker(maxLifetime time.Duration, now func() time.Time) *LifetimeTracker {
	if now == nil {
		now = time.Now
	}
	return &LifetimeTracker{
		maxLifetime: maxLifetime,
		now:         now,
		entries:     make(map[uint64]tracked),
	}
}

// Track registers release to run if the object outlives the maximum
// lifetime. The returned function untracks it; call it when the object is
// released normally.
func (lt *LifetimeTracker) Track(release func()) (untrack func()) {
	if lt.maxLifetime <= 0 || release == nil {
		return func() {}
	}

	lt.mu.Lock()
	lt.nextID++
	id := lt.nextID
	lt.entries[id] = tracked{deadline: lt.now().Add(lt.maxLifetime), release: release}
	lt.mu.Unlock()

	return func() {
		lt.mu.Lock()
		delete(lt.entries, id)
		lt.mu.Unlock()
	}
}

// Sweep releases every entry whose deadline is before now and returns how
// many were released. Release functions run without the lock held.
func (lt *LifetimeTracker) Sweep(now time.Time) int {
	expired := lt.expire(now)
	for _, release := range expired {
		release()
	}
	return len(expired)
}

// Drop forgets every entry whose deadline is before now without calling its
// release function, so the objects are left to the garbage collector.
func (lt *LifetimeTracker) Drop(now time.Time) int {
	return len(lt.expire(now))
}

func (lt *LifetimeTracker) expire(now time.Time) []func() {
	var expired []func()

	lt.mu.Lock()
	for id, e := range lt.entries {
		if now.After(e.deadline) {
			expired = append(expired, e.release)
			delete(lt.entries, id)
		}
	}
	lt.mu.Unlock()
	return expired
}

// Len returns the number of tracked objects.
func (lt *LifetimeTracker) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.entries)
}
