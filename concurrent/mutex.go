// Package concurrent provides the thin synchronization primitives the
// scheduler in package core is built on: a timed mutex, a condition-variable
// monitor bound to that mutex, and a thread handle/factory pair standing in
// for an OS thread. None of these are interesting on their own; they exist
// only to give core.Manager the exact contract spec-level worker pools
// (java.util.concurrent.ThreadPoolExecutor and friends) are usually built
// against, without smuggling that contract's assumptions into core itself.
package concurrent

import "time"

// Mutex is a lock that additionally supports a bounded-wait acquisition.
// It implements sync.Locker, which lets a Mutex directly back a sync.Cond
// (see Monitor) — several Monitors can therefore share one Mutex.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	<-m.ch
}

// Unlock releases the mutex. Unlocking an already-unlocked Mutex panics,
// matching sync.Mutex's behavior.
func (m *Mutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("concurrent: unlock of unlocked Mutex")
	}
}

// TryLock acquires the mutex without blocking, reporting whether it succeeded.
func (m *Mutex) TryLock() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// TimedLock attempts to acquire the mutex within timeout, returning false on
// expiry rather than treating the timeout as an error. A non-positive
// timeout behaves like TryLock.
func (m *Mutex) TimedLock(timeout time.Duration) bool {
	if timeout <= 0 {
		return m.TryLock()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Guard is a scope-bound acquisition of a Mutex. Construct one with Lock or
// LockTimed and release it with a deferred call to Unlock on every exit path.
type Guard struct {
	mu       *Mutex
	acquired bool
}

// Lock acquires mu unconditionally and returns a Guard over it.
func Lock(mu *Mutex) *Guard {
	mu.Lock()
	return &Guard{mu: mu, acquired: true}
}

// LockTimed attempts to acquire mu within timeout and returns a Guard
// regardless of outcome; callers must check Acquired before assuming the
// critical section is safe to enter.
func LockTimed(mu *Mutex, timeout time.Duration) *Guard {
	return &Guard{mu: mu, acquired: mu.TimedLock(timeout)}
}

// Acquired reports whether the guarded mutex was actually locked. Only
// meaningful for guards created with LockTimed.
func (g *Guard) Acquired() bool {
	return g.acquired
}

// Unlock releases the mutex if this guard holds it. Safe to call multiple
// times and safe to call when Acquired is false.
func (g *Guard) Unlock() {
	if !g.acquired {
		return
	}
	g.acquired = false
	g.mu.Unlock()
}
