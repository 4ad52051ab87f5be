package concurrent

import (
	"sync"
	"time"
)

// WaitResult reports why a Monitor.Wait call returned.
type WaitResult int

const (
	// WaitOK means the monitor was woken by Notify/NotifyAll (or, as with
	// any condition variable, spuriously — callers must re-check their
	// predicate in a loop regardless of WaitResult).
	WaitOK WaitResult = iota
	// WaitTimedOut means the deadline elapsed before any wake.
	WaitTimedOut
)

// Monitor is a condition variable bound to a Mutex. The caller must hold
// mu when calling any Monitor method; Wait atomically releases mu and
// re-acquires it before returning, exactly like sync.Cond.Wait. Multiple
// Monitors may be bound to the same Mutex, which is how core.Manager runs
// three independent wait queues (waitQueue, waitMax, waitWorkers) off a
// single lock.
type Monitor struct {
	mu   *Mutex
	cond *sync.Cond
}

// NewMonitor creates a Monitor bound to mu. mu may already back other
// Monitors.
func NewMonitor(mu *Mutex) *Monitor {
	return &Monitor{mu: mu, cond: sync.NewCond(mu)}
}

// WaitForever blocks until Notify or NotifyAll wakes it (or spuriously).
func (m *Monitor) WaitForever() {
	m.cond.Wait()
}

// Wait blocks until woken or until timeout elapses. A timeout of zero means
// forever. sync.Cond has no native timeout, so a companion timer performs a
// Broadcast on expiry to unblock this specific waiter; that broadcast can
// also spuriously wake other waiters on the same Monitor, which is harmless
// because every caller in this module re-checks its own predicate in a loop
// after any wake, timed out or not.
func (m *Monitor) Wait(timeout time.Duration) WaitResult {
	if timeout <= 0 {
		m.cond.Wait()
		return WaitOK
	}

	deadline := time.Now().Add(timeout)
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		timedOut = true
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	timer.Stop()

	if timedOut || time.Now().After(deadline) {
		return WaitTimedOut
	}
	return WaitOK
}

// Notify wakes at most one waiter.
func (m *Monitor) Notify() {
	m.cond.Signal()
}

// NotifyAll wakes every waiter.
func (m *Monitor) NotifyAll() {
	m.cond.Broadcast()
}
