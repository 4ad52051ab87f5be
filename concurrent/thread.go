package concurrent

import "sync"

// ThreadState is the lifecycle of a Thread.
type ThreadState int32

const (
	ThreadUninitialized ThreadState = iota
	ThreadStarting
	ThreadStarted
	ThreadStopping
	ThreadStopped
)

// ThreadID is an opaque, comparable identifier for the goroutine currently
// executing. It is only ever used for equality comparisons (is the caller
// one of my own workers?), never for ordering or scheduling decisions.
type ThreadID uint64

// Thread is a handle to a goroutine spawned by a ThreadFactory. It tracks
// lifecycle state and is joinable iff it was created with a joinable
// disposition.
type Thread struct {
	// mu/cond guard state and id, and implement the start-handshake: Start
	// must not return until the spawned goroutine has recorded its own id
	// and transitioned to ThreadStarted. This is a private rendezvous, not
	// one of core.Manager's three shared monitors.
	mu    sync.Mutex
	cond  *sync.Cond
	state ThreadState
	id    ThreadID

	detached bool
	work     func()
	done     chan struct{}
}

func newThread(work func(), detached bool) *Thread {
	t := &Thread{work: work, detached: detached, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Start spawns the OS-thread analogue (a goroutine) running the bound work
// item and blocks until it has reached ThreadStarted, eliminating the race
// where a caller could observe or reuse the Thread before the spawned
// goroutine has captured its own identity.
func (t *Thread) Start() {
	t.mu.Lock()
	t.state = ThreadStarting
	t.mu.Unlock()

	go func() {
		t.mu.Lock()
		t.id = ThreadID(currentGoroutineID())
		t.state = ThreadStarted
		t.cond.Broadcast()
		t.mu.Unlock()

		defer func() {
			t.mu.Lock()
			t.state = ThreadStopping
			t.mu.Unlock()
			close(t.done)
		}()

		t.work()
	}()

	t.mu.Lock()
	for t.state == ThreadStarting {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// Join blocks until the thread's goroutine has returned. It is a no-op for
// detached threads and for threads that were never started.
func (t *Thread) Join() {
	if t.detached {
		return
	}
	t.mu.Lock()
	started := t.state != ThreadUninitialized
	t.mu.Unlock()
	if !started {
		return
	}

	<-t.done

	t.mu.Lock()
	t.state = ThreadStopped
	t.mu.Unlock()
}

// ID returns the thread's opaque id. Only valid once Start has returned.
func (t *Thread) ID() ThreadID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// State returns the current lifecycle state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Detached reports the disposition this thread was created with.
func (t *Thread) Detached() bool {
	return t.detached
}
