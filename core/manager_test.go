package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkoval/go-worker-pool/concurrent"
)

func newTestManager(t *testing.T, workers, cap int) *Manager {
	t.Helper()
	m, err := NewSimple(DefaultConfig(), cap, workers)
	if err != nil {
		t.Fatalf("NewSimple failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

// S1: basic round trip across many tasks.
func TestManager_BasicRoundTrip(t *testing.T) {
	m := newTestManager(t, 2, 0)

	var counter int64
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := m.Add(WorkItemFunc(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		}), 0, 0); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("counter = %d, want %d", got, n)
	}
}

// S2: bounded backlog blocks a producer until room frees up.
func TestManager_BoundedBacklogBlocks(t *testing.T) {
	m := newTestManager(t, 1, 4)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := m.Add(WorkItemFunc(func() {
		close(started)
		<-release
	}), 0, 0); err != nil {
		t.Fatalf("Add (slow item) failed: %v", err)
	}
	<-started

	for i := 0; i < 4; i++ {
		if err := m.Add(WorkItemFunc(func() {}), 0, 0); err != nil {
			t.Fatalf("Add (fast item %d) failed: %v", i, err)
		}
	}

	unblocked := make(chan struct{})
	go func() {
		if err := m.Add(WorkItemFunc(func() {}), 0, 0); err != nil {
			t.Errorf("blocked Add failed: %v", err)
		}
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Add returned before the backlog had room")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Add never unblocked after the backlog drained")
	}
}

// S3: fail-fast with a negative timeout.
func TestManager_FailFastAtCapacity(t *testing.T) {
	m := newTestManager(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := m.Add(WorkItemFunc(func() {
		close(started)
		<-release
	}), 0, 0); err != nil {
		t.Fatalf("Add (slow item) failed: %v", err)
	}
	<-started

	if err := m.Add(WorkItemFunc(func() {}), 0, 0); err != nil {
		t.Fatalf("Add (filler) failed: %v", err)
	}

	before := m.PendingTaskCount()
	err := m.Add(WorkItemFunc(func() {}), -1, 0)
	if !errors.Is(err, ErrTooManyPendingTasks) {
		t.Fatalf("Add with timeout<0 at cap: err = %v, want ErrTooManyPendingTasks", err)
	}
	if got := m.PendingTaskCount(); got != before {
		t.Fatalf("PendingTaskCount = %d after failed Add, want %d", got, before)
	}

	close(release)
}

// S4: a task whose deadline has passed by dequeue time is expired, not run.
func TestManager_ExpirationDropsStaleTask(t *testing.T) {
	m := newTestManager(t, 1, 0)

	var expiredWork atomic.Value
	expired := make(chan struct{})
	m.SetExpireCallback(func(work WorkItem) {
		expiredWork.Store(work)
		close(expired)
	})

	blocking := make(chan struct{})
	if err := m.Add(WorkItemFunc(func() {
		<-blocking
	}), 0, 0); err != nil {
		t.Fatalf("Add (blocking item) failed: %v", err)
	}

	var ran atomic.Bool
	staleWork := WorkItemFunc(func() { ran.Store(true) })
	if err := m.Add(staleWork, 0, 10*time.Millisecond); err != nil {
		t.Fatalf("Add (stale item) failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	close(blocking)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("expire callback was never invoked")
	}

	if ran.Load() {
		t.Fatal("stale task's Run was called despite having expired")
	}
	if got, _ := expiredWork.Load().(WorkItem); got == nil {
		t.Fatal("expire callback received a nil work item")
	}
}

// S5: resizing up and back down, joining departed workers.
func TestManager_Resizing(t *testing.T) {
	m := newTestManager(t, 0, 0)
	factory := concurrent.NewThreadFactory(concurrent.Joinable)
	if err := m.SetThreadFactory(factory); err != nil {
		t.Fatalf("SetThreadFactory failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := m.AddWorker(3); err != nil {
		t.Fatalf("AddWorker(3) failed: %v", err)
	}
	if got := m.WorkerCount(); got != 3 {
		t.Fatalf("WorkerCount = %d, want 3", got)
	}

	if err := m.RemoveWorker(2); err != nil {
		t.Fatalf("RemoveWorker(2) failed: %v", err)
	}
	if got := m.WorkerCount(); got != 1 {
		t.Fatalf("WorkerCount = %d, want 1", got)
	}
}

// S6: a worker that tries to Add to its own manager while at cap fails
// fast instead of deadlocking. The sole worker is executing the
// self-submitting task itself; a filler task queued by the test occupies
// the one cap=1 slot, so the worker's own Add observes the backlog full.
func TestManager_SelfSubmitAtCapacityFailsFast(t *testing.T) {
	m := newTestManager(t, 1, 1)

	started := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	selfAdd := WorkItemFunc(func() {
		close(started)
		<-proceed
		done <- m.Add(WorkItemFunc(func() {}), 0, 0)
	})
	if err := m.Add(selfAdd, 0, 0); err != nil {
		t.Fatalf("Add (self-submitting item) failed: %v", err)
	}
	<-started

	if err := m.Add(WorkItemFunc(func() {}), 0, 0); err != nil {
		t.Fatalf("Add (filler occupying the cap slot) failed: %v", err)
	}
	close(proceed)

	select {
	case err := <-done:
		if !errors.Is(err, ErrTooManyPendingTasks) {
			t.Fatalf("self-submit at cap: err = %v, want ErrTooManyPendingTasks", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker deadlocked self-submitting at capacity")
	}
}

func TestManager_RemoveAndRemoveNextPending(t *testing.T) {
	m := newTestManager(t, 0, 0)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	type marker struct{ WorkItem }
	a := &marker{WorkItemFunc(func() {})}
	b := &marker{WorkItemFunc(func() {})}

	if err := m.Add(a, 0, 0); err != nil {
		t.Fatalf("Add(a) failed: %v", err)
	}
	if err := m.Add(b, 0, 0); err != nil {
		t.Fatalf("Add(b) failed: %v", err)
	}

	if err := m.Remove(a); err != nil {
		t.Fatalf("Remove(a) failed: %v", err)
	}
	if got := m.PendingTaskCount(); got != 1 {
		t.Fatalf("PendingTaskCount after Remove = %d, want 1", got)
	}

	got, err := m.RemoveNextPending()
	if err != nil {
		t.Fatalf("RemoveNextPending failed: %v", err)
	}
	if got != WorkItem(b) {
		t.Fatal("RemoveNextPending returned the wrong work item")
	}
}

func TestManager_RemoveExpiredTasksSweepsAll(t *testing.T) {
	m := newTestManager(t, 0, 0)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Add(WorkItemFunc(func() {}), 0, time.Microsecond); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	if err := m.RemoveExpiredTasks(); err != nil {
		t.Fatalf("RemoveExpiredTasks failed: %v", err)
	}
	if got := m.PendingTaskCount(); got != 0 {
		t.Fatalf("PendingTaskCount after sweep = %d, want 0", got)
	}
	if got := m.ExpiredTaskCount(); got != 3 {
		t.Fatalf("ExpiredTaskCount = %d, want 3", got)
	}
}

func TestManager_AddBeforeStartFails(t *testing.T) {
	m := New(DefaultConfig())
	err := m.Add(WorkItemFunc(func() {}), 0, 0)
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Add before Start: err = %v, want ErrNotStarted", err)
	}
}

func TestManager_StartWithoutFactoryFails(t *testing.T) {
	m := New(Config{})
	err := m.Start()
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Start without factory: err = %v, want ErrInvalidArgument", err)
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := newTestManager(t, 2, 0)
	if err := m.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if got := m.WorkerCount(); got != 0 {
		t.Fatalf("WorkerCount after Stop = %d, want 0", got)
	}
}

func TestManager_StopDrainsQueue(t *testing.T) {
	m := newTestManager(t, 2, 0)

	var ran int64
	const n = 50
	for i := 0; i < n; i++ {
		if err := m.Add(WorkItemFunc(func() { atomic.AddInt64(&ran, 1) }), 0, 0); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := atomic.LoadInt64(&ran); got != n {
		t.Fatalf("ran = %d, want %d tasks drained before Stop returned", got, n)
	}
}

func TestManager_SetThreadFactoryRejectsDispositionMismatch(t *testing.T) {
	m := New(DefaultConfig())
	err := m.SetThreadFactory(concurrent.NewThreadFactory(concurrent.Detached))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetThreadFactory mismatch: err = %v, want ErrInvalidArgument", err)
	}
}

func TestManager_TaskPanicDoesNotKillWorker(t *testing.T) {
	m := newTestManager(t, 1, 0)

	if err := m.Add(WorkItemFunc(func() { panic("boom") }), 0, 0); err != nil {
		t.Fatalf("Add (panicking item) failed: %v", err)
	}

	done := make(chan struct{})
	if err := m.Add(WorkItemFunc(func() { close(done) }), 0, 0); err != nil {
		t.Fatalf("Add (follow-up item) failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not continue running tasks after a panic")
	}
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, 2, 10)

	if err := m.Add(WorkItemFunc(func() { time.Sleep(50 * time.Millisecond) }), 0, 0); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	stats := m.Stats()
	if stats.State != StateStarted {
		t.Fatalf("Stats().State = %v, want StateStarted", stats.State)
	}
	if stats.WorkerCount != 2 {
		t.Fatalf("Stats().WorkerCount = %d, want 2", stats.WorkerCount)
	}
	if stats.PendingTaskCountMax != 10 {
		t.Fatalf("Stats().PendingTaskCountMax = %d, want 10", stats.PendingTaskCountMax)
	}
}
