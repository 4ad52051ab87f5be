// Package core implements the dynamically-resizable worker-pool scheduler:
// Task, Worker and Manager. Everything below Manager is deliberately thin —
// the Manager is where the bounded-backlog, expiration and lifecycle rules
// actually live.
package core

import (
	"sync/atomic"
	"time"

	"github.com/dkoval/go-worker-pool/concurrent"
)

// ManagerState is the lifecycle of a Manager. It only ever moves forward;
// once Stopped it is terminal.
type ManagerState int32

const (
	StateUninitialized ManagerState = iota
	StateStarting
	StateStarted
	StateJoining
	StateStopping
	StateStopped
)

func (s ManagerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateJoining:
		return "joining"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a coherent, single-lock-acquisition snapshot of a Manager's
// counters. It exists alongside the individual accessors so a caller that
// needs several numbers to agree with each other (a metrics exporter, a
// test asserting an invariant) doesn't have to make N separate calls that
// could each observe a different instant.
type Stats struct {
	State               ManagerState
	WorkerCount         int
	IdleWorkerCount     int
	PendingTaskCount    int
	PendingTaskCountMax int
	TotalTaskCount      int
	ExpiredTaskCount    int64
}

// Manager is the scheduler's public façade: it owns the task queue, the
// live worker set, and the three monitors coordinating them.
type Manager struct {
	mu          *concurrent.Mutex
	waitQueue   *concurrent.Monitor // notified when a task is enqueued
	waitMax     *concurrent.Monitor // notified when the queue drops below cap
	waitWorkers *concurrent.Monitor // notified when workerCount reaches workerMaxCount

	// tasks is the pending FIFO. Protected by mu.
	tasks []*Task

	// workers is the live Thread set; idMap covers exactly its members,
	// keyed by the id a Thread only receives once started (see AddWorker).
	// Both are protected by mu.
	workers map[*concurrent.Thread]struct{}
	idMap   map[concurrent.ThreadID]*concurrent.Thread

	// deadWorkers holds Threads whose run loop has exited but that have not
	// yet been joined/discarded by RemoveWorker or Stop. Protected by mu.
	deadWorkers []*concurrent.Thread

	workerCount         int
	workerMaxCount      int
	pendingTaskCountMax int

	// state and idleCount get a fast lock-free read path because callers
	// are expected to treat them as eventually-consistent; every write
	// still happens under mu.
	state     atomic.Int32
	idleCount atomic.Int32

	// expiredCount is a monotonic counter incremented both under mu (the
	// RemoveExpiredTasks sweep) and without it (a worker's post-dequeue
	// expiration handling); an atomic keeps both paths correct without
	// serializing on mu for a counter nothing else needs linearized with.
	expiredCount atomic.Int64

	expireCallback ExpireCallback
	threadFactory  *concurrent.ThreadFactory

	logger  Logger
	metrics Metrics

	workerSeq atomic.Int64
}

// New creates a Manager from cfg. The manager starts in StateUninitialized;
// call Start (and AddWorker) to bring it up, or use NewSimple.
func New(cfg Config) *Manager {
	cfg.applyDefaults()

	mu := concurrent.NewMutex()
	m := &Manager{
		mu:                  mu,
		waitQueue:           concurrent.NewMonitor(mu),
		waitMax:             concurrent.NewMonitor(mu),
		waitWorkers:         concurrent.NewMonitor(mu),
		workers:             make(map[*concurrent.Thread]struct{}),
		idMap:               make(map[concurrent.ThreadID]*concurrent.Thread),
		pendingTaskCountMax: cfg.PendingTaskCountMax,
		threadFactory:       cfg.ThreadFactory,
		logger:              cfg.Logger,
		metrics:             cfg.Metrics,
	}
	return m
}

// NewSimple creates a Manager, sets its queue cap, starts it, and adds
// initialWorkers workers, returning any error from Start or AddWorker.
func NewSimple(cfg Config, pendingTaskCountMax, initialWorkers int) (*Manager, error) {
	cfg.PendingTaskCountMax = pendingTaskCountMax
	m := New(cfg)
	if err := m.Start(); err != nil {
		return nil, err
	}
	if initialWorkers > 0 {
		if err := m.AddWorker(initialWorkers); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) stateLocked() ManagerState {
	return ManagerState(m.state.Load())
}

func (m *Manager) setStateLocked(s ManagerState) {
	m.state.Store(int32(s))
}

// State returns the manager's lifecycle state. It is an eventually
// consistent, lock-free read; callers must not use it for correctness
// decisions.
func (m *Manager) State() ManagerState {
	return ManagerState(m.state.Load())
}

// IdleWorkerCount is a lock-free, eventually consistent read of the number
// of workers currently blocked waiting for a task.
func (m *Manager) IdleWorkerCount() int {
	return int(m.idleCount.Load())
}

// ThreadFactory returns the currently configured factory, or nil if none
// has been set.
func (m *Manager) ThreadFactory() *concurrent.ThreadFactory {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return m.threadFactory
}

// SetThreadFactory replaces the manager's ThreadFactory. Replacement is
// only permitted when the new factory's disposition matches the incumbent's
// — workers already created under the old disposition would otherwise be
// incorrectly joined, or not joined, at shutdown.
func (m *Manager) SetThreadFactory(f *concurrent.ThreadFactory) error {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	if f == nil {
		return newError(ErrKindInvalidArgument, "core: SetThreadFactory: factory must not be nil")
	}
	if m.threadFactory != nil && m.threadFactory.Disposition() != f.Disposition() {
		return newError(ErrKindInvalidArgument,
			"core: SetThreadFactory: disposition mismatch with incumbent factory")
	}
	m.threadFactory = f
	return nil
}

// SetExpireCallback replaces the callback invoked when a task is dropped
// for expiration. A nil callback disables notification.
func (m *Manager) SetExpireCallback(fn ExpireCallback) {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	m.expireCallback = fn
}

// Start brings the manager up. It requires a ThreadFactory to already be
// configured. Calling Start on an already-Stopped manager is a no-op, not
// an error — a Manager's lifecycle is one-shot.
func (m *Manager) Start() error {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	switch m.stateLocked() {
	case StateStopped:
		return nil
	case StateUninitialized:
		if m.threadFactory == nil {
			return newError(ErrKindInvalidArgument, "core: Start requires a ThreadFactory")
		}
		m.setStateLocked(StateStarted)
		m.logger.Info("core: manager started")
		return nil
	default:
		return nil
	}
}

// Stop transitions the manager to JOINING, which lets workers drain the
// task queue (rather than abandon it) before they exit, then removes every
// worker and marks the manager STOPPED. Stop is idempotent.
func (m *Manager) Stop() error {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	switch m.stateLocked() {
	case StateJoining, StateStopping, StateStopped:
		return nil
	}

	m.setStateLocked(StateJoining)
	if err := m.removeWorkerLocked(m.workerMaxCount); err != nil {
		return err
	}
	m.setStateLocked(StateStopped)
	m.logger.Info("core: manager stopped")
	return nil
}

// AddWorker creates n additional workers. It blocks until every new worker
// has entered its run loop.
func (m *Manager) AddWorker(n int) error {
	if n <= 0 {
		return nil
	}

	g := concurrent.Lock(m.mu)
	factory := m.threadFactory
	g.Unlock()
	if factory == nil {
		return newError(ErrKindInvalidArgument, "core: AddWorker requires a ThreadFactory")
	}

	// Worker/Thread objects are built outside the lock; they don't touch
	// shared state until Start is called on them.
	threads := make([]*concurrent.Thread, n)
	for i := 0; i < n; i++ {
		w := &worker{manager: m, id: m.workerSeq.Add(1)}
		th := factory.NewThread(w.run)
		w.thread = th
		threads[i] = th
	}

	g = concurrent.Lock(m.mu)
	defer g.Unlock()

	m.workerMaxCount += n
	for _, th := range threads {
		m.workers[th] = struct{}{}
	}
	for _, th := range threads {
		th.Start()
		m.idMap[th.ID()] = th
	}
	for m.workerCount != m.workerMaxCount {
		m.waitWorkers.WaitForever()
	}
	m.metrics.RecordWorkerCount(m.workerCount, int(m.idleCount.Load()))
	return nil
}

// RemoveWorker asks n workers to exit, waits for them to do so, and joins
// their threads if the current ThreadFactory is joinable.
func (m *Manager) RemoveWorker(n int) error {
	if n <= 0 {
		return nil
	}
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return m.removeWorkerLocked(n)
}

// removeWorkerLocked implements RemoveWorker's contract; the caller must
// already hold mu. Stop calls this directly under its own critical section.
func (m *Manager) removeWorkerLocked(n int) error {
	if n > m.workerMaxCount {
		return newError(ErrKindInvalidArgument, "core: RemoveWorker: n exceeds current worker count")
	}

	m.workerMaxCount -= n

	// Wake exactly n idle workers if that leaves the rest asleep; otherwise
	// every idle worker must re-check activity, since we can't tell which
	// n would actually be enough to satisfy the new target. Waking more
	// than depart is benign — the extras just re-check and re-sleep.
	if int(m.idleCount.Load()) > n {
		for i := 0; i < n; i++ {
			m.waitQueue.Notify()
		}
	} else {
		m.waitQueue.NotifyAll()
	}

	for m.workerCount != m.workerMaxCount {
		m.waitWorkers.WaitForever()
	}

	for _, th := range m.deadWorkers {
		if !th.Detached() {
			th.Join()
		}
		delete(m.idMap, th.ID())
		delete(m.workers, th)
	}
	m.deadWorkers = m.deadWorkers[:0]

	m.metrics.RecordWorkerCount(m.workerCount, int(m.idleCount.Load()))
	return nil
}

// Add enqueues work for execution. Its timeout/backlog semantics: timeout
// > 0 bounds both the initial mutex acquisition and each wait for the
// backlog to drop; timeout == 0 means wait forever for both; timeout < 0
// still waits forever for the mutex but never waits for the backlog to
// drop (fail fast instead). A worker calling Add on its own manager never
// waits for the backlog either, regardless of timeout, to avoid
// deadlocking itself out of draining the queue.
func (m *Manager) Add(work WorkItem, timeout, expiration time.Duration) error {
	var g *concurrent.Guard
	if timeout > 0 {
		g = concurrent.LockTimed(m.mu, timeout)
		if !g.Acquired() {
			m.metrics.RecordTaskRejected("mutex_timeout")
			return newError(ErrKindTooManyPendingTasks, "core: Add: timed out acquiring the lock")
		}
	} else {
		g = concurrent.Lock(m.mu)
	}
	defer g.Unlock()

	if m.stateLocked() != StateStarted {
		return newError(ErrKindNotStarted, "core: Add requires a started manager")
	}

	if m.atCapLocked() {
		m.removeExpiredTasksLocked(1)
	}

	if m.atCapLocked() {
		_, isWorker := m.idMap[m.threadFactory.CurrentThreadID()]
		for m.atCapLocked() {
			if isWorker || timeout < 0 {
				m.metrics.RecordTaskRejected("backlog")
				return newError(ErrKindTooManyPendingTasks, "core: Add: backlog is at capacity")
			}
			if timeout == 0 {
				m.waitMax.WaitForever()
				continue
			}
			if m.waitMax.Wait(timeout) == concurrent.WaitTimedOut {
				m.metrics.RecordTaskRejected("backlog")
				return newError(ErrKindTooManyPendingTasks, "core: Add: timed out waiting for backlog to drop")
			}
		}
	}

	t := newTask(work, expiration)
	m.tasks = append(m.tasks, t)
	m.metrics.RecordQueueDepth(len(m.tasks))
	if m.idleCount.Load() > 0 {
		m.waitQueue.Notify()
	}
	return nil
}

func (m *Manager) atCapLocked() bool {
	return m.pendingTaskCountMax > 0 && len(m.tasks) >= m.pendingTaskCountMax
}

// Remove removes the first pending task whose work item is the same value
// as work (reference identity). It succeeds silently if no match is found.
// WorkItemFunc values are not comparable in Go, so a WorkItemFunc can never
// match here; submit a pointer-backed WorkItem if you need it to be
// removable by identity.
func (m *Manager) Remove(work WorkItem) error {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	if m.stateLocked() != StateStarted {
		return newError(ErrKindNotStarted, "core: Remove requires a started manager")
	}

	for i, t := range m.tasks {
		if workEquals(t.work, work) {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			m.metrics.RecordQueueDepth(len(m.tasks))
			break
		}
	}
	return nil
}

func workEquals(a, b WorkItem) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// RemoveNextPending pops and returns the head of the queue without
// executing it, or a nil WorkItem if the queue is empty.
func (m *Manager) RemoveNextPending() (WorkItem, error) {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	if m.stateLocked() != StateStarted {
		return nil, newError(ErrKindNotStarted, "core: RemoveNextPending requires a started manager")
	}
	if len(m.tasks) == 0 {
		return nil, nil
	}

	t := m.tasks[0]
	m.tasks[0] = nil
	m.tasks = m.tasks[1:]
	m.metrics.RecordQueueDepth(len(m.tasks))
	return t.work, nil
}

// RemoveExpiredTasks sweeps the entire queue, dropping every task whose
// deadline has passed, invoking the expire callback (if set) for each.
func (m *Manager) RemoveExpiredTasks() error {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()

	if m.stateLocked() != StateStarted {
		return newError(ErrKindNotStarted, "core: RemoveExpiredTasks requires a started manager")
	}
	m.removeExpiredTasksLocked(0)
	return nil
}

// removeExpiredTasksLocked drops expired tasks front-to-back, stopping
// after limit removals (0 means no limit). Caller must hold mu.
func (m *Manager) removeExpiredTasksLocked(limit int) int {
	now := time.Now()
	removed := 0

	i := 0
	for i < len(m.tasks) {
		t := m.tasks[i]
		if !t.expired(now) {
			i++
			continue
		}

		m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
		t.state = TaskTimedOut
		if m.expireCallback != nil {
			m.invokeExpireCallback(t.work)
		}
		m.expiredCount.Add(1)
		m.metrics.RecordExpiredTask()
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	if removed > 0 {
		m.metrics.RecordQueueDepth(len(m.tasks))
	}
	return removed
}

func (m *Manager) invokeExpireCallback(work WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("core: expire callback panicked", F("panic", r))
		}
	}()
	m.expireCallback(work)
}

// WorkerCount returns the number of live workers under the lock.
func (m *Manager) WorkerCount() int {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return m.workerCount
}

// PendingTaskCount returns the number of tasks currently queued.
func (m *Manager) PendingTaskCount() int {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return len(m.tasks)
}

// TotalTaskCount returns pending tasks plus tasks currently executing.
func (m *Manager) TotalTaskCount() int {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return len(m.tasks) + (m.workerCount - int(m.idleCount.Load()))
}

// PendingTaskCountMax returns the queue cap (0 means unbounded).
func (m *Manager) PendingTaskCountMax() int {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	return m.pendingTaskCountMax
}

// SetPendingTaskCountMax changes the queue cap. 0 means unbounded.
func (m *Manager) SetPendingTaskCountMax(max int) {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	m.pendingTaskCountMax = max
}

// ExpiredTaskCount returns the number of tasks dropped for expiration since
// Start.
func (m *Manager) ExpiredTaskCount() int64 {
	return m.expiredCount.Load()
}

// Stats returns a coherent snapshot of every counter under one lock
// acquisition.
func (m *Manager) Stats() Stats {
	g := concurrent.Lock(m.mu)
	defer g.Unlock()
	idle := int(m.idleCount.Load())
	return Stats{
		State:               m.stateLocked(),
		WorkerCount:         m.workerCount,
		IdleWorkerCount:     idle,
		PendingTaskCount:    len(m.tasks),
		PendingTaskCountMax: m.pendingTaskCountMax,
		TotalTaskCount:      len(m.tasks) + (m.workerCount - idle),
		ExpiredTaskCount:    m.expiredCount.Load(),
	}
}
