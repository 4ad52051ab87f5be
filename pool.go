package workerpool

import (
	"time"

	"github.com/dkoval/go-worker-pool/concurrent"
	"github.com/dkoval/go-worker-pool/core"
)

// WorkItem is the unit of work a Pool executes.
type WorkItem = core.WorkItem

// WorkItemFunc adapts a plain function to WorkItem.
type WorkItemFunc = core.WorkItemFunc

// Logger is the diagnostic sink a Pool reports recovered panics and
// lifecycle events to.
type Logger = core.Logger

// Field is a structured-logging key-value pair; see F.
type Field = core.Field

// F creates a Field.
func F(key string, value any) Field { return core.F(key, value) }

// Metrics collects observability signals from a Pool.
type Metrics = core.Metrics

// ExpireCallback is invoked with the original work item when a task is
// dropped for expiration.
type ExpireCallback = core.ExpireCallback

// Stats is a coherent snapshot of a Pool's counters.
type Stats = core.Stats

// State is a Pool's lifecycle state.
type State = core.ManagerState

// Re-exported states, so callers don't need to import core for comparisons
// against Pool.State().
const (
	StateUninitialized = core.StateUninitialized
	StateStarting      = core.StateStarting
	StateStarted       = core.StateStarted
	StateJoining       = core.StateJoining
	StateStopping      = core.StateStopping
	StateStopped       = core.StateStopped
)

// Re-exported sentinel errors, for use with errors.Is.
var (
	ErrNotStarted          = core.ErrNotStarted
	ErrInvalidArgument     = core.ErrInvalidArgument
	ErrTooManyPendingTasks = core.ErrTooManyPendingTasks
)

// Config configures a Pool at construction time.
type Config = core.Config

// DefaultConfig returns a Config with a joinable thread factory, a
// no-op Logger and no-op Metrics.
func DefaultConfig() Config { return core.DefaultConfig() }

// Pool is a dynamically-resizable worker pool. It is a thin façade over
// core.Manager; see that package's doc comment for the scheduling algorithm
// itself.
type Pool struct {
	m *core.Manager
}

// New constructs a Pool from cfg without starting it. Call Start (and
// AddWorker) before calling Add, or use NewSimple to do both in one call.
func New(cfg Config) *Pool {
	return &Pool{m: core.New(cfg)}
}

// NewSimple constructs, starts, and sizes a Pool in one call: workers
// workers, a backlog capped at pendingTaskCountMax (0 means unbounded), and
// a joinable ThreadFactory.
func NewSimple(workers, pendingTaskCountMax int) (*Pool, error) {
	m, err := core.NewSimple(DefaultConfig(), pendingTaskCountMax, workers)
	if err != nil {
		return nil, err
	}
	return &Pool{m: m}, nil
}

// Start brings the pool up. Required before Add will succeed.
func (p *Pool) Start() error { return p.m.Start() }

// Stop drains the queue, retires every worker, and marks the pool stopped.
func (p *Pool) Stop() error { return p.m.Stop() }

// AddWorker adds n workers, blocking until they're all running.
func (p *Pool) AddWorker(n int) error { return p.m.AddWorker(n) }

// RemoveWorker asks n workers to exit after finishing their current task,
// blocking until they do.
func (p *Pool) RemoveWorker(n int) error { return p.m.RemoveWorker(n) }

// Add enqueues work, executed with no deadline. See AddWithTimeout and
// AddWithExpiration for the backlog-timeout and task-expiration variants.
func (p *Pool) Add(work WorkItem) error {
	return p.m.Add(work, 0, 0)
}

// AddWithTimeout enqueues work, failing if the backlog is still at capacity
// after timeout. timeout == 0 waits forever for room in the backlog;
// timeout < 0 fails immediately instead of waiting.
func (p *Pool) AddWithTimeout(work WorkItem, timeout time.Duration) error {
	return p.m.Add(work, timeout, 0)
}

// AddWithExpiration enqueues work carrying an absolute deadline: if the
// task is still queued when a worker would run it, the worker drops it
// (invoking the expire callback, if one is set) instead of running it late.
func (p *Pool) AddWithExpiration(work WorkItem, timeout, expiration time.Duration) error {
	return p.m.Add(work, timeout, expiration)
}

// Remove removes the first pending task whose work item is work, by
// reference identity. A no-op if no match is queued.
func (p *Pool) Remove(work WorkItem) error { return p.m.Remove(work) }

// RemoveNextPending pops and discards the head of the queue without
// running it, returning the discarded work item (or nil if the queue was
// empty).
func (p *Pool) RemoveNextPending() (WorkItem, error) { return p.m.RemoveNextPending() }

// RemoveExpiredTasks sweeps the entire queue now, dropping every task whose
// deadline has already passed.
func (p *Pool) RemoveExpiredTasks() error { return p.m.RemoveExpiredTasks() }

// SetExpireCallback replaces the callback invoked when a task is dropped
// for expiration.
func (p *Pool) SetExpireCallback(fn ExpireCallback) { p.m.SetExpireCallback(fn) }

// SetThreadFactory replaces the pool's ThreadFactory. The replacement must
// share the incumbent's disposition.
func (p *Pool) SetThreadFactory(f *concurrent.ThreadFactory) error {
	return p.m.SetThreadFactory(f)
}

// ThreadFactory returns the pool's current ThreadFactory.
func (p *Pool) ThreadFactory() *concurrent.ThreadFactory { return p.m.ThreadFactory() }

// SetPendingTaskCountMax changes the backlog cap; 0 means unbounded.
func (p *Pool) SetPendingTaskCountMax(max int) { p.m.SetPendingTaskCountMax(max) }

// State returns the pool's lifecycle state. Eventually consistent; don't
// use it to make correctness decisions.
func (p *Pool) State() State { return p.m.State() }

// WorkerCount returns the number of live workers.
func (p *Pool) WorkerCount() int { return p.m.WorkerCount() }

// IdleWorkerCount returns the number of workers currently waiting for a
// task. Eventually consistent.
func (p *Pool) IdleWorkerCount() int { return p.m.IdleWorkerCount() }

// PendingTaskCount returns the number of tasks currently queued.
func (p *Pool) PendingTaskCount() int { return p.m.PendingTaskCount() }

// PendingTaskCountMax returns the backlog cap (0 means unbounded).
func (p *Pool) PendingTaskCountMax() int { return p.m.PendingTaskCountMax() }

// TotalTaskCount returns pending tasks plus tasks currently executing.
func (p *Pool) TotalTaskCount() int { return p.m.TotalTaskCount() }

// ExpiredTaskCount returns the number of tasks dropped for expiration since
// Start.
func (p *Pool) ExpiredTaskCount() int64 { return p.m.ExpiredTaskCount() }

// Stats returns a coherent snapshot of every counter, taken under a single
// lock acquisition.
func (p *Pool) Stats() Stats { return p.m.Stats() }

// Manager exposes the underlying core.Manager for callers that need
// functionality this façade doesn't re-export.
func (p *Pool) Manager() *core.Manager { return p.m }
