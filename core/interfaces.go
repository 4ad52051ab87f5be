package core

import "github.com/dkoval/go-worker-pool/concurrent"

// Metrics collects observability signals from a Manager. Implementations
// should be non-blocking and fast; they run inline with worker accounting.
// All methods must tolerate being called on a nil receiver so NilMetrics can
// be the zero-cost default.
type Metrics interface {
	// RecordTaskDuration records how long a task's Run took.
	RecordTaskDuration(seconds float64)
	// RecordTaskPanic records that a task's Run panicked.
	RecordTaskPanic()
	// RecordQueueDepth records the current pending task count.
	RecordQueueDepth(depth int)
	// RecordWorkerCount records the current worker and idle-worker counts.
	RecordWorkerCount(workers, idle int)
	// RecordExpiredTask records that a task was dropped for expiration.
	RecordExpiredTask()
	// RecordTaskRejected records that Add refused a task and why.
	RecordTaskRejected(reason string)
}

// NilMetrics is a no-op Metrics implementation, the default when none is
// configured.
type NilMetrics struct{}

func (NilMetrics) RecordTaskDuration(seconds float64)  {}
func (NilMetrics) RecordTaskPanic()                    {}
func (NilMetrics) RecordQueueDepth(depth int)          {}
func (NilMetrics) RecordWorkerCount(workers, idle int) {}
func (NilMetrics) RecordExpiredTask()                  {}
func (NilMetrics) RecordTaskRejected(reason string)    {}

// ExpireCallback is invoked, with the original work item, when a task is
// dropped because its deadline has passed: at dequeue time, or by an
// expiration sweep (RemoveExpiredTasks, or Add at capacity).
type ExpireCallback func(work WorkItem)

// Config configures a Manager at construction time. A zero Logger or
// Metrics is replaced by a no-op; a zero ThreadFactory is left unset, so
// Start fails until one is supplied. DefaultConfig returns a Config with
// every field but PendingTaskCountMax filled in.
type Config struct {
	// ThreadFactory is required before Start will succeed; it may also be
	// supplied later via Manager.SetThreadFactory.
	ThreadFactory *concurrent.ThreadFactory

	// Logger receives recovered panics and lifecycle events. Defaults to
	// NoOpLogger.
	Logger Logger

	// Metrics receives observability signals. Defaults to NilMetrics.
	Metrics Metrics

	// PendingTaskCountMax bounds the queue; zero means unbounded.
	PendingTaskCountMax int
}

// DefaultConfig returns a Config with a joinable ThreadFactory, a
// NoOpLogger, and NilMetrics.
func DefaultConfig() Config {
	return Config{
		ThreadFactory: concurrent.NewThreadFactory(concurrent.Joinable),
		Logger:        NewNoOpLogger(),
		Metrics:       NilMetrics{},
	}
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NilMetrics{}
	}
}
