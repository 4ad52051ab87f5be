package core

import (
	"time"

	"github.com/dkoval/go-worker-pool/concurrent"
)

// worker is one pool slot's run loop. It holds no exported state: every
// piece of shared bookkeeping it touches lives on the owning Manager. The
// queue and the worker counts are accessed only under the Manager's mutex;
// runTask, which runs after the mutex is released, touches only the expire
// callback, the atomic expired-task counter and Metrics.
type worker struct {
	manager *Manager
	thread  *concurrent.Thread
	id      int64
}

// run is the function bound to this worker's Thread. It implements the
// scheduler's core loop: on entry it accounts itself against
// workerMaxCount; it then repeatedly waits for and executes tasks for as
// long as it remains "active" (workerCount has not been asked to shrink
// past it, or the manager is draining the queue before stopping); on exit
// it retires itself and wakes anyone waiting for the worker count to
// settle.
func (w *worker) run() {
	m := w.manager

	g := concurrent.Lock(m.mu)
	if m.workerCount < m.workerMaxCount {
		m.workerCount++
		if m.workerCount == m.workerMaxCount {
			m.waitWorkers.NotifyAll()
		}
	}

	active := m.activeLocked()
	for {
		for active && len(m.tasks) == 0 {
			m.idleCount.Add(1)
			m.waitQueue.WaitForever()
			m.idleCount.Add(-1)
			active = m.activeLocked()
		}
		if !active {
			break
		}

		task := m.tasks[0]
		m.tasks[0] = nil
		m.tasks = m.tasks[1:]

		now := time.Now()
		if task.expired(now) {
			task.state = TaskTimedOut
		} else {
			task.state = TaskExecuting
		}
		m.metrics.RecordQueueDepth(len(m.tasks))
		if m.pendingTaskCountMax > 0 && len(m.tasks) < m.pendingTaskCountMax {
			m.waitMax.Notify()
		}

		g.Unlock()
		w.runTask(task)
		g = concurrent.Lock(m.mu)

		active = m.activeLocked()
	}

	m.deadWorkers = append(m.deadWorkers, w.thread)
	m.workerCount--
	if m.workerCount == m.workerMaxCount {
		m.waitWorkers.NotifyAll()
	}
	m.metrics.RecordWorkerCount(m.workerCount, int(m.idleCount.Load()))
	g.Unlock()
}

// activeLocked is the predicate each worker re-checks after every wake: it
// should keep running if the pool hasn't been asked to shrink past it, or
// if the manager is draining (JOINING) and there's still work to drain.
// Caller must hold mu.
func (m *Manager) activeLocked() bool {
	return m.workerCount <= m.workerMaxCount || (m.stateLocked() == StateJoining && len(m.tasks) > 0)
}

// runTask executes or expires a single dequeued task without holding the
// manager's lock, so one slow task never blocks queue admission or other
// workers. A panicking WorkItem.Run is recovered and logged rather than
// taking the worker down with it.
func (w *worker) runTask(task *Task) {
	m := w.manager

	switch task.state {
	case TaskExecuting:
		start := time.Now()
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("core: task panicked", F("panic", r), F("worker", w.id))
					m.metrics.RecordTaskPanic()
				}
			}()
			task.work.Run()
		}()
		task.state = TaskComplete
		m.metrics.RecordTaskDuration(time.Since(start).Seconds())

	case TaskTimedOut:
		if m.expireCallback != nil {
			m.invokeExpireCallback(task.work)
		}
		m.expiredCount.Add(1)
		m.metrics.RecordExpiredTask()
	}
}
