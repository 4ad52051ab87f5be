// Package workerpool is a dynamically-resizable worker pool with a bounded
// task backlog and per-task expiration.
//
// A Pool owns a FIFO queue and a set of worker goroutines. Workers can be
// added or removed while the pool is running; the task backlog can be
// capped so that a slow consumer applies backpressure to producers instead
// of growing without bound; and any task can carry an absolute deadline,
// checked at the moment a worker is about to run it, so work that's gone
// stale by the time it would execute is dropped instead of run late.
//
// The scheduling algorithm itself lives in package core, built on the
// mutex/monitor/thread primitives in package concurrent. This package is a
// thin façade over core.Manager; a custom ThreadFactory can be supplied
// through Config or Pool.SetThreadFactory, and Pool.Manager exposes the
// underlying core.Manager.
package workerpool
