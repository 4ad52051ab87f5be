package concurrent

import (
	"bytes"
	"runtime"
	"strconv"
)

// Disposition controls whether threads vended by a ThreadFactory are
// joinable or detached. It is fixed for the lifetime of a factory: mixing
// dispositions within one factory would leave a Manager unable to decide,
// at shutdown, whether a given worker's Thread needs joining.
type Disposition int

const (
	Joinable Disposition = iota
	Detached
)

// ThreadFactory vends Threads with a fixed Disposition.
type ThreadFactory struct {
	disposition Disposition
}

// NewThreadFactory returns a factory that creates threads with the given
// disposition.
func NewThreadFactory(d Disposition) *ThreadFactory {
	return &ThreadFactory{disposition: d}
}

// Disposition reports this factory's fixed disposition.
func (f *ThreadFactory) Disposition() Disposition {
	return f.disposition
}

// NewThread binds work to a new, unstarted Thread.
func (f *ThreadFactory) NewThread(work func()) *Thread {
	return newThread(work, f.disposition == Detached)
}

// CurrentThreadID returns an opaque id for the calling goroutine, stable for
// the lifetime of that goroutine and comparable across calls from the same
// goroutine.
func (f *ThreadFactory) CurrentThreadID() ThreadID {
	return ThreadID(currentGoroutineID())
}

// currentGoroutineID recovers the runtime's own goroutine id from the first
// line of a runtime.Stack dump ("goroutine 123 [running]:"). The id has no
// meaning beyond equality comparison, which is all core.Manager needs to
// tell whether a caller of Add is one of its own worker goroutines.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if end := bytes.IndexByte(b, ' '); end >= 0 {
		b = b[:end]
	}

	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		// Should be unreachable given the stable "goroutine N " prefix
		// runtime.Stack has used since Go 1.0, but fail safe rather than
		// panic: an id of 0 never matches any real goroutine id, so at
		// worst self-submit detection is skipped rather than corrupted.
		return 0
	}
	return id
}
