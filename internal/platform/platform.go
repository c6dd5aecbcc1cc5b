// Package platform is the thin layer between the thread core and the
// operating system. The core only talks to the Platform and Native
// interfaces; Goroutines is the implementation used by default.
package platform

import (
	"errors"
	"time"
)

// ID identifies a thread while it is alive. It may be reused afterwards and
// must not be kept as a long-term key once the thread has terminated.
type ID int64

// Times reports the execution times of a thread.
type Times struct {
	Real   time.Duration // wall time since the thread was created
	Kernel time.Duration // CPU time spent in the kernel
	User   time.Duration // CPU time spent in user space
}

// Spec carries creation parameters for a native thread.
type Spec struct {
	// StackSize is a hint; zero selects the platform default.
	StackSize int
	Name      string
	// OnExit runs on the native thread after entry has returned or the
	// thread was terminated, including at its start gate. By then the thread
	// is no longer known to the platform, so Yield and Sleep called from
	// OnExit behave as on an unmanaged thread.
	OnExit func()
}

var (
	// ErrThreadLimit is returned by CreateThread when no more threads can be
	// started.
	ErrThreadLimit = errors.New("platform: thread limit reached")
	// ErrUnsupported is returned for operations the platform cannot perform.
	ErrUnsupported = errors.New("platform: operation not supported")
)

// Native is a platform thread created by CreateThread. A new native thread is
// parked until Resume is called for the first time.
type Native interface {
	ID() ID
	Suspend() error
	Resume() error
	// Terminate stops the thread. When called from the thread itself it does
	// not return.
	Terminate() error
	// Checkpoint parks the calling thread while it is suspended and exits it
	// once terminated. It does nothing when called from any other thread.
	Checkpoint()
	Times() (Times, error)
}

// Platform creates native threads and answers questions about the calling
// thread.
type Platform interface {
	CreateThread(spec Spec, entry func()) (Native, error)
	CurrentThreadID() ID
	Yield()
	Sleep(d time.Duration)
	// Alive reports whether a thread with the given id is still running. It
	// is used to reap threads the library did not create.
	Alive(id ID) bool
}
