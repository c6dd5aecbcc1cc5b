package thread

import "errors"

var (
	// ErrResourceExhausted is returned when the platform cannot start another
	// thread.
	ErrResourceExhausted = errors.New("thread: resource exhausted")
	// ErrInvalidState is returned for operations on a thread or storage that
	// is in the wrong lifecycle state for them.
	ErrInvalidState = errors.New("thread: invalid state")
	// ErrLogic marks a broken link between a storage descriptor and a thread.
	// It indicates an internal bug and is never returned; it is raised as a
	// panic after being logged.
	ErrLogic = errors.New("thread: logic error")
)
