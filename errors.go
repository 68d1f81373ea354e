package vaudio

import (
	"golang.org/x/sys/unix"
)

// Errors returned by the core. Each one is an errno, so errors.Is matches both
// the sentinel and the corresponding unix.Errno.
var (
	// ErrNoDevice is returned when the device or the channel is absent or closed.
	ErrNoDevice error = unix.ENXIO
	// ErrBusy is returned when the channel table is exhausted or a resource is already owned.
	ErrBusy error = unix.EBUSY
	// ErrInvalidFormat is returned for unsupported formats and failed filter chains.
	ErrInvalidFormat error = unix.EINVAL
	// ErrOutOfMemory is returned when a ring or a filter stream cannot be allocated.
	ErrOutOfMemory error = unix.ENOMEM
	// ErrCancelled is returned to every waiter once the device is detached.
	ErrCancelled error = unix.EIO
	// ErrWouldBlock is returned by non-blocking sessions instead of waiting.
	ErrWouldBlock error = unix.EAGAIN
)
