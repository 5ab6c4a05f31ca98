package listener

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteClosed is the terminal error of a worker whose pipe
	// returned a zero-length read or whose peer sent %exit.
	ErrRemoteClosed = errors.New("remote closed pipe")

	// ErrClosed is returned when a closed listener is used.
	ErrClosed = errors.New("listener closed")

	// ErrTerminated is returned to consumers once the worker has stopped
	// and the lane they wait on is drained.
	ErrTerminated = errors.New("listener terminated")

	// ErrEmpty is returned by non-blocking takes on an empty lane.
	ErrEmpty = errors.New("queue empty")

	// ErrAlreadyRunning is returned when Run is called on a Stream that
	// has already been run.
	ErrAlreadyRunning = errors.New("already running")
)

// errRemoteExited is indistinguishable from a vanished pipe through
// errors.Is; only the delivered %exit notification tells them apart.
var errRemoteExited = fmt.Errorf("%w: remote exited", ErrRemoteClosed)
