package listener

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Source is a readable pipe end. *os.File satisfies it.
type Source interface {
	Fd() uintptr
}

// waitReadable blocks for at most timeout until fd is readable or hung
// up. Interrupted polls report not ready.
func waitReadable(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, unix.EBADF
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

// readSome reads whatever is available on fd into buf.
func readSome(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return -1, nil
		}
		return n, err
	}
}
