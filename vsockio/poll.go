//go:build linux

package vsockio

import (
	"errors"
	"time"

	"github.com/vsocky/vsocky/vsockerr"
	"golang.org/x/sys/unix"
)

// WaitReadable polls fd for readability for at most timeout. It returns true
// when the descriptor is readable (or has hung up, so that the next read can
// observe the close) and false on timeout. Signal interruptions report as a
// plain timeout so callers re-check their shutdown condition and poll again.
func WaitReadable(fd int, timeout time.Duration) (bool, error) {
	return wait(fd, unix.POLLIN, timeout)
}

// WaitWritable polls fd for writability for at most timeout.
func WaitWritable(fd int, timeout time.Duration) (bool, error) {
	return wait(fd, unix.POLLOUT, timeout)
}

func wait(fd int, events int16, timeout time.Duration) (bool, error) {
	if fd == noFd {
		return false, vsockerr.ConnectionClosed
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, vsockerr.Wrap(vsockerr.InternalError, err)
	}
	if n == 0 {
		return false, nil
	}
	// POLLERR/POLLHUP count as ready: the subsequent I/O call surfaces the
	// actual condition through the normal classification path.
	return fds[0].Revents != 0, nil
}
