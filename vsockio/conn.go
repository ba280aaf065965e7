//go:build linux

// Package vsockio provides non-blocking byte I/O over AF_VSOCK sockets. A
// Conn owns exactly one file descriptor; ownership is exclusive and only ever
// transferred, never shared, so descriptors cannot leak or be double-closed.
package vsockio

import (
	"errors"

	"github.com/vsocky/vsocky/vsockerr"
	"golang.org/x/sys/unix"
)

// noFd marks a Conn that owns nothing (closed or transferred-from).
const noFd = -1

// Conn is a single connection to a host, wrapping an already-connected
// socket descriptor.
//
// A Conn is not safe for concurrent use by multiple goroutines; callers that
// need concurrency must serialize access, and hand-offs between goroutines
// must go through Transfer.
type Conn struct {
	fd int
}

// NewConn takes ownership of fd and immediately puts it in non-blocking
// mode. A failure to set non-blocking mode is not reported here; it surfaces
// on the first I/O call instead. No check is made that fd is actually a
// socket, so misuse shows up later as an I/O error.
func NewConn(fd int) *Conn {
	c := &Conn{fd: fd}
	if fd >= 0 {
		_ = c.SetNonblocking()
	}
	return c
}

// Transfer moves ownership of src's descriptor into a new Conn. Afterwards
// src owns nothing and all its methods behave as if the connection were
// closed. The descriptor's mode is left untouched.
func Transfer(src *Conn) *Conn {
	return &Conn{fd: src.Detach()}
}

// TakeFrom releases c's current descriptor, if any, and takes ownership of
// src's. TakeFrom(c) on c itself is a no-op that leaves c unchanged.
func (c *Conn) TakeFrom(src *Conn) {
	if c == src {
		return
	}
	_ = c.Close()
	c.fd = src.Detach()
}

// Detach gives up ownership of the descriptor without closing it and returns
// it, or noFd if none is owned. The caller becomes responsible for closing.
func (c *Conn) Detach() int {
	fd := c.fd
	c.fd = noFd
	return fd
}

// Read fills p with up to len(p) bytes. A nil error with n == 0 means no
// data was available right now (would-block); true EOF and peer resets are
// reported as vsockerr.ConnectionClosed. Reading into an empty buffer is a
// no-op success with no system call made.
func (c *Conn) Read(p []byte) (int, error) {
	if c.fd == noFd {
		return 0, vsockerr.ConnectionClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := unix.Read(c.fd, p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		// zero-byte read: the peer shut down gracefully
		return 0, vsockerr.ConnectionClosed
	}
	return 0, classifyReadError(err)
}

// Write sends up to len(p) bytes and returns how many were accepted. Partial
// writes are first-class: n may be less than len(p), including 0 when the
// output buffer is full, with a nil error either way. The caller must track
// and resubmit the remainder. Writing an empty buffer is a no-op success
// with no system call made.
func (c *Conn) Write(p []byte) (int, error) {
	if c.fd == noFd {
		return 0, vsockerr.ConnectionClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := unix.Write(c.fd, p)
	if n >= 0 && err == nil {
		return n, nil
	}
	return 0, classifyWriteError(err)
}

// SetNonblocking puts the descriptor in non-blocking mode. It is idempotent;
// fcntl failures are reported as vsockerr.InternalError.
func (c *Conn) SetNonblocking() error {
	if c.fd == noFd {
		return vsockerr.ConnectionClosed
	}
	flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
	if err != nil {
		return vsockerr.Wrap(vsockerr.InternalError, err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		if _, err := unix.FcntlInt(uintptr(c.fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
			return vsockerr.Wrap(vsockerr.InternalError, err)
		}
	}
	return nil
}

// PeerAddress reports the peer's context ID and port. ok is false if the
// connection owns no descriptor, the getpeername query fails, or the peer is
// not a vsock endpoint.
func (c *Conn) PeerAddress() (cid, port uint32, ok bool) {
	if c.fd == noFd {
		return 0, 0, false
	}
	sa, err := unix.Getpeername(c.fd)
	if err != nil {
		return 0, 0, false
	}
	vm, isVM := sa.(*unix.SockaddrVM)
	if !isVM {
		return 0, 0, false
	}
	return vm.CID, vm.Port, true
}

// Close releases the descriptor. It is safe to call any number of times and
// never reports a failure: once close is attempted there is no corrective
// action left to take.
func (c *Conn) Close() error {
	if c.fd != noFd {
		_ = unix.Close(c.fd)
		c.fd = noFd
	}
	return nil
}

// Valid reports whether the Conn currently owns a descriptor.
func (c *Conn) Valid() bool {
	return c.fd != noFd
}

// Fd returns the owned descriptor, or -1 if none is owned. The descriptor
// remains owned by the Conn; use it only for readiness polling.
func (c *Conn) Fd() int {
	return c.fd
}

// classifyReadError maps the errno from a failed read into the taxonomy.
// Unlisted errnos are a generic read failure, never a new kind.
func classifyReadError(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN):
		// no data available right now; not an error
		return nil
	case errors.Is(err, unix.EINTR):
		return vsockerr.Interrupted
	case errors.Is(err, unix.ECONNRESET):
		return vsockerr.ConnectionClosed
	default:
		return vsockerr.Wrap(vsockerr.ReadFailed, err)
	}
}

// classifyWriteError maps the errno from a failed write into the taxonomy.
func classifyWriteError(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN):
		// output buffer full; the caller retries later
		return nil
	case errors.Is(err, unix.EINTR):
		return vsockerr.Interrupted
	case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
		return vsockerr.ConnectionClosed
	default:
		return vsockerr.Wrap(vsockerr.WriteFailed, err)
	}
}
