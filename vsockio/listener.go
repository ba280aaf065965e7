//go:build linux

package vsockio

import (
	"errors"

	"github.com/vsocky/vsocky/vsockerr"
	"golang.org/x/sys/unix"
)

// Well-known context IDs in the vsock addressing scheme.
const (
	// CIDAny is the wildcard CID, used to accept from any peer.
	CIDAny uint32 = unix.VMADDR_CID_ANY
	// CIDHypervisor is the reserved CID of the hypervisor.
	CIDHypervisor uint32 = unix.VMADDR_CID_HYPERVISOR
	// CIDLocal is loopback.
	CIDLocal uint32 = unix.VMADDR_CID_LOCAL
	// CIDHost is the reserved CID of the host system.
	CIDHost uint32 = unix.VMADDR_CID_HOST
)

const listenBacklog = 8

// Listener accepts vsock connections on a local port.
type Listener struct {
	fd   int
	port uint32
}

// Listen binds a non-blocking AF_VSOCK stream socket to port, accepting from
// any CID, and starts listening.
func Listen(port uint32) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, vsockerr.Wrap(vsockerr.SocketFailed, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrVM{CID: CIDAny, Port: port}); err != nil {
		_ = unix.Close(fd)
		return nil, vsockerr.Wrap(vsockerr.BindFailed, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, vsockerr.Wrap(vsockerr.ListenFailed, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, vsockerr.Wrap(vsockerr.InternalError, err)
	}
	return &Listener{fd: fd, port: port}, nil
}

// Accept returns the next pending connection as an owned, non-blocking Conn.
// When no connection is pending it returns (nil, nil); callers poll the
// listener descriptor for readiness before retrying.
func (l *Listener) Accept() (*Conn, error) {
	if l.fd == noFd {
		return nil, vsockerr.ConnectionClosed
	}

	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN):
			return nil, nil
		case errors.Is(err, unix.EINTR):
			return nil, vsockerr.Interrupted
		case errors.Is(err, unix.ECONNABORTED):
			// the peer gave up before we got to it; nothing to serve
			return nil, nil
		default:
			return nil, vsockerr.Wrap(vsockerr.AcceptFailed, err)
		}
	}
	return NewConn(nfd), nil
}

// Port returns the local vsock port the listener is bound to.
func (l *Listener) Port() uint32 {
	return l.port
}

// Fd returns the listening descriptor for readiness polling, or -1 after
// Close.
func (l *Listener) Fd() int {
	return l.fd
}

// Close releases the listening socket. Idempotent, never fails.
func (l *Listener) Close() error {
	if l.fd != noFd {
		_ = unix.Close(l.fd)
		l.fd = noFd
	}
	return nil
}
