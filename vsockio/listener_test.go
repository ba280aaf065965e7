//go:build linux

package vsockio

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsocky/vsocky/vsockerr"
	"golang.org/x/sys/unix"
)

// unixListener builds a Listener around a bound AF_UNIX socket. AF_VSOCK
// needs a hypervisor, so the accept-path classification is exercised over the
// unix family, which shares the semantics under test.
func unixListener(t *testing.T, listening bool) (*Listener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "l.sock")
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrUnix{Name: path}))
	if listening {
		require.NoError(t, unix.Listen(fd, listenBacklog))
	}
	require.NoError(t, unix.SetNonblock(fd, true))
	l := &Listener{fd: fd}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestAcceptWouldBlock(t *testing.T) {
	l, _ := unixListener(t, true)

	// no peer is connecting: (nil, nil), not an error
	conn, err := l.Accept()
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestAcceptPendingConnection(t *testing.T) {
	l, path := unixListener(t, true)

	cfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(cfd) })
	require.NoError(t, unix.Connect(cfd, &unix.SockaddrUnix{Name: path}))

	ready, err := WaitReadable(l.Fd(), time.Second)
	require.NoError(t, err)
	require.True(t, ready)

	conn, err := l.Accept()
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer conn.Close()
	assert.True(t, conn.Valid())

	// accepted connections come back non-blocking
	flags, err := unix.FcntlInt(uintptr(conn.Fd()), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestAcceptNotListening(t *testing.T) {
	l, _ := unixListener(t, false)

	_, err := l.Accept()
	require.Error(t, err)
	assert.True(t, errors.Is(err, vsockerr.AcceptFailed))
	// the errno stays reachable
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestAcceptAfterClose(t *testing.T) {
	l, _ := unixListener(t, true)

	require.NoError(t, l.Close())
	assert.Equal(t, -1, l.Fd())

	_, err := l.Accept()
	assert.True(t, errors.Is(err, vsockerr.ConnectionClosed))

	// second close observably identical to the first
	require.NoError(t, l.Close())
}

func TestListenVsock(t *testing.T) {
	l, err := Listen(52999)
	if errors.Is(err, vsockerr.SocketFailed) || errors.Is(err, vsockerr.BindFailed) {
		t.Skipf("vsock unavailable: %s", err)
	}
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, uint32(52999), l.Port())

	conn, err := l.Accept()
	require.NoError(t, err)
	assert.Nil(t, conn)
}
