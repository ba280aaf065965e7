//go:build linux

// Package agent implements the vsocky guest agent: it accepts one host
// connection at a time on a vsock port and serves JSON-framed execution
// requests over it. A websocket transport carrying the same messages and an
// HTTP debug listener can be enabled for development.
package agent

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vsocky/vsocky/agent/runner"
	"github.com/vsocky/vsocky/internal/shutdown"
	"github.com/vsocky/vsocky/vsockerr"
	"github.com/vsocky/vsocky/vsockio"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultPort is the vsock port the agent listens on.
	DefaultPort uint32 = 52000

	// pollInterval bounds how long the serve loops wait on a descriptor
	// before re-checking the shutdown token.
	pollInterval = 100 * time.Millisecond

	readBufSize = 32 * 1024
)

// Agent serves execution requests from the host.
type Agent struct {
	logger *zap.SugaredLogger

	port            uint32
	wsListenAddr    string
	debugListenAddr string
	version         string

	runner  *runner.Runner
	metrics *metrics

	startedAt time.Time

	// serverMut guards the server fields, which Run assigns and Stop reads
	// from another goroutine. The vsock listener is not here: it is owned by
	// the accept loop and closed only there.
	serverMut   sync.Mutex
	wsServer    *http.Server
	debugServer *http.Server

	sessionMut sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
}

type Option func(a *Agent)

// WithPort sets the vsock port to listen on. Port 0 disables the vsock
// listener (development hosts without /dev/vsock).
func WithPort(p uint32) Option {
	return func(a *Agent) {
		a.port = p
	}
}

// WithWSListenAddr enables the websocket transport on the given TCP address.
func WithWSListenAddr(s string) Option {
	return func(a *Agent) {
		a.wsListenAddr = s
	}
}

// WithDebugListenAddr enables the HTTP debug listener on the given TCP
// address.
func WithDebugListenAddr(s string) Option {
	return func(a *Agent) {
		a.debugListenAddr = s
	}
}

// WithExecTimeout sets the default execution deadline used when a request
// does not specify one.
func WithExecTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.runner.DefaultTimeout = d
	}
}

// WithMaxOutputBytes caps captured stdout and stderr per execution.
func WithMaxOutputBytes(n int) Option {
	return func(a *Agent) {
		a.runner.MaxOutputBytes = n
	}
}

// WithVersion sets the version string reported to the host.
func WithVersion(v string) Option {
	return func(a *Agent) {
		a.version = v
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
		a.runner.Log = l.Named("runner").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs an agent.
func New(opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	a := &Agent{
		logger:  logger.Named("agent").Sugar(),
		port:    DefaultPort,
		version: "dev",
		runner:  runner.New(logger.Named("runner").Sugar()),
		metrics: newMetrics(),
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Run starts the enabled listeners and blocks until Stop is called, shutdown
// is requested, or the vsock accept loop fails hard.
func (a *Agent) Run() error {
	a.startedAt = time.Now()

	a.serverMut.Lock()
	if a.debugListenAddr != "" {
		a.debugServer = a.newDebugServer()
	}
	if a.wsListenAddr != "" {
		a.wsServer = a.newWSServer()
	}
	debugServer, wsServer := a.debugServer, a.wsServer
	a.serverMut.Unlock()

	// Run closes what it started: Stop may have won the race before the
	// servers existed, in which case its close was a no-op.
	if debugServer != nil {
		defer debugServer.Close()
		go a.serveHTTP(debugServer, "debug server")
	}
	if wsServer != nil {
		defer wsServer.Close()
		go a.serveHTTP(wsServer, "websocket transport")
	}

	if a.port == 0 {
		if wsServer == nil && debugServer == nil {
			return errors.New("nothing to serve: no vsock port and no listen addresses")
		}
		a.logger.Infof("vsock listener disabled")
		<-a.closed
		return nil
	}

	listener, err := vsockio.Listen(a.port)
	if err != nil {
		return err
	}
	a.logger.Infof("listening on vsock port %d", a.port)

	return a.acceptLoop(listener)
}

func (a *Agent) serveHTTP(srv *http.Server, name string) {
	a.logger.Infof("%s listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.logger.Warnf("%s: %s", name, err)
	}
}

// acceptLoop accepts and serves one connection at a time, and owns the
// listener: it is closed here and nowhere else, after the loop has observed
// the stop condition. Transient accept failures back off exponentially
// instead of spinning.
func (a *Agent) acceptLoop(listener *vsockio.Listener) error {
	defer listener.Close()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // retry for as long as we run

	for {
		if a.stopping() {
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, vsockerr.Interrupted) {
				continue
			}
			if errors.Is(err, vsockerr.ConnectionClosed) {
				// listener no longer owns a descriptor
				return nil
			}
			wait := bo.NextBackOff()
			a.logger.Warnf("accept failed, retrying in %s: %s", wait, err)
			a.sleep(wait)
			continue
		}
		if conn == nil {
			// nothing pending; wait for the listener to become readable
			if _, err := vsockio.WaitReadable(listener.Fd(), pollInterval); err != nil {
				if a.stopping() {
					return nil
				}
				a.logger.Debugf("listener poll error: %s", err)
			}
			continue
		}

		bo.Reset()
		a.metrics.connections.Inc()
		a.serveConn(conn)
	}
}

func (a *Agent) sleep(d time.Duration) {
	select {
	case <-a.closed:
	case <-time.After(d):
	}
}

func (a *Agent) stopping() bool {
	if shutdown.Requested() {
		return true
	}
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// Stop shuts the agent down: the accept loop ends and closes its listener,
// in-flight sessions notice on their next poll, and the HTTP listeners close.
// Safe to call more than once, from any goroutine.
func (a *Agent) Stop() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.serverMut.Lock()
		wsServer, debugServer := a.wsServer, a.debugServer
		a.serverMut.Unlock()
		if wsServer != nil {
			_ = wsServer.Close()
		}
		if debugServer != nil {
			_ = debugServer.Close()
		}
	})
	return nil
}
