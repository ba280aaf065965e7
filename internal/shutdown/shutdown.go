// Package shutdown holds the process-wide cancellation token. An
// asynchronous source (SIGTERM, SIGINT, SIGHUP) sets it once; polling loops
// observe it with Requested, or select on Done. The signal path performs no
// allocation or locking after Setup has armed it.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

var (
	mu        sync.Mutex
	requested atomic.Bool
	done      chan struct{}
	sigCh     chan os.Signal
)

// Setup arms the token. Calling it again after Reset re-arms; calling it
// twice without Reset is a no-op.
func Setup() {
	mu.Lock()
	defer mu.Unlock()
	if sigCh != nil {
		return
	}
	requested.Store(false)
	done = make(chan struct{})
	sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	ch, d := sigCh, done
	go func() {
		if _, ok := <-ch; ok {
			requested.Store(true)
			close(d)
		}
	}()
}

// Requested reports whether shutdown has been requested.
func Requested() bool {
	return requested.Load()
}

// Done returns a channel closed when shutdown is requested. Setup must have
// been called.
func Done() <-chan struct{} {
	mu.Lock()
	defer mu.Unlock()
	return done
}

// Reset disarms the token and clears the flag. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	if sigCh != nil {
		signal.Stop(sigCh)
		close(sigCh)
		sigCh = nil
	}
	requested.Store(false)
	done = nil
}
