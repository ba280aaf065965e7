package shutdown

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalSetsToken(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Setup()
	assert.False(t, Requested())

	// deliver a real SIGTERM to ourselves; Notify intercepts it
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	require.Eventually(t, Requested, 2*time.Second, 5*time.Millisecond)

	select {
	case <-Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done channel not closed")
	}
}

func TestSetupIsIdempotent(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Setup()
	d := Done()
	Setup()
	assert.Equal(t, d, Done())
}

func TestReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Setup()
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	require.Eventually(t, Requested, 2*time.Second, 5*time.Millisecond)

	Reset()
	assert.False(t, Requested())
}
