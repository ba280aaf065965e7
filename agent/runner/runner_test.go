//go:build linux

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsocky/vsocky/vsockerr"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return New(l.Sugar())
}

func TestRunShellEcho(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("echo hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Empty(t, res.Stderr)
	assert.False(t, res.TimedOut)
	assert.Greater(t, res.WallTime, time.Duration(0))
}

func TestRunExitCode(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("exit 3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunStderr(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("echo oops 1>&2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(res.Stderr))
	assert.Empty(t, res.Stdout)
}

func TestRunStdin(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("cat"),
		Stdin:    []byte("from the host\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "from the host\n", string(res.Stdout))
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner(t)

	start := time.Now()
	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("sleep 30"),
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunTimeoutKillsForkedChildren(t *testing.T) {
	r := newTestRunner(t)

	// A background child inherits the output pipes; the deadline kill must
	// take it down too, or Wait blocks until the orphan exits on its own.
	start := time.Now()
	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("sleep 30 &\nsleep 30"),
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunOutputTruncation(t *testing.T) {
	r := newTestRunner(t)
	r.MaxOutputBytes = 64

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("i=0; while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done"),
	})
	require.NoError(t, err)
	assert.True(t, res.StdoutTruncated)
	assert.Len(t, res.Stdout, 64)
}

func TestRunUnsupportedLanguage(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Run(context.Background(), &Submission{
		Language: "cobol",
		Code:     []byte("DISPLAY 'HI'."),
	})
	assert.True(t, errors.Is(err, vsockerr.UnsupportedLanguage))
}

func TestRunReportsUsage(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), &Submission{
		Language: "sh",
		Code:     []byte("echo hi"),
	})
	require.NoError(t, err)
	assert.Greater(t, res.Usage.MaxRSSKB, int64(0))
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("python"))
	assert.True(t, Supported("sh"))
	assert.True(t, Supported("node"))
	assert.False(t, Supported("brainfuck"))
}
