//go:build linux

// Package runner executes host-submitted code and reports the outcome:
// exit code, captured output, wall time, and child resource usage.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/vsocky/vsocky/vsockerr"
	"go.uber.org/zap"
)

const (
	// DefaultMaxOutputBytes caps each captured stream.
	DefaultMaxOutputBytes = 1 << 20
	// DefaultTimeout bounds an execution when the request specifies none.
	DefaultTimeout = 30 * time.Second
)

// language describes how to invoke an interpreter on a source file.
type language struct {
	ext  string
	argv func(path string) (string, []string)
}

var languages = map[string]language{
	"python": {ext: ".py", argv: func(p string) (string, []string) { return "python3", []string{p} }},
	"sh":     {ext: ".sh", argv: func(p string) (string, []string) { return "sh", []string{p} }},
	"node":   {ext: ".js", argv: func(p string) (string, []string) { return "node", []string{p} }},
}

// Supported reports whether lang has a registered interpreter.
func Supported(lang string) bool {
	_, ok := languages[lang]
	return ok
}

// Submission is a validated, already-decoded execution request.
type Submission struct {
	ID       string
	Language string
	Code     []byte
	Stdin    []byte
	Timeout  time.Duration
}

// Usage is the child's resource consumption.
type Usage struct {
	MaxRSSKB     int64
	UserTimeMS   int64
	SystemTimeMS int64
}

// Result is the outcome of a finished execution.
type Result struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	WallTime        time.Duration
	Usage           Usage
}

// Runner executes submissions one at a time.
type Runner struct {
	Log            *zap.SugaredLogger
	MaxOutputBytes int
	DefaultTimeout time.Duration
}

func New(log *zap.SugaredLogger) *Runner {
	return &Runner{
		Log:            log,
		MaxOutputBytes: DefaultMaxOutputBytes,
		DefaultTimeout: DefaultTimeout,
	}
}

// Run writes the submission's source to a scratch file, invokes the
// language's interpreter, and waits for it to exit or for the deadline. The
// process is killed when ctx or the submission timeout expires; that is
// reported in the result, not as an error. An error return means the
// execution could not be attempted at all.
func (r *Runner) Run(ctx context.Context, sub *Submission) (*Result, error) {
	lang, ok := languages[sub.Language]
	if !ok {
		return nil, vsockerr.UnsupportedLanguage
	}

	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := r.Log.With("ExecID", id, "Language", sub.Language)

	dir, err := os.MkdirTemp("", "vsocky-exec-")
	if err != nil {
		return nil, vsockerr.Wrap(vsockerr.ResourceUnavailable, err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "main"+lang.ext)
	if err := os.WriteFile(srcPath, sub.Code, 0600); err != nil {
		return nil, vsockerr.Wrap(vsockerr.ResourceUnavailable, err)
	}

	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := lang.argv(srcPath)
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	// Run the child in its own process group so the deadline kill reaches
	// anything the submission forked, and bound Wait so an orphan holding the
	// stdout/stderr pipes open cannot wedge the session.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{max: r.MaxOutputBytes}
	stderr := &cappedBuffer{max: r.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(sub.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(sub.Stdin)
	}

	log.Debugf("starting %s %v", name, args)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, vsockerr.Wrap(vsockerr.ResourceUnavailable, fmt.Errorf("starting interpreter: %w", err))
	}

	// If the deadline passes, kill the whole process group. In the normal
	// case this is a no-op because everything has exited when ctx is done.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
				_ = cmd.Process.Kill()
			}
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	wall := time.Since(start)

	res := &Result{
		ExitCode:        cmd.ProcessState.ExitCode(),
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
		TimedOut:        ctx.Err() == context.DeadlineExceeded,
		WallTime:        wall,
	}
	if ru, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok && ru != nil {
		res.Usage = Usage{
			MaxRSSKB:     ru.Maxrss,
			UserTimeMS:   timevalMS(ru.Utime),
			SystemTimeMS: timevalMS(ru.Stime),
		}
	}

	if waitErr != nil && res.ExitCode < 0 && !res.TimedOut {
		// killed by something other than our deadline
		return nil, vsockerr.Wrap(vsockerr.InternalError, waitErr)
	}

	log.Debugw("execution finished",
		"ExitCode", res.ExitCode,
		"TimedOut", res.TimedOut,
		"WallTime", wall,
		"StdoutBytes", len(res.Stdout),
		"StderrBytes", len(res.Stderr))
	return res, nil
}

func timevalMS(tv syscall.Timeval) int64 {
	return tv.Sec*1000 + tv.Usec/1000
}

// cappedBuffer accepts every write but retains only the first max bytes, so
// a runaway process cannot balloon the response.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remain := b.max - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
