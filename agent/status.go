//go:build linux

package agent

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/vsocky/vsocky/protocol"
	"github.com/vsocky/vsocky/vsockerr"
)

// selfStatus snapshots the agent's own resource usage for status requests
// and the debug endpoint.
func (a *Agent) selfStatus() (*protocol.AgentStatus, error) {
	pid := os.Getpid()
	status := &protocol.AgentStatus{
		PID:           pid,
		NumGoroutines: runtime.NumGoroutine(),
		UptimeMS:      time.Since(a.startedAt).Milliseconds(),
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, vsockerr.Wrap(vsockerr.ResourceUnavailable, err)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		status.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		status.CPUPercent = cpu
	}
	return status, nil
}
