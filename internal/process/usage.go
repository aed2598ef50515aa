package process

import (
	"fmt"

	gproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of the group leader. Children the
// leader spawned (a browser, for instance) are not included.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"` // averaged over the process lifetime
	RSSBytes   uint64  `json:"rss_bytes"`
	NumThreads int32   `json:"num_threads"`
}

// Usage samples the running process through the OS process table.
func (p *Process) Usage() (Usage, error) {
	pid := p.PID()
	if st := p.State(); pid <= 0 || (st != StateSpawned && st != StateRunning) {
		return Usage{}, ErrNotStarted
	}
	h, err := gproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("process handle %d: %w", pid, err)
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory info %d: %w", pid, err)
	}
	u := Usage{RSSBytes: mem.RSS}
	// CPU and thread counts are best effort; some platforms refuse them.
	if cpu, err := h.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := h.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, nil
}
