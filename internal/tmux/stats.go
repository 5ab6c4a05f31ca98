package tmux

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcStats is a resource snapshot of the control client process.
type ProcStats struct {
	PID        int       `json:"pid"`
	RSS        uint64    `json:"rss"`
	CPUPercent float64   `json:"cpu_percent"`
	StartedAt  time.Time `json:"started_at"`
}

// Stats samples the control client's memory, CPU and start time.
func (c *Client) Stats() (ProcStats, error) {
	return processStats(c.Pid())
}

func processStats(pid int) (ProcStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcStats{}, err
	}
	st := ProcStats{PID: pid}
	if mem, err := p.MemoryInfo(); err == nil {
		st.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if ms, err := p.CreateTime(); err == nil {
		st.StartedAt = time.UnixMilli(ms)
	}
	return st, nil
}
