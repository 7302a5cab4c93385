package accounting

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessCPU reads the CPU times of the current process.
type ProcessCPU struct {
	p *process.Process
}

func NewProcessCPU() (*ProcessCPU, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &ProcessCPU{p: p}, nil
}

func (c *ProcessCPU) CPUTimes() (time.Duration, time.Duration, error) {
	times, err := c.p.Times()
	if err != nil {
		return 0, 0, err
	}

	return seconds(times.User), seconds(times.System), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type zeroCPU struct{}

func (zeroCPU) CPUTimes() (time.Duration, time.Duration, error) { return 0, 0, nil }
