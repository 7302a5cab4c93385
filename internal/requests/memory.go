package requests

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

var ErrUnknownMeasure = errors.New("unknown memory measure")

func init() {
	Register("memory", newMemory)
}

type Memory struct {
	process *process.Process
	now     func() time.Time
}

type RSS struct {
	RSS uint64 `json:"rss"`
	TS  int64  `json:"ts"`
}

func newMemory(Deps) (Request, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Memory{process: p, now: time.Now}, nil
}

func (*Memory) Describe() string {
	return "get memory data"
}

func (m *Memory) Get(what string) (any, error) {
	switch what {
	case "", "rss":
		return m.RSS()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMeasure, what)
	}
}

func (m *Memory) RSS() (RSS, error) {
	info, err := m.process.MemoryInfo()
	if err != nil {
		return RSS{}, fmt.Errorf("reading rss: %w", err)
	}

	return RSS{RSS: info.RSS, TS: m.now().UnixMilli()}, nil
}
