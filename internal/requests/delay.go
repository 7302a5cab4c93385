package requests

import (
	"context"
	"time"
)

func init() {
	Register("delay", func(Deps) (Request, error) { return &Delay{}, nil })
}

type Delay struct{}

type DelayResult struct {
	RequestedDelay int64 `json:"requestedDelay"`
	ActualDelay    int64 `json:"actualDelay"`
}

func (*Delay) Describe() string {
	return "delay a specified number of milliseconds"
}

// Milliseconds waits ms milliseconds, or until ctx is done.
func (*Delay) Milliseconds(ctx context.Context, ms int64) (DelayResult, error) {
	if ms < 0 {
		ms = 0
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return DelayResult{}, ctx.Err()
	}

	return DelayResult{
		RequestedDelay: ms,
		ActualDelay:    time.Since(start).Milliseconds(),
	}, nil
}
