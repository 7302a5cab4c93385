package accounting

import (
	"context"
	"time"
)

// Interval is a running accounting timer returned by Start.
type Interval struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type StartOption func(*startConfig)

type startConfig struct {
	display func(Snapshot)
}

// WithDisplay registers a hook called with a fresh snapshot after every tick.
func WithDisplay(display func(Snapshot)) StartOption {
	return func(config *startConfig) {
		config.display = display
	}
}

// Start captures a baseline and ticks every a.Interval() until ctx is done
// or the returned Interval is stopped. Several intervals may run at the same
// time, each measuring deltas against its own baseline.
func (a *Accounting) Start(ctx context.Context, options ...StartOption) *Interval {
	config := &startConfig{}
	for _, option := range options {
		option(config)
	}

	ctx, cancel := context.WithCancel(ctx)
	interval := &Interval{
		id:     a.lastID.Add(1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	prev := a.baseline()
	ticker := time.NewTicker(a.interval)

	go func() {
		defer close(interval.done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.tick(&prev)
				if config.display != nil {
					config.display(a.Get())
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return interval
}

func (i *Interval) ID() uint64 {
	return i.id
}

// Stop cancels the timer and waits for a tick in progress to finish.
func (i *Interval) Stop() {
	i.cancel()
	<-i.done
}

func (i *Interval) Done() <-chan struct{} {
	return i.done
}
