package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/pako-23/todo-harness/internal/average"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultWindow   = time.Minute
)

var (
	ErrInvalidInterval = errors.New("accounting interval must be positive")
	ErrInvalidWindow   = errors.New("accounting window must be positive")
	ErrNoWindows       = errors.New("at least one accounting window is required")
)

type Option func(*Accounting)

func WithInterval(interval time.Duration) Option {
	return func(a *Accounting) {
		a.interval = interval
	}
}

// WithWindows replaces the default window set. Duplicates are dropped.
func WithWindows(windows ...time.Duration) Option {
	return func(a *Accounting) {
		a.windows = normalizeWindows(windows)
	}
}

func WithDiscipline(discipline average.Discipline) Option {
	return func(a *Accounting) {
		a.discipline = discipline
	}
}

// WithAlpha fixes the weight of the FixedAlpha discipline for every window.
// Without it the weight is derived from the interval and each window.
func WithAlpha(alpha float64) Option {
	return func(a *Accounting) {
		a.alpha = alpha
	}
}

func WithSpanLookup(spans SpanLookup) Option {
	return func(a *Accounting) {
		a.spans = spans
	}
}

func WithSpanCounter(counter SpanCounter) Option {
	return func(a *Accounting) {
		a.counter = counter
	}
}

func WithCPUSource(cpu CPUSource) Option {
	return func(a *Accounting) {
		a.cpu = cpu
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Accounting) {
		a.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Accounting) {
		a.logger = logger
	}
}

func (a *Accounting) validate() error {
	if a.interval <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, a.interval)
	}

	if len(a.windows) == 0 {
		return ErrNoWindows
	}

	for _, window := range a.windows {
		if window <= 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidWindow, window)
		}
	}

	return nil
}
