package accounting

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pako-23/todo-harness/internal/average"
	"go.uber.org/zap"
)

// Span is what Count needs to know about the span active for a request.
type Span struct {
	Sampled bool
}

// SpanLookup returns the span most recently started for ctx, if any.
type SpanLookup interface {
	CurrentSpan(ctx context.Context) (Span, bool)
}

// SpanCounter reports how many entry spans were opened and closed since the
// process started.
type SpanCounter interface {
	EntrySpans() (enters uint64, exits uint64)
}

// CPUSource reports the cumulative CPU time of the process.
type CPUSource interface {
	CPUTimes() (user time.Duration, system time.Duration, err error)
}

// Accounting counts requests and keeps moving averages of the request rate,
// the CPU cost of a request and the number of open spans, one estimator per
// configured window.
type Accounting struct {
	total   atomic.Uint64
	sampled atomic.Uint64

	interval   time.Duration
	windows    []time.Duration
	discipline average.Discipline
	alpha      float64

	spans   SpanLookup
	counter SpanCounter
	cpu     CPUSource
	now     func() time.Time
	logger  *zap.Logger

	mu             sync.Mutex
	intervals      uint64
	totalAverages  map[time.Duration]average.MovingAverage
	cpuUserPerTx   map[time.Duration]average.MovingAverage
	cpuSystemPerTx map[time.Duration]average.MovingAverage
	spansActive    map[time.Duration]average.MovingAverage

	lastID atomic.Uint64
}

// Snapshot is the point in time view returned by Get. The average maps are
// keyed by window length in milliseconds and are empty until the first tick.
type Snapshot struct {
	Count          uint64             `json:"count"`
	Sampled        uint64             `json:"sampled"`
	Intervals      uint64             `json:"intervals"`
	TotalAverages  map[string]float64 `json:"totalAverages"`
	CPUUserPerTx   map[string]float64 `json:"cpuUserPerTx"`
	CPUSystemPerTx map[string]float64 `json:"cpuSystemPerTx"`
	SpansActive    map[string]float64 `json:"spansActive"`
}

func New(options ...Option) (*Accounting, error) {
	a := &Accounting{
		interval:   DefaultInterval,
		windows:    []time.Duration{DefaultWindow},
		discipline: average.FixedAlpha,
		spans:      noSpans{},
		counter:    noSpans{},
		now:        time.Now,
		logger:     zap.NewNop(),
	}

	for _, option := range options {
		option(a)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	if a.cpu == nil {
		cpu, err := NewProcessCPU()
		if err != nil {
			a.logger.Warn("process CPU usage unavailable, reporting zero", zap.Error(err))
			a.cpu = zeroCPU{}
		} else {
			a.cpu = cpu
		}
	}

	a.totalAverages = make(map[time.Duration]average.MovingAverage, len(a.windows))
	a.cpuUserPerTx = make(map[time.Duration]average.MovingAverage, len(a.windows))
	a.cpuSystemPerTx = make(map[time.Duration]average.MovingAverage, len(a.windows))
	a.spansActive = make(map[time.Duration]average.MovingAverage, len(a.windows))

	for _, window := range a.windows {
		for _, series := range a.series() {
			estimator, err := a.discipline.New(window, a.interval, a.alpha)
			if err != nil {
				return nil, err
			}
			series[window] = estimator
		}
	}

	return a, nil
}

func (a *Accounting) series() []map[time.Duration]average.MovingAverage {
	return []map[time.Duration]average.MovingAverage{
		a.totalAverages, a.cpuUserPerTx, a.cpuSystemPerTx, a.spansActive,
	}
}

// Count records one request. It is safe to call from any goroutine and never
// waits for a tick in progress.
func (a *Accounting) Count(ctx context.Context) {
	a.total.Add(1)

	if span, ok := a.spans.CurrentSpan(ctx); ok && span.Sampled {
		a.sampled.Add(1)
	}
}

func (a *Accounting) Interval() time.Duration {
	return a.interval
}

func (a *Accounting) Windows() []time.Duration {
	return append([]time.Duration(nil), a.windows...)
}

// Get returns the raw counters and, once at least one tick has completed,
// the current value of every average.
func (a *Accounting) Get() Snapshot {
	snapshot := Snapshot{
		Count:          a.total.Load(),
		Sampled:        a.sampled.Load(),
		TotalAverages:  map[string]float64{},
		CPUUserPerTx:   map[string]float64{},
		CPUSystemPerTx: map[string]float64{},
		SpansActive:    map[string]float64{},
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot.Intervals = a.intervals
	if a.intervals == 0 {
		return snapshot
	}

	for _, window := range a.windows {
		key := WindowKey(window)
		snapshot.TotalAverages[key] = round(a.totalAverages[window].Get(), 2)
		snapshot.CPUUserPerTx[key] = round(a.cpuUserPerTx[window].Get(), 0)
		snapshot.CPUSystemPerTx[key] = round(a.cpuSystemPerTx[window].Get(), 0)
		snapshot.SpansActive[key] = round(a.spansActive[window].Get(), 0)
	}

	return snapshot
}

// WindowKey is the key a window is reported under in a Snapshot.
func WindowKey(window time.Duration) string {
	return strconv.FormatInt(window.Milliseconds(), 10)
}

type baseline struct {
	total  uint64
	user   time.Duration
	system time.Duration
	at     time.Time
	// cpu is false when the CPU times could not be read.
	cpu bool
}

func (a *Accounting) baseline() baseline {
	user, system, err := a.cpu.CPUTimes()
	if err != nil {
		a.logger.Debug("could not read CPU times", zap.Error(err))
	}

	return baseline{
		total:  a.total.Load(),
		user:   user,
		system: system,
		at:     a.now(),
		cpu:    err == nil,
	}
}

// tick folds the traffic seen since prev into the averages and moves prev
// forward. Ticks without traffic leave every average untouched. The CPU
// series are skipped unless both ends of the interval have a CPU reading.
func (a *Accounting) tick(prev *baseline) {
	user, system, err := a.cpu.CPUTimes()
	if err != nil {
		a.logger.Debug("could not read CPU times", zap.Error(err))
	}
	cpuValid := err == nil
	now := a.now()
	total := a.total.Load()
	enters, exits := a.counter.EntrySpans()

	active := 0.0
	if enters > exits {
		active = float64(enters - exits)
	}

	deltaTotal := total - prev.total
	deltaTime := now.Sub(prev.at)

	a.mu.Lock()
	if deltaTotal > 0 {
		rate := float64(deltaTotal) / a.interval.Seconds()
		for _, window := range a.windows {
			a.totalAverages[window].Observe(deltaTime, rate)
			a.spansActive[window].Observe(deltaTime, active)
		}

		if cpuValid && prev.cpu {
			userPerTx := float64((user - prev.user).Microseconds()) / float64(deltaTotal)
			systemPerTx := float64((system - prev.system).Microseconds()) / float64(deltaTotal)
			for _, window := range a.windows {
				a.cpuUserPerTx[window].Observe(deltaTime, userPerTx)
				a.cpuSystemPerTx[window].Observe(deltaTime, systemPerTx)
			}
		}
	}
	a.intervals++
	intervals := a.intervals
	a.mu.Unlock()

	a.logger.Debug("accounting tick",
		zap.Uint64("interval", intervals),
		zap.Uint64("requests", deltaTotal),
		zap.Duration("elapsed", deltaTime),
		zap.Float64("active_spans", active))

	*prev = baseline{total: total, user: user, system: system, at: now, cpu: cpuValid}
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

func normalizeWindows(windows []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(windows))
	unique := make([]time.Duration, 0, len(windows))

	for _, window := range windows {
		if _, ok := seen[window]; ok {
			continue
		}
		seen[window] = struct{}{}
		unique = append(unique, window)
	}

	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	return unique
}

type noSpans struct{}

func (noSpans) CurrentSpan(context.Context) (Span, bool) { return Span{}, false }

func (noSpans) EntrySpans() (uint64, uint64) { return 0, 0 }
