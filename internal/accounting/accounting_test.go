package accounting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pako-23/todo-harness/internal/average"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func compareFloats(value float64, expected float64, eps float64) cmp.Comparison {
	return func() cmp.Result {
		if math.Abs(expected-value) > eps {
			return cmp.ResultFailure(fmt.Sprintf("expected %f, but got %f", expected, value))
		}

		return cmp.ResultSuccess
	}
}

type sampledKey struct{}

// testSpans reads the sample flag from the context and reports a fixed
// number of open entry spans.
type testSpans struct {
	enters uint64
	exits  uint64
}

func (testSpans) CurrentSpan(ctx context.Context) (Span, bool) {
	sampled, ok := ctx.Value(sampledKey{}).(bool)
	if !ok {
		return Span{}, false
	}

	return Span{Sampled: sampled}, true
}

func (t testSpans) EntrySpans() (uint64, uint64) {
	return t.enters, t.exits
}

// testCPU advances by a fixed amount on every read.
type testCPU struct {
	mu     sync.Mutex
	user   time.Duration
	system time.Duration
	step   time.Duration
}

func (c *testCPU) CPUTimes() (time.Duration, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.user += c.step
	c.system += c.step / 2

	return c.user, c.system, nil
}

// flakyCPU fails its first read and afterwards reports a process that has
// already burned a lot of CPU.
type flakyCPU struct {
	reads int
	testCPU
}

func (c *flakyCPU) CPUTimes() (time.Duration, time.Duration, error) {
	c.reads++
	if c.reads == 1 {
		return 0, 0, errors.New("cpu times unavailable")
	}

	return c.testCPU.CPUTimes()
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func sampledContext(sampled bool) context.Context {
	return context.WithValue(context.Background(), sampledKey{}, sampled)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	a, err := New(WithCPUSource(&testCPU{}))
	assert.NilError(t, err)
	assert.Equal(t, a.Interval(), DefaultInterval)
	assert.DeepEqual(t, a.Windows(), []time.Duration{DefaultWindow})
	assert.Equal(t, a.discipline, average.FixedAlpha)
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		options  []Option
		expected error
	}{
		{
			name:     "zero interval",
			options:  []Option{WithInterval(0)},
			expected: ErrInvalidInterval,
		},
		{
			name:     "no windows",
			options:  []Option{WithWindows()},
			expected: ErrNoWindows,
		},
		{
			name:     "negative window",
			options:  []Option{WithWindows(time.Minute, -time.Second)},
			expected: ErrInvalidWindow,
		},
		{
			name:     "alpha out of range",
			options:  []Option{WithAlpha(2)},
			expected: average.ErrInvalidAlpha,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			options := append([]Option{WithCPUSource(&testCPU{})}, test.options...)
			a, err := New(options...)
			assert.ErrorIs(t, err, test.expected)
			assert.Assert(t, a == nil)
		})
	}
}

func TestWindowsDeduplicated(t *testing.T) {
	t.Parallel()

	a, err := New(
		WithCPUSource(&testCPU{}),
		WithWindows(5*time.Minute, time.Minute, 5*time.Minute))
	assert.NilError(t, err)
	assert.DeepEqual(t, a.Windows(), []time.Duration{time.Minute, 5 * time.Minute})
	assert.Equal(t, len(a.totalAverages), 2)
}

func TestCount(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		contexts []context.Context
		sampled  uint64
	}{
		{
			name:     "no span",
			contexts: []context.Context{context.Background(), context.Background()},
			sampled:  0,
		},
		{
			name: "mixed",
			contexts: []context.Context{
				sampledContext(true), sampledContext(false),
				context.Background(), sampledContext(true),
			},
			sampled: 2,
		},
		{
			name:     "none",
			contexts: []context.Context{},
			sampled:  0,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a, err := New(WithSpanLookup(testSpans{}), WithCPUSource(&testCPU{}))
			assert.NilError(t, err)

			for _, ctx := range test.contexts {
				a.Count(ctx)
			}

			snapshot := a.Get()
			assert.Equal(t, snapshot.Count, uint64(len(test.contexts)))
			assert.Equal(t, snapshot.Sampled, test.sampled)
		})
	}
}

func TestColdSnapshot(t *testing.T) {
	t.Parallel()

	a, err := New(WithSpanLookup(testSpans{}), WithCPUSource(&testCPU{}),
		WithWindows(time.Minute, 10*time.Minute))
	assert.NilError(t, err)

	for i := 0; i < 3; i++ {
		a.Count(sampledContext(i%2 == 0))
	}

	snapshot := a.Get()
	assert.Equal(t, snapshot.Count, uint64(3))
	assert.Equal(t, snapshot.Sampled, uint64(2))
	assert.Equal(t, snapshot.Intervals, uint64(0))
	assert.DeepEqual(t, snapshot.TotalAverages, map[string]float64{})
	assert.DeepEqual(t, snapshot.CPUUserPerTx, map[string]float64{})
	assert.DeepEqual(t, snapshot.CPUSystemPerTx, map[string]float64{})
	assert.DeepEqual(t, snapshot.SpansActive, map[string]float64{})
}

func TestTick(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(1000, 0)}
	cpu := &testCPU{step: 20 * time.Millisecond}
	a, err := New(
		WithInterval(time.Second),
		WithWindows(time.Minute),
		WithAlpha(0.5),
		WithSpanCounter(testSpans{enters: 9, exits: 5}),
		WithCPUSource(cpu),
		WithClock(clock.Now))
	assert.NilError(t, err)

	prev := a.baseline()
	for i := 0; i < 4; i++ {
		a.Count(context.Background())
	}
	clock.Advance(time.Second)
	a.tick(&prev)

	snapshot := a.Get()
	assert.Equal(t, snapshot.Intervals, uint64(1))
	assert.Equal(t, snapshot.TotalAverages["60000"], 2.0)
	// 20ms of user time over 4 requests, halved by alpha
	assert.Equal(t, snapshot.CPUUserPerTx["60000"], 2500.0)
	assert.Equal(t, snapshot.CPUSystemPerTx["60000"], 1250.0)
	assert.Equal(t, snapshot.SpansActive["60000"], 2.0)

	assert.Equal(t, prev.total, uint64(4))
	assert.Equal(t, prev.at, clock.now)
	assert.Equal(t, prev.user, 40*time.Millisecond)
}

func TestTickAfterFailedCPURead(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(1000, 0)}
	cpu := &flakyCPU{testCPU: testCPU{user: 10 * time.Second, system: 10 * time.Second, step: 4 * time.Millisecond}}
	a, err := New(
		WithInterval(time.Second),
		WithWindows(time.Minute),
		WithAlpha(1),
		WithCPUSource(cpu),
		WithClock(clock.Now))
	assert.NilError(t, err)

	prev := a.baseline()
	assert.Assert(t, !prev.cpu)

	a.Count(context.Background())
	clock.Advance(time.Second)
	a.tick(&prev)

	snapshot := a.Get()
	assert.Equal(t, snapshot.TotalAverages["60000"], 1.0)
	assert.Equal(t, snapshot.CPUUserPerTx["60000"], 0.0)
	assert.Equal(t, snapshot.CPUSystemPerTx["60000"], 0.0)
	assert.Assert(t, prev.cpu)

	a.Count(context.Background())
	a.Count(context.Background())
	clock.Advance(time.Second)
	a.tick(&prev)

	snapshot = a.Get()
	assert.Equal(t, snapshot.TotalAverages["60000"], 2.0)
	assert.Equal(t, snapshot.CPUUserPerTx["60000"], 2000.0)
	assert.Equal(t, snapshot.CPUSystemPerTx["60000"], 1000.0)
}

func TestTickRounding(t *testing.T) {
	t.Parallel()

	a, err := New(
		WithInterval(3*time.Second),
		WithWindows(time.Minute),
		WithAlpha(1),
		WithCPUSource(&testCPU{step: time.Millisecond}),
	)
	assert.NilError(t, err)

	prev := a.baseline()
	a.Count(context.Background())
	a.tick(&prev)

	snapshot := a.Get()
	assert.Equal(t, snapshot.TotalAverages["60000"], 0.33)
	assert.Equal(t, snapshot.CPUUserPerTx["60000"], 1000.0)
	assert.Equal(t, snapshot.CPUSystemPerTx["60000"], 500.0)
}

func TestIdleTick(t *testing.T) {
	t.Parallel()

	for _, discipline := range []average.Discipline{average.FixedAlpha, average.TimeWeighted} {
		t.Run(discipline.String(), func(t *testing.T) {
			clock := &testClock{now: time.Unix(0, 0)}
			a, err := New(
				WithInterval(time.Second),
				WithWindows(time.Minute, 5*time.Minute),
				WithDiscipline(discipline),
				WithSpanCounter(testSpans{enters: 3, exits: 1}),
				WithCPUSource(&testCPU{step: 7 * time.Millisecond}),
				WithClock(clock.Now))
			assert.NilError(t, err)

			prev := a.baseline()
			for i := 0; i < 13; i++ {
				a.Count(context.Background())
			}
			clock.Advance(time.Second)
			a.tick(&prev)
			before := rawValues(a)

			clock.Advance(time.Second)
			a.tick(&prev)
			after := rawValues(a)

			assert.DeepEqual(t, after, before)
			assert.Equal(t, a.Get().Intervals, uint64(2))
		})
	}
}

func rawValues(a *Accounting) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	values := []uint64{}
	for _, series := range a.series() {
		for _, window := range a.windows {
			values = append(values, math.Float64bits(series[window].Get()))
		}
	}

	return values
}

func TestTimeWeightedTick(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Unix(0, 0)}
	a, err := New(
		WithInterval(time.Second),
		WithWindows(10*time.Second),
		WithDiscipline(average.TimeWeighted),
		WithCPUSource(&testCPU{}),
		WithClock(clock.Now))
	assert.NilError(t, err)

	prev := a.baseline()
	for i := 0; i < 10; i++ {
		a.Count(context.Background())
	}
	clock.Advance(time.Second)
	a.tick(&prev)
	assert.Equal(t, a.Get().TotalAverages["10000"], 10.0, "first sample bootstraps the mean")

	for i := 0; i < 20; i++ {
		a.Count(context.Background())
	}
	clock.Advance(10 * time.Second)
	a.tick(&prev)

	expected := 10 + (20-10)*(1-math.Exp(-1))
	assert.Assert(t, compareFloats(a.Get().TotalAverages["10000"], expected, 0.005))
}

func TestStartEndToEnd(t *testing.T) {
	t.Parallel()

	a, err := New(
		WithInterval(time.Second),
		WithWindows(time.Minute),
		WithAlpha(0.1),
		WithSpanLookup(testSpans{}))
	assert.NilError(t, err)

	ticks := make(chan Snapshot, 1)
	interval := a.Start(context.Background(), WithDisplay(func(s Snapshot) {
		select {
		case ticks <- s:
		default:
		}
	}))

	for i := 0; i < 10; i++ {
		a.Count(sampledContext(true))
	}

	var snapshot Snapshot
	select {
	case snapshot = <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("accounting interval did not tick")
	}
	interval.Stop()

	assert.Equal(t, snapshot.Count, uint64(10))
	assert.Equal(t, snapshot.Sampled, uint64(10))
	assert.Equal(t, snapshot.Intervals, uint64(1))
	assert.Assert(t, compareFloats(snapshot.TotalAverages["60000"], 1.0, 10e-9))
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	a, err := New(WithInterval(5*time.Millisecond), WithCPUSource(&testCPU{}))
	assert.NilError(t, err)

	first := a.Start(context.Background())
	second := a.Start(context.Background())
	assert.Assert(t, first.ID() != second.ID())

	first.Stop()
	select {
	case <-first.Done():
	default:
		t.Fatal("stopped interval is not done")
	}

	ctx, cancel := context.WithCancel(context.Background())
	third := a.Start(ctx)
	cancel()
	select {
	case <-third.Done():
	case <-time.After(time.Second):
		t.Fatal("interval ignored context cancellation")
	}

	second.Stop()
}

func TestConcurrentCount(t *testing.T) {
	t.Parallel()

	a, err := New(
		WithInterval(time.Millisecond),
		WithWindows(time.Second),
		WithSpanLookup(testSpans{}),
		WithCPUSource(&testCPU{}))
	assert.NilError(t, err)

	var mu sync.Mutex
	negative := false
	interval := a.Start(context.Background(), WithDisplay(func(s Snapshot) {
		for _, rate := range s.TotalAverages {
			if rate < 0 {
				mu.Lock()
				negative = true
				mu.Unlock()
			}
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				a.Count(sampledContext(j%4 == 0))
			}
		}()
	}
	wg.Wait()
	interval.Stop()

	snapshot := a.Get()
	assert.Equal(t, snapshot.Count, uint64(8000))
	assert.Equal(t, snapshot.Sampled, uint64(2000))
	assert.Assert(t, !negative)
}
