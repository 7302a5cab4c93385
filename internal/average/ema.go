package average

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidAlpha    = errors.New("alpha must be in (0, 1]")
	ErrInvalidTimespan = errors.New("timespan must be positive")
)

// MovingAverage smooths a stream of samples into a single value.
type MovingAverage interface {
	// Observe feeds a sample taken elapsed after the previous one.
	Observe(elapsed time.Duration, value float64)

	// Get returns the current smoothed value.
	Get() float64
}

// ExponentialMovingAverage weighs every sample with the same alpha. It
// assumes samples arrive at a constant cadence.
type ExponentialMovingAverage struct {
	alpha float64
	mean  float64
}

func NewExponentialMovingAverage(alpha float64, mean float64) (*ExponentialMovingAverage, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}

	return &ExponentialMovingAverage{alpha: alpha, mean: mean}, nil
}

func (e *ExponentialMovingAverage) beta() float64 {
	return 1 - e.alpha
}

func (e *ExponentialMovingAverage) Update(value float64) {
	e.mean = e.beta()*e.mean + e.alpha*value
}

func (e *ExponentialMovingAverage) Observe(_ time.Duration, value float64) {
	e.Update(value)
}

func (e *ExponentialMovingAverage) Get() float64 {
	return e.mean
}

// TimeWeightedEMA derives its weight from the time elapsed since the
// previous sample, so it stays correct when ticks are delayed.
type TimeWeightedEMA struct {
	timespan    float64
	mean        float64
	initialized bool
}

func NewTimeWeightedEMA(timespan time.Duration) (*TimeWeightedEMA, error) {
	if timespan <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTimespan, timespan)
	}

	return &TimeWeightedEMA{timespan: timespan.Seconds()}, nil
}

// Update blends value into the mean and returns the new mean. The first
// call adopts value as the mean.
func (t *TimeWeightedEMA) Update(deltaT time.Duration, value float64) float64 {
	if !t.initialized {
		t.initialized = true
		t.mean = value
		return t.mean
	}

	alpha := 1 - math.Exp(-deltaT.Seconds()/t.timespan)
	t.mean = alpha*value + (1-alpha)*t.mean

	return t.mean
}

func (t *TimeWeightedEMA) Observe(elapsed time.Duration, value float64) {
	t.Update(elapsed, value)
}

func (t *TimeWeightedEMA) Get() float64 {
	return t.mean
}
