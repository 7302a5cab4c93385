package average

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	FixedAlpha Discipline = iota
	TimeWeighted
)

var ErrUnknownDiscipline = errors.New("unknown averaging discipline")

// Discipline selects which MovingAverage variant a component builds.
type Discipline byte

func DisciplineFromString(s string) (Discipline, error) {
	switch strings.ToLower(s) {
	case FixedAlpha.String(), "ema":
		return FixedAlpha, nil
	case TimeWeighted.String(), "time":
		return TimeWeighted, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDiscipline, s)
	}
}

func (d Discipline) String() string {
	switch d {
	case FixedAlpha:
		return "fixed"
	case TimeWeighted:
		return "time-weighted"
	default:
		return "unknown"
	}
}

// New builds an estimator for window. For FixedAlpha a zero alpha means the
// weight is derived from the ratio between the sampling interval and the
// window.
func (d Discipline) New(window, interval time.Duration, alpha float64) (MovingAverage, error) {
	switch d {
	case FixedAlpha:
		if alpha == 0 {
			alpha = WindowAlpha(window, interval)
		}
		return NewExponentialMovingAverage(alpha, 0)
	case TimeWeighted:
		return NewTimeWeightedEMA(window)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownDiscipline, d)
	}
}

// WindowAlpha is the fixed weight that makes samples taken every interval
// decay with a time constant of window.
func WindowAlpha(window, interval time.Duration) float64 {
	if window <= 0 || interval <= 0 {
		return 1
	}

	return 1 - math.Exp(-interval.Seconds()/window.Seconds())
}
