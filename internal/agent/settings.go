package agent

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	TraceModeUnset TraceMode = iota
	TraceModeNever
	TraceModeAlways
)

const (
	InsertOff InsertPolicy = iota
	InsertSampledOnly
	InsertAlways
)

var (
	ErrUnknownSetting = errors.New("invalid setting")
	ErrInvalidValue   = errors.New("invalid value")
)

// Setting is one adjustment of the agent configuration. The concrete types
// are SampleRate, TraceMode, LoggingFlag and InsertPolicy.
type Setting interface {
	settingName() string
}

// Result describes the agent state touched by an applied setting.
type Result map[string]any

// SampleRate is the probability of sampling a new trace, as a numerator
// over MaxSampleRate.
type SampleRate float64

// TraceMode gates whether new traces are started at all.
type TraceMode int32

// LoggingFlag turns one agent debug logging category on or off.
type LoggingFlag struct {
	Name    string
	Enabled bool
}

// InsertPolicy controls when trace ids are added to log lines.
type InsertPolicy int32

func (SampleRate) settingName() string   { return "sample-rate" }
func (TraceMode) settingName() string    { return "sample-mode" }
func (LoggingFlag) settingName() string  { return "logging" }
func (InsertPolicy) settingName() string { return "insert" }

func (m TraceMode) String() string {
	switch m {
	case TraceModeUnset:
		return "unset"
	case TraceModeNever:
		return "never"
	case TraceModeAlways:
		return "always"
	default:
		return "unknown"
	}
}

func ParseTraceMode(s string) (TraceMode, error) {
	switch strings.ToLower(s) {
	case "", "unset", "undefined":
		return TraceModeUnset, nil
	case "0", TraceModeNever.String():
		return TraceModeNever, nil
	case "1", TraceModeAlways.String():
		return TraceModeAlways, nil
	default:
		return 0, fmt.Errorf("%w %q for sample-mode", ErrInvalidValue, s)
	}
}

func (p InsertPolicy) String() string {
	switch p {
	case InsertOff:
		return "off"
	case InsertSampledOnly:
		return "sampled-only"
	case InsertAlways:
		return "always"
	default:
		return "unknown"
	}
}

func ParseInsertPolicy(s string) (InsertPolicy, error) {
	switch strings.ToLower(s) {
	case "false", "0", InsertOff.String():
		return InsertOff, nil
	case "true", "1", "sampledonly", InsertSampledOnly.String():
		return InsertSampledOnly, nil
	case InsertAlways.String():
		return InsertAlways, nil
	default:
		return 0, fmt.Errorf("%w %q for insert", ErrInvalidValue, s)
	}
}

// ParseSetting turns the name and value of a configuration request into a
// Setting.
func ParseSetting(name, value string) (Setting, error) {
	switch name {
	case "sample-rate":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %s for %s", ErrInvalidValue, value, name)
		}
		return SampleRate(rate), nil

	case "sample-mode", "trace-mode":
		mode, err := ParseTraceMode(value)
		if err != nil {
			return nil, err
		}
		return mode, nil

	case "logging":
		what, enabled, ok := strings.Cut(value, ":")
		if !ok || what == "" {
			return nil, fmt.Errorf("%w %s for %s", ErrInvalidValue, value, name)
		}
		flag, err := strconv.ParseFloat(enabled, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %s for %s", ErrInvalidValue, value, name)
		}
		return LoggingFlag{Name: what, Enabled: flag != 0}, nil

	case "insert":
		policy, err := ParseInsertPolicy(value)
		if err != nil {
			return nil, err
		}
		return policy, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
}

// Apply changes the agent configuration. Changes to sampling take effect for
// the next trace started.
func (a *Agent) Apply(setting Setting) (Result, error) {
	var result Result

	switch s := setting.(type) {
	case SampleRate:
		rate := float64(s)
		if math.IsNaN(rate) || rate < 0 || rate > MaxSampleRate {
			return nil, fmt.Errorf("%w %v for sample-rate", ErrInvalidValue, rate)
		}
		a.rate.Store(math.Float64bits(rate))
		result = Result{"sampleRate": rate}

	case TraceMode:
		if s < TraceModeUnset || s > TraceModeAlways {
			return nil, fmt.Errorf("%w %d for sample-mode", ErrInvalidValue, s)
		}
		a.mode.Store(int32(s))
		result = Result{"sampleMode": s.String()}

	case LoggingFlag:
		a.mu.Lock()
		a.logging[s.Name] = s.Enabled
		result = Result{"control.logging": copyFlags(a.logging)}
		a.mu.Unlock()

	case InsertPolicy:
		if s < InsertOff || s > InsertAlways {
			return nil, fmt.Errorf("%w %d for insert", ErrInvalidValue, s)
		}
		a.insert.Store(int32(s))
		result = Result{"insert": s.String()}

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSetting, setting)
	}

	a.mu.Lock()
	for key, value := range result {
		a.lastSettings[key] = value
	}
	a.mu.Unlock()

	a.logger.Info("agent setting applied",
		zap.String("setting", setting.settingName()),
		zap.Any("result", result))

	return result, nil
}

func (a *Agent) SampleRate() float64 {
	return math.Float64frombits(a.rate.Load())
}

func (a *Agent) TraceMode() TraceMode {
	return TraceMode(a.mode.Load())
}

func (a *Agent) InsertPolicy() InsertPolicy {
	return InsertPolicy(a.insert.Load())
}

// LoggingEnabled reports whether the named debug logging category is on.
func (a *Agent) LoggingEnabled(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.logging[name]
}

func copyFlags(flags map[string]bool) map[string]bool {
	c := make(map[string]bool, len(flags))
	for k, v := range flags {
		c[k] = v
	}

	return c
}
