package agent

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseSetting(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		value    string
		expected Setting
	}{
		{name: "sample-rate", value: "300000", expected: SampleRate(300000)},
		{name: "sample-mode", value: "0", expected: TraceModeNever},
		{name: "sample-mode", value: "always", expected: TraceModeAlways},
		{name: "trace-mode", value: "undefined", expected: TraceModeUnset},
		{name: "logging", value: "span:1", expected: LoggingFlag{Name: "span", Enabled: true}},
		{name: "logging", value: "info:0", expected: LoggingFlag{Name: "info", Enabled: false}},
		{name: "insert", value: "true", expected: InsertSampledOnly},
		{name: "insert", value: "always", expected: InsertAlways},
	}

	for _, test := range tests {
		setting, err := ParseSetting(test.name, test.value)
		assert.NilError(t, err)
		assert.DeepEqual(t, setting, test.expected)
	}
}

func TestParseSettingErrors(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		value    string
		expected error
	}{
		{name: "colour", value: "blue", expected: ErrUnknownSetting},
		{name: "sample-rate", value: "lots", expected: ErrInvalidValue},
		{name: "sample-mode", value: "2", expected: ErrInvalidValue},
		{name: "logging", value: "span", expected: ErrInvalidValue},
		{name: "logging", value: ":1", expected: ErrInvalidValue},
		{name: "logging", value: "span:yes", expected: ErrInvalidValue},
		{name: "insert", value: "sometimes", expected: ErrInvalidValue},
	}

	for _, test := range tests {
		_, err := ParseSetting(test.name, test.value)
		assert.ErrorIs(t, err, test.expected, "%s=%s", test.name, test.value)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	a, _ := newTestAgent(t)

	result, err := a.Apply(SampleRate(250000))
	assert.NilError(t, err)
	assert.DeepEqual(t, result, Result{"sampleRate": 250000.0})
	assert.Equal(t, a.SampleRate(), 250000.0)

	result, err = a.Apply(TraceModeAlways)
	assert.NilError(t, err)
	assert.DeepEqual(t, result, Result{"sampleMode": "always"})

	result, err = a.Apply(LoggingFlag{Name: "span", Enabled: true})
	assert.NilError(t, err)
	assert.DeepEqual(t, result, Result{"control.logging": map[string]bool{"span": true}})
	assert.Assert(t, a.LoggingEnabled("span"))
	assert.Assert(t, !a.LoggingEnabled("info"))

	status := a.Status()
	assert.Equal(t, status.SampleMode, "always")
	assert.Equal(t, status.ServiceKey, "<not present>")
	assert.Equal(t, status.LastSettings["sampleRate"], 250000.0)
	assert.DeepEqual(t, status.Logging, map[string]bool{"span": true})
}

func TestApplyInvalid(t *testing.T) {
	t.Parallel()

	a, _ := newTestAgent(t)

	for _, setting := range []Setting{
		SampleRate(-1),
		SampleRate(MaxSampleRate + 1),
		TraceMode(7),
		InsertPolicy(-2),
	} {
		_, err := a.Apply(setting)
		assert.ErrorIs(t, err, ErrInvalidValue)
	}

	assert.Equal(t, a.SampleRate(), float64(MaxSampleRate))
	assert.Equal(t, len(a.Status().LastSettings), 0)
}
