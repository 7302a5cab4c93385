// Package config resolves the todo server configuration from command line
// flags and TODO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pako-23/todo-harness/internal/accounting"
	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/average"
	"github.com/pako-23/todo-harness/internal/logging"
	"github.com/pako-23/todo-harness/internal/server"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	EnvPrefix = "TODO"

	frameworkKey   = "framework"
	wsIPKey        = "ws-ip"
	dbIPKey        = "db-ip"
	traceModeKey   = "trace-mode"
	customKey      = "custom"
	logLevelKey    = "log-level"
	insertKey      = "insert"
	percentKey     = "percent"
	rateKey        = "rate"
	metricsKey     = "metrics"
	metricsURLKey  = "metrics-url"
	serviceKey     = "service-name"
	serviceKeyKey  = "service-key"
	otlpKey        = "otlp-endpoint"
	verbosityKey   = "verbosity"
	logFileKey     = "log-file"
	intervalKey    = "accounting-interval"
	windowsKey     = "accounting-windows"
	disciplineKey  = "accounting-discipline"
	alphaKey       = "accounting-alpha"
	logMaxSizeKey  = "log-max-size"
	logBackupsKey  = "log-max-backups"
	defaultWSIP    = "localhost:8088"
	defaultMetrics = "https://api.appoptics.com/v1/measurements"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Accounting struct {
	Interval   time.Duration
	Windows    []time.Duration
	Discipline average.Discipline
	Alpha      float64
}

type Config struct {
	Framework     string
	ListenAddress string
	// DBAddress selects the MongoDB todo store; empty keeps todos in memory.
	DBAddress    string
	TraceMode    agent.TraceMode
	CustomNames  bool
	RequestLog   server.LogMode
	Insert       agent.InsertPolicy
	SampleRate   float64
	MetricsToken string
	MetricsURL   string
	ServiceName  string
	ServiceKey   string
	OTLPEndpoint string
	Log          logging.Config
	Accounting   Accounting
}

func buildFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	fs.StringP(frameworkKey, "f", server.DefaultFramework, fmt.Sprintf("framework to use (%s)", strings.Join(server.Frameworks(), ", ")))
	fs.StringP(wsIPKey, "w", defaultWSIP, "host:port to serve pages from")
	fs.StringP(dbIPKey, "d", "", "host:port to use for mongodb, todos are kept in memory when empty")
	fs.StringP(traceModeKey, "t", "undefined", "trace-mode value 0 or 1")
	fs.BoolP(customKey, "c", false, "use a custom name function")
	fs.StringP(logLevelKey, "L", server.LogErrors.String(), "what to log (all, errors, none)")
	fs.StringP(insertKey, "i", "true", "auto-insert trace ids in logs (true, false, always)")
	fs.Float64P(percentKey, "r", 100, "percent of traces to be sampled, overrides --rate")
	fs.Float64(rateKey, agent.MaxSampleRate, "rate as numerator over 1000000")
	fs.StringP(metricsKey, "m", "", "metrics token, enables shipping accounting measurements")
	fs.String(metricsURLKey, defaultMetrics, "measurements endpoint")
	fs.String(serviceKey, agent.DefaultServiceName, "service name reported on spans")
	fs.String(serviceKeyKey, "", "service key")
	fs.String(otlpKey, "", "host:port of an OTLP/gRPC span collector")
	fs.String(verbosityKey, "info", "log level (debug, info, warn, error)")
	fs.String(logFileKey, "", "also write logs to this file")
	fs.Int(logMaxSizeKey, 100, "maximum log file size in megabytes before rotation")
	fs.Int(logBackupsKey, 3, "rotated log files to keep")
	fs.Duration(intervalKey, accounting.DefaultInterval, "accounting sampling interval")
	fs.StringSlice(windowsKey, []string{accounting.DefaultWindow.String()}, "accounting averaging windows")
	fs.String(disciplineKey, average.FixedAlpha.String(), "averaging discipline (fixed, time-weighted)")
	fs.Float64(alphaKey, 0, "fixed smoothing factor, derived from interval and window when 0")

	return fs
}

func buildViper(name string, args []string) (*viper.Viper, *pflag.FlagSet, error) {
	fs := buildFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fs, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v, fs, nil
}

// Load parses args (without the program name). pflag.ErrHelp is returned
// when help was requested.
func Load(name string, args []string) (*Config, error) {
	v, _, err := buildViper(name, args)
	if err != nil {
		return nil, err
	}

	return fromViper(v)
}

// Usage renders the flag help text.
func Usage(name string) string {
	return buildFlagSet(name).FlagUsages()
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Framework:     v.GetString(frameworkKey),
		ListenAddress: v.GetString(wsIPKey),
		DBAddress:     v.GetString(dbIPKey),
		CustomNames:   v.GetBool(customKey),
		MetricsToken:  v.GetString(metricsKey),
		MetricsURL:    v.GetString(metricsURLKey),
		ServiceName:   v.GetString(serviceKey),
		ServiceKey:    v.GetString(serviceKeyKey),
		OTLPEndpoint:  v.GetString(otlpKey),
		Log: logging.Config{
			Level:      v.GetString(verbosityKey),
			File:       v.GetString(logFileKey),
			MaxSizeMB:  v.GetInt(logMaxSizeKey),
			MaxBackups: v.GetInt(logBackupsKey),
		},
		Accounting: Accounting{
			Interval: v.GetDuration(intervalKey),
			Alpha:    v.GetFloat64(alphaKey),
		},
	}

	if !server.HasFramework(cfg.Framework) {
		return nil, fmt.Errorf("%w: unknown framework %q, expected one of %s",
			ErrInvalidConfig, cfg.Framework, strings.Join(server.Frameworks(), ", "))
	}

	var err error
	if cfg.TraceMode, err = agent.ParseTraceMode(v.GetString(traceModeKey)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Insert, err = agent.ParseInsertPolicy(v.GetString(insertKey)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.RequestLog, err = server.ParseLogMode(v.GetString(logLevelKey)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err = logging.ParseLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Accounting.Discipline, err = average.DisciplineFromString(v.GetString(disciplineKey)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for _, window := range v.GetStringSlice(windowsKey) {
		d, err := time.ParseDuration(strings.TrimSpace(window))
		if err != nil {
			return nil, fmt.Errorf("%w: accounting window %q: %w", ErrInvalidConfig, window, err)
		}
		cfg.Accounting.Windows = append(cfg.Accounting.Windows, d)
	}

	cfg.SampleRate = v.GetFloat64(rateKey)
	if v.IsSet(percentKey) {
		cfg.SampleRate = v.GetFloat64(percentKey) / 100 * agent.MaxSampleRate
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > agent.MaxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %v outside 0..%d", ErrInvalidConfig, cfg.SampleRate, agent.MaxSampleRate)
	}

	return cfg, nil
}

// AccountingOptions turns the accounting section into engine options.
func (c *Config) AccountingOptions() []accounting.Option {
	return []accounting.Option{
		accounting.WithInterval(c.Accounting.Interval),
		accounting.WithWindows(c.Accounting.Windows...),
		accounting.WithDiscipline(c.Accounting.Discipline),
		accounting.WithAlpha(c.Accounting.Alpha),
	}
}

func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("framework", c.Framework),
		zap.String("listen", c.ListenAddress),
		zap.String("db", c.DBAddress),
		zap.Stringer("traceMode", c.TraceMode),
		zap.Bool("customNames", c.CustomNames),
		zap.Stringer("requestLog", c.RequestLog),
		zap.Stringer("insert", c.Insert),
		zap.Float64("sampleRate", c.SampleRate),
		zap.Bool("metrics", c.MetricsToken != ""),
		zap.String("otlp", c.OTLPEndpoint),
		zap.Duration("accountingInterval", c.Accounting.Interval),
		zap.Durations("accountingWindows", c.Accounting.Windows),
		zap.Stringer("accountingDiscipline", c.Accounting.Discipline),
	}
}
