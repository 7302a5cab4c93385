// Package logging builds the zap loggers used by every binary of the harness.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var ErrInvalidLevel = errors.New("invalid log level")

type Config struct {
	Level string
	// File, when set, receives a copy of every line and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w %q, must be one of: debug, info, warn or error", ErrInvalidLevel, level)
	}
}

// New returns a JSON logger writing to stdout, teed into a rotated file when
// cfg.File is set. Output of the standard library log package is redirected
// into it.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := NewJSONLogger(os.Stdout, level)
	if cfg.File != "" {
		file := NewJSONLogger(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}, level)
		logger = NewMultiLogger(logger, file)
	}

	zap.RedirectStdLog(logger)

	return logger, nil
}

func NewJSONLogger(output io.Writer, level zapcore.Level) *zap.Logger {
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})

	core := zapcore.NewCore(jsonEncoder, zapcore.Lock(zapcore.AddSync(output)), level)
	return zap.New(core, zap.AddStacktrace(zap.ErrorLevel))
}

func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, logger := range loggers {
		cores = append(cores, logger.Core())
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
}

// TraceFields yields the trace fields that belong on a log line written
// while handling ctx. It is implemented by the tracing agent.
type TraceFields interface {
	LogFields(ctx context.Context) []zap.Field
}

// WithTrace returns logger annotated with the trace of ctx, if any.
func WithTrace(ctx context.Context, logger *zap.Logger, fields TraceFields) *zap.Logger {
	if fields == nil {
		return logger
	}
	if f := fields.LogFields(ctx); len(f) > 0 {
		return logger.With(f...)
	}

	return logger
}
