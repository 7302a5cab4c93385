package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pako-23/todo-harness/internal/loadgen"
	"github.com/pako-23/todo-harness/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "MULTILOAD"

	actionKey    = "action"
	intervalKey  = "interval"
	countKey     = "n"
	wsIPKey      = "ws-ip"
	deleteKey    = "delete"
	delayKey     = "delay"
	limitKey     = "limit"
	verbosityKey = "verbosity"
)

func buildViper(name string, args []string) (*viper.Viper, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP(actionKey, "a", "add-delete", fmt.Sprintf("action to perform (%s)", strings.Join(loadgen.Actions(), ", ")))
	fs.DurationP(intervalKey, "i", time.Second, "interval over which n transactions are spread")
	fs.IntP(countKey, "n", 1, "transactions per interval")
	fs.StringP(wsIPKey, "w", "localhost:8088", "host:port of the todo server")
	fs.Bool(deleteKey, false, "delete existing todos before starting")
	fs.Duration(delayKey, 10*time.Millisecond, "server side delay requested by the delay action")
	fs.Int(limitKey, 0, "stop after this many transactions, 0 runs until interrupted")
	fs.String(verbosityKey, "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v, nil
}

func loadConfig(v *viper.Viper) loadgen.Config {
	target := v.GetString(wsIPKey)
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}

	return loadgen.Config{
		Action:      v.GetString(actionKey),
		Target:      target,
		Interval:    v.GetDuration(intervalKey),
		PerInterval: v.GetInt(countKey),
		Delay:       v.GetDuration(delayKey),
		Delete:      v.GetBool(deleteKey),
		Limit:       v.GetInt(limitKey),
	}
}

func main() {
	v, err := buildViper(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := logging.ParseLevel(v.GetString(verbosityKey))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// stdout carries the stats lines.
	logger := logging.NewJSONLogger(os.Stderr, level)
	defer logger.Sync()

	cfg := loadConfig(v)
	generator, err := loadgen.New(cfg,
		loadgen.WithLogger(logger),
		loadgen.WithOutput(os.Stdout))
	if err != nil {
		logger.Fatal("invalid load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting load",
		zap.String("action", cfg.Action),
		zap.String("target", cfg.Target),
		zap.Duration("interval", cfg.Interval),
		zap.Int("n", cfg.PerInterval))

	if err := generator.Run(ctx); err != nil {
		logger.Fatal("load failed", zap.Error(err))
	}

	fmt.Fprintf(os.Stdout, "final: %s\n", generator.StatsLine())
}
