package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pako-23/todo-harness/internal/accounting"
	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/pako-23/todo-harness/internal/config"
	"github.com/pako-23/todo-harness/internal/logging"
	"github.com/pako-23/todo-harness/internal/metrics"
	"github.com/pako-23/todo-harness/internal/requests"
	"github.com/pako-23/todo-harness/internal/server"
	"github.com/pako-23/todo-harness/internal/todo"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "usage of %s:\n%s", os.Args[0], config.Usage(os.Args[0]))
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("todo server failed", zap.Error(err))
	}
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (todo.Store, error) {
	if cfg.DBAddress == "" {
		logger.Info("keeping todos in memory")
		return todo.NewMemoryStore(), nil
	}

	logger.Info("connecting to mongodb", zap.String("uri", todo.MongoURI(cfg.DBAddress)))
	return todo.NewMongoStore(ctx, cfg.DBAddress)
}

func newAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*agent.Agent, error) {
	options := []agent.Option{
		agent.WithServiceName(cfg.ServiceName),
		agent.WithServiceKey(cfg.ServiceKey),
		agent.WithSampleRate(cfg.SampleRate),
		agent.WithTraceMode(cfg.TraceMode),
		agent.WithInsertPolicy(cfg.Insert),
		agent.WithCustomNames(cfg.CustomNames),
		agent.WithLogger(logger.Named("agent")),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := agent.NewOTLPExporter(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("creating span exporter: %w", err)
		}
		options = append(options, agent.WithExporter(exporter))
	}

	return agent.New(options...)
}

// shipMetrics reports accounting snapshots on every tick and the process
// RSS on the accounting interval.
func shipMetrics(ctx context.Context, cfg *config.Config, acc *accounting.Accounting, registry *requests.Registry, logger *zap.Logger) (func(), error) {
	client := metrics.NewClient(cfg.MetricsToken, cfg.MetricsURL,
		metrics.WithTags(map[string]string{"service": cfg.ServiceName}),
		metrics.WithLogger(logger))

	reportCtx, stopReporting := context.WithCancel(ctx)
	reporter := metrics.NewReporter(reportCtx, client, acc.Windows()[0], logger)
	interval := acc.Start(ctx, accounting.WithDisplay(reporter.Display))
	stopAccounting := func() {
		interval.Stop()
		stopReporting()
		<-reporter.Done()
	}

	memory, err := requests.Lookup[*requests.Memory](registry, "memory")
	if err != nil {
		stopAccounting()
		return nil, err
	}

	sending, err := client.SendOnInterval(ctx, acc.Interval(), func() ([]metrics.Measurement, map[string]string) {
		rss, err := memory.RSS()
		if err != nil {
			logger.Warn("reading rss failed", zap.Error(err))
			return nil, nil
		}
		return []metrics.Measurement{{Name: metrics.MemoryRSSName, Value: float64(rss.RSS)}}, nil
	}, nil)
	if err != nil {
		stopAccounting()
		return nil, err
	}

	return func() {
		stopAccounting()
		sending.Stop()
		logger.Info("metrics shipping stopped", zap.Any("stats", client.Stats()))
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting todo server", cfg.Fields()...)

	a, err := newAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			logger.Warn("agent shutdown failed", zap.Error(err))
		}
	}()

	acc, err := accounting.New(append(cfg.AccountingOptions(),
		accounting.WithSpanLookup(a),
		accounting.WithSpanCounter(a),
		accounting.WithLogger(logger.Named("accounting")))...)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	registry := requests.NewRegistry(requests.Deps{
		Agent:      a,
		Accounting: acc,
		Store:      store,
		Logger:     logger,
	})

	srv, err := server.New(a, acc, registry,
		server.WithFramework(cfg.Framework),
		server.WithLogger(logger.Named("http")),
		server.WithLogMode(cfg.RequestLog))
	if err != nil {
		return err
	}

	if cfg.MetricsToken != "" {
		stopMetrics, err := shipMetrics(ctx, cfg, acc, registry, logger.Named("metrics"))
		if err != nil {
			return err
		}
		defer stopMetrics()
	} else {
		defer acc.Start(ctx).Stop()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("todo server listening",
			zap.String("address", cfg.ListenAddress),
			zap.String("framework", cfg.Framework))
		httpErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-httpErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
