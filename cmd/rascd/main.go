// Package main wires the RASC polling daemon entrypoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"rasc/internal/buildinfo"
	"rasc/pkg/api"
	"rasc/pkg/dispatch"
	"rasc/pkg/history"
	metricshttp "rasc/pkg/http/metrics"
	"rasc/pkg/http/status"
	"rasc/pkg/orchestrate"
	"rasc/pkg/probe"
	"rasc/pkg/workerpool"
)

const (
	defaultConfigPath = "/etc/rascd/config.yaml"
	defaultLogLevel   = "info"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], defaultRunDeps(), os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

// runDeps collects every side-effecting dependency run needs, so tests can substitute
// fakes without starting real servers or touching the filesystem.
type runDeps struct {
	newLogger          func(level string) (*zap.Logger, error)
	currentBuildInfo   func() buildinfo.Info
	loadConfig         func(path string) (runtimeConfig, error)
	newMetricsExporter func() *metricshttp.Exporter
	startServer        func(ctx context.Context, bind string, handler http.Handler, log *zap.Logger) error
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:          newLogger,
		currentBuildInfo:   buildinfo.Current,
		loadConfig:         loadConfig,
		newMetricsExporter: metricshttp.NewExporter,
		startServer:        startServer,
	}
}

func run(ctx context.Context, args []string, deps runDeps, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)
		return exitCodeRuntimeError
	}

	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return exitCodeRuntimeError
	}

	info := deps.currentBuildInfo()
	logger.Info("starting rascd",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("configPath", opts.configPath),
	)

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history store", zap.String("path", cfg.History.Path), zap.Error(err))
		return exitCodeRuntimeError
	}

	var fixedSource *history.FixedHistory

	if cfg.Poll.FixedHistory != "" {
		fixedSource, err = history.LoadFixed(cfg.Poll.FixedHistory)
		if err != nil {
			logger.Error("failed to load fixed history", zap.String("path", cfg.Poll.FixedHistory), zap.Error(err))
			return exitCodeRuntimeError
		}
	}

	workers, err := workerpool.New(cfg.Pool.Workers)
	if err != nil {
		logger.Error("failed to start worker pool", zap.Error(err))
		return exitCodeRuntimeError
	}

	workers.Start(ctx)

	dispatcher := dispatch.New()
	connPool := probe.NewPool(nil)
	runtime := probe.NewRuntime(connPool, dispatcher, store, cfg.Poll.TailMode, logger)

	orch := orchestrate.New(connPool, runtime, dispatcher, store, workers, orchestrate.Config{
		Enabled:     cfg.Poll.Enabled,
		UseVOpt:     cfg.Poll.UseVOpt,
		UseUniform:  cfg.Poll.UseUniform,
		WorstQ:      cfg.Poll.WorstQ,
		SLO:         cfg.Poll.SLO,
		RateLimit:   cfg.Poll.RateLimit,
		FixedSource: fixedSource,
	}, logger)
	orch.Start(ctx)

	exporter := deps.newMetricsExporter()
	statusHandler := status.NewHandler(orch)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", exporter)
	metricsMux.Handle("/healthz", statusHandler)

	adminServer := api.NewServer(orch, logger)

	errs := make(chan error, 2)

	go func() { errs <- deps.startServer(ctx, cfg.Metrics.Bind, metricsMux, logger) }()
	go func() { errs <- deps.startServer(ctx, cfg.Admin.Bind, adminServer.Handler(), logger) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			return exitCodeRuntimeError
		}
	}

	return exitCodeSuccess
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

func startServer(ctx context.Context, bind string, handler http.Handler, log *zap.Logger) error {
	server := &http.Server{Addr: bind, Handler: handler}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.Info("http server listening", zap.String("addr", bind))

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", bind, err)
	}

	return nil
}

type options struct {
	configPath string
	logLevel   string
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("rascd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the rascd configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}

	return opts, nil
}

var errInvalidLogLevel = errors.New("invalid log level")
