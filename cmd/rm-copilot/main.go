package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/srg-rm/rm-copilot/internal/config"
	"github.com/srg-rm/rm-copilot/internal/metrics"
)

const usage = `Usage: rm-copilot [-config path] [-verbose] <command> [flags]

Commands:
  etl           process one day of listings (default: yesterday)
  etl-range     process an inclusive range of days
  health        scan stored partitions and write a health report
  config-check  validate configuration and API reachability
  version       print the version
`

// Exit codes shared by every command. Health uses 1 for warning and 2 for
// critical.
const (
	exitOK         = 0
	exitFailure    = 1
	exitCritical   = 2
	exitUnexpected = 3
)

// Application holds what every command needs.
type Application struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Recorder
	stdout  io.Writer
	stderr  io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rm-copilot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "config.yml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitFailure
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	if command == "version" {
		fmt.Fprintf(stdout, "rm-copilot %s\n", versionOf(*configPath))
		return exitOK
	}

	app, err := NewApplication(*configPath, *verbose, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitFailure
	}
	defer app.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch command {
	case "etl":
		code = app.runETL(ctx, rest)
	case "etl-range":
		code = app.runETLRange(ctx, rest)
	case "health":
		code = app.runHealth(ctx, rest)
	case "config-check":
		code = app.runConfigCheck(ctx, rest)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n", command)
		fs.Usage()
		return exitFailure
	}

	if err := app.metrics.WriteTextfile(app.cfg.Monitoring.Metrics.TextfilePath); err != nil {
		app.logger.Warn("Failed to write metrics textfile",
			zap.String("path", app.cfg.Monitoring.Metrics.TextfilePath),
			zap.Error(err))
	}
	return code
}

func NewApplication(configPath string, verbose bool, stdout, stderr io.Writer) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Application.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := createLogger(level)
	if err != nil {
		return nil, err
	}

	return &Application{
		cfg:    cfg,
		logger: logger,
		metrics: metrics.NewRecorder(
			metrics.WithEnabled(cfg.Monitoring.Metrics.Enabled),
			metrics.WithNamespace(cfg.Monitoring.Metrics.Namespace),
		),
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func versionOf(configPath string) string {
	cfg, err := config.Load(configPath)
	if err != nil || cfg.Application.Version == "" {
		return "dev"
	}
	return cfg.Application.Version
}

func createLogger(level string) (*zap.Logger, error) {
	var config zap.Config

	switch level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "info":
		config = zap.NewProductionConfig()
	case "warn":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config = zap.NewProductionConfig()
	}

	// stdout carries command output
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
