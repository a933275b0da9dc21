package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"yee/internal/config"
	"yee/internal/directory"
	"yee/internal/store"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitDiscovery = 3
)

const usageText = `usage: yee [flags] <command> [args]

commands:
  on | off                      power all lights on or off
  power on|off [-mode m] [-duration d]
  temp <kelvin>                 set color temperature
  rgb <rrggbb>                  set color
  brightness <1-100>            set brightness
  preset [name]                 apply a preset (pick interactively without a name)
  preset save <name> [-power on|off] [-brightness n] [-kelvin k] [-rgb hex]
  preset rm <name>
  presets                       list presets
  list                          scan once, print and remember the lights found
  pair-hue [ip]                 pair a Hue bridge (press its link button first)

exit status: 0 all lights succeeded, 1 a light failed, 2 usage error,
3 the expected lights were not discovered in time.

flags:
`

type globalFlags struct {
	configPath string
	count      int
	timeout    time.Duration
	retries    int
	only       string
	json       bool
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.ReadCloser, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("yee", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var g globalFlags
	flags.StringVar(&g.configPath, "config", "", "config file (default: per-user yee/config.yaml)")
	flags.IntVar(&g.count, "count", 0, "number of lights to wait for (default: from config, else last scan)")
	flags.DurationVar(&g.timeout, "timeout", 0, "per-attempt discovery timeout")
	flags.IntVar(&g.retries, "retries", -1, "extra discovery attempts after a timeout")
	flags.StringVar(&g.only, "only", "", "comma-separated device IDs or names to target")
	flags.BoolVar(&g.json, "json", false, "print the report as JSON")
	flags.BoolVar(&g.verbose, "v", false, "debug logging")
	flags.Usage = func() {
		fmt.Fprint(stderr, usageText)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := loadConfig(g.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "yee: %v\n", err)
		return exitUsage
	}
	applyFlags(cfg, g)

	logger := setupLogger(cfg.Log, stderr)

	inv, err := parseCommand(flags.Args())
	if err != nil {
		fmt.Fprintf(stderr, "yee: %v\n", err)
		flags.Usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(cfg, logger, stdin, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "yee: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	code, err := app.Execute(ctx, inv, g)
	if err != nil {
		fmt.Fprintf(stderr, "yee: %v\n", err)
	}
	return code
}

// loadConfig reads path, or the per-user config when path is empty. Only an
// explicitly named file has to exist.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := store.DefaultConfigPath()
		if err != nil {
			return config.Default(), nil
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, g globalFlags) {
	if g.count > 0 {
		cfg.Discovery.ExpectedDevices = g.count
	}
	if g.timeout > 0 {
		cfg.Discovery.Timeout = g.timeout
	}
	if g.retries >= 0 {
		cfg.Discovery.Retries = g.retries
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
}

func setupLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// exitCode maps the outcome of a dispatching command onto the process status.
func exitCode(allSucceeded bool, err error) int {
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, directory.ErrDiscoveryTimeout):
		return exitDiscovery
	case err != nil:
		return exitFailure
	case !allSucceeded:
		return exitFailure
	}
	return exitOK
}
