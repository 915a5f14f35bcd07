package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/randalmurphal/ceroute/pkg/ceroute"
	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler"
)

// Options holds the command-line configuration of the daemon.
type Options struct {
	ConfigPath   string
	LogLevel     string
	LogFormat    string
	AckTimeout   time.Duration
	DrainTimeout time.Duration
	Scheduler    string
	Restarts     int
	NoWatch      bool
	Validate     bool
	Version      bool
}

// NewOptions returns options holding the defaults.
func NewOptions() *Options {
	return &Options{
		ConfigPath:   "ceroute.yaml",
		LogLevel:     "info",
		LogFormat:    "text",
		AckTimeout:   ceroute.DefaultAckTimeout,
		DrainTimeout: ceroute.DefaultDrainTimeout,
		Scheduler:    scheduler.Goroutines.Name(),
	}
}

// AddFlags binds the options to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "path to the routing configuration (yaml, json or toml)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&o.LogFormat, "log-format", o.LogFormat, "log format: text or json")
	fs.DurationVar(&o.AckTimeout, "ack-timeout", o.AckTimeout, "how long an output may take to answer a delivery")
	fs.DurationVar(&o.DrainTimeout, "drain-timeout", o.DrainTimeout, "how long shutdown waits for in-flight events")
	fs.StringVar(&o.Scheduler, "scheduler", o.Scheduler, "where ports run: goroutine or thread")
	fs.IntVar(&o.Restarts, "restarts", o.Restarts, "restart a crashed port up to this many times (0 marks it unavailable)")
	fs.BoolVar(&o.NoWatch, "no-watch", o.NoWatch, "load the configuration once instead of watching it")
	fs.BoolVar(&o.Validate, "validate", o.Validate, "check the configuration and exit")
	fs.BoolVar(&o.Version, "version", o.Version, "print the version and exit")
}

// Check reports invalid option values.
func (o *Options) Check() error {
	var errs []error
	if o.ConfigPath == "" {
		errs = append(errs, errors.New("--config must not be empty"))
	}
	if _, err := parseLevel(o.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if o.LogFormat != "text" && o.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", o.LogFormat))
	}
	if o.AckTimeout <= 0 {
		errs = append(errs, errors.New("--ack-timeout must be positive"))
	}
	if o.DrainTimeout <= 0 {
		errs = append(errs, errors.New("--drain-timeout must be positive"))
	}
	if _, err := scheduler.StrategyByName(o.Scheduler); err != nil {
		errs = append(errs, err)
	}
	if o.Restarts < 0 {
		errs = append(errs, errors.New("--restarts must not be negative"))
	}
	return errors.Join(errs...)
}

// KernelOptions translates the options into kernel options.
func (o *Options) KernelOptions(logger *slog.Logger) []ceroute.Option {
	opts := []ceroute.Option{
		ceroute.WithLogger(logger),
		ceroute.WithAckTimeout(o.AckTimeout),
		ceroute.WithDrainTimeout(o.DrainTimeout),
	}
	if o.Restarts > 0 {
		opts = append(opts, ceroute.WithCrashPolicy(ceroute.RestartOnCrash(o.Restarts)))
	}
	return opts
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// setupLogger builds the process logger. level and format must have passed
// Check.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := parseLevel(level)
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
