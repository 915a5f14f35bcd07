// Command ceroute runs the event router described by a configuration file
// and applies every saved change to that file without a restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/randalmurphal/ceroute/pkg/ceroute"
	"github.com/randalmurphal/ceroute/pkg/ceroute/loader"
	"github.com/randalmurphal/ceroute/pkg/ceroute/ports"
	"github.com/randalmurphal/ceroute/pkg/ceroute/router"
	"github.com/randalmurphal/ceroute/pkg/ceroute/scheduler"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := NewOptions()
	fs := pflag.NewFlagSet("ceroute", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.Version {
		fmt.Fprintf(stdout, "ceroute %s\n", version)
		return 0
	}
	if err := opts.Check(); err != nil {
		fmt.Fprintf(stderr, "ceroute: %v\n", err)
		return 2
	}

	logger := setupLogger(stderr, opts.LogLevel, opts.LogFormat)

	portTypes, err := ports.NewRegistry()
	if err != nil {
		logger.Error("register port types", "error", err)
		return 1
	}
	routers := router.DefaultRegistry()

	var fileOpts []loader.FileOption
	if opts.NoWatch {
		fileOpts = append(fileOpts, loader.WithoutWatch())
	}
	src := loader.NewFile(opts.ConfigPath, logger, fileOpts...)

	if opts.Validate {
		s, err := src.Load()
		if err == nil {
			err = ceroute.Validate(s, portTypes, routers)
		}
		if err != nil {
			fmt.Fprintf(stderr, "ceroute: %s: %v\n", opts.ConfigPath, err)
			return 1
		}
		fmt.Fprintf(stdout, "%s: configuration %q is valid\n", opts.ConfigPath, s.Version)
		return 0
	}

	strategy, _ := scheduler.StrategyByName(opts.Scheduler)
	sched := scheduler.NewLocal(scheduler.Config{Strategy: strategy, Logger: logger})

	logger.Info("starting ceroute",
		"version", version,
		"config", opts.ConfigPath,
		"scheduler", opts.Scheduler)

	k := ceroute.New(src, sched, portTypes, routers, opts.KernelOptions(logger)...)
	if err := k.Run(ctx); err != nil {
		logger.Error("kernel stopped with error", "error", err)
		return 1
	}
	return 0
}
