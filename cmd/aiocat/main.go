// File: cmd/aiocat/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// aiocat prints files to stdout through the asynchronous I/O engine.
//
//	aiocat [-config aio.toml] [-env .env] [-facility auto|uring|workerpool] PATH...

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-aio/control"
	"github.com/momentics/hioload-aio/engine"
	"github.com/momentics/hioload-aio/facade"
	"golang.org/x/sys/unix"
)

func main() {
	configPath := flag.String("config", "", "TOML settings file")
	envFile := flag.String("env", ".env", "dotenv file with HIOLOAD_AIO_* overrides, skipped when missing")
	facilityName := flag.String("facility", "", "execution facility: auto, uring or workerpool")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] PATH...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(*configPath, *envFile, *facilityName, flag.Args()))
}

func run(configPath, envFile, facilityName string, paths []string) int {
	settings, err := control.LoadSettings(configPath, envFile)
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		return 1
	}
	if facilityName != "" {
		settings.Facility = facilityName
	}
	cfg, err := engine.ConfigFromSettings(settings, os.Stderr)
	if err != nil {
		slog.Error("Invalid settings", "error", err)
		return 1
	}
	logger := cfg.Logger.With("component", "aiocat")

	eng, err := engine.New(cfg)
	if err != nil {
		logger.Error("Failed to start engine", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Shutdown(ctx); err != nil {
			logger.Warn("Engine shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := 0
	for _, path := range paths {
		if err := cat(ctx, eng, path); err != nil {
			logger.Error("Failed to print file", "path", path, "error", err)
			status = 1
			if ctx.Err() != nil {
				break
			}
		}
	}
	logger.Debug("Done", "facility", eng.Facility(), "stats", eng.Stats())
	return status
}

func cat(ctx context.Context, eng *engine.Engine, path string) error {
	f, err := facade.OpenFile(eng, path, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	_, dumpErr := f.Dump(ctx, os.Stdout)
	if err := f.Close(); err != nil && dumpErr == nil {
		return err
	}
	return dumpErr
}
