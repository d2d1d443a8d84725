// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/procbridge/broker"
	"github.com/bureau-foundation/procbridge/cmd/procbridge/cli"
	"github.com/bureau-foundation/procbridge/lib/clock"
	"github.com/bureau-foundation/procbridge/lib/config"
	"github.com/bureau-foundation/procbridge/lib/version"
	"github.com/bureau-foundation/procbridge/logsink"
	"github.com/bureau-foundation/procbridge/logstream"
	"github.com/bureau-foundation/procbridge/throttle"
)

func serveCommand() *cli.Command {
	var (
		configPath  string
		socketPath  string
		logLevel    string
		traceOutput string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the broker",
		Description: `Run the broker until SIGINT or SIGTERM.

Configuration comes from --config or PROCBRIDGE_CONFIG. Forwarded
records go to the console (or the daemon log when sink.console is
false) and, when sink.archive_path is set, to a zstd CBOR archive.`,
		Usage: "procbridge serve [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: $PROCBRIDGE_CONFIG)")
			flagSet.StringVar(&socketPath, "socket", "", "override socket_path")
			flagSet.StringVar(&logLevel, "log-level", "info", "daemon log level: debug, info, warn, error")
			flagSet.StringVar(&traceOutput, "trace-output", "", "write signpost events as JSON lines to this file on exit")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			level, err := cli.ParseLogLevel(logLevel)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.SocketPath = socketPath
			}
			return serve(cfg, cli.NewCommandLogger(level), traceOutput)
		},
	}
}

func serve(cfg *config.Config, logger *slog.Logger, traceOutput string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := buildSink(cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			logger.Error("closing sinks", "error", err)
		}
	}()

	activityType, err := throttle.ParseActivityType(cfg.Activity.Priority)
	if err != nil {
		return err
	}
	counter := &logstream.TestingCounter{}
	brokerConfig := broker.Config{
		Sink:                    sink,
		TestingCounter:          counter,
		Streaming:               cfg.Streaming.Enabled,
		ActivityName:            cfg.Activity.Name,
		ActivityType:            activityType,
		MaxActivitiesPerProcess: cfg.Activity.MaxPerProcess,
		Logger:                  logger,
	}
	var tracer *logsink.SignpostTracer
	if cfg.Trace.Enabled {
		tracer = logsink.NewSignpostTracer(cfg.Trace.MaxEvents, logsink.WithSignpostLogger(logger))
		brokerConfig.Tracer = tracer
	}

	server, err := broker.New(brokerConfig)
	if err != nil {
		return err
	}
	logger.Info("procbridge starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"streaming", cfg.Streaming.Enabled,
		"activity_type", activityType,
	)
	if err := server.ListenAndServe(ctx, cfg.SocketPath); err != nil {
		return err
	}
	logger.Info("procbridge stopped",
		"testing_records", counter.Count(),
		"violations", server.Violations(),
	)

	if tracer != nil && traceOutput != "" {
		if err := writeTrace(tracer, traceOutput); err != nil {
			return err
		}
		logger.Info("signpost trace written", "path", traceOutput, "events", len(tracer.Events()), "dropped", tracer.Dropped())
	}
	return nil
}

// buildSink assembles the configured sinks. The returned function
// flushes and closes any archive.
func buildSink(cfg *config.Config, logger *slog.Logger, console io.Writer) (logstream.Sink, func() error, error) {
	maxHandles := cfg.Sink.MaxHandles
	var sinks []logstream.Sink
	if cfg.Sink.Console {
		mode, err := logsink.ParseColorMode(cfg.Sink.Color)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, logsink.NewConsoleSink(console, mode, maxHandles))
	} else {
		sinks = append(sinks, logsink.NewSlogSink(logger, maxHandles))
	}

	closeSink := func() error { return nil }
	if cfg.Sink.ArchivePath != "" {
		archive, err := logsink.CreateArchive(cfg.Sink.ArchivePath, maxHandles, clock.Real())
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, archive)
		closeSink = archive.Close
	}

	if len(sinks) == 1 {
		return sinks[0], closeSink, nil
	}
	return logsink.NewMultiSink(maxHandles, sinks...), closeSink, nil
}

func writeTrace(tracer *logsink.SignpostTracer, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trace output: %w", err)
	}
	if err := tracer.WriteJSONLines(file); err != nil {
		file.Close()
		return fmt.Errorf("writing trace output: %w", err)
	}
	return file.Close()
}
