// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/procbridge/broker"
	"github.com/bureau-foundation/procbridge/cmd/procbridge/cli"
	"github.com/bureau-foundation/procbridge/logstream"
)

// sendOptions are the send command's flags.
type sendOptions struct {
	configPath string
	socketPath string
	page       uint64
	primary    bool
	streaming  bool
	subsystem  string
	category   string
	severity   string
	originator string
	logLevel   string
}

func sendCommand() *cli.Command {
	var options sendOptions
	return &cli.Command{
		Name:    "send",
		Summary: "Forward stdin lines as a content process",
		Description: `Connect to the broker as a content process and send every line
of stdin as one log record.

The socket comes from --socket, or from the socket_path of the config
named by --config or PROCBRIDGE_CONFIG. With --streaming the records
travel through a shared-memory ring; the broker may still choose the
direct variant.`,
		Usage: "procbridge send [flags] < lines",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "config file (default: $PROCBRIDGE_CONFIG)")
			flagSet.StringVar(&options.socketPath, "socket", "", "broker socket (overrides the config)")
			flagSet.Uint64Var(&options.page, "page", 1, "page to host")
			flagSet.BoolVar(&options.primary, "primary", false, "open the page as its primary process")
			flagSet.BoolVar(&options.streaming, "streaming", false, "offer the shared-memory variant")
			flagSet.StringVar(&options.subsystem, "subsystem", "", "destination subsystem (requires --category)")
			flagSet.StringVar(&options.category, "category", "", "destination category (requires --subsystem)")
			flagSet.StringVar(&options.severity, "severity", "default", "default, info, debug, error, or fault")
			flagSet.StringVar(&options.originator, "originator", "", "originator label attached to every record")
			flagSet.StringVar(&options.logLevel, "log-level", "info", "log level: debug, info, warn, error")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runSend(options, os.Stdin)
		},
	}
}

func runSend(options sendOptions, input io.Reader) error {
	level, err := cli.ParseLogLevel(options.logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(level)
	severity, err := logstream.ParseSeverity(options.severity)
	if err != nil {
		return err
	}
	if (options.subsystem == "") != (options.category == "") {
		return fmt.Errorf("--subsystem and --category must be given together")
	}

	dialOptions := broker.DialOptions{}
	socketPath := options.socketPath
	if socketPath == "" || options.configPath != "" {
		cfg, err := loadConfig(options.configPath)
		if err != nil {
			return err
		}
		if socketPath == "" {
			socketPath = cfg.SocketPath
		}
		dialOptions.BufferSize = cfg.Streaming.BufferSize
		dialOptions.WaitTimeout = cfg.Streaming.WaitTimeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	dialContext, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := broker.Dial(dialContext, socketPath, broker.Hello{
		Page:      options.page,
		Primary:   options.primary,
		Streaming: options.streaming,
	}, dialOptions)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Debug("connected to broker",
		"socket", socketPath,
		"process", client.Process(),
		"streaming", client.Streaming(),
	)

	sent, failed := sendLines(ctx, client, input, recordTemplate{
		subsystem:  options.subsystem,
		category:   options.category,
		severity:   severity,
		originator: options.originator,
	}, logger)
	logger.Debug("input finished", "sent", sent, "failed", failed)
	if failed > 0 {
		logger.Error("some lines were not forwarded", "sent", sent, "failed", failed)
		return &cli.ExitError{Code: 1, Reason: fmt.Sprintf("%d of %d lines not forwarded", failed, sent+failed)}
	}
	return nil
}

// recordTemplate is the shape every sent record shares.
type recordTemplate struct {
	subsystem  string
	category   string
	severity   logstream.Severity
	originator string
}

func (template recordTemplate) record(message string) logstream.Record {
	record := logstream.NewRecord(template.subsystem, template.category, message, template.severity)
	if template.originator != "" {
		record = record.WithOriginator(template.originator)
	}
	return record
}

// recordLogger is the sending side of a broker connection.
type recordLogger interface {
	Log(record logstream.Record) error
}

// sendLines sends every non-empty line of input until EOF or ctx is
// done. Failures are logged and counted; sending continues.
func sendLines(ctx context.Context, client recordLogger, input io.Reader, template recordTemplate, logger *slog.Logger) (sent, failed int) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() && ctx.Err() == nil {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := client.Log(template.record(line)); err != nil {
			logger.Error("sending record failed", "error", err)
			failed++
			continue
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading input failed", "error", err)
		failed++
	}
	return sent, failed
}
