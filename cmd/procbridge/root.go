// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/bureau-foundation/procbridge/cmd/procbridge/cli"
	"github.com/bureau-foundation/procbridge/lib/config"
)

func root() *cli.Command {
	return &cli.Command{
		Name:    "procbridge",
		Summary: "Content process log and keep-alive broker",
		Description: `procbridge brokers content processes.

The broker keeps every process hosting a page alive while the page is
open and forwards each process's log records, validated and tagged with
the sender's pid, to the configured sinks.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			sendCommand(),
			archiveCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Run the broker",
				Command:     "procbridge serve --config /etc/procbridge.yaml",
			},
			{
				Description: "Forward stdin lines as a page's primary process",
				Command:     "tail -f app.log | procbridge send --page 1 --primary --streaming",
			},
		},
	}
}

// loadConfig loads the file named by path, or by PROCBRIDGE_CONFIG
// when path is empty, and validates it.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
