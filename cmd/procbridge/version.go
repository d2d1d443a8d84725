// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/bureau-foundation/procbridge/cmd/procbridge/cli"
	"github.com/bureau-foundation/procbridge/lib/version"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Args:    cli.NoArgs,
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
