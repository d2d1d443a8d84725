// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/procbridge/cmd/procbridge/cli"
	"github.com/bureau-foundation/procbridge/logsink"
	"github.com/bureau-foundation/procbridge/logstream"
)

func archiveCommand() *cli.Command {
	var diagnose bool
	return &cli.Command{
		Name:    "archive",
		Summary: "Print a record archive",
		Description: `Print the records in an archive written by sink.archive_path, one
per line, oldest first. With --diagnose each CBOR item is printed in
diagnostic notation instead.`,
		Usage: "procbridge archive [flags] <file>",
		Examples: []cli.Example{
			{
				Description: "Inspect the raw encoding",
				Command:     "procbridge archive --diagnose /var/log/procbridge.zst",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("archive", pflag.ContinueOnError)
			flagSet.BoolVar(&diagnose, "diagnose", false, "print CBOR diagnostic notation")
			return flagSet
		},
		Args: cli.ExactArgs("<file>"),
		Run: func(args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			output := bufio.NewWriter(os.Stdout)
			defer output.Flush()
			if diagnose {
				return logsink.DiagnoseArchive(file, output)
			}
			return printArchive(file, output)
		},
	}
}

// printArchive writes one line per archived entry.
func printArchive(r io.Reader, w io.Writer) error {
	return logsink.ReadArchive(r, func(entry logsink.ArchiveEntry) error {
		_, err := fmt.Fprintln(w, formatArchiveEntry(entry))
		return err
	})
}

// formatArchiveEntry renders an entry as
//
//	time severity destination CP[PID=n] message (originator)
func formatArchiveEntry(entry logsink.ArchiveEntry) string {
	destination := "default"
	if entry.Subsystem != "" || entry.Category != "" {
		destination = logsink.SanitizeTerminal(entry.Subsystem + "/" + entry.Category)
	}
	// Redacted messages were archived as "<private>" already.
	text := logstream.Entry{PID: entry.PID, Message: entry.Message, Public: true}.Text()
	line := time.Unix(0, entry.TimeUnixNano).UTC().Format(time.RFC3339Nano) + " " +
		fmt.Sprintf("%-7s", strings.ToUpper(logstream.Severity(entry.Severity).String())) + " " +
		destination + " " + logsink.SanitizeTerminal(text)
	if entry.Originator != "" {
		line += " (" + logsink.SanitizeTerminal(entry.Originator) + ")"
	}
	return line
}
