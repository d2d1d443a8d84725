// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// procbridge brokers content processes: it keeps every process hosting
// a page alive while the page is open and forwards the processes' log
// records to the console, the daemon log, or an archive.
package main

import (
	"os"

	"github.com/bureau-foundation/procbridge/lib/process"
)

func main() {
	process.Exit(run())
}

func run() error {
	return root().Execute(os.Args[1:])
}
