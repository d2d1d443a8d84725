// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends a command with a non-zero status after the command
// has already reported the problem itself, for example through its
// logger. process.Exit prints nothing for it.
type ExitError struct {
	Code int

	// Reason is kept for callers that inspect the error. It is not
	// printed.
	Reason string
}

func (e *ExitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode implements the interface process.Exit looks for.
func (e *ExitError) ExitCode() int {
	return e.Code
}
