// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint exit path for
// procbridge. It is the one place outside the CLI that writes to
// stderr without the structured logger, since run() may fail before
// the logger exists.
package process
