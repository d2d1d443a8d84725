// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for procbridge
// packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireEventually] wrap the timeout safety valve so that a test
// waiting on another goroutine fails instead of hanging. They are the
// only place in the test suite that uses wall-clock timeouts.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes.
//
// All helpers call t.Fatalf on failure.
package testutil
