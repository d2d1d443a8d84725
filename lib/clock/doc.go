// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for timestamps.
//
// Code that stamps records (archive entries, signpost events) takes a
// Clock instead of calling time.Now directly. Production wiring uses
// Real(); tests use Fake() and move time explicitly with Advance or
// Set, so recorded timestamps and durations are exact.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	tracer := logsink.NewSignpostTracer(16, logsink.WithClock(c))
//	c.Advance(5 * time.Millisecond)
package clock
