// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"strconv"
	"sync/atomic"
)

// Handle is a destination in an output sink. Handles are created by
// the sink and are opaque to the forwarder beyond their name.
type Handle interface {
	Subsystem() string
	Category() string
}

// Sink is the privileged output. Implementations must be safe for
// concurrent use: every connection's worker emits into the same sink.
type Sink interface {
	// DefaultHandle returns the destination for records without a
	// subsystem and category.
	DefaultHandle() Handle

	// CreateHandle constructs a destination. It is expensive, and the
	// forwarder calls it at most once per distinct pair per connection.
	CreateHandle(subsystem, category string) (Handle, error)

	// Emit writes entry to handle.
	Emit(handle Handle, entry Entry) error
}

// Tracer may consume a record before it is emitted. HandleIndirectLog
// returns true when the record was fully handled and must not reach
// the sink.
type Tracer interface {
	HandleIndirectLog(handle Handle, pid int32, message string) bool
}

// Counter observes records in the testing category.
type Counter interface {
	Increment()
}

// TestingCounter is a Counter for tests and diagnostics.
type TestingCounter struct {
	count atomic.Uint64
}

// Increment implements Counter.
func (counter *TestingCounter) Increment() { counter.count.Add(1) }

// Count returns the number of increments so far.
func (counter *TestingCounter) Count() uint64 { return counter.count.Load() }

// Entry is one forwarded record, ready for output.
type Entry struct {
	Severity   Severity
	PID        int32
	Message    string
	Originator string

	// Public marks Message as safe to print. Forwarded messages are
	// composed by the origin process, which keeps secrets out of them.
	Public bool
}

// Text returns the output line for the entry: the origin pid followed
// by the message, or by "<private>" when the entry is not public. The
// message is concatenated, never used as a format string.
func (entry Entry) Text() string {
	message := entry.Message
	if !entry.Public {
		message = "<private>"
	}
	return "CP[PID=" + strconv.FormatInt(int64(entry.PID), 10) + "] " + message
}
