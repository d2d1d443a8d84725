// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"

	"github.com/bureau-foundation/procbridge/throttle"
)

// ProcessIdentifier identifies a content process for the lifetime of
// the broker. Identifiers are never reused, unlike OS pids.
type ProcessIdentifier uint64

// String formats the identifier for logs.
func (identifier ProcessIdentifier) String() string {
	return fmt.Sprintf("process-%d", uint64(identifier))
}

// Process is a content process known to the broker.
type Process struct {
	identifier ProcessIdentifier
	pid        int32
	throttler  *throttle.Throttler
}

// NewProcess describes a content process. The throttler is the
// process's keep-alive bookkeeping; it must not be nil.
func NewProcess(identifier ProcessIdentifier, pid int32, throttler *throttle.Throttler) *Process {
	if throttler == nil {
		panic("topology.NewProcess: nil throttler")
	}
	return &Process{identifier: identifier, pid: pid, throttler: throttler}
}

// Identifier returns the broker-assigned process identifier.
func (process *Process) Identifier() ProcessIdentifier { return process.identifier }

// PID returns the OS process id.
func (process *Process) PID() int32 { return process.pid }

// Throttler returns the process's keep-alive bookkeeping.
func (process *Process) Throttler() *throttle.Throttler { return process.throttler }
