// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"errors"

	"github.com/bureau-foundation/procbridge/logstream"
)

// MultiSink emits every entry to each of its sinks. Handles come from
// the MultiSink's own registry; member sinks only read the handle's
// subsystem and category.
type MultiSink struct {
	*Registry
	sinks []logstream.Sink
}

// NewMultiSink fans out to sinks.
func NewMultiSink(maxHandles int, sinks ...logstream.Sink) *MultiSink {
	return &MultiSink{Registry: NewRegistry(maxHandles), sinks: sinks}
}

// Emit implements logstream.Sink. Every member is attempted; their
// errors are joined.
func (multi *MultiSink) Emit(handle logstream.Handle, entry logstream.Entry) error {
	var errs []error
	for _, sink := range multi.sinks {
		if err := sink.Emit(handle, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
