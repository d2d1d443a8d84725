// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/procbridge/logstream"
)

// SlogSink writes forwarded entries to a slog.Logger. The record
// message is the entry text; destination, severity, and originator are
// attributes.
type SlogSink struct {
	*Registry
	logger *slog.Logger
}

// NewSlogSink creates a sink over logger.
func NewSlogSink(logger *slog.Logger, maxHandles int) *SlogSink {
	return &SlogSink{Registry: NewRegistry(maxHandles), logger: logger}
}

// Emit implements logstream.Sink.
func (sink *SlogSink) Emit(handle logstream.Handle, entry logstream.Entry) error {
	attributes := []slog.Attr{
		slog.String("destination", destinationName(handle)),
		slog.String("severity", entry.Severity.String()),
		slog.Int("pid", int(entry.PID)),
	}
	if entry.Originator != "" {
		attributes = append(attributes, slog.String("originator", entry.Originator))
	}
	sink.logger.LogAttrs(context.Background(), entry.Severity.Level(), entry.Text(), attributes...)
	return nil
}
