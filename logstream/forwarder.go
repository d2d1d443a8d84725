// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"fmt"
	"log/slog"
)

// Forwarder runs validated records through the handle cache, the
// tracer, and the sink. One Forwarder serves one connection and is
// not safe for concurrent use.
type Forwarder struct {
	sink    Sink
	cache   *HandleCache
	tracer  Tracer
	counter Counter
	logger  *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithTracer installs a tracing hook.
func WithTracer(tracer Tracer) ForwarderOption {
	return func(forwarder *Forwarder) { forwarder.tracer = tracer }
}

// WithTestingCounter counts records in TestingCategory.
func WithTestingCounter(counter Counter) ForwarderOption {
	return func(forwarder *Forwarder) { forwarder.counter = counter }
}

// WithForwarderLogger sets the forwarder's logger.
func WithForwarderLogger(logger *slog.Logger) ForwarderOption {
	return func(forwarder *Forwarder) { forwarder.logger = logger }
}

// NewForwarder creates a forwarder with its own handle cache over sink.
func NewForwarder(sink Sink, options ...ForwarderOption) *Forwarder {
	forwarder := &Forwarder{
		sink:   sink,
		cache:  NewHandleCache(sink),
		logger: slog.Default(),
	}
	for _, option := range options {
		option(forwarder)
	}
	return forwarder
}

// Forward validates record and emits it on behalf of pid. pid comes
// from the connection, never from the record. Validation failures wrap
// transport.ErrProtocolViolation and have no other effect. Handle
// creation and sink errors are returned unwrapped by any violation.
func (forwarder *Forwarder) Forward(record Record, pid int32) error {
	valid, err := Validate(record)
	if err != nil {
		return fmt.Errorf("record from pid %d: %w", pid, err)
	}

	if valid.Category() == TestingCategory && forwarder.counter != nil {
		forwarder.counter.Increment()
	}

	var handle Handle
	if valid.HasDestination() {
		handle, err = forwarder.cache.GetOrCreate(valid.Subsystem(), valid.Category())
		if err != nil {
			forwarder.logger.Error("log handle creation failed",
				"pid", pid,
				"subsystem", valid.Subsystem(),
				"category", valid.Category(),
				"error", err,
			)
			return err
		}
	} else {
		handle = forwarder.sink.DefaultHandle()
	}

	if forwarder.tracer != nil && forwarder.tracer.HandleIndirectLog(handle, pid, valid.Message()) {
		return nil
	}

	return forwarder.sink.Emit(handle, Entry{
		Severity:   valid.Severity(),
		PID:        pid,
		Message:    valid.Message(),
		Originator: valid.Originator(),
		Public:     true,
	})
}

// HandleCount returns the number of destination handles created for
// this forwarder.
func (forwarder *Forwarder) HandleCount() int {
	return forwarder.cache.Len()
}
