// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"errors"
	"sync"
)

type fakeHandle struct {
	subsystem string
	category  string
}

func (handle *fakeHandle) Subsystem() string { return handle.subsystem }
func (handle *fakeHandle) Category() string  { return handle.category }

type emission struct {
	handle Handle
	entry  Entry
}

// fakeSink records handle creations and emissions. It is safe for use
// from a transport delivery goroutine.
type fakeSink struct {
	defaultHandle *fakeHandle
	createErr     error
	emitted       chan emission

	mu      sync.Mutex
	created []handleKey
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		defaultHandle: &fakeHandle{},
		emitted:       make(chan emission, 64),
	}
}

func (sink *fakeSink) DefaultHandle() Handle { return sink.defaultHandle }

func (sink *fakeSink) CreateHandle(subsystem, category string) (Handle, error) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.createErr != nil {
		return nil, sink.createErr
	}
	sink.created = append(sink.created, handleKey{subsystem: subsystem, category: category})
	return &fakeHandle{subsystem: subsystem, category: category}, nil
}

func (sink *fakeSink) Emit(handle Handle, entry Entry) error {
	sink.emitted <- emission{handle: handle, entry: entry}
	return nil
}

func (sink *fakeSink) creations() int {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return len(sink.created)
}

func (sink *fakeSink) emissionCount() int {
	return len(sink.emitted)
}

var errHandleExhausted = errors.New("handle table exhausted")

// fakeTracer consumes messages with a fixed prefix.
type fakeTracer struct {
	prefix string
	seen   []string
}

func (tracer *fakeTracer) HandleIndirectLog(handle Handle, pid int32, message string) bool {
	tracer.seen = append(tracer.seen, message)
	return len(message) >= len(tracer.prefix) && message[:len(tracer.prefix)] == tracer.prefix
}
