// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/procbridge/logstream"
)

// ErrHandleLimit is returned when a new destination would exceed the
// registry's handle limit.
var ErrHandleLimit = errors.New("logsink: handle limit reached")

// DefaultMaxHandles is the handle limit used when none is configured.
const DefaultMaxHandles = 1024

// Handle is a registered (subsystem, category) destination. The
// default destination has both fields empty.
type Handle struct {
	subsystem string
	category  string
}

func (handle *Handle) Subsystem() string { return handle.subsystem }
func (handle *Handle) Category() string  { return handle.category }

// destinationName renders a handle as "subsystem/category", or
// "default" for the default destination.
func destinationName(handle logstream.Handle) string {
	if handle == nil || handle.Subsystem() == "" {
		return "default"
	}
	return handle.Subsystem() + "/" + handle.Category()
}

type handleKey struct {
	subsystem string
	category  string
}

// Registry owns the handles of one sink.
type Registry struct {
	maxHandles    int
	defaultHandle *Handle

	mu      sync.Mutex
	handles map[handleKey]*Handle
}

// NewRegistry creates a registry that allows at most maxHandles
// distinct destinations. A non-positive maxHandles uses
// DefaultMaxHandles.
func NewRegistry(maxHandles int) *Registry {
	if maxHandles <= 0 {
		maxHandles = DefaultMaxHandles
	}
	return &Registry{
		maxHandles:    maxHandles,
		defaultHandle: &Handle{},
		handles:       make(map[handleKey]*Handle),
	}
}

// DefaultHandle implements part of logstream.Sink.
func (registry *Registry) DefaultHandle() logstream.Handle {
	return registry.defaultHandle
}

// CreateHandle implements part of logstream.Sink. Creating a pair that
// already exists returns the existing handle.
func (registry *Registry) CreateHandle(subsystem, category string) (logstream.Handle, error) {
	key := handleKey{subsystem: subsystem, category: category}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if handle, ok := registry.handles[key]; ok {
		return handle, nil
	}
	if len(registry.handles) >= registry.maxHandles {
		return nil, fmt.Errorf("%w: %d destinations registered", ErrHandleLimit, len(registry.handles))
	}
	handle := &Handle{subsystem: subsystem, category: category}
	registry.handles[key] = handle
	return handle, nil
}

// Len returns the number of registered destinations, excluding the
// default.
func (registry *Registry) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.handles)
}
