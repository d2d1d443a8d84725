// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import "fmt"

type handleKey struct {
	subsystem string
	category  string
}

// HandleCache memoizes sink handles by (subsystem, category). It never
// evicts. Entries only appear for validated records, so its size is
// bounded by the destinations a process actually logs to.
//
// A HandleCache belongs to one connection and is not safe for
// concurrent use.
type HandleCache struct {
	sink    Sink
	handles map[handleKey]Handle
}

// NewHandleCache creates an empty cache that constructs handles with
// sink.
func NewHandleCache(sink Sink) *HandleCache {
	return &HandleCache{sink: sink, handles: make(map[handleKey]Handle)}
}

// GetOrCreate returns the cached handle for the pair, creating it on
// first use. A failed creation is not cached.
func (cache *HandleCache) GetOrCreate(subsystem, category string) (Handle, error) {
	key := handleKey{subsystem: subsystem, category: category}
	if handle, ok := cache.handles[key]; ok {
		return handle, nil
	}
	handle, err := cache.sink.CreateHandle(subsystem, category)
	if err != nil {
		return nil, fmt.Errorf("creating handle for %s/%s: %w", subsystem, category, err)
	}
	cache.handles[key] = handle
	return handle, nil
}

// Len returns the number of cached handles.
func (cache *HandleCache) Len() int {
	return len(cache.handles)
}
