// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/procbridge/lib/clock"
	"github.com/bureau-foundation/procbridge/logstream"
)

const signpostPrefix = "[signpost] "

// SignpostKind is the kind of a signpost marker.
type SignpostKind string

const (
	SignpostBegin SignpostKind = "begin"
	SignpostEnd   SignpostKind = "end"
	SignpostPoint SignpostKind = "event"
)

// SignpostEvent is one recorded marker. Duration is set on an end
// marker that matched an earlier begin from the same pid with the same
// name and id.
type SignpostEvent struct {
	Time      time.Time     `json:"time"`
	PID       int32         `json:"pid"`
	Kind      SignpostKind  `json:"kind"`
	Name      string        `json:"name"`
	ID        uint64        `json:"id,omitempty"`
	Subsystem string        `json:"subsystem,omitempty"`
	Category  string        `json:"category,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

type intervalKey struct {
	pid  int32
	name string
	id   uint64
}

// SignpostTracer is a logstream.Tracer that turns signpost messages
// into timeline events. It keeps at most maxEvents events and at most
// maxEvents open intervals; markers beyond that are consumed and
// counted as dropped.
type SignpostTracer struct {
	maxEvents int
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	events  []SignpostEvent
	open    map[intervalKey]time.Time
	dropped uint64
}

// SignpostOption configures a SignpostTracer.
type SignpostOption func(*SignpostTracer)

// WithClock sets the time source for event timestamps.
func WithClock(c clock.Clock) SignpostOption {
	return func(tracer *SignpostTracer) { tracer.clock = c }
}

// WithSignpostLogger sets the tracer's logger.
func WithSignpostLogger(logger *slog.Logger) SignpostOption {
	return func(tracer *SignpostTracer) { tracer.logger = logger }
}

// NewSignpostTracer creates a tracer bounded to maxEvents.
func NewSignpostTracer(maxEvents int, options ...SignpostOption) *SignpostTracer {
	tracer := &SignpostTracer{
		maxEvents: maxEvents,
		clock:     clock.Real(),
		logger:    slog.Default(),
		open:      make(map[intervalKey]time.Time),
	}
	for _, option := range options {
		option(tracer)
	}
	return tracer
}

// parseSignpost parses "[signpost] <kind> <name> [#id]". Anything
// else is not a signpost.
func parseSignpost(message string) (kind SignpostKind, name string, id uint64, ok bool) {
	rest, found := strings.CutPrefix(message, signpostPrefix)
	if !found {
		return "", "", 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) < 2 || len(fields) > 3 {
		return "", "", 0, false
	}
	kind = SignpostKind(fields[0])
	switch kind {
	case SignpostBegin, SignpostEnd, SignpostPoint:
	default:
		return "", "", 0, false
	}
	name = fields[1]
	if len(fields) == 3 {
		digits, hasHash := strings.CutPrefix(fields[2], "#")
		if !hasHash {
			return "", "", 0, false
		}
		parsed, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return "", "", 0, false
		}
		id = parsed
	}
	return kind, name, id, true
}

// HandleIndirectLog implements logstream.Tracer. Messages that are not
// well-formed signposts are left for the sink.
func (tracer *SignpostTracer) HandleIndirectLog(handle logstream.Handle, pid int32, message string) bool {
	kind, name, id, ok := parseSignpost(message)
	if !ok {
		return false
	}

	now := tracer.clock.Now()
	event := SignpostEvent{
		Time:      now,
		PID:       pid,
		Kind:      kind,
		Name:      name,
		ID:        id,
		Subsystem: handle.Subsystem(),
		Category:  handle.Category(),
	}
	key := intervalKey{pid: pid, name: name, id: id}

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	switch kind {
	case SignpostBegin:
		if len(tracer.open) < tracer.maxEvents {
			tracer.open[key] = now
		}
	case SignpostEnd:
		if began, found := tracer.open[key]; found {
			event.Duration = now.Sub(began)
			delete(tracer.open, key)
		}
	}
	if len(tracer.events) >= tracer.maxEvents {
		tracer.dropped++
		if tracer.dropped == 1 {
			tracer.logger.Warn("signpost event limit reached, dropping further events", "max_events", tracer.maxEvents)
		}
		return true
	}
	tracer.events = append(tracer.events, event)
	return true
}

// Events returns a copy of the recorded events in arrival order.
func (tracer *SignpostTracer) Events() []SignpostEvent {
	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	events := make([]SignpostEvent, len(tracer.events))
	copy(events, tracer.events)
	return events
}

// Dropped returns the number of events discarded at the limit.
func (tracer *SignpostTracer) Dropped() uint64 {
	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	return tracer.dropped
}

// WriteJSONLines writes every recorded event to w as one JSON object
// per line.
func (tracer *SignpostTracer) WriteJSONLines(w io.Writer) error {
	encoder := json.NewEncoder(w)
	for _, event := range tracer.Events() {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("writing signpost event: %w", err)
		}
	}
	return nil
}
