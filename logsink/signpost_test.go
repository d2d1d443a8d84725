// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/bureau-foundation/procbridge/lib/clock"
	"github.com/bureau-foundation/procbridge/logstream"
)

func TestParseSignpost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		ok      bool
		kind    SignpostKind
		name    string
		id      uint64
	}{
		{"[signpost] begin load", true, SignpostBegin, "load", 0},
		{"[signpost] end load #42", true, SignpostEnd, "load", 42},
		{"[signpost] event paint", true, SignpostPoint, "paint", 0},
		{"[signpost] begin", false, "", "", 0},
		{"[signpost] pause load", false, "", "", 0},
		{"[signpost] begin load 42", false, "", "", 0},
		{"[signpost] begin load #x", false, "", "", 0},
		{"[signpost] begin load #1 extra", false, "", "", 0},
		{"signpost begin load", false, "", "", 0},
	}
	for _, test := range tests {
		kind, name, id, ok := parseSignpost(test.message)
		if ok != test.ok || kind != test.kind || name != test.name || id != test.id {
			t.Errorf("parseSignpost(%q) = (%q, %q, %d, %v), want (%q, %q, %d, %v)",
				test.message, kind, name, id, ok, test.kind, test.name, test.id, test.ok)
		}
	}
}

func TestSignpostTracer_Intervals(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	tracer := NewSignpostTracer(16, WithClock(fake))
	handle := &Handle{subsystem: "com.example", category: "perf"}

	if !tracer.HandleIndirectLog(handle, 10, "[signpost] begin load #1") {
		t.Fatal("begin marker not consumed")
	}
	fake.Advance(25 * time.Millisecond)
	if tracer.HandleIndirectLog(handle, 10, "ordinary message") {
		t.Fatal("ordinary message consumed")
	}
	// Same name and id from another pid is a separate interval.
	if !tracer.HandleIndirectLog(handle, 11, "[signpost] end load #1") {
		t.Fatal("end marker not consumed")
	}
	if !tracer.HandleIndirectLog(handle, 10, "[signpost] end load #1") {
		t.Fatal("end marker not consumed")
	}

	events := tracer.Events()
	if len(events) != 3 {
		t.Fatalf("Events() has %d events, want 3", len(events))
	}
	if events[1].Duration != 0 {
		t.Errorf("unmatched end has duration %v", events[1].Duration)
	}
	if events[2].Duration != 25*time.Millisecond {
		t.Errorf("matched end duration = %v, want 25ms", events[2].Duration)
	}
	if events[0].Subsystem != "com.example" || events[0].Category != "perf" || events[0].PID != 10 {
		t.Errorf("begin event = %+v", events[0])
	}
}

func TestSignpostTracer_Bounded(t *testing.T) {
	t.Parallel()

	tracer := NewSignpostTracer(2, WithClock(clock.Fake(epoch)))
	handle := &Handle{}
	for range 5 {
		if !tracer.HandleIndirectLog(handle, 1, "[signpost] event tick") {
			t.Fatal("event marker not consumed")
		}
	}
	if got := len(tracer.Events()); got != 2 {
		t.Errorf("Events() has %d events, want 2", got)
	}
	if got := tracer.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestSignpostTracer_WriteJSONLines(t *testing.T) {
	t.Parallel()

	tracer := NewSignpostTracer(8, WithClock(clock.Fake(epoch)))
	tracer.HandleIndirectLog(&Handle{}, 3, "[signpost] event first")
	tracer.HandleIndirectLog(&Handle{}, 3, "[signpost] event second #9")

	var output bytes.Buffer
	if err := tracer.WriteJSONLines(&output); err != nil {
		t.Fatalf("WriteJSONLines() error: %v", err)
	}
	scanner := bufio.NewScanner(&output)
	var decoded []SignpostEvent
	for scanner.Scan() {
		var event SignpostEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("decoding line %q: %v", scanner.Text(), err)
		}
		decoded = append(decoded, event)
	}
	if len(decoded) != 2 || decoded[0].Name != "first" || decoded[1].ID != 9 {
		t.Errorf("decoded events = %+v", decoded)
	}
}

func TestSignpostTracer_WithForwarder(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	sink := NewConsoleSink(&output, ColorNever, 0)
	tracer := NewSignpostTracer(8, WithClock(clock.Fake(epoch)))
	forwarder := logstream.NewForwarder(sink, logstream.WithTracer(tracer))

	for _, message := range []string{"[signpost] begin load", "visible", "[signpost] end load"} {
		if err := forwarder.Forward(logstream.NewRecord("com.example", "perf", message, logstream.SeverityInfo), 4); err != nil {
			t.Fatalf("Forward(%q) error: %v", message, err)
		}
	}
	if got, want := output.String(), "INFO    com.example/perf CP[PID=4] visible\n"; got != want {
		t.Errorf("console output = %q, want %q", got, want)
	}
	if got := len(tracer.Events()); got != 2 {
		t.Errorf("Events() has %d events, want 2", got)
	}
}
