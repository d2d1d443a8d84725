// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/procbridge/lib/clock"
	"github.com/bureau-foundation/procbridge/logstream"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRegistry_DeduplicatesAndLimits(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(2)
	first, err := registry.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}
	again, err := registry.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() for existing pair error: %v", err)
	}
	if first != again {
		t.Error("CreateHandle() returned a new handle for an existing pair")
	}
	if _, err := registry.CreateHandle("com.example", "disk"); err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}
	if _, err := registry.CreateHandle("com.example", "gpu"); !errors.Is(err, ErrHandleLimit) {
		t.Errorf("CreateHandle() past limit error = %v, want ErrHandleLimit", err)
	}
	// Existing pairs stay available at the limit.
	if _, err := registry.CreateHandle("com.example", "net"); err != nil {
		t.Errorf("CreateHandle() for existing pair at limit error: %v", err)
	}
	if registry.Len() != 2 {
		t.Errorf("Len() = %d, want 2", registry.Len())
	}
	if destinationName(registry.DefaultHandle()) != "default" {
		t.Errorf("default handle name = %q", destinationName(registry.DefaultHandle()))
	}
}

func TestSlogSink(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&output, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger, 0)

	handle, err := sink.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}
	entry := logstream.Entry{
		Severity:   logstream.SeverityFault,
		PID:        31,
		Message:    "link down",
		Originator: "frame-2",
		Public:     true,
	}
	if err := sink.Emit(handle, entry); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("decoding slog output %q: %v", output.String(), err)
	}
	checks := map[string]any{
		"msg":         "CP[PID=31] link down",
		"level":       "ERROR",
		"destination": "com.example/net",
		"severity":    "fault",
		"originator":  "frame-2",
		"pid":         float64(31),
	}
	for key, want := range checks {
		if record[key] != want {
			t.Errorf("%s = %v, want %v", key, record[key], want)
		}
	}
}

func TestSlogSink_Private(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&output, nil)), 0)
	entry := logstream.Entry{Severity: logstream.SeverityInfo, PID: 1, Message: "token=secret"}
	if err := sink.Emit(sink.DefaultHandle(), entry); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if strings.Contains(output.String(), "secret") {
		t.Errorf("private message leaked: %q", output.String())
	}
	if !strings.Contains(output.String(), "<private>") {
		t.Errorf("output %q lacks <private>", output.String())
	}
}

func TestConsoleSink_Plain(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	sink := NewConsoleSink(&output, ColorNever, 0)
	handle, err := sink.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}

	entries := []logstream.Entry{
		{Severity: logstream.SeverityInfo, PID: 7, Message: "hello", Public: true},
		{Severity: logstream.SeverityError, PID: 7, Message: "a\x1b[2Jb", Originator: "frame", Public: true},
	}
	for _, entry := range entries {
		if err := sink.Emit(handle, entry); err != nil {
			t.Fatalf("Emit() error: %v", err)
		}
	}
	if err := sink.Emit(sink.DefaultHandle(), logstream.Entry{PID: 8, Message: "x", Public: true}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	want := "INFO    com.example/net CP[PID=7] hello\n" +
		"ERROR   com.example/net CP[PID=7] a?[2Jb (frame)\n" +
		"DEFAULT default CP[PID=8] x\n"
	if output.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", output.String(), want)
	}
}

func TestConsoleSink_SanitizesDestination(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	forwarder := logstream.NewForwarder(NewConsoleSink(&output, ColorNever, 0))
	record := logstream.NewRecord("evil\x1b]0;owned\x07", "cat\x1b[2J", "hi", logstream.SeverityInfo)
	if err := forwarder.Forward(record, 42); err != nil {
		t.Fatalf("Forward() error: %v", err)
	}

	if want := "INFO    evil?]0;owned?/cat?[2J CP[PID=42] hi\n"; output.String() != want {
		t.Errorf("output = %q, want %q", output.String(), want)
	}
	if strings.ContainsAny(output.String(), "\x1b\x07") {
		t.Errorf("output %q still carries control characters", output.String())
	}
}

func TestSanitizeTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct{ input, want string }{
		{"plain text", "plain text"},
		{"tab\there", "tab?here"},
		{"\x1b[31mred", "?[31mred"},
		{"c1 \u009b control", "c1 ? control"},
		{"unicode ✓", "unicode ✓"},
	}
	for _, test := range tests {
		if got := SanitizeTerminal(test.input); got != test.want {
			t.Errorf("SanitizeTerminal(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestConsoleSink_Color(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	sink := NewConsoleSink(&output, ColorAlways, 0)
	if err := sink.Emit(sink.DefaultHandle(), logstream.Entry{Severity: logstream.SeverityError, PID: 1, Message: "boom", Public: true}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if !strings.Contains(output.String(), "\x1b[") {
		t.Errorf("ColorAlways output has no escape sequences: %q", output.String())
	}
	if !strings.Contains(output.String(), "CP[PID=1] boom") {
		t.Errorf("output %q lacks the entry text", output.String())
	}
}

func TestParseColorMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []ColorMode{ColorAuto, ColorAlways, ColorNever} {
		parsed, err := ParseColorMode(mode.String())
		if err != nil || parsed != mode {
			t.Errorf("ParseColorMode(%q) = (%v, %v)", mode.String(), parsed, err)
		}
	}
	if _, err := ParseColorMode("sometimes"); err == nil {
		t.Error("ParseColorMode(sometimes) succeeded")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(epoch)
	var archive bytes.Buffer
	sink, err := NewArchiveSink(&archive, 0, fake)
	if err != nil {
		t.Fatalf("NewArchiveSink() error: %v", err)
	}
	handle, err := sink.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}

	if err := sink.Emit(handle, logstream.Entry{Severity: logstream.SeverityError, PID: 5, Message: "first", Originator: "frame", Public: true}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	fake.Advance(time.Second)
	if err := sink.Emit(sink.DefaultHandle(), logstream.Entry{Severity: logstream.SeverityInfo, PID: 6, Message: "hidden"}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := sink.Emit(handle, logstream.Entry{Message: "late", Public: true}); err == nil {
		t.Error("Emit() after Close succeeded")
	}

	var entries []ArchiveEntry
	err = ReadArchive(bytes.NewReader(archive.Bytes()), func(entry ArchiveEntry) error {
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadArchive() error: %v", err)
	}
	want := []ArchiveEntry{
		{
			TimeUnixNano: epoch.UnixNano(),
			Subsystem:    "com.example",
			Category:     "net",
			Severity:     uint8(logstream.SeverityError),
			PID:          5,
			Message:      "first",
			Originator:   "frame",
		},
		{
			TimeUnixNano: epoch.Add(time.Second).UnixNano(),
			Severity:     uint8(logstream.SeverityInfo),
			PID:          6,
			Message:      "<private>",
		},
	}
	if len(entries) != len(want) {
		t.Fatalf("read %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	var diagnostic bytes.Buffer
	if err := DiagnoseArchive(bytes.NewReader(archive.Bytes()), &diagnostic); err != nil {
		t.Fatalf("DiagnoseArchive() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(diagnostic.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"first"`) {
		t.Errorf("DiagnoseArchive() output:\n%s", diagnostic.String())
	}
}

func TestReadArchive_VisitErrorStops(t *testing.T) {
	t.Parallel()

	var archive bytes.Buffer
	sink, err := NewArchiveSink(&archive, 0, clock.Fake(epoch))
	if err != nil {
		t.Fatalf("NewArchiveSink() error: %v", err)
	}
	for range 3 {
		if err := sink.Emit(sink.DefaultHandle(), logstream.Entry{Message: "x", Public: true}); err != nil {
			t.Fatalf("Emit() error: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	stop := errors.New("stop")
	visits := 0
	err = ReadArchive(&archive, func(ArchiveEntry) error {
		visits++
		return stop
	})
	if !errors.Is(err, stop) || visits != 1 {
		t.Errorf("ReadArchive() = %v after %d visits, want stop after 1", err, visits)
	}
}

func TestReadArchive_Garbage(t *testing.T) {
	t.Parallel()

	err := ReadArchive(strings.NewReader("not a zstd stream"), func(ArchiveEntry) error { return nil })
	if err == nil {
		t.Error("ReadArchive() of garbage succeeded")
	}
}

type failingSink struct {
	*Registry
	err error
}

func (sink *failingSink) Emit(logstream.Handle, logstream.Entry) error { return sink.err }

func TestMultiSink(t *testing.T) {
	t.Parallel()

	var first, second bytes.Buffer
	failure := errors.New("disk full")
	multi := NewMultiSink(0,
		NewConsoleSink(&first, ColorNever, 0),
		&failingSink{Registry: NewRegistry(0), err: failure},
		NewConsoleSink(&second, ColorNever, 0),
	)
	handle, err := multi.CreateHandle("com.example", "net")
	if err != nil {
		t.Fatalf("CreateHandle() error: %v", err)
	}
	err = multi.Emit(handle, logstream.Entry{Severity: logstream.SeverityInfo, PID: 2, Message: "fan", Public: true})
	if !errors.Is(err, failure) {
		t.Errorf("Emit() error = %v, want %v", err, failure)
	}
	for name, output := range map[string]*bytes.Buffer{"first": &first, "second": &second} {
		if !strings.Contains(output.String(), "com.example/net CP[PID=2] fan") {
			t.Errorf("%s sink output = %q", name, output.String())
		}
	}
}
