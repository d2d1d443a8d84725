// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/procbridge/transport"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		record    Record
		wantErr   error
		subsystem string
		category  string
		message   string
	}{
		{
			name:    "default destination",
			record:  Record{Message: []byte("hello\x00"), Severity: uint8(SeverityInfo)},
			message: "hello",
		},
		{
			name: "named destination",
			record: Record{
				Subsystem: []byte("com.example\x00"),
				Category:  []byte("net\x00"),
				Message:   []byte("x\x00"),
				Severity:  uint8(SeverityError),
			},
			subsystem: "com.example",
			category:  "net",
			message:   "x",
		},
		{
			name:    "text stops at first terminator",
			record:  Record{Message: []byte("a\x00b\x00"), Severity: uint8(SeverityDefault)},
			message: "a",
		},
		{
			name:    "terminator only",
			record:  Record{Message: []byte{0}, Severity: uint8(SeverityFault)},
			message: "",
		},
		{
			name:    "invalid utf-8 replaced",
			record:  Record{Message: []byte("a\xffb\x00"), Severity: uint8(SeverityDebug)},
			message: "a\uFFFDb",
		},
		{
			name:    "empty message",
			record:  Record{Severity: uint8(SeverityInfo)},
			wantErr: ErrEmptyMessage,
		},
		{
			name:    "unterminated message",
			record:  Record{Message: []byte("hello"), Severity: uint8(SeverityInfo)},
			wantErr: ErrUnterminatedMessage,
		},
		{
			name:    "severity outside the set",
			record:  Record{Message: []byte("x\x00"), Severity: 0x03},
			wantErr: ErrInvalidSeverity,
		},
		{
			name:    "subsystem without category",
			record:  Record{Subsystem: []byte("com.example\x00"), Message: []byte("x\x00")},
			wantErr: ErrMalformedDestination,
		},
		{
			name:    "category without subsystem",
			record:  Record{Category: []byte("net\x00"), Message: []byte("x\x00")},
			wantErr: ErrMalformedDestination,
		},
		{
			name: "unterminated subsystem",
			record: Record{
				Subsystem: []byte("com.example"),
				Category:  []byte("net\x00"),
				Message:   []byte("x\x00"),
			},
			wantErr: ErrMalformedDestination,
		},
		{
			name: "terminator-only category",
			record: Record{
				Subsystem: []byte("com.example\x00"),
				Category:  []byte{0},
				Message:   []byte("x\x00"),
			},
			wantErr: ErrMalformedDestination,
		},
		{
			name:    "unterminated originator",
			record:  Record{Message: []byte("x\x00"), Originator: []byte("frame")},
			wantErr: ErrMalformedDestination,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			valid, err := Validate(test.record)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, test.wantErr)
				}
				if !errors.Is(err, transport.ErrProtocolViolation) {
					t.Errorf("Validate() error %v does not wrap ErrProtocolViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if valid.Subsystem() != test.subsystem || valid.Category() != test.category {
				t.Errorf("destination = (%q, %q), want (%q, %q)",
					valid.Subsystem(), valid.Category(), test.subsystem, test.category)
			}
			if valid.HasDestination() != (test.subsystem != "") {
				t.Errorf("HasDestination() = %v", valid.HasDestination())
			}
			if valid.Message() != test.message {
				t.Errorf("Message() = %q, want %q", valid.Message(), test.message)
			}
		})
	}
}

func TestNewRecord_Validates(t *testing.T) {
	t.Parallel()

	record := NewRecord("com.example", "net", "hello", SeverityError).WithOriginator("frame-3")
	valid, err := Validate(record)
	if err != nil {
		t.Fatalf("Validate(NewRecord()) error: %v", err)
	}
	if valid.Originator() != "frame-3" {
		t.Errorf("Originator() = %q, want %q", valid.Originator(), "frame-3")
	}
	if valid.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", valid.Severity(), SeverityError)
	}

	bare := NewRecord("", "", "hello", SeverityInfo)
	if bare.Subsystem != nil || bare.Category != nil {
		t.Errorf("NewRecord with empty destination = (%q, %q), want nil", bare.Subsystem, bare.Category)
	}
}

func TestSeverity(t *testing.T) {
	t.Parallel()

	for _, severity := range []Severity{SeverityDefault, SeverityInfo, SeverityDebug, SeverityError, SeverityFault} {
		if !severity.Valid() {
			t.Errorf("%v.Valid() = false", severity)
		}
		parsed, err := ParseSeverity(severity.String())
		if err != nil || parsed != severity {
			t.Errorf("ParseSeverity(%q) = (%v, %v)", severity.String(), parsed, err)
		}
	}
	if Severity(0x12).Valid() {
		t.Error("Severity(0x12).Valid() = true")
	}
	if got := Severity(0x12).String(); got != "severity(0x12)" {
		t.Errorf("String() = %q", got)
	}
	_, err := Validate(Record{Message: []byte("x\x00"), Severity: 0x20})
	if err == nil || !strings.HasSuffix(err.Error(), "invalid log severity 0x20") {
		t.Errorf("Validate() error = %v, want suffix %q", err, "invalid log severity 0x20")
	}
	if _, err := ParseSeverity("verbose"); err == nil {
		t.Error("ParseSeverity(verbose) succeeded")
	}
}

func TestEntryText(t *testing.T) {
	t.Parallel()

	entry := Entry{PID: 4242, Message: "100% done %s", Public: true}
	if got, want := entry.Text(), "CP[PID=4242] 100% done %s"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	entry.Public = false
	if got, want := entry.Text(), "CP[PID=4242] <private>"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}
