// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bureau-foundation/procbridge/transport"
)

// TestingCategory is the category whose records are counted by a
// Forwarder's testing counter.
const TestingCategory = "Testing"

var (
	ErrEmptyMessage         = fmt.Errorf("%w: empty log message", transport.ErrProtocolViolation)
	ErrUnterminatedMessage  = fmt.Errorf("%w: log message is not zero-terminated", transport.ErrProtocolViolation)
	ErrInvalidSeverity      = fmt.Errorf("%w: invalid log severity", transport.ErrProtocolViolation)
	ErrMalformedDestination = fmt.Errorf("%w: malformed log destination", transport.ErrProtocolViolation)
)

// Record is a log record as it crosses the process boundary. Every
// byte sequence is C-string shaped: the sender includes the trailing
// zero byte. Nothing in a Record may be used before Validate accepts
// it.
type Record struct {
	Subsystem  []byte `cbor:"subsystem"`
	Category   []byte `cbor:"category"`
	Message    []byte `cbor:"message"`
	Originator []byte `cbor:"originator"`
	Severity   uint8  `cbor:"severity"`
}

// NewRecord builds a well-formed record from Go strings, appending the
// zero terminators. Empty subsystem or category strings stay empty.
func NewRecord(subsystem, category, message string, severity Severity) Record {
	return Record{
		Subsystem: terminate(subsystem),
		Category:  terminate(category),
		Message:   append([]byte(message), 0),
		Severity:  uint8(severity),
	}
}

// WithOriginator returns a copy of record labeled with originator.
func (record Record) WithOriginator(originator string) Record {
	record.Originator = terminate(originator)
	return record
}

func terminate(value string) []byte {
	if value == "" {
		return nil
	}
	return append([]byte(value), 0)
}

// ValidRecord is a Record that passed Validate. Its fields are
// decoded strings and can only be obtained through Validate.
type ValidRecord struct {
	subsystem  string
	category   string
	message    string
	originator string
	severity   Severity
}

func (record ValidRecord) Subsystem() string  { return record.subsystem }
func (record ValidRecord) Category() string   { return record.category }
func (record ValidRecord) Message() string    { return record.message }
func (record ValidRecord) Originator() string { return record.originator }
func (record ValidRecord) Severity() Severity { return record.severity }

// HasDestination reports whether the record names a (subsystem,
// category) destination. Records without one go to the default handle.
func (record ValidRecord) HasDestination() bool {
	return record.subsystem != ""
}

// Validate checks a record received from a content process. All
// returned errors wrap transport.ErrProtocolViolation.
func Validate(record Record) (ValidRecord, error) {
	if len(record.Message) == 0 {
		return ValidRecord{}, ErrEmptyMessage
	}
	if record.Message[len(record.Message)-1] != 0 {
		return ValidRecord{}, ErrUnterminatedMessage
	}
	severity := Severity(record.Severity)
	if !severity.Valid() {
		return ValidRecord{}, fmt.Errorf("%w 0x%02x", ErrInvalidSeverity, uint8(record.Severity))
	}

	valid := ValidRecord{
		message:  cString(record.Message),
		severity: severity,
	}

	switch {
	case len(record.Subsystem) == 0 && len(record.Category) == 0:
	case len(record.Subsystem) == 0 || len(record.Category) == 0:
		return ValidRecord{}, fmt.Errorf("%w: subsystem and category must both be present or both absent", ErrMalformedDestination)
	default:
		subsystem, ok := terminatedString(record.Subsystem)
		if !ok {
			return ValidRecord{}, fmt.Errorf("%w: subsystem is not a non-empty zero-terminated string", ErrMalformedDestination)
		}
		category, ok := terminatedString(record.Category)
		if !ok {
			return ValidRecord{}, fmt.Errorf("%w: category is not a non-empty zero-terminated string", ErrMalformedDestination)
		}
		valid.subsystem = subsystem
		valid.category = category
	}

	if len(record.Originator) > 0 {
		originator, ok := terminatedString(record.Originator)
		if !ok {
			return ValidRecord{}, fmt.Errorf("%w: originator is not a non-empty zero-terminated string", ErrMalformedDestination)
		}
		valid.originator = originator
	}
	return valid, nil
}

// terminatedString decodes a zero-terminated byte sequence whose text
// is non-empty.
func terminatedString(value []byte) (string, bool) {
	if len(value) == 0 || value[len(value)-1] != 0 {
		return "", false
	}
	text := cString(value)
	return text, text != ""
}

// cString returns the text before the first zero byte, with invalid
// UTF-8 replaced so downstream sinks never see raw garbage.
func cString(value []byte) string {
	if end := bytes.IndexByte(value, 0); end >= 0 {
		value = value[:end]
	}
	return strings.ToValidUTF8(string(value), "\uFFFD")
}
