// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"fmt"
	"log/slog"
	"strings"
)

// Severity is the wire severity code of a record. The values match the
// os_log type codes content processes already use.
type Severity uint8

const (
	SeverityDefault Severity = 0x00
	SeverityInfo    Severity = 0x01
	SeverityDebug   Severity = 0x02
	SeverityError   Severity = 0x10
	SeverityFault   Severity = 0x11
)

// Valid reports whether s is one of the known severity codes.
func (s Severity) Valid() bool {
	switch s {
	case SeverityDefault, SeverityInfo, SeverityDebug, SeverityError, SeverityFault:
		return true
	}
	return false
}

func (s Severity) String() string {
	switch s {
	case SeverityDefault:
		return "default"
	case SeverityInfo:
		return "info"
	case SeverityDebug:
		return "debug"
	case SeverityError:
		return "error"
	case SeverityFault:
		return "fault"
	default:
		return fmt.Sprintf("severity(0x%02x)", uint8(s))
	}
}

// Level maps s onto a slog level. Default records are ordinary
// informational output; faults are errors with no higher slog level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityError, SeverityFault:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseSeverity parses a severity name as printed by String.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(name) {
	case "default":
		return SeverityDefault, nil
	case "info":
		return SeverityInfo, nil
	case "debug":
		return SeverityDebug, nil
	case "error":
		return SeverityError, nil
	case "fault":
		return SeverityFault, nil
	default:
		return 0, fmt.Errorf("unknown severity %q (expected default, info, debug, error, or fault)", name)
	}
}
