// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bureau-foundation/procbridge/logstream"
)

// ColorMode selects when ConsoleSink styles its output.
type ColorMode int

const (
	// ColorAuto styles output only when writing to a terminal.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func (mode ColorMode) String() string {
	switch mode {
	case ColorAuto:
		return "auto"
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(mode))
	}
}

// ParseColorMode parses "auto", "always", or "never".
func ParseColorMode(name string) (ColorMode, error) {
	switch name {
	case "auto", "":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return 0, fmt.Errorf("unknown color mode %q (expected auto, always, or never)", name)
	}
}

// ConsoleSink prints one line per entry:
//
//	LEVEL   subsystem/category CP[PID=n] message (originator)
type ConsoleSink struct {
	*Registry

	levelStyles      map[logstream.Severity]lipgloss.Style
	destinationStyle lipgloss.Style

	mu     sync.Mutex
	writer io.Writer
}

// NewConsoleSink creates a sink writing to w.
func NewConsoleSink(w io.Writer, mode ColorMode, maxHandles int) *ConsoleSink {
	profile := termenv.Ascii
	switch mode {
	case ColorAlways:
		profile = termenv.ANSI256
	case ColorAuto:
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			profile = termenv.ANSI256
		}
	}

	// SetColorProfile is required: the renderer otherwise re-detects
	// the profile from the writer and ignores WithProfile.
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)

	return &ConsoleSink{
		Registry: NewRegistry(maxHandles),
		levelStyles: map[logstream.Severity]lipgloss.Style{
			logstream.SeverityDefault: renderer.NewStyle().Foreground(lipgloss.Color("7")),
			logstream.SeverityInfo:    renderer.NewStyle().Foreground(lipgloss.Color("12")),
			logstream.SeverityDebug:   renderer.NewStyle().Foreground(lipgloss.Color("8")),
			logstream.SeverityError:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			logstream.SeverityFault:   renderer.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("1")).Bold(true),
		},
		destinationStyle: renderer.NewStyle().Faint(true),
		writer:           w,
	}
}

// Emit implements logstream.Sink.
func (sink *ConsoleSink) Emit(handle logstream.Handle, entry logstream.Entry) error {
	label := fmt.Sprintf("%-7s", strings.ToUpper(entry.Severity.String()))
	if style, ok := sink.levelStyles[entry.Severity]; ok {
		label = style.Render(label)
	}

	var line strings.Builder
	line.WriteString(label)
	line.WriteByte(' ')
	line.WriteString(sink.destinationStyle.Render(SanitizeTerminal(destinationName(handle))))
	line.WriteByte(' ')
	line.WriteString(SanitizeTerminal(entry.Text()))
	if entry.Originator != "" {
		line.WriteString(" (" + SanitizeTerminal(entry.Originator) + ")")
	}
	line.WriteByte('\n')

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if _, err := io.WriteString(sink.writer, line.String()); err != nil {
		return fmt.Errorf("writing console entry: %w", err)
	}
	return nil
}

// SanitizeTerminal replaces control characters with '?' so a content
// process cannot drive the operator's terminal with escape sequences.
// Every field a content process composed goes through it before
// reaching a terminal.
func SanitizeTerminal(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) {
			return '?'
		}
		return r
	}, text)
}
