// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logsink implements the broker's log outputs.
//
// Every sink satisfies [logstream.Sink] and is safe for concurrent
// use, since each content connection's delivery goroutine emits into
// the same sink. Handle construction goes through a [Registry] that
// deduplicates (subsystem, category) pairs across connections and
// enforces a limit on distinct destinations; exceeding it returns
// [ErrHandleLimit], which the forwarder treats as resource exhaustion
// for that record only.
//
// [SlogSink] writes through log/slog. [ConsoleSink] prints styled
// lines with lipgloss, with the color profile chosen explicitly so
// piped output stays plain. [ArchiveSink] appends CBOR entries to a
// zstd stream that [ReadArchive] reads back. [MultiSink] fans one
// record out to several sinks.
//
// [SignpostTracer] is a [logstream.Tracer] that consumes messages of
// the form "[signpost] begin|end|event <name> [#id]" and records them
// as timeline events instead of log lines.
//
// Entries that are not marked public print "<private>" in place of
// their message in every sink.
package logsink
