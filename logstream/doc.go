// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logstream forwards log records composed by unprivileged
// content processes into the broker's log sinks.
//
// A content process cannot write to the broker's logs directly. It
// sends each [Record] across a transport connection to a [LogStream]
// endpoint, which hands it to a [Forwarder]. Every record is treated
// as adversarial until [Validate] has produced a [ValidRecord]: the
// message must be non-empty and zero-terminated, the severity must be
// one of the five known codes, and the subsystem and category must be
// either both absent or both present and terminated. A record that
// fails validation is dropped with a protocol violation; the
// connection stays open.
//
// Valid records resolve a destination [Handle]. The default handle
// serves records without a destination; others are created once per
// (subsystem, category) by the connection's [HandleCache] and reused
// for the life of the connection. An optional [Tracer] may consume a
// record before it reaches the sink. Everything else is emitted as an
// [Entry] whose text embeds the origin pid and the message verbatim.
//
// A LogStream is set up once, over either the streaming transport or
// a direct connection, and stopped once:
//
//	Unconfigured -> SetupStreaming / SetupDirect -> Active -> StopListening -> Stopped
//
// StopListening is idempotent, is valid from any state, and waits for
// a record being forwarded to finish before releasing the transport.
package logstream
