// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides procbridge's CBOR encoding configuration.
//
// Every byte that crosses a process boundary in procbridge is CBOR:
// transport envelopes, log record bodies, the broker handshake, and
// the on-disk log archive. This package holds the single pair of
// encoder/decoder modes so all of them agree on the encoding.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// decoder is configured for hostile input: duplicate map keys and
// indefinite-length items are rejected, and nesting depth and
// container sizes are capped well below anything a legitimate peer
// sends. Decoding an envelope from an unprivileged content process
// must never be able to allocate unbounded memory.
//
// For buffer-oriented operations (frames, archive entries):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the broker handshake):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types carry `cbor` struct tags only.
package codec
