// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the privileged side of procbridge. It accepts
// content-process connections on a Unix socket, tracks which processes
// host which pages, keeps every hosting process alive while its page
// is open, and forwards each process's log records to the configured
// sinks.
//
// A connection starts with one [Hello] frame. A primary process opens
// a page; any other process joins an open page as the host of a
// site-isolated sub-frame. The broker answers with a [Welcome] frame
// naming the process identifier and the log destination, then the
// connection carries log records in one of two ways:
//
//   - direct: envelope frames on the socket itself, served by a
//     [transport.Connection];
//   - streaming: the Hello carries a sealed memfd ring, the Welcome
//     carries the wake-up and client-wait eventfds, and records travel
//     through shared memory while the socket only signals liveness.
//
// All page and keep-alive bookkeeping runs on one orchestration
// goroutine. Connection goroutines submit joins and leaves to it and
// wait for the result. On disconnect the log stream is drained and
// stopped before the topology changes.
//
// [Client] is the content-process side of the handshake.
package broker
