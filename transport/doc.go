// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries messages from unprivileged content
// processes to the privileged broker.
//
// Two variants share one receiver model. A [MessageReceiver]
// registers on a connection under a (receiver name, destination)
// pair, and every inbound [Envelope] addressed to that pair is
// dispatched to it. Dispatch is serialized per connection, so a
// receiver sees one message at a time and
// [StreamServerConnection.StopReceivingMessages] waits for an
// in-flight message to finish before it returns.
//
// The streaming variant moves frames through a [StreamBuffer], a
// single-producer/single-consumer ring. The ring lives in a sealed
// memfd when the producer is another process. Two [Semaphore]s
// coordinate the sides: the work queue's wake-up semaphore is
// signaled by the sender when data is available, and the connection's
// client-wait semaphore is signaled by the receiver when space has
// been freed. Across processes both are eventfds ([EventSemaphore]);
// in-process they are channels ([ChannelSemaphore]). A [WorkQueue]
// owns the goroutine that drains its connections, so the orchestration
// goroutine never runs receiver code.
//
// The direct-call variant ([Connection]) sends the same envelopes as
// length-prefixed frames over an ordinary byte stream (a Unix socket)
// and dispatches them from the connection's read loop.
//
// Everything read from a peer is untrusted. Frame lengths are bounded
// by [MaxPayloadLength]. Ring indices are kept privately by each side
// and only published through shared memory, and payloads are copied
// out of shared memory before they are decoded. Malformed input is a
// protocol violation (wrapping [ErrProtocolViolation]). Violations are
// counted per connection and reported to an optional [ViolationFunc];
// the connection stays open unless the stream itself is unrecoverable.
package transport
