// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSendTimeout is returned when the ring stays full for longer than
// the client's send timeout.
var ErrSendTimeout = errors.New("transport: timed out waiting for stream buffer space")

// ErrNotConnected is returned by Send before SetSemaphores.
var ErrNotConnected = errors.New("transport: stream client has no semaphores")

// StreamClientConnection is the sending end of a stream. Send is safe
// for concurrent use; frames are written under one lock, which keeps
// the ring single-producer.
type StreamClientConnection struct {
	buffer  *StreamBuffer
	timeout time.Duration

	mu         sync.Mutex
	wakeUp     Semaphore
	clientWait Semaphore
}

// NewStreamClientConnection wraps the producer side of buffer. Send
// waits at most timeout for space in a full ring.
func NewStreamClientConnection(buffer *StreamBuffer, timeout time.Duration) *StreamClientConnection {
	return &StreamClientConnection{buffer: buffer, timeout: timeout}
}

// SetSemaphores installs the semaphores returned by the receiver's
// stream setup: the work queue's wake-up semaphore and the
// connection's client-wait semaphore.
func (client *StreamClientConnection) SetSemaphores(wakeUp, clientWait Semaphore) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.wakeUp = wakeUp
	client.clientWait = clientWait
}

// Buffer returns the ring this client writes into.
func (client *StreamClientConnection) Buffer() *StreamBuffer {
	return client.buffer
}

// Send encodes body and writes it to the ring addressed to
// (receiver, destination). When the ring is full Send wakes the
// receiver and waits for space.
func (client *StreamClientConnection) Send(receiver string, destination uint64, name string, body any) error {
	envelope, err := NewEnvelope(receiver, destination, name, body)
	if err != nil {
		return err
	}
	payload, err := encodeEnvelope(envelope)
	if err != nil {
		return err
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.wakeUp == nil || client.clientWait == nil {
		return ErrNotConnected
	}
	for {
		written, err := client.buffer.TryWrite(payload)
		if err != nil {
			return err
		}
		if written {
			return client.wakeUp.Signal()
		}
		if err := client.wakeUp.Signal(); err != nil {
			return fmt.Errorf("waking receiver: %w", err)
		}
		signaled, err := client.clientWait.Wait(client.timeout)
		if err != nil {
			return fmt.Errorf("waiting for buffer space: %w", err)
		}
		if !signaled {
			return ErrSendTimeout
		}
	}
}

// NewStreamConnectionPair creates an in-process ring of the given
// capacity. The client is not usable until SetSemaphores is called
// with the semaphores the receiver hands back.
func NewStreamConnectionPair(capacity int, timeout time.Duration) (*StreamClientConnection, StreamServerHandle, error) {
	buffer, err := NewStreamBuffer(capacity)
	if err != nil {
		return nil, StreamServerHandle{}, err
	}
	return NewStreamClientConnection(buffer, timeout), StreamServerHandle{Buffer: buffer}, nil
}
