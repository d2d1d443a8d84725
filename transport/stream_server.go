// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"sync"
	"sync/atomic"
)

// StreamServerHandle is what the receiving side needs to build a
// StreamServerConnection: the ring the sender writes into and,
// optionally, the semaphore the sender waits on when the ring is
// full. A nil ClientWait gets an in-process ChannelSemaphore.
type StreamServerHandle struct {
	Buffer     *StreamBuffer
	ClientWait Semaphore
}

// StreamServerConnection is the receiving end of a stream. It is
// drained by the WorkQueue it was opened on.
type StreamServerConnection struct {
	buffer     *StreamBuffer
	clientWait Semaphore
	dispatcher dispatcher

	// drainMu is held while the worker reads from buffer, so
	// Invalidate cannot release it mid-read.
	drainMu sync.Mutex
	queue   *WorkQueue
	broken  bool

	invalid        atomic.Bool
	invalidateOnce sync.Once
}

// NewStreamServerConnection takes ownership of the handle's buffer and
// semaphore. They are released by Invalidate.
func NewStreamServerConnection(handle StreamServerHandle, options ...ConnectionOption) (*StreamServerConnection, error) {
	if handle.Buffer == nil {
		return nil, errors.New("transport: stream server handle has no buffer")
	}
	clientWait := handle.ClientWait
	if clientWait == nil {
		clientWait = NewChannelSemaphore()
	}
	connection := &StreamServerConnection{
		buffer:     handle.Buffer,
		clientWait: clientWait,
	}
	connection.dispatcher.init(buildConnectionOptions(options))
	return connection, nil
}

// Open attaches the connection to queue. A connection opens once.
func (connection *StreamServerConnection) Open(queue *WorkQueue) error {
	if connection.invalid.Load() {
		return ErrClosed
	}
	connection.drainMu.Lock()
	if connection.queue != nil {
		connection.drainMu.Unlock()
		return errors.New("transport: stream server connection already open")
	}
	connection.queue = queue
	connection.drainMu.Unlock()
	queue.add(connection)
	return nil
}

// ClientWaitSemaphore returns the semaphore the sender waits on when
// the ring is full.
func (connection *StreamServerConnection) ClientWaitSemaphore() Semaphore {
	return connection.clientWait
}

// StartReceivingMessages routes messages for (name, destination) to
// receiver.
func (connection *StreamServerConnection) StartReceivingMessages(receiver MessageReceiver, name string, destination uint64) error {
	if connection.invalid.Load() {
		return ErrClosed
	}
	return connection.dispatcher.startReceiving(receiver, name, destination)
}

// StopReceivingMessages unregisters (name, destination). If a message
// for it is being delivered, StopReceivingMessages waits for delivery
// to finish; no message reaches the receiver after it returns.
func (connection *StreamServerConnection) StopReceivingMessages(name string, destination uint64) {
	connection.dispatcher.stopReceiving(name, destination)
}

// Violations returns the number of protocol violations seen.
func (connection *StreamServerConnection) Violations() uint64 {
	return connection.dispatcher.violations.Load()
}

// Invalidate detaches the connection from its queue and releases the
// buffer and client-wait semaphore. It waits for a drain in progress.
// Invalidate is idempotent.
func (connection *StreamServerConnection) Invalidate() {
	connection.invalidateOnce.Do(func() {
		connection.invalid.Store(true)

		connection.drainMu.Lock()
		queue := connection.queue
		connection.drainMu.Unlock()
		if queue != nil {
			queue.remove(connection)
		}

		connection.drainMu.Lock()
		defer connection.drainMu.Unlock()
		logger := connection.dispatcher.options.logger
		if err := connection.buffer.Close(); err != nil {
			logger.Warn("closing stream buffer", "error", err)
		}
		if err := connection.clientWait.Close(); err != nil {
			logger.Warn("closing client-wait semaphore", "error", err)
		}
	})
}

// Drain delivers every frame the producer has already written,
// serialized with the work queue. Call it after the producer has gone
// quiet and before StopReceivingMessages to avoid losing its final
// frames.
func (connection *StreamServerConnection) Drain() {
	for connection.drain(drainBatch) {
	}
}

// drain delivers up to limit frames and reports whether more remain.
func (connection *StreamServerConnection) drain(limit int) bool {
	connection.drainMu.Lock()
	defer connection.drainMu.Unlock()
	if connection.invalid.Load() || connection.broken {
		return false
	}

	delivered := 0
	defer func() {
		if delivered > 0 {
			connection.clientWait.Signal()
		}
	}()
	for delivered < limit {
		payload, ok, err := connection.buffer.TryRead()
		if err != nil {
			// The ring can no longer be framed. Stop reading and leave
			// teardown to the owner.
			connection.broken = true
			connection.dispatcher.reportViolation(err)
			return false
		}
		if !ok {
			return false
		}
		delivered++
		connection.dispatcher.dispatchPayload(payload)
	}
	return true
}
