// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Connection is the direct-call variant: envelopes framed over a byte
// stream and dispatched from the read loop in Serve.
type Connection struct {
	stream     io.ReadWriteCloser
	dispatcher dispatcher

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps stream. The connection owns stream and closes it
// on Close.
func NewConnection(stream io.ReadWriteCloser, options ...ConnectionOption) *Connection {
	connection := &Connection{stream: stream}
	connection.dispatcher.init(buildConnectionOptions(options))
	return connection
}

// Serve reads and dispatches envelopes until the peer disconnects, the
// connection is closed, ctx is cancelled, or the stream can no longer
// be framed. A clean end of stream returns nil.
func (connection *Connection) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()

	for {
		payload, err := ReadPayload(connection.stream)
		if err != nil {
			if connection.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, ErrFrameTooLarge) {
				connection.dispatcher.reportViolation(err)
				connection.Close()
			}
			return err
		}
		connection.dispatcher.dispatchPayload(payload)
	}
}

// Send encodes body and writes it as one frame.
func (connection *Connection) Send(receiver string, destination uint64, name string, body any) error {
	if connection.closed.Load() {
		return ErrClosed
	}
	envelope, err := NewEnvelope(receiver, destination, name, body)
	if err != nil {
		return err
	}
	connection.writeMu.Lock()
	defer connection.writeMu.Unlock()
	if err := WriteEnvelope(connection.stream, envelope); err != nil {
		return fmt.Errorf("sending %s.%s: %w", receiver, name, err)
	}
	return nil
}

// StartReceivingMessages routes messages for (name, destination) to
// receiver.
func (connection *Connection) StartReceivingMessages(receiver MessageReceiver, name string, destination uint64) error {
	if connection.closed.Load() {
		return ErrClosed
	}
	return connection.dispatcher.startReceiving(receiver, name, destination)
}

// StopReceivingMessages unregisters (name, destination), waiting for
// an in-flight delivery to it.
func (connection *Connection) StopReceivingMessages(name string, destination uint64) {
	connection.dispatcher.stopReceiving(name, destination)
}

// Violations returns the number of protocol violations seen.
func (connection *Connection) Violations() uint64 {
	return connection.dispatcher.violations.Load()
}

// Close closes the underlying stream. Close is idempotent.
func (connection *Connection) Close() error {
	connection.closeOnce.Do(func() {
		connection.closed.Store(true)
		connection.closeErr = connection.stream.Close()
	})
	return connection.closeErr
}
