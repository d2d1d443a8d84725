// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/procbridge/lib/testutil"
)

func serveConnection(t *testing.T, connection *Connection) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- connection.Serve(context.Background()) }()
	return done
}

func TestConnection_SendAndReceive(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	server := NewConnection(serverSide, WithLabel("test"))
	client := NewConnection(clientSide)
	defer client.Close()

	receiver := newRecordingReceiver()
	if err := server.StartReceivingMessages(receiver, "LogStream", 5); err != nil {
		t.Fatalf("StartReceivingMessages() error: %v", err)
	}
	done := serveConnection(t, server)

	if err := client.Send("LogStream", 5, "LogOnBehalfOfContent", testBody{Text: "direct"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	message := testutil.RequireReceive(t, receiver.messages, 5*time.Second, "direct delivery")
	if got := decodeText(t, message); got != "direct" {
		t.Errorf("text = %q, want %q", got, "direct")
	}

	client.Close()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve returns on peer close"); err != nil {
		t.Errorf("Serve() = %v, want nil on clean close", err)
	}
}

func TestConnection_MalformedEnvelopeIsRecoverable(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	server := NewConnection(serverSide)
	defer server.Close()
	client := NewConnection(clientSide)
	defer client.Close()

	receiver := newRecordingReceiver()
	if err := server.StartReceivingMessages(receiver, "LogStream", 1); err != nil {
		t.Fatalf("StartReceivingMessages() error: %v", err)
	}
	serveConnection(t, server)

	if err := WritePayload(clientSide, []byte{0x01}); err != nil {
		t.Fatalf("WritePayload() error: %v", err)
	}
	if err := client.Send("LogStream", 1, "Log", testBody{Text: "after"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	message := testutil.RequireReceive(t, receiver.messages, 5*time.Second, "message after violation")
	if got := decodeText(t, message); got != "after" {
		t.Errorf("text = %q, want %q", got, "after")
	}
	if got := server.Violations(); got != 1 {
		t.Errorf("Violations() = %d, want 1", got)
	}
}

func TestConnection_ViolationFuncMayStopReceiving(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	var server *Connection
	stopped := make(chan error, 1)
	server = NewConnection(serverSide, WithViolationFunc(func(err error) {
		// Dispatch must not hold its lock here, or this would hang.
		server.StopReceivingMessages("LogStream", 1)
		stopped <- err
	}))
	defer server.Close()
	client := NewConnection(clientSide)
	defer client.Close()

	receiver := newRecordingReceiver()
	receiver.err = fmt.Errorf("%w: bad record", ErrProtocolViolation)
	if err := server.StartReceivingMessages(receiver, "LogStream", 1); err != nil {
		t.Fatalf("StartReceivingMessages() error: %v", err)
	}
	serveConnection(t, server)

	if err := client.Send("LogStream", 1, "Log", testBody{Text: "bad"}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	testutil.RequireReceive(t, receiver.messages, 5*time.Second, "message delivered")
	err := testutil.RequireReceive(t, stopped, 5*time.Second, "violation hook returns")
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("hook error = %v, want ErrProtocolViolation", err)
	}
	if got := server.Violations(); got != 1 {
		t.Errorf("Violations() = %d, want 1", got)
	}

	// The hook's StopReceivingMessages took effect, so the key is free.
	if err := server.StartReceivingMessages(receiver, "LogStream", 1); err != nil {
		t.Errorf("re-registering after the hook stopped the receiver: %v", err)
	}
}

func TestConnection_OversizedFrameEndsServe(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	server := NewConnection(serverSide)
	defer clientSide.Close()
	done := serveConnection(t, server)

	go func() {
		var header [frameHeaderLength]byte
		binary.BigEndian.PutUint32(header[:], MaxPayloadLength+1)
		clientSide.Write(header[:])
	}()

	err := testutil.RequireReceive(t, done, 5*time.Second, "Serve returns on oversized frame")
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Serve() = %v, want ErrFrameTooLarge", err)
	}
	if got := server.Violations(); got != 1 {
		t.Errorf("Violations() = %d, want 1", got)
	}
	if err := server.Send("LogStream", 1, "Log", testBody{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after violation close = %v, want ErrClosed", err)
	}
}

func TestConnection_ContextCancelStopsServe(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	server := NewConnection(serverSide)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	cancel()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve returns on cancel"); err != nil {
		t.Errorf("Serve() = %v, want nil after cancel", err)
	}
}
