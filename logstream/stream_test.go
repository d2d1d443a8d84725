// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/procbridge/lib/testutil"
	"github.com/bureau-foundation/procbridge/transport"
)

// streamingEndpoint sets up a LogStream over an in-process stream and
// returns a client for it.
func streamingEndpoint(t *testing.T, sink Sink, pid int32, options ...ForwarderOption) (*LogStream, *Client) {
	t.Helper()
	sender, handle, err := transport.NewStreamConnectionPair(4096, 5*time.Second)
	if err != nil {
		t.Fatalf("NewStreamConnectionPair() error: %v", err)
	}
	queue := transport.NewWorkQueue("log-stream-test", transport.NewChannelSemaphore(), nil)
	t.Cleanup(queue.Stop)

	stream := New(pid, 11, NewForwarder(sink, options...), nil)
	wakeUp, clientWait, err := stream.SetupStreaming(handle, queue)
	if err != nil {
		t.Fatalf("SetupStreaming() error: %v", err)
	}
	t.Cleanup(stream.StopListening)
	sender.SetSemaphores(wakeUp, clientWait)
	return stream, NewClient(sender, stream.Identifier())
}

func TestLogStream_StreamingDefaultDestination(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	stream, client := streamingEndpoint(t, sink, 4321)
	if stream.State() != StateActive {
		t.Fatalf("State() = %v, want active", stream.State())
	}

	record := Record{Message: []byte("hello\x00"), Severity: uint8(SeverityInfo)}
	if err := client.Log(record); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	emitted := testutil.RequireReceive(t, sink.emitted, 5*time.Second, "default emission")
	if emitted.handle != Handle(sink.defaultHandle) {
		t.Errorf("emitted to %v, want default handle", emitted.handle)
	}
	if got, want := emitted.entry.Text(), "CP[PID=4321] hello"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestLogStream_StreamingNamedDestinationTwice(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	stream, client := streamingEndpoint(t, sink, 77)

	record := Record{
		Subsystem: []byte("com.example\x00"),
		Category:  []byte("net\x00"),
		Message:   []byte("x\x00"),
		Severity:  uint8(SeverityError),
	}
	for range 2 {
		if err := client.Log(record); err != nil {
			t.Fatalf("Log() error: %v", err)
		}
	}
	for range 2 {
		emitted := testutil.RequireReceive(t, sink.emitted, 5*time.Second, "named emission")
		if emitted.entry.Severity != SeverityError || emitted.entry.Message != "x" {
			t.Errorf("entry = %+v", emitted.entry)
		}
	}
	if got := sink.creations(); got != 1 {
		t.Errorf("handle creations = %d, want 1", got)
	}
	if got := stream.forwarder.HandleCount(); got != 1 {
		t.Errorf("HandleCount() = %d, want 1", got)
	}
}

func TestLogStream_ViolationsKeepChannelOpen(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	stream, client := streamingEndpoint(t, sink, 5)

	bad := []Record{
		{Severity: uint8(SeverityInfo)},
		{Message: []byte("no terminator"), Severity: uint8(SeverityInfo)},
		{Message: []byte("x\x00"), Severity: 0x20},
	}
	for _, record := range bad {
		if err := client.Log(record); err != nil {
			t.Fatalf("Log() error: %v", err)
		}
	}
	if err := client.Log(NewRecord("", "", "still open", SeverityDefault)); err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	emitted := testutil.RequireReceive(t, sink.emitted, 5*time.Second, "emission after violations")
	if emitted.entry.Message != "still open" {
		t.Errorf("first emission = %q, want the valid record", emitted.entry.Message)
	}
	if got := stream.stream.Violations(); got != uint64(len(bad)) {
		t.Errorf("Violations() = %d, want %d", got, len(bad))
	}
	if sink.creations() != 0 {
		t.Errorf("rejected records created %d handles", sink.creations())
	}
}

func TestLogStream_UnknownMessageIsViolation(t *testing.T) {
	t.Parallel()

	stream := New(1, 1, NewForwarder(newFakeSink()), nil)
	err := stream.ReceiveMessage(transport.Message{Name: "Unexpected"})
	if !errors.Is(err, transport.ErrProtocolViolation) {
		t.Errorf("ReceiveMessage() error = %v, want a protocol violation", err)
	}
	err = stream.ReceiveMessage(transport.Message{Name: MessageName, Body: []byte{0x01}})
	if !errors.Is(err, transport.ErrProtocolViolation) {
		t.Errorf("ReceiveMessage() with undecodable body = %v, want a protocol violation", err)
	}
}

func TestLogStream_Direct(t *testing.T) {
	t.Parallel()

	serverSide, clientSide := net.Pipe()
	connection := transport.NewConnection(serverSide)
	defer connection.Close()
	sender := transport.NewConnection(clientSide)
	defer sender.Close()

	sink := newFakeSink()
	stream := New(99, 3, NewForwarder(sink), nil)
	if err := stream.SetupDirect(connection); err != nil {
		t.Fatalf("SetupDirect() error: %v", err)
	}
	defer stream.StopListening()
	go connection.Serve(context.Background())

	client := NewClient(sender, 3)
	if err := client.Log(NewRecord("com.example", "net", "direct", SeverityInfo)); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	emitted := testutil.RequireReceive(t, sink.emitted, 5*time.Second, "direct emission")
	if got, want := emitted.entry.Text(), "CP[PID=99] direct"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestLogStream_SetupOnce(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	stream, _ := streamingEndpoint(t, sink, 1)

	_, handle, err := transport.NewStreamConnectionPair(4096, time.Second)
	if err != nil {
		t.Fatalf("NewStreamConnectionPair() error: %v", err)
	}
	queue := transport.NewWorkQueue("second", transport.NewChannelSemaphore(), nil)
	defer queue.Stop()
	if _, _, err := stream.SetupStreaming(handle, queue); !errors.Is(err, ErrAlreadySetUp) {
		t.Errorf("second SetupStreaming() error = %v, want ErrAlreadySetUp", err)
	}

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()
	if err := stream.SetupDirect(transport.NewConnection(serverSide)); !errors.Is(err, ErrAlreadySetUp) {
		t.Errorf("SetupDirect() on active stream error = %v, want ErrAlreadySetUp", err)
	}

	stream.StopListening()
	if err := stream.SetupDirect(transport.NewConnection(serverSide)); !errors.Is(err, ErrStopped) {
		t.Errorf("SetupDirect() after StopListening error = %v, want ErrStopped", err)
	}
}

func TestLogStream_StopListeningTwice(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	stream, client := streamingEndpoint(t, sink, 8)

	if err := client.Log(NewRecord("", "", "before", SeverityInfo)); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	testutil.RequireReceive(t, sink.emitted, 5*time.Second, "emission before teardown")

	stream.StopListening()
	stream.StopListening()
	if stream.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", stream.State())
	}

	if err := client.Log(NewRecord("", "", "after", SeverityInfo)); err != nil {
		t.Fatalf("Log() after teardown error: %v", err)
	}
	select {
	case emitted := <-sink.emitted:
		t.Errorf("emission %q after StopListening", emitted.entry.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLogStream_StopListeningBeforeSetup(t *testing.T) {
	t.Parallel()

	stream := New(1, 1, NewForwarder(newFakeSink()), nil)
	stream.StopListening()
	stream.StopListening()
	if stream.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", stream.State())
	}
	_, handle, err := transport.NewStreamConnectionPair(4096, time.Second)
	if err != nil {
		t.Fatalf("NewStreamConnectionPair() error: %v", err)
	}
	queue := transport.NewWorkQueue("unused", transport.NewChannelSemaphore(), nil)
	defer queue.Stop()
	if _, _, err := stream.SetupStreaming(handle, queue); !errors.Is(err, ErrStopped) {
		t.Errorf("SetupStreaming() after StopListening error = %v, want ErrStopped", err)
	}
}
