// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logstream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/procbridge/transport"
)

const (
	// ReceiverName addresses LogStream endpoints on a connection.
	ReceiverName = "LogStream"

	// MessageName is the only message a LogStream accepts.
	MessageName = "LogOnBehalfOfContent"
)

var (
	// ErrAlreadySetUp is returned by a second setup call.
	ErrAlreadySetUp = errors.New("logstream: already set up")

	// ErrStopped is returned by setup after StopListening.
	ErrStopped = errors.New("logstream: stopped")
)

// State is the lifecycle state of a LogStream.
type State int

const (
	StateUnconfigured State = iota
	StateActive
	StateStopped
)

func (state State) String() string {
	switch state {
	case StateUnconfigured:
		return "unconfigured"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(state))
	}
}

// LogStream is the broker-side endpoint for one content process's log
// records. Setup and StopListening run on the broker's orchestration
// goroutine; ReceiveMessage runs on the transport's delivery goroutine.
type LogStream struct {
	pid        int32
	identifier uint64
	forwarder  *Forwarder
	logger     *slog.Logger

	mu     sync.Mutex
	state  State
	stream *transport.StreamServerConnection
	direct *transport.Connection
}

// New creates an unconfigured endpoint that forwards on behalf of pid
// and listens under identifier.
func New(pid int32, identifier uint64, forwarder *Forwarder, logger *slog.Logger) *LogStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStream{
		pid:        pid,
		identifier: identifier,
		forwarder:  forwarder,
		logger:     logger.With("pid", pid, "log_stream", identifier),
	}
}

// Identifier returns the destination this endpoint listens under.
func (stream *LogStream) Identifier() uint64 {
	return stream.identifier
}

// State returns the current lifecycle state.
func (stream *LogStream) State() State {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return stream.state
}

func (stream *LogStream) checkSetup() error {
	switch stream.state {
	case StateActive:
		return ErrAlreadySetUp
	case StateStopped:
		return ErrStopped
	}
	return nil
}

// SetupStreaming takes ownership of handle, opens it on queue, and
// starts listening. It returns the queue's wake-up semaphore and the
// connection's client-wait semaphore for the sender.
func (stream *LogStream) SetupStreaming(handle transport.StreamServerHandle, queue *transport.WorkQueue, options ...transport.ConnectionOption) (wakeUp, clientWait transport.Semaphore, err error) {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if err := stream.checkSetup(); err != nil {
		return nil, nil, err
	}

	connection, err := transport.NewStreamServerConnection(handle, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating stream connection: %w", err)
	}
	if err := connection.StartReceivingMessages(stream, ReceiverName, stream.identifier); err != nil {
		connection.Invalidate()
		return nil, nil, fmt.Errorf("listening on stream connection: %w", err)
	}
	if err := connection.Open(queue); err != nil {
		connection.Invalidate()
		return nil, nil, fmt.Errorf("opening stream connection: %w", err)
	}

	stream.stream = connection
	stream.state = StateActive
	stream.logger.Debug("log stream set up", "variant", "streaming", "work_queue", queue.Name())
	return queue.WakeUpSemaphore(), connection.ClientWaitSemaphore(), nil
}

// SetupDirect starts listening on an existing connection. The caller
// keeps ownership of connection.
func (stream *LogStream) SetupDirect(connection *transport.Connection) error {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if err := stream.checkSetup(); err != nil {
		return err
	}
	if err := connection.StartReceivingMessages(stream, ReceiverName, stream.identifier); err != nil {
		return fmt.Errorf("listening on connection: %w", err)
	}
	stream.direct = connection
	stream.state = StateActive
	stream.logger.Debug("log stream set up", "variant", "direct")
	return nil
}

// Drain forwards records already written to the stream. It is a no-op
// for the direct variant, whose frames are delivered in order by the
// connection's Serve loop, and outside StateActive.
func (stream *LogStream) Drain() {
	stream.mu.Lock()
	connection := stream.stream
	stream.mu.Unlock()
	if connection != nil {
		connection.Drain()
	}
}

// StopListening stops delivery to this endpoint and, for the streaming
// variant, releases the stream. A record being forwarded finishes
// first. StopListening is idempotent and valid before setup.
func (stream *LogStream) StopListening() {
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.state == StateStopped {
		return
	}
	previous := stream.state
	stream.state = StateStopped

	if stream.stream != nil {
		stream.stream.StopReceivingMessages(ReceiverName, stream.identifier)
		stream.stream.Invalidate()
		stream.stream = nil
	}
	if stream.direct != nil {
		stream.direct.StopReceivingMessages(ReceiverName, stream.identifier)
		stream.direct = nil
	}
	stream.logger.Debug("log stream stopped", "previous_state", previous)
}

// ReceiveMessage implements transport.MessageReceiver.
func (stream *LogStream) ReceiveMessage(message transport.Message) error {
	if message.Name != MessageName {
		return fmt.Errorf("%w: unknown message %q", transport.ErrProtocolViolation, message.Name)
	}
	var record Record
	if err := message.Decode(&record); err != nil {
		return err
	}
	return stream.forwarder.Forward(record, stream.pid)
}

// Sender is either transport variant's sending side.
type Sender interface {
	Send(receiver string, destination uint64, name string, body any) error
}

// Client sends records to a LogStream endpoint.
type Client struct {
	sender     Sender
	identifier uint64
}

// NewClient creates a client that addresses the endpoint listening
// under identifier.
func NewClient(sender Sender, identifier uint64) *Client {
	return &Client{sender: sender, identifier: identifier}
}

// Log sends record.
func (client *Client) Log(record Record) error {
	return client.sender.Send(ReceiverName, client.identifier, MessageName, record)
}
