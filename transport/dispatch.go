// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MessageReceiver handles messages addressed to it on a connection.
// Returning an error that wraps ErrProtocolViolation counts the
// message as a violation by the sender; other errors are logged.
type MessageReceiver interface {
	ReceiveMessage(message Message) error
}

// ViolationFunc is called once for every protocol violation detected
// on a connection, from the goroutine that detected it.
type ViolationFunc func(err error)

// ConnectionOption configures a StreamServerConnection or Connection.
type ConnectionOption func(*connectionOptions)

type connectionOptions struct {
	logger      *slog.Logger
	onViolation ViolationFunc
	label       string
}

// WithLogger sets the logger for dispatch diagnostics.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(options *connectionOptions) { options.logger = logger }
}

// WithViolationFunc installs a policy hook for protocol violations.
// It runs on the delivery goroutine after the dispatch lock is
// released, so it may stop receivers on the same connection.
func WithViolationFunc(onViolation ViolationFunc) ConnectionOption {
	return func(options *connectionOptions) { options.onViolation = onViolation }
}

// WithLabel names the connection in log output.
func WithLabel(label string) ConnectionOption {
	return func(options *connectionOptions) { options.label = label }
}

func buildConnectionOptions(options []ConnectionOption) connectionOptions {
	built := connectionOptions{}
	for _, option := range options {
		option(&built)
	}
	if built.logger == nil {
		built.logger = slog.Default()
	}
	if built.label != "" {
		built.logger = built.logger.With("connection", built.label)
	}
	return built
}

type receiverKey struct {
	receiver    string
	destination uint64
}

// dispatcher routes envelopes to registered receivers. Its mutex is
// held across each delivery, which both serializes delivery and makes
// stopReceiving wait for an in-flight message.
type dispatcher struct {
	options connectionOptions

	mu        sync.Mutex
	receivers map[receiverKey]MessageReceiver

	violations atomic.Uint64
	dropped    atomic.Uint64
}

func (d *dispatcher) init(options connectionOptions) {
	d.options = options
	d.receivers = make(map[receiverKey]MessageReceiver)
}

func (d *dispatcher) startReceiving(receiver MessageReceiver, name string, destination uint64) error {
	if receiver == nil {
		return errors.New("transport: nil receiver")
	}
	key := receiverKey{receiver: name, destination: destination}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.receivers[key]; exists {
		return fmt.Errorf("transport: receiver %s/%d already registered", name, destination)
	}
	d.receivers[key] = receiver
	return nil
}

func (d *dispatcher) stopReceiving(name string, destination uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.receivers, receiverKey{receiver: name, destination: destination})
}

// dispatchPayload decodes one frame payload and delivers it.
func (d *dispatcher) dispatchPayload(payload []byte) {
	envelope, err := decodeEnvelope(payload)
	if err != nil {
		d.reportViolation(err)
		return
	}
	d.dispatch(envelope)
}

func (d *dispatcher) dispatch(envelope Envelope) {
	if err := d.deliver(envelope); err != nil {
		d.reportViolation(err)
	}
}

// deliver hands envelope to its receiver under the dispatch lock and
// returns the protocol violation the receiver reported, if any.
func (d *dispatcher) deliver(envelope Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	receiver, ok := d.receivers[receiverKey{receiver: envelope.Receiver, destination: envelope.Destination}]
	if !ok {
		// Messages racing a StopReceiving land here; dropping them is
		// the expected outcome of teardown.
		d.dropped.Add(1)
		d.options.logger.Debug("dropping message for unregistered receiver",
			"receiver", envelope.Receiver,
			"destination", envelope.Destination,
			"message", envelope.Name,
		)
		return nil
	}

	err := receiver.ReceiveMessage(Message{Name: envelope.Name, Body: envelope.Body})
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocolViolation):
		return fmt.Errorf("%s.%s: %w", envelope.Receiver, envelope.Name, err)
	default:
		d.options.logger.Error("receiver failed",
			"receiver", envelope.Receiver,
			"message", envelope.Name,
			"error", err,
		)
	}
	return nil
}

func (d *dispatcher) reportViolation(err error) {
	d.violations.Add(1)
	d.options.logger.Warn("protocol violation", "error", err)
	if d.options.onViolation != nil {
		d.options.onViolation(err)
	}
}
