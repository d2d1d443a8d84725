// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/procbridge/lib/codec"
)

// frameHeaderLength is the size of the big-endian uint32 length prefix
// in front of every frame payload.
const frameHeaderLength = 4

// MaxPayloadLength bounds a single frame payload. A log record is a
// few hundred bytes; 64 KiB leaves room for long messages while
// keeping a hostile peer from forcing large allocations.
const MaxPayloadLength = 64 * 1024

var (
	// ErrProtocolViolation marks malformed input from a peer. Errors
	// wrapping it are counted against the connection.
	ErrProtocolViolation = errors.New("transport: protocol violation")

	// ErrFrameTooLarge is returned for frames whose declared length
	// exceeds MaxPayloadLength or the stream buffer capacity.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrClosed is returned by operations on a closed connection or
	// semaphore.
	ErrClosed = errors.New("transport: closed")
)

// Envelope is the unit of exchange on every connection. Body is the
// CBOR encoding of the message arguments; it is decoded only by the
// receiver the envelope is addressed to.
type Envelope struct {
	Receiver    string           `cbor:"receiver"`
	Destination uint64           `cbor:"destination"`
	Name        string           `cbor:"name"`
	Body        codec.RawMessage `cbor:"body"`
}

// NewEnvelope encodes body and addresses it to (receiver, destination).
func NewEnvelope(receiver string, destination uint64, name string, body any) (Envelope, error) {
	encoded, err := codec.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s.%s body: %w", receiver, name, err)
	}
	return Envelope{Receiver: receiver, Destination: destination, Name: name, Body: encoded}, nil
}

// Message is what a receiver sees: the message name and its raw body.
type Message struct {
	Name string
	Body []byte
}

// Decode decodes the message body into v. A decode failure wraps
// ErrProtocolViolation.
func (message Message) Decode(v any) error {
	if err := codec.Unmarshal(message.Body, v); err != nil {
		return fmt.Errorf("%w: decoding %s body: %v", ErrProtocolViolation, message.Name, err)
	}
	return nil
}

// encodeEnvelope returns the CBOR encoding of envelope, checked
// against MaxPayloadLength.
func encodeEnvelope(envelope Envelope) ([]byte, error) {
	payload, err := codec.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: envelope is %d bytes, maximum %d", ErrFrameTooLarge, len(payload), MaxPayloadLength)
	}
	return payload, nil
}

// decodeEnvelope decodes an envelope received from a peer.
func decodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := codec.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: decoding envelope: %v", ErrProtocolViolation, err)
	}
	if envelope.Receiver == "" || envelope.Name == "" {
		return Envelope{}, fmt.Errorf("%w: envelope missing receiver or name", ErrProtocolViolation)
	}
	return envelope, nil
}

// WritePayload writes payload to w as a length-prefixed frame.
func WritePayload(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrFrameTooLarge, len(payload), MaxPayloadLength)
	}
	frame := make([]byte, frameHeaderLength+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderLength:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadPayload reads one length-prefixed frame from r. It returns
// io.EOF unwrapped when r ends cleanly between frames. A declared
// length above MaxPayloadLength returns ErrFrameTooLarge without
// reading the payload; the stream is unusable afterwards.
func ReadPayload(r io.Reader) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxPayloadLength {
		return nil, fmt.Errorf("%w: declared length %d, maximum %d", ErrFrameTooLarge, length, MaxPayloadLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteEnvelope encodes envelope and writes it as one frame.
func WriteEnvelope(w io.Writer, envelope Envelope) error {
	payload, err := encodeEnvelope(envelope)
	if err != nil {
		return err
	}
	return WritePayload(w, payload)
}
