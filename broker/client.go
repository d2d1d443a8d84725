// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/procbridge/lib/codec"
	"github.com/bureau-foundation/procbridge/logstream"
	"github.com/bureau-foundation/procbridge/topology"
	"github.com/bureau-foundation/procbridge/transport"
)

// ErrRejected is returned by Dial when the broker refuses the Hello.
var ErrRejected = errors.New("broker: connection rejected")

// Default streaming parameters for Dial.
const (
	DefaultBufferSize  = 1 << 20
	DefaultWaitTimeout = 2 * time.Second
)

// DialOptions configures the client side of the streaming variant.
type DialOptions struct {
	// BufferSize is the ring capacity offered to the broker.
	BufferSize int

	// WaitTimeout bounds how long Log waits for ring space.
	WaitTimeout time.Duration
}

// Client is a content process's connection to the broker.
type Client struct {
	conn    *net.UnixConn
	welcome Welcome
	logs    *logstream.Client

	direct     *transport.Connection
	buffer     *transport.StreamBuffer
	wakeUp     *transport.EventSemaphore
	clientWait *transport.EventSemaphore

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the broker at socketPath and performs the
// handshake. When hello.Streaming is set Dial creates the shared ring
// and offers it; the broker may still answer with the direct variant.
func Dial(ctx context.Context, socketPath string, hello Hello, options DialOptions) (*Client, error) {
	if options.BufferSize == 0 {
		options.BufferSize = DefaultBufferSize
	}
	if options.WaitTimeout == 0 {
		options.WaitTimeout = DefaultWaitTimeout
	}
	if hello.PID == 0 {
		hello.PID = int32(os.Getpid())
	}

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker at %s: %w", socketPath, err)
	}
	conn := raw.(*net.UnixConn)
	client := &Client{conn: conn}
	fail := func(err error) (*Client, error) {
		client.Close()
		return nil, err
	}

	stopClosing := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClosing()

	var offered []*os.File
	if hello.Streaming {
		client.buffer, err = transport.NewSharedStreamBuffer(options.BufferSize)
		if err != nil {
			return fail(fmt.Errorf("creating stream buffer: %w", err))
		}
		offered = append(offered, client.buffer.File())
	}

	payload, err := codec.Marshal(hello)
	if err != nil {
		return fail(fmt.Errorf("encoding hello: %w", err))
	}
	if err := transport.WriteFrameWithFiles(conn, payload, offered...); err != nil {
		return fail(fmt.Errorf("sending hello: %w", err))
	}
	reply, received, err := transport.ReadFrameWithFiles(conn, 2)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(fmt.Errorf("reading welcome: %w", err))
	}
	defer closeFiles(received)

	if err := codec.Unmarshal(reply, &client.welcome); err != nil {
		return fail(fmt.Errorf("decoding welcome: %w", err))
	}
	if !client.welcome.OK {
		return fail(fmt.Errorf("%w: %s", ErrRejected, client.welcome.Error))
	}

	if !client.welcome.Streaming {
		if len(received) != 0 {
			return fail(fmt.Errorf("%w: direct welcome carries %d descriptors", transport.ErrProtocolViolation, len(received)))
		}
		if client.buffer != nil {
			client.buffer.Close()
			client.buffer = nil
		}
		client.direct = transport.NewConnection(conn)
		client.logs = logstream.NewClient(client.direct, client.welcome.Destination)
		return client, nil
	}

	if client.buffer == nil || len(received) != 2 {
		return fail(fmt.Errorf("%w: unexpected streaming welcome with %d descriptors", transport.ErrProtocolViolation, len(received)))
	}
	client.wakeUp, err = transport.EventSemaphoreFromFile(received[0])
	if err != nil {
		return fail(fmt.Errorf("opening wake-up semaphore: %w", err))
	}
	client.clientWait, err = transport.EventSemaphoreFromFile(received[1])
	if err != nil {
		return fail(fmt.Errorf("opening client-wait semaphore: %w", err))
	}
	stream := transport.NewStreamClientConnection(client.buffer, options.WaitTimeout)
	stream.SetSemaphores(client.wakeUp, client.clientWait)
	client.logs = logstream.NewClient(stream, client.welcome.Destination)
	return client, nil
}

// Process returns the identifier the broker assigned.
func (client *Client) Process() topology.ProcessIdentifier {
	return topology.ProcessIdentifier(client.welcome.Process)
}

// Streaming reports whether records travel through shared memory.
func (client *Client) Streaming() bool {
	return client.welcome.Streaming
}

// Log sends one record to the broker.
func (client *Client) Log(record logstream.Record) error {
	return client.logs.Log(record)
}

// Close disconnects. Records already sent are still forwarded.
func (client *Client) Close() error {
	client.closeOnce.Do(func() {
		var errs []error
		if client.direct != nil {
			errs = append(errs, client.direct.Close())
		} else {
			errs = append(errs, client.conn.Close())
		}
		if client.buffer != nil {
			errs = append(errs, client.buffer.Close())
		}
		if client.wakeUp != nil {
			errs = append(errs, client.wakeUp.Close())
		}
		if client.clientWait != nil {
			errs = append(errs, client.clientWait.Close())
		}
		client.closeErr = errors.Join(errs...)
	})
	return client.closeErr
}
