// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/procbridge/lib/codec"
	"github.com/bureau-foundation/procbridge/lib/netutil"
	"github.com/bureau-foundation/procbridge/logstream"
	"github.com/bureau-foundation/procbridge/transport"
)

// handleConnection runs one content process from Hello to disconnect.
func (broker *Broker) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	stopClosing := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClosing()

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	payload, files, err := transport.ReadFrameWithFiles(conn, 1)
	if err != nil {
		if !netutil.IsExpectedCloseError(err) {
			broker.logger.Warn("reading hello failed", "error", err)
		}
		return
	}
	defer closeFiles(files)
	conn.SetReadDeadline(time.Time{})

	var hello Hello
	if err := codec.Unmarshal(payload, &hello); err != nil {
		broker.reject(conn, fmt.Errorf("%w: decoding hello: %v", transport.ErrProtocolViolation, err))
		return
	}
	if err := hello.validate(len(files)); err != nil {
		broker.reject(conn, err)
		return
	}
	pid, err := peerPID(conn)
	if err != nil {
		broker.reject(conn, err)
		return
	}
	if hello.PID != 0 && hello.PID != pid {
		broker.reject(conn, fmt.Errorf("%w: hello claims pid %d, peer is pid %d",
			transport.ErrProtocolViolation, hello.PID, pid))
		return
	}

	joined, err := broker.join(ctx, hello, pid)
	if err != nil {
		broker.reject(conn, err)
		return
	}
	defer broker.leave(joined)

	identifier := joined.process.Identifier()
	logger := broker.logger.With("process", identifier, "pid", pid)
	forwarderOptions := []logstream.ForwarderOption{logstream.WithForwarderLogger(logger)}
	if broker.config.Tracer != nil {
		forwarderOptions = append(forwarderOptions, logstream.WithTracer(broker.config.Tracer))
	}
	if broker.config.TestingCounter != nil {
		forwarderOptions = append(forwarderOptions, logstream.WithTestingCounter(broker.config.TestingCounter))
	}
	forwarder := logstream.NewForwarder(broker.config.Sink, forwarderOptions...)
	stream := logstream.New(pid, uint64(identifier), forwarder, broker.logger)
	defer stream.StopListening()

	connectionOptions := []transport.ConnectionOption{
		transport.WithLogger(logger),
		transport.WithLabel(identifier.String()),
		transport.WithViolationFunc(func(error) { broker.violations.Add(1) }),
	}
	welcome := Welcome{OK: true, Process: uint64(identifier), Destination: stream.Identifier()}

	if hello.Streaming && broker.config.Streaming {
		err = broker.serveStreaming(conn, files[0], stream, welcome, connectionOptions, logger)
	} else {
		err = broker.serveDirect(ctx, conn, stream, welcome, connectionOptions, logger)
	}
	if err != nil && ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
		logger.Warn("content process connection failed", "error", err)
	}
}

// serveStreaming maps the client's ring, hands back the eventfds, and
// waits for the socket to close.
func (broker *Broker) serveStreaming(conn *net.UnixConn, ring *os.File, stream *logstream.LogStream, welcome Welcome, options []transport.ConnectionOption, logger *slog.Logger) error {
	buffer, err := transport.OpenSharedStreamBuffer(ring)
	if err != nil {
		broker.reject(conn, err)
		return nil
	}
	wakeUp, err := transport.NewEventSemaphore()
	if err != nil {
		buffer.Close()
		broker.reject(conn, err)
		return nil
	}
	clientWait, err := transport.NewEventSemaphore()
	if err != nil {
		buffer.Close()
		wakeUp.Close()
		broker.reject(conn, err)
		return nil
	}

	queue := transport.NewWorkQueue(fmt.Sprintf("log-stream-%d", welcome.Process), wakeUp, logger)
	defer func() {
		stream.StopListening()
		queue.Stop()
	}()

	_, _, err = stream.SetupStreaming(transport.StreamServerHandle{Buffer: buffer, ClientWait: clientWait}, queue, options...)
	if err != nil {
		buffer.Close()
		clientWait.Close()
		broker.reject(conn, err)
		return nil
	}

	wakeUpFile, err := wakeUp.File()
	if err != nil {
		return fmt.Errorf("exporting wake-up semaphore: %w", err)
	}
	defer wakeUpFile.Close()
	clientWaitFile, err := clientWait.File()
	if err != nil {
		return fmt.Errorf("exporting client-wait semaphore: %w", err)
	}
	defer clientWaitFile.Close()

	welcome.Streaming = true
	if err := writeWelcome(conn, welcome, wakeUpFile, clientWaitFile); err != nil {
		return fmt.Errorf("writing welcome: %w", err)
	}
	logger.Info("log stream connected", "variant", "streaming", "capacity", buffer.Capacity())

	// Nothing else travels on the socket. EOF means the process is
	// gone; whatever it wrote before going is still in the ring.
	_, err = io.Copy(io.Discard, conn)
	stream.Drain()
	if netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}

// serveDirect carries envelope frames on the socket itself.
func (broker *Broker) serveDirect(ctx context.Context, conn *net.UnixConn, stream *logstream.LogStream, welcome Welcome, options []transport.ConnectionOption, logger *slog.Logger) error {
	connection := transport.NewConnection(conn, options...)
	defer connection.Close()
	if err := stream.SetupDirect(connection); err != nil {
		broker.reject(conn, err)
		return nil
	}
	if err := writeWelcome(conn, welcome); err != nil {
		return fmt.Errorf("writing welcome: %w", err)
	}
	logger.Info("log stream connected", "variant", "direct")
	return connection.Serve(ctx)
}

// reject answers a Hello with an error and logs why.
func (broker *Broker) reject(conn *net.UnixConn, err error) {
	if errors.Is(err, transport.ErrProtocolViolation) {
		broker.violations.Add(1)
	}
	broker.logger.Warn("rejecting content process", "error", err)
	if writeErr := writeWelcome(conn, Welcome{Error: err.Error()}); writeErr != nil {
		broker.logger.Debug("writing rejection failed", "error", writeErr)
	}
}
