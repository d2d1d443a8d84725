// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/procbridge/lib/codec"
	"github.com/bureau-foundation/procbridge/transport"
)

// helloTimeout bounds how long a new connection may take to identify
// itself.
const helloTimeout = 10 * time.Second

// welcomeTimeout bounds writing the reply.
const welcomeTimeout = 10 * time.Second

// Hello is the first frame a content process sends.
type Hello struct {
	// PID is the sender's process id. The broker uses the socket's
	// peer credentials and rejects a Hello whose PID disagrees. Zero
	// means "take it from the credentials".
	PID int32 `cbor:"pid,omitempty"`

	// Page identifies the page the process hosts content for.
	Page uint64 `cbor:"page"`

	// Primary is set by the process hosting the page's main frame.
	Primary bool `cbor:"primary,omitempty"`

	// Streaming asks for the shared-memory variant. The frame then
	// carries exactly one descriptor: the sealed memfd ring.
	Streaming bool `cbor:"streaming,omitempty"`
}

// validate checks the Hello against the number of descriptors that
// arrived with it.
func (hello Hello) validate(descriptors int) error {
	if hello.Page == 0 {
		return fmt.Errorf("%w: hello names page 0", transport.ErrProtocolViolation)
	}
	if hello.PID < 0 {
		return fmt.Errorf("%w: hello carries negative pid %d", transport.ErrProtocolViolation, hello.PID)
	}
	want := 0
	if hello.Streaming {
		want = 1
	}
	if descriptors != want {
		return fmt.Errorf("%w: hello carries %d descriptors, want %d", transport.ErrProtocolViolation, descriptors, want)
	}
	return nil
}

// Welcome is the broker's reply to a Hello.
type Welcome struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	// Process is the broker-assigned process identifier.
	Process uint64 `cbor:"process,omitempty"`

	// Destination addresses the connection's log endpoint.
	Destination uint64 `cbor:"destination,omitempty"`

	// Streaming reports the variant the broker chose. When set the
	// frame carries two descriptors: the wake-up eventfd and the
	// client-wait eventfd.
	Streaming bool `cbor:"streaming,omitempty"`
}

func writeWelcome(conn *net.UnixConn, welcome Welcome, files ...*os.File) error {
	payload, err := codec.Marshal(welcome)
	if err != nil {
		return fmt.Errorf("encoding welcome: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(welcomeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return transport.WriteFrameWithFiles(conn, payload, files...)
}

// peerPID returns the pid of the process on the other end of conn, as
// recorded by the kernel when the connection was made.
func peerPID(conn *net.UnixConn) (int32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("accessing socket: %w", err)
	}
	var credentials *unix.Ucred
	var credentialsErr error
	err = raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, fmt.Errorf("accessing socket: %w", err)
	}
	if credentialsErr != nil {
		return 0, fmt.Errorf("reading peer credentials: %w", credentialsErr)
	}
	return credentials.Pid, nil
}

func closeFiles(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
