// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// WriteFrameWithFiles writes payload as one frame and attaches files
// as SCM_RIGHTS ancillary data. The frame is sent in a single
// sendmsg, so the descriptors arrive with its first byte.
func WriteFrameWithFiles(conn *net.UnixConn, payload []byte, files ...*os.File) error {
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrFrameTooLarge, len(payload), MaxPayloadLength)
	}
	frame := make([]byte, frameHeaderLength+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderLength:], payload)

	var rights []byte
	if len(files) > 0 {
		descriptors := make([]int, len(files))
		for i, file := range files {
			descriptors[i] = int(file.Fd())
		}
		rights = unix.UnixRights(descriptors...)
	}

	written, rightsWritten, err := conn.WriteMsgUnix(frame, rights, nil)
	if err != nil {
		return fmt.Errorf("sending frame with %d descriptors: %w", len(files), err)
	}
	if written != len(frame) || rightsWritten != len(rights) {
		return fmt.Errorf("short write sending frame: %d of %d bytes, %d of %d control bytes",
			written, len(frame), rightsWritten, len(rights))
	}
	return nil
}

// ReadFrameWithFiles reads one frame written by WriteFrameWithFiles
// and returns its payload with any received descriptors. More than
// maxFiles descriptors is a protocol violation; all received
// descriptors are closed on error. The peer must not send further
// frames until this one is answered.
func ReadFrameWithFiles(conn *net.UnixConn, maxFiles int) ([]byte, []*os.File, error) {
	buffer := make([]byte, frameHeaderLength+MaxPayloadLength)
	control := make([]byte, unix.CmsgSpace((maxFiles+1)*4))

	count, controlCount, flags, _, err := conn.ReadMsgUnix(buffer, control)
	if err != nil {
		return nil, nil, fmt.Errorf("receiving frame: %w", err)
	}
	if count == 0 {
		return nil, nil, io.EOF
	}

	files, err := parseRights(control[:controlCount])
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) ([]byte, []*os.File, error) {
		closeFiles(files)
		return nil, nil, err
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return fail(fmt.Errorf("%w: ancillary data truncated", ErrProtocolViolation))
	}
	if len(files) > maxFiles {
		return fail(fmt.Errorf("%w: received %d descriptors, maximum %d", ErrProtocolViolation, len(files), maxFiles))
	}

	if count < frameHeaderLength {
		if _, err := io.ReadFull(conn, buffer[count:frameHeaderLength]); err != nil {
			return fail(fmt.Errorf("reading frame header: %w", err))
		}
		count = frameHeaderLength
	}
	length := int(binary.BigEndian.Uint32(buffer))
	if length > MaxPayloadLength {
		return fail(fmt.Errorf("%w: declared length %d, maximum %d", ErrFrameTooLarge, length, MaxPayloadLength))
	}
	end := frameHeaderLength + length
	if count > end {
		return fail(fmt.Errorf("%w: %d bytes of trailing data after frame", ErrProtocolViolation, count-end))
	}
	if count < end {
		if _, err := io.ReadFull(conn, buffer[count:end]); err != nil {
			return fail(fmt.Errorf("reading frame payload: %w", err))
		}
	}
	return buffer[frameHeaderLength:end], files, nil
}

func parseRights(control []byte) ([]*os.File, error) {
	if len(control) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing control messages: %v", ErrProtocolViolation, err)
	}
	var files []*os.File
	for i := range messages {
		descriptors, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			continue
		}
		for _, descriptor := range descriptors {
			files = append(files, os.NewFile(uintptr(descriptor), "received"))
		}
	}
	return files, nil
}

func closeFiles(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
