// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// requiredSeals are the memfd seals a shared stream buffer must carry
// before the broker maps it. Without them the producer could shrink
// the file under the mapping and fault the consumer with SIGBUS.
const requiredSeals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_SEAL

// NewSharedStreamBuffer creates a ring in a sealed memfd so it can be
// handed to another process with SCM_RIGHTS. The producer creates the
// buffer; the consumer maps the received descriptor with
// OpenSharedStreamBuffer.
func NewSharedStreamBuffer(capacity int) (*StreamBuffer, error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	fd, err := unix.MemfdCreate("procbridge-stream", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("creating memfd: %w", err)
	}
	file := os.NewFile(uintptr(fd), "procbridge-stream")

	size := bufferHeaderSize + capacity
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("sizing memfd to %d bytes: %w", size, err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, requiredSeals); err != nil {
		file.Close()
		return nil, fmt.Errorf("sealing memfd: %w", err)
	}

	buffer, err := mapStreamBuffer(fd, size)
	if err != nil {
		file.Close()
		return nil, err
	}
	buffer.file = file
	return buffer, nil
}

// OpenSharedStreamBuffer maps a ring created by NewSharedStreamBuffer
// in another process. The descriptor is untrusted: it must be a memfd
// carrying the size seals, and its size must describe a valid ring.
// The caller still owns file.
func OpenSharedStreamBuffer(file *os.File) (*StreamBuffer, error) {
	fd := int(file.Fd())
	seals, err := unix.FcntlInt(uintptr(fd), unix.F_GET_SEALS, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: stream buffer descriptor is not a sealable memfd: %v", ErrProtocolViolation, err)
	}
	if seals&requiredSeals != requiredSeals {
		return nil, fmt.Errorf("%w: stream buffer memfd seals %#x missing %#x", ErrProtocolViolation, seals, requiredSeals&^seals)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, fmt.Errorf("stat stream buffer memfd: %w", err)
	}
	if stat.Size < bufferHeaderSize {
		return nil, fmt.Errorf("%w: stream buffer memfd is %d bytes", ErrProtocolViolation, stat.Size)
	}
	if err := validateCapacity(int(stat.Size - bufferHeaderSize)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return mapStreamBuffer(fd, int(stat.Size))
}

func mapStreamBuffer(fd, size int) (*StreamBuffer, error) {
	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping stream buffer: %w", err)
	}
	buffer, err := newStreamBufferOverRegion(region, func() error { return unix.Munmap(region) })
	if err != nil {
		unix.Munmap(region)
		return nil, err
	}
	return buffer, nil
}
