// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// EventSemaphore is a Semaphore backed by an eventfd, so the two ends
// can live in different processes. Pass it to the peer with File and
// SCM_RIGHTS; the peer wraps the received descriptor with
// EventSemaphoreFromFile.
//
// A Wait blocked in poll(2) is not woken by Close on the same
// descriptor. Waiters that must observe Close use bounded timeouts.
type EventSemaphore struct {
	fd        int
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewEventSemaphore creates a fresh eventfd-backed semaphore.
func NewEventSemaphore() (*EventSemaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("creating eventfd: %w", err)
	}
	return &EventSemaphore{fd: fd}, nil
}

// EventSemaphoreFromFile wraps a received eventfd. The descriptor is
// duplicated; the caller still owns file and should close it.
func EventSemaphoreFromFile(file *os.File) (*EventSemaphore, error) {
	fd, err := unix.FcntlInt(file.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicating eventfd: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting eventfd non-blocking: %w", err)
	}
	return &EventSemaphore{fd: fd}, nil
}

// File returns a duplicate of the eventfd as an *os.File for passing to
// another process. The caller closes the returned file.
func (semaphore *EventSemaphore) File() (*os.File, error) {
	if semaphore.closed.Load() {
		return nil, ErrClosed
	}
	fd, err := unix.FcntlInt(uintptr(semaphore.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicating eventfd: %w", err)
	}
	return os.NewFile(uintptr(fd), "eventfd"), nil
}

// Signal implements Semaphore.
func (semaphore *EventSemaphore) Signal() error {
	if semaphore.closed.Load() {
		return ErrClosed
	}
	var increment [8]byte
	binary.NativeEndian.PutUint64(increment[:], 1)
	for {
		_, err := unix.Write(semaphore.fd, increment[:])
		switch err {
		case nil:
			return nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// The counter is saturated, which already means signaled.
			return nil
		default:
			return fmt.Errorf("signaling eventfd: %w", err)
		}
	}
}

// Wait implements Semaphore.
func (semaphore *EventSemaphore) Wait(timeout time.Duration) (bool, error) {
	milliseconds := -1
	if timeout >= 0 {
		milliseconds = int(timeout / time.Millisecond)
	}
	for {
		if semaphore.closed.Load() {
			return false, ErrClosed
		}
		descriptors := []unix.PollFd{{Fd: int32(semaphore.fd), Events: unix.POLLIN}}
		count, err := unix.Poll(descriptors, milliseconds)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, fmt.Errorf("polling eventfd: %w", err)
		}
		if count == 0 {
			return false, nil
		}

		var counter [8]byte
		_, err = unix.Read(semaphore.fd, counter[:])
		switch err {
		case nil:
			return true, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// Another reader consumed the signal between poll and read.
			return false, nil
		default:
			return false, fmt.Errorf("reading eventfd: %w", err)
		}
	}
}

// Close implements Semaphore.
func (semaphore *EventSemaphore) Close() error {
	var err error
	semaphore.closeOnce.Do(func() {
		semaphore.closed.Store(true)
		err = unix.Close(semaphore.fd)
	})
	return err
}
