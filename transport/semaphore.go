// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"
	"time"
)

// Semaphore is a coalescing wake/wait primitive. Any number of Signal
// calls before a Wait satisfy exactly one Wait.
type Semaphore interface {
	// Signal wakes one pending or future Wait.
	Signal() error

	// Wait blocks until signaled or until timeout elapses. A negative
	// timeout waits forever. It returns false with a nil error on
	// timeout, and ErrClosed once the semaphore is closed.
	Wait(timeout time.Duration) (bool, error)

	// Close releases the semaphore. Close is idempotent.
	Close() error
}

// ChannelSemaphore is an in-process Semaphore.
type ChannelSemaphore struct {
	signals   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannelSemaphore creates an unsignaled semaphore.
func NewChannelSemaphore() *ChannelSemaphore {
	return &ChannelSemaphore{
		signals: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

// Signal implements Semaphore.
func (semaphore *ChannelSemaphore) Signal() error {
	select {
	case <-semaphore.closed:
		return ErrClosed
	default:
	}
	select {
	case semaphore.signals <- struct{}{}:
	default:
	}
	return nil
}

// Wait implements Semaphore.
func (semaphore *ChannelSemaphore) Wait(timeout time.Duration) (bool, error) {
	select {
	case <-semaphore.closed:
		return false, ErrClosed
	default:
	}
	select {
	case <-semaphore.signals:
		return true, nil
	default:
	}
	if timeout < 0 {
		select {
		case <-semaphore.signals:
			return true, nil
		case <-semaphore.closed:
			return false, ErrClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-semaphore.signals:
		return true, nil
	case <-semaphore.closed:
		return false, ErrClosed
	case <-timer.C:
		return false, nil
	}
}

// Close implements Semaphore.
func (semaphore *ChannelSemaphore) Close() error {
	semaphore.closeOnce.Do(func() { close(semaphore.closed) })
	return nil
}
