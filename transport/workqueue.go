// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// workQueuePollInterval bounds how long the worker sleeps without a
// wake-up. It lets the worker observe Stop even when its semaphore is
// an eventfd that Close cannot interrupt.
const workQueuePollInterval = 100 * time.Millisecond

// drainBatch is how many frames one connection may deliver before the
// worker moves on to the next connection.
const drainBatch = 256

// WorkQueue is a named worker goroutine that drains the stream server
// connections opened on it. Senders signal its wake-up semaphore after
// writing. Many connections may share one queue.
type WorkQueue struct {
	name   string
	wakeUp Semaphore
	logger *slog.Logger

	mu          sync.Mutex
	connections []*StreamServerConnection

	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorkQueue starts a worker that waits on wakeUp. The queue takes
// ownership of wakeUp and closes it on Stop.
func NewWorkQueue(name string, wakeUp Semaphore, logger *slog.Logger) *WorkQueue {
	if logger == nil {
		logger = slog.Default()
	}
	queue := &WorkQueue{
		name:   name,
		wakeUp: wakeUp,
		logger: logger.With("work_queue", name),
		done:   make(chan struct{}),
	}
	go queue.run()
	return queue
}

// Name returns the queue name.
func (queue *WorkQueue) Name() string {
	return queue.name
}

// WakeUpSemaphore returns the semaphore senders signal after writing.
func (queue *WorkQueue) WakeUpSemaphore() Semaphore {
	return queue.wakeUp
}

// Stop ends the worker and waits for it to exit. Connections still
// registered are not invalidated. Stop is idempotent.
func (queue *WorkQueue) Stop() {
	queue.stopOnce.Do(func() {
		queue.stopping.Store(true)
		queue.wakeUp.Signal()
		<-queue.done
		if err := queue.wakeUp.Close(); err != nil {
			queue.logger.Warn("closing wake-up semaphore", "error", err)
		}
	})
}

func (queue *WorkQueue) add(connection *StreamServerConnection) {
	queue.mu.Lock()
	queue.connections = append(queue.connections, connection)
	queue.mu.Unlock()
	// Frames written before the connection opened are drained now.
	queue.wakeUp.Signal()
}

func (queue *WorkQueue) remove(connection *StreamServerConnection) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.connections = slices.DeleteFunc(queue.connections, func(candidate *StreamServerConnection) bool {
		return candidate == connection
	})
}

func (queue *WorkQueue) run() {
	defer close(queue.done)
	for !queue.stopping.Load() {
		if _, err := queue.wakeUp.Wait(workQueuePollInterval); err != nil {
			if !queue.stopping.Load() {
				queue.logger.Error("work queue wait failed", "error", err)
			}
			return
		}
		for queue.drainAll() && !queue.stopping.Load() {
		}
	}
}

// drainAll drains every connection once and reports whether any of
// them still had frames left.
func (queue *WorkQueue) drainAll() bool {
	queue.mu.Lock()
	connections := slices.Clone(queue.connections)
	queue.mu.Unlock()

	more := false
	for _, connection := range connections {
		if connection.drain(drainBatch) {
			more = true
		}
	}
	return more
}
