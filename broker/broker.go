// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/procbridge/activity"
	"github.com/bureau-foundation/procbridge/logstream"
	"github.com/bureau-foundation/procbridge/throttle"
	"github.com/bureau-foundation/procbridge/topology"
)

var (
	// ErrStopped is returned when the broker has shut down.
	ErrStopped = errors.New("broker: stopped")

	// ErrPageExists is returned when a second primary process claims
	// an open page.
	ErrPageExists = errors.New("broker: page already has a primary process")

	// ErrUnknownPage is returned when a process joins a page that is
	// not open.
	ErrUnknownPage = errors.New("broker: unknown page")
)

// Config configures a Broker.
type Config struct {
	// Sink receives every forwarded record. Required.
	Sink logstream.Sink

	// Tracer, if set, may consume records before the sink.
	Tracer logstream.Tracer

	// TestingCounter, if set, counts records in the Testing category
	// across all connections.
	TestingCounter logstream.Counter

	// Streaming allows the shared-memory variant. When false, clients
	// asking for it are answered with the direct variant.
	Streaming bool

	// ActivityName labels every page keep-alive.
	ActivityName string

	// ActivityType is the priority class of page keep-alives.
	ActivityType throttle.ActivityType

	// MaxActivitiesPerProcess caps the keep-alives one process may
	// hold. Zero means unlimited.
	MaxActivitiesPerProcess int

	Logger *slog.Logger
}

// Broker accepts content processes and owns the page topology.
type Broker struct {
	config Config
	logger *slog.Logger

	operations chan func()
	stop       chan struct{}
	done       chan struct{}
	serving    atomic.Bool

	connections sync.WaitGroup
	violations  atomic.Uint64

	// Owned by the orchestration goroutine.
	nextProcess topology.ProcessIdentifier
	pages       map[topology.PageIdentifier]*pageEntry
}

type pageEntry struct {
	page     *topology.Page
	registry *activity.Registry
}

// member is one connected content process.
type member struct {
	process *topology.Process
	page    topology.PageIdentifier
	primary bool
}

// New creates a broker and starts its orchestration goroutine. Call
// Serve or ListenAndServe exactly once; the goroutine exits when
// serving ends.
func New(config Config) (*Broker, error) {
	if config.Sink == nil {
		return nil, errors.New("broker: config has no sink")
	}
	if config.ActivityName == "" {
		config.ActivityName = "procbridge-page"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	broker := &Broker{
		config:     config,
		logger:     config.Logger,
		operations: make(chan func()),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		pages:      make(map[topology.PageIdentifier]*pageEntry),
	}
	go broker.orchestrate()
	return broker, nil
}

// ListenAndServe listens on socketPath and serves until ctx is
// cancelled. A stale socket file is removed first; the socket file is
// removed on return.
func (broker *Broker) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	return broker.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then
// closes every connection, waits for their teardown, and closes all
// pages. Serve takes ownership of listener.
func (broker *Broker) Serve(ctx context.Context, listener *net.UnixListener) error {
	if !broker.serving.CompareAndSwap(false, true) {
		listener.Close()
		return errors.New("broker: Serve called twice")
	}
	defer broker.shutdown()
	defer listener.Close()

	stopAccepting := context.AfterFunc(ctx, func() { listener.Close() })
	defer stopAccepting()

	broker.logger.Info("broker listening", "path", listener.Addr().String())
	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			broker.logger.Error("accept failed", "error", err)
			continue
		}

		broker.connections.Add(1)
		go func() {
			defer broker.connections.Done()
			broker.handleConnection(ctx, conn)
		}()
	}

	broker.connections.Wait()
	return nil
}

// Violations returns the number of protocol violations seen across all
// connections.
func (broker *Broker) Violations() uint64 {
	return broker.violations.Load()
}

// PageStatus describes one open page.
type PageStatus struct {
	Page            topology.PageIdentifier
	Primary         topology.ProcessIdentifier
	RemoteProcesses []topology.ProcessIdentifier
	KeptAlive       []topology.ProcessIdentifier
}

// Pages reports every open page in ascending page order.
func (broker *Broker) Pages(ctx context.Context) ([]PageStatus, error) {
	var statuses []PageStatus
	err := broker.do(ctx, func() {
		for identifier, entry := range broker.pages {
			status := PageStatus{
				Page:      identifier,
				Primary:   entry.page.PrimaryProcess().Identifier(),
				KeptAlive: entry.registry.Processes(),
			}
			entry.page.ForEachRemotePage(func(remotePage *topology.RemotePage) {
				status.RemoteProcesses = append(status.RemoteProcesses, remotePage.Process().Identifier())
			})
			statuses = append(statuses, status)
		}
	})
	slices.SortFunc(statuses, func(a, b PageStatus) int {
		return cmp.Compare(a.Page, b.Page)
	})
	return statuses, err
}

func (broker *Broker) orchestrate() {
	defer close(broker.done)
	for {
		select {
		case operation := <-broker.operations:
			operation()
		case <-broker.stop:
			return
		}
	}
}

// do runs operation on the orchestration goroutine and waits for it.
func (broker *Broker) do(ctx context.Context, operation func()) error {
	finished := make(chan struct{})
	select {
	case broker.operations <- func() {
		defer close(finished)
		operation()
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-broker.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// shutdown closes every page and stops the orchestration goroutine.
func (broker *Broker) shutdown() {
	broker.do(context.Background(), func() {
		for identifier, entry := range broker.pages {
			entry.page.Close()
			delete(broker.pages, identifier)
		}
	})
	close(broker.stop)
	<-broker.done
	broker.logger.Info("broker stopped", "violations", broker.violations.Load())
}

// join registers a connected process with its page.
func (broker *Broker) join(ctx context.Context, hello Hello, pid int32) (*member, error) {
	var joined *member
	var joinErr error
	if err := broker.do(ctx, func() {
		joined, joinErr = broker.joinLocked(hello, pid)
	}); err != nil {
		return nil, err
	}
	return joined, joinErr
}

func (broker *Broker) joinLocked(hello Hello, pid int32) (*member, error) {
	broker.nextProcess++
	identifier := broker.nextProcess
	throttler := throttle.New(identifier.String(),
		throttle.WithLogger(broker.logger),
		throttle.WithActivityLimit(broker.config.MaxActivitiesPerProcess),
	)
	process := topology.NewProcess(identifier, pid, throttler)
	pageIdentifier := topology.PageIdentifier(hello.Page)
	entry := broker.pages[pageIdentifier]

	if hello.Primary {
		if entry != nil {
			throttler.ProcessExited()
			return nil, fmt.Errorf("opening page %d: %w", hello.Page, ErrPageExists)
		}
		page := topology.NewPage(pageIdentifier, process)
		registry, err := activity.New(page, broker.config.ActivityName, broker.config.ActivityType,
			activity.WithLogger(broker.logger))
		if err != nil {
			page.Close()
			throttler.ProcessExited()
			return nil, err
		}
		broker.pages[pageIdentifier] = &pageEntry{page: page, registry: registry}
	} else {
		if entry == nil {
			throttler.ProcessExited()
			return nil, fmt.Errorf("joining page %d: %w", hello.Page, ErrUnknownPage)
		}
		if _, err := entry.page.AddRemotePage(process); err != nil {
			// The remote page stays added when only a keep-alive
			// failed; a process we cannot keep alive is not admitted.
			entry.page.RemoveRemotePage(identifier)
			throttler.ProcessExited()
			return nil, fmt.Errorf("joining page %d: %w", hello.Page, err)
		}
	}

	broker.logger.Info("content process joined",
		"process", identifier,
		"pid", pid,
		"page", hello.Page,
		"primary", hello.Primary,
	)
	return &member{process: process, page: pageIdentifier, primary: hello.Primary}, nil
}

// leave removes a disconnected process from its page. Closing a
// page's primary closes the page.
func (broker *Broker) leave(departed *member) {
	err := broker.do(context.Background(), func() {
		entry := broker.pages[departed.page]
		switch {
		case entry == nil:
			// The page closed under us.
		case departed.primary && entry.page.PrimaryProcess() == departed.process:
			entry.page.Close()
			delete(broker.pages, departed.page)
		default:
			entry.page.RemoveRemotePage(departed.process.Identifier())
		}
		departed.process.Throttler().ProcessExited()
		broker.logger.Info("content process left",
			"process", departed.process.Identifier(),
			"page", departed.page,
		)
	})
	if err != nil {
		broker.logger.Error("content process left after shutdown",
			"process", departed.process.Identifier(),
			"error", err,
		)
	}
}
