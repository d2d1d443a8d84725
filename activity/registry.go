// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity keeps every process hosting a page alive for as
// long as the page has live content in it.
//
// A [Registry] holds one keep-alive ([throttle.Activity]) per process
// that hosts the page: the primary process plus every process hosting
// a site-isolated sub-frame. It registers as a page observer, so as
// sub-frames migrate between processes the set of keep-alives follows
// them. Destroying the registry (explicitly, or by closing the page)
// releases everything it holds.
//
// Registries are owned by the orchestration goroutine that owns the
// page. They do no locking.
package activity

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/procbridge/throttle"
	"github.com/bureau-foundation/procbridge/topology"
)

// ErrRegistryDestroyed is returned when adding a process to a
// registry that has been destroyed.
var ErrRegistryDestroyed = errors.New("activity: registry destroyed")

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(registry *Registry) {
		registry.logger = logger
	}
}

// Registry holds one keep-alive per process hosting a page.
type Registry struct {
	page         *topology.Page
	name         string
	activityType throttle.ActivityType
	activities   map[topology.ProcessIdentifier]*throttle.Activity
	destroyed    bool
	logger       *slog.Logger
}

// New acquires an activity of the given type for the page's primary
// process and every process hosting one of its remote pages, then
// registers with the page to follow later membership changes.
//
// If any acquisition fails, everything acquired so far is released,
// the registry is not registered, and the error is returned.
func New(page *topology.Page, name string, activityType throttle.ActivityType, options ...Option) (*Registry, error) {
	registry := &Registry{
		page:         page,
		name:         name,
		activityType: activityType,
		activities:   make(map[topology.ProcessIdentifier]*throttle.Activity),
		logger:       slog.Default(),
	}
	for _, option := range options {
		option(registry)
	}

	if page.Closed() {
		return nil, fmt.Errorf("creating %s activity registry for page %d: %w",
			name, page.Identifier(), topology.ErrPageClosed)
	}

	processes := []*topology.Process{page.PrimaryProcess()}
	page.ForEachRemotePage(func(remotePage *topology.RemotePage) {
		processes = append(processes, remotePage.Process())
	})

	for _, process := range processes {
		if _, exists := registry.activities[process.Identifier()]; exists {
			continue
		}
		activity, err := registry.acquire(process)
		if err != nil {
			registry.releaseAll()
			return nil, fmt.Errorf("creating %s activity registry for page %d: %w",
				name, page.Identifier(), err)
		}
		registry.activities[process.Identifier()] = activity
	}

	page.AddObserver(registry)
	registry.logger.Debug("activity registry created",
		"page", page.Identifier(),
		"activity", name,
		"type", activityType,
		"processes", len(registry.activities),
	)
	return registry, nil
}

// Name returns the activity name used for every keep-alive.
func (registry *Registry) Name() string { return registry.name }

// Type returns the priority class applied to every keep-alive.
func (registry *Registry) Type() throttle.ActivityType { return registry.activityType }

// Len returns the number of processes currently kept alive.
func (registry *Registry) Len() int { return len(registry.activities) }

// Holds reports whether the registry holds a keep-alive for the
// process.
func (registry *Registry) Holds(identifier topology.ProcessIdentifier) bool {
	_, exists := registry.activities[identifier]
	return exists
}

// Processes returns the identifiers of all kept-alive processes in
// ascending order.
func (registry *Registry) Processes() []topology.ProcessIdentifier {
	identifiers := make([]topology.ProcessIdentifier, 0, len(registry.activities))
	for identifier := range registry.activities {
		identifiers = append(identifiers, identifier)
	}
	slices.Sort(identifiers)
	return identifiers
}

// AddProcess keeps the process alive. If the process already has a
// keep-alive, a new one is acquired first and the old one released
// afterwards, so the process is never left unprotected. If acquisition
// fails the existing entry (if any) is kept and the error returned.
func (registry *Registry) AddProcess(process *topology.Process) error {
	if registry.destroyed {
		return fmt.Errorf("adding %s to %s registry: %w", process.Identifier(), registry.name, ErrRegistryDestroyed)
	}
	activity, err := registry.acquire(process)
	if err != nil {
		return fmt.Errorf("adding %s to %s registry: %w", process.Identifier(), registry.name, err)
	}
	previous := registry.activities[process.Identifier()]
	registry.activities[process.Identifier()] = activity
	if previous != nil {
		previous.Release()
	}
	return nil
}

// RemoveProcess releases the keep-alive for the process. Removing a
// process the registry does not hold is a no-op.
func (registry *Registry) RemoveProcess(identifier topology.ProcessIdentifier) {
	activity, exists := registry.activities[identifier]
	if !exists {
		return
	}
	delete(registry.activities, identifier)
	activity.Release()
}

// Destroy releases every keep-alive and unregisters from the page.
// Destroy is idempotent.
func (registry *Registry) Destroy() {
	if registry.destroyed {
		return
	}
	registry.destroyed = true
	registry.page.RemoveObserver(registry)
	released := len(registry.activities)
	registry.releaseAll()
	registry.logger.Debug("activity registry destroyed",
		"page", registry.page.Identifier(),
		"activity", registry.name,
		"released", released,
	)
}

// RemotePageAdded implements topology.PageObserver.
func (registry *Registry) RemotePageAdded(remotePage *topology.RemotePage) error {
	return registry.AddProcess(remotePage.Process())
}

// RemotePageRemoved implements topology.PageObserver.
func (registry *Registry) RemotePageRemoved(remotePage *topology.RemotePage) {
	registry.RemoveProcess(remotePage.Process().Identifier())
}

// PageClosed implements topology.PageObserver.
func (registry *Registry) PageClosed() {
	registry.Destroy()
}

func (registry *Registry) acquire(process *topology.Process) (*throttle.Activity, error) {
	return process.Throttler().Acquire(registry.name, registry.activityType)
}

func (registry *Registry) releaseAll() {
	for identifier, activity := range registry.activities {
		activity.Release()
		delete(registry.activities, identifier)
	}
}
