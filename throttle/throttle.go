// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrProcessExited is returned when acquiring an activity for a
	// process that has already exited.
	ErrProcessExited = errors.New("throttle: process has exited")

	// ErrActivityLimit is returned when the per-process activity limit
	// is reached.
	ErrActivityLimit = errors.New("throttle: activity limit reached")
)

// ActivityType is the priority class of an activity.
type ActivityType int

const (
	// Foreground activities keep the process at full scheduling
	// priority.
	Foreground ActivityType = iota
	// Background activities keep the process alive but allow it to be
	// deprioritized.
	Background
)

// String returns the lowercase name of the activity type.
func (activityType ActivityType) String() string {
	switch activityType {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("unknown(%d)", int(activityType))
	}
}

// ParseActivityType parses "foreground" or "background".
func ParseActivityType(name string) (ActivityType, error) {
	switch name {
	case "foreground":
		return Foreground, nil
	case "background":
		return Background, nil
	default:
		return 0, fmt.Errorf("unknown activity type %q (want foreground or background)", name)
	}
}

// State is the scheduling state a throttler derives from its held
// activities.
type State int

const (
	// StateSuspendable means no activity is held and the process may be
	// suspended or reclaimed.
	StateSuspendable State = iota
	// StateBackground means only background activities are held.
	StateBackground
	// StateForeground means at least one foreground activity is held.
	StateForeground
)

// String returns the lowercase name of the state.
func (state State) String() string {
	switch state {
	case StateSuspendable:
		return "suspendable"
	case StateBackground:
		return "background"
	case StateForeground:
		return "foreground"
	default:
		return fmt.Sprintf("unknown(%d)", int(state))
	}
}

// StateFunc observes throttler state transitions. It is called with
// the throttler's lock released, in transition order.
type StateFunc func(process string, from, to State)

// Option configures a Throttler.
type Option func(*Throttler)

// WithLogger sets the logger used for acquire/release tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(throttler *Throttler) {
		throttler.logger = logger
	}
}

// WithActivityLimit caps the number of simultaneously held activities.
// Zero means unlimited.
func WithActivityLimit(limit int) Option {
	return func(throttler *Throttler) {
		throttler.limit = limit
	}
}

// WithStateFunc registers an observer for state transitions.
func WithStateFunc(observer StateFunc) Option {
	return func(throttler *Throttler) {
		throttler.onState = observer
	}
}

// Throttler tracks the activities held against one process.
type Throttler struct {
	process string
	logger  *slog.Logger
	limit   int
	onState StateFunc

	// notifyMu serializes state notifications so observers see
	// transitions in order even when activities are released from
	// several goroutines.
	notifyMu sync.Mutex

	mu         sync.Mutex
	foreground int
	background int
	exited     bool
	state      State
}

// New creates a throttler for the named process. The name appears in
// logs and state notifications only.
func New(process string, options ...Option) *Throttler {
	throttler := &Throttler{
		process: process,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(throttler)
	}
	return throttler
}

// ForegroundActivity acquires a foreground activity with the given
// name.
func (throttler *Throttler) ForegroundActivity(name string) (*Activity, error) {
	return throttler.acquire(name, Foreground)
}

// BackgroundActivity acquires a background activity with the given
// name.
func (throttler *Throttler) BackgroundActivity(name string) (*Activity, error) {
	return throttler.acquire(name, Background)
}

// Acquire acquires an activity of the given type.
func (throttler *Throttler) Acquire(name string, activityType ActivityType) (*Activity, error) {
	return throttler.acquire(name, activityType)
}

func (throttler *Throttler) acquire(name string, activityType ActivityType) (*Activity, error) {
	if activityType != Foreground && activityType != Background {
		return nil, fmt.Errorf("throttle: acquiring %q: invalid activity type %d", name, int(activityType))
	}

	throttler.notifyMu.Lock()
	defer throttler.notifyMu.Unlock()

	throttler.mu.Lock()
	if throttler.exited {
		throttler.mu.Unlock()
		return nil, fmt.Errorf("acquiring %s activity %q for %s: %w", activityType, name, throttler.process, ErrProcessExited)
	}
	if throttler.limit > 0 && throttler.foreground+throttler.background >= throttler.limit {
		throttler.mu.Unlock()
		return nil, fmt.Errorf("acquiring %s activity %q for %s: %w (%d held)",
			activityType, name, throttler.process, ErrActivityLimit, throttler.limit)
	}
	if activityType == Foreground {
		throttler.foreground++
	} else {
		throttler.background++
	}
	from, to := throttler.updateStateLocked()
	throttler.mu.Unlock()

	throttler.logger.Debug("activity acquired",
		"process", throttler.process,
		"activity", name,
		"type", activityType,
	)
	throttler.notify(from, to)

	return &Activity{throttler: throttler, name: name, activityType: activityType}, nil
}

func (throttler *Throttler) release(activity *Activity) {
	throttler.notifyMu.Lock()
	defer throttler.notifyMu.Unlock()

	throttler.mu.Lock()
	if activity.activityType == Foreground {
		throttler.foreground--
	} else {
		throttler.background--
	}
	from, to := throttler.updateStateLocked()
	throttler.mu.Unlock()

	throttler.logger.Debug("activity released",
		"process", throttler.process,
		"activity", activity.name,
		"type", activity.activityType,
	)
	throttler.notify(from, to)
}

// updateStateLocked recomputes the state from the counters and returns
// the previous and new state. Caller must hold mu.
func (throttler *Throttler) updateStateLocked() (from, to State) {
	from = throttler.state
	switch {
	case throttler.foreground > 0:
		to = StateForeground
	case throttler.background > 0:
		to = StateBackground
	default:
		to = StateSuspendable
	}
	throttler.state = to
	return from, to
}

func (throttler *Throttler) notify(from, to State) {
	if from == to {
		return
	}
	throttler.logger.Debug("process state changed",
		"process", throttler.process,
		"from", from,
		"to", to,
	)
	if throttler.onState != nil {
		throttler.onState(throttler.process, from, to)
	}
}

// State returns the current derived state.
func (throttler *Throttler) State() State {
	throttler.mu.Lock()
	defer throttler.mu.Unlock()
	return throttler.state
}

// Counts returns the number of foreground and background activities
// currently held.
func (throttler *Throttler) Counts() (foreground, background int) {
	throttler.mu.Lock()
	defer throttler.mu.Unlock()
	return throttler.foreground, throttler.background
}

// ProcessExited marks the process as gone. Later acquisitions fail
// with ErrProcessExited. Activities already held stay valid until
// their owners release them, so bookkeeping stays balanced.
func (throttler *Throttler) ProcessExited() {
	throttler.mu.Lock()
	defer throttler.mu.Unlock()
	throttler.exited = true
}

// Activity is a held keep-alive. The process it was acquired from
// cannot become suspendable while any Activity of it is unreleased.
type Activity struct {
	throttler    *Throttler
	name         string
	activityType ActivityType
	released     atomic.Bool
}

// Name returns the name the activity was acquired with.
func (activity *Activity) Name() string { return activity.name }

// Type returns the activity's priority class.
func (activity *Activity) Type() ActivityType { return activity.activityType }

// Released reports whether Release has been called.
func (activity *Activity) Released() bool { return activity.released.Load() }

// Release drops the keep-alive. Calling Release more than once is a
// no-op.
func (activity *Activity) Release() {
	if !activity.released.CompareAndSwap(false, true) {
		return
	}
	activity.throttler.release(activity)
}
