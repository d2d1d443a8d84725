// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package throttle

import (
	"errors"
	"sync"
	"testing"
)

func TestStateFollowsHeldActivities(t *testing.T) {
	t.Parallel()
	throttler := New("web-1")

	if state := throttler.State(); state != StateSuspendable {
		t.Fatalf("initial state = %s, want suspendable", state)
	}

	background, err := throttler.BackgroundActivity("audio")
	if err != nil {
		t.Fatalf("BackgroundActivity: %v", err)
	}
	if state := throttler.State(); state != StateBackground {
		t.Errorf("state with background held = %s, want background", state)
	}

	foreground, err := throttler.ForegroundActivity("loading")
	if err != nil {
		t.Fatalf("ForegroundActivity: %v", err)
	}
	if state := throttler.State(); state != StateForeground {
		t.Errorf("state with foreground held = %s, want foreground", state)
	}

	foreground.Release()
	if state := throttler.State(); state != StateBackground {
		t.Errorf("state after foreground release = %s, want background", state)
	}

	background.Release()
	if state := throttler.State(); state != StateSuspendable {
		t.Errorf("state after all released = %s, want suspendable", state)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	throttler := New("web-1")

	first, err := throttler.ForegroundActivity("a")
	if err != nil {
		t.Fatalf("ForegroundActivity: %v", err)
	}
	second, err := throttler.ForegroundActivity("b")
	if err != nil {
		t.Fatalf("ForegroundActivity: %v", err)
	}

	first.Release()
	first.Release()
	first.Release()

	foreground, background := throttler.Counts()
	if foreground != 1 || background != 0 {
		t.Errorf("counts = (%d, %d), want (1, 0)", foreground, background)
	}
	if !first.Released() {
		t.Error("first activity should report released")
	}
	if second.Released() {
		t.Error("second activity should not report released")
	}
}

func TestProcessExitedRejectsAcquisition(t *testing.T) {
	t.Parallel()
	throttler := New("web-1")

	held, err := throttler.BackgroundActivity("held")
	if err != nil {
		t.Fatalf("BackgroundActivity: %v", err)
	}

	throttler.ProcessExited()

	if _, err := throttler.ForegroundActivity("late"); !errors.Is(err, ErrProcessExited) {
		t.Fatalf("acquire after exit: err = %v, want ErrProcessExited", err)
	}

	// Already-held activities still balance out.
	held.Release()
	if foreground, background := throttler.Counts(); foreground != 0 || background != 0 {
		t.Errorf("counts after release = (%d, %d), want (0, 0)", foreground, background)
	}
}

func TestActivityLimit(t *testing.T) {
	t.Parallel()
	throttler := New("web-1", WithActivityLimit(2))

	first, err := throttler.ForegroundActivity("a")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := throttler.BackgroundActivity("b"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if _, err := throttler.ForegroundActivity("c"); !errors.Is(err, ErrActivityLimit) {
		t.Fatalf("third: err = %v, want ErrActivityLimit", err)
	}

	first.Release()
	if _, err := throttler.ForegroundActivity("c"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestStateFuncSeesTransitionsInOrder(t *testing.T) {
	t.Parallel()
	type transition struct{ from, to State }
	var transitions []transition
	throttler := New("web-1", WithStateFunc(func(process string, from, to State) {
		if process != "web-1" {
			t.Errorf("process = %q, want web-1", process)
		}
		transitions = append(transitions, transition{from, to})
	}))

	foreground, err := throttler.ForegroundActivity("a")
	if err != nil {
		t.Fatalf("ForegroundActivity: %v", err)
	}
	// A second foreground activity does not change state.
	extra, err := throttler.ForegroundActivity("b")
	if err != nil {
		t.Fatalf("ForegroundActivity: %v", err)
	}
	foreground.Release()
	extra.Release()

	want := []transition{
		{StateSuspendable, StateForeground},
		{StateForeground, StateSuspendable},
	}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions %v, want %v", len(transitions), transitions, want)
	}
	for index := range want {
		if transitions[index] != want[index] {
			t.Errorf("transition[%d] = %v, want %v", index, transitions[index], want[index])
		}
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()
	throttler := New("web-1")

	var group sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		group.Add(1)
		go func() {
			defer group.Done()
			for iteration := 0; iteration < 100; iteration++ {
				activity, err := throttler.Acquire("worker", ActivityType(iteration%2))
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				activity.Release()
			}
		}()
	}
	group.Wait()

	if state := throttler.State(); state != StateSuspendable {
		t.Errorf("final state = %s, want suspendable", state)
	}
}

func TestParseActivityType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input   string
		want    ActivityType
		wantErr bool
	}{
		{input: "foreground", want: Foreground},
		{input: "background", want: Background},
		{input: "Foreground", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, test := range tests {
		got, err := ParseActivityType(test.input)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseActivityType(%q): expected error", test.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseActivityType(%q): %v", test.input, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseActivityType(%q) = %s, want %s", test.input, got, test.want)
		}
	}
}
