package coro

import (
	"testing"

	"defs"
)

func alwaysAlive(defs.Pid_t) bool { return true }

func TestStartRunsTaskToCompletion(t *testing.T) {
	s := NewScheduler(4)
	ran := false
	id, err := s.Start(func(pid defs.Pid_t, arg interface{}) {
		ran = true
	}, 1, nil)
	if err != 0 {
		t.Fatalf("Start: %v", err)
	}
	if !ran {
		t.Fatalf("task did not run")
	}
	if s.Active() != 0 {
		t.Fatalf("slot %d should have been cleaned up, active=%d", id, s.Active())
	}
}

func TestYieldAndResume(t *testing.T) {
	s := NewScheduler(4)
	progress := make(chan string, 4)

	id, err := s.Start(func(pid defs.Pid_t, arg interface{}) {
		progress <- "before-yield"
		s.Yield(pid, alwaysAlive)
		progress <- "after-yield"
	}, 7, nil)
	if err != 0 {
		t.Fatalf("Start: %v", err)
	}
	if got := <-progress; got != "before-yield" {
		t.Fatalf("got %q", got)
	}
	if s.Active() != 1 {
		t.Fatalf("coroutine should still occupy its slot while yielded")
	}

	s.SetResume(id)
	s.Resume()

	if got := <-progress; got != "after-yield" {
		t.Fatalf("got %q", got)
	}
	if s.Active() != 0 {
		t.Fatalf("slot should be freed after the task returns")
	}
}

func TestYieldAbortsWhenProcessDestroyed(t *testing.T) {
	s := NewScheduler(4)
	reachedAfterYield := false

	id, _ := s.Start(func(pid defs.Pid_t, arg interface{}) {
		s.Yield(pid, func(defs.Pid_t) bool { return false })
		reachedAfterYield = true
	}, 3, nil)

	s.SetResume(id)
	s.Resume()

	if reachedAfterYield {
		t.Fatalf("task should never resume past a Yield whose process died")
	}
	if s.Active() != 0 {
		t.Fatalf("slot should be cleaned up after the abort")
	}
}

func TestExhaustingSlotsFails(t *testing.T) {
	s := NewScheduler(1)

	id, _ := s.Start(func(pid defs.Pid_t, arg interface{}) {
		// Yield once to simulate blocking on I/O, handing control back
		// to the dispatcher while still occupying the only slot.
		s.Yield(pid, alwaysAlive)
	}, 1, nil)

	if _, err := s.Start(func(defs.Pid_t, interface{}) {}, 2, nil); err != defs.ENO_MEMORY {
		t.Fatalf("expected ENO_MEMORY with no free slots, got %v", err)
	}

	s.SetResume(id)
	s.Resume()

	if s.Active() != 0 {
		t.Fatalf("slot should be free once the only coroutine finishes")
	}
}
