// Package coro implements the cooperative coroutine scheduler of §4.4 as
// a fixed-size green-thread pool: each slot is backed by a goroutine, and
// control passes between exactly one running coroutine and the
// dispatcher at a time via unbuffered channel handoffs, never by true
// concurrent execution. §9 Design Notes sanctions this approach directly
// in place of the original's setjmp/longjmp stackful coroutines, so long
// as the single-yield-point and cancel-at-yield-boundary contracts hold.
package coro

import (
	"sync"

	"defs"
)

// Task is the body of one handler invocation, run on its own coroutine
// slot. It must call Yield at its one blocking point (if any). If the
// owning process is gone when the task is resumed, Yield does not return:
// it unwinds the task's stack instead.
type Task func(pid defs.Pid_t, arg interface{})

// abortSignal is panicked by Yield when the owning process was destroyed
// while the coroutine was suspended; it is the stand-in for the
// original's longjmp-away-from-the-task, recovered by the goroutine
// wrapper that invoked the task.
type abortSignal struct{}

type coroutine struct {
	resumeCh chan struct{}
	done     bool
}

// Scheduler is the fixed pool of coroutine slots (§4.4).
type Scheduler struct {
	mu          sync.Mutex
	slots       []*coroutine
	free        []int
	current     int
	nextResume  int
	nextCleanup int

	yielded chan int
}

// NewScheduler returns a scheduler with n slots, all free.
func NewScheduler(n int) *Scheduler {
	s := &Scheduler{
		slots:       make([]*coroutine, n),
		free:        make([]int, n),
		nextResume:  -1,
		nextCleanup: -1,
		yielded:     make(chan int),
	}
	for i := 0; i < n; i++ {
		s.free[i] = n - 1 - i
	}
	return s
}

// Start picks a free slot, launches task on it, and blocks the calling
// (dispatcher) goroutine until the new coroutine either yields or
// completes — exactly the point at which the original's
// start_coroutine/longjmp pair hands control back to the syscall loop.
func (s *Scheduler) Start(task Task, pid defs.Pid_t, arg interface{}) (int, defs.Err_t) {
	s.mu.Lock()
	if len(s.free) == 0 {
		s.mu.Unlock()
		return -1, defs.ENO_MEMORY
	}
	id := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	co := &coroutine{resumeCh: make(chan struct{})}
	s.slots[id] = co
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(abortSignal); !ok {
					panic(r)
				}
			}
			s.mu.Lock()
			co.done = true
			s.mu.Unlock()
			s.yielded <- id
		}()
		s.mu.Lock()
		s.current = id
		s.mu.Unlock()
		task(pid, arg)
	}()

	<-s.yielded
	if co.done {
		s.SetCleanup(id)
		s.Cleanup()
	}
	return id, 0
}

// Yield suspends the calling coroutine and transfers control back to
// whichever goroutine is waiting on it (the dispatcher, via Start or
// Resume), then blocks until it is scheduled again. On resume, alive is
// consulted with pid (re-reading process liveness from the process
// table by the id captured at suspend time, per §4.4): if the process
// was destroyed in the interim, Yield marks its own slot for cleanup and
// panics with abortSignal instead of returning, so the goroutine wrapper
// unwinds the task's whole call stack rather than letting it continue to
// run against a process table entry that no longer exists.
func (s *Scheduler) Yield(pid defs.Pid_t, alive func(defs.Pid_t) bool) {
	s.mu.Lock()
	id := s.current
	co := s.slots[id]
	s.mu.Unlock()

	s.yielded <- id
	<-co.resumeCh

	if !alive(pid) {
		s.mu.Lock()
		s.nextCleanup = id
		s.mu.Unlock()
		panic(abortSignal{})
	}
}

// CurrentID returns the slot id of whichever coroutine is presently
// running. A Task calls this to learn its own id — e.g. to record it on
// a PCB before yielding, so something else can SetResume it later.
func (s *Scheduler) CurrentID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetResume records which slot the dispatcher should jump to before it
// next waits on the endpoint.
func (s *Scheduler) SetResume(id int) {
	s.mu.Lock()
	s.nextResume = id
	s.mu.Unlock()
}

// Resume jumps to the slot set by SetResume, if any, and blocks the
// caller until that coroutine yields or completes again.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.nextResume == -1 {
		s.mu.Unlock()
		return
	}
	id := s.nextResume
	s.nextResume = -1
	s.current = id
	co := s.slots[id]
	s.mu.Unlock()

	co.resumeCh <- struct{}{}
	res := <-s.yielded
	_ = res

	s.mu.Lock()
	done := co.done
	s.mu.Unlock()
	if done {
		s.SetCleanup(id)
		s.Cleanup()
	}
}

// SetCleanup marks a slot for deferred release.
func (s *Scheduler) SetCleanup(id int) {
	s.mu.Lock()
	s.nextCleanup = id
	s.mu.Unlock()
}

// Cleanup releases the slot marked by SetCleanup, if any, returning it
// to the free list. Called from safe points in the dispatcher.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextCleanup == -1 {
		return
	}
	id := s.nextCleanup
	s.nextCleanup = -1
	s.slots[id] = nil
	s.free = append(s.free, id)
}

// Active reports how many slots are currently in use, for tests.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - len(s.free)
}
