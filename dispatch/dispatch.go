// Package dispatch implements the server's single event loop (§4.6): wait
// on one endpoint, route by badge and label, hand non-interrupt messages to
// a coroutine, and perform the dispatcher's own pending-resume/pending-
// cleanup bookkeeping around each wait.
package dispatch

import (
	"log"

	"coro"
	"defs"
	"kcap"
	"proc"
)

// Endpoint is the one thing the dispatcher needs from the kernel IPC
// boundary: block for the next message, and reply to one later. A
// production build backs this with seL4 Call/Reply; tests back it with an
// in-process channel.
type Endpoint interface {
	Wait() (Msg, defs.Err_t)
	Reply(replyCap uint64, regs [NumRegs]uint64)
}

// NumRegs bounds the message registers carried per message: a syscall
// number plus the widest ABI entry's argument count (§6: getdirent and
// write each take three arguments after the syscall number).
const NumRegs = 4

// Msg is one message received off the shared endpoint: a badge (client pid,
// or IRQBadge|source for interrupts), a label distinguishing fault/syscall/
// other, a reply capability, and the syscall number plus its arguments
// (message register 0 carries the syscall number per §6).
type Msg struct {
	Badge    uint64
	Label    defs.MessageLabel
	ReplyCap uint64
	Regs     [NumRegs]uint64
}

// FaultHandler resolves a page fault for pid at the faulting address,
// returning the error (0 on success) the dispatcher should report back to
// the client. It does not reply itself: dispatch() owns the reply
// capability and sends the reply once the handler returns, so a handler
// that itself yields mid-resolution (e.g. on a swap-in) still gets its
// reply sent exactly once, after it actually finishes.
type FaultHandler func(pid defs.Pid_t, vaddr uintptr) defs.Err_t

// SyscallHandler runs the syscall keyed by msg.Regs[0] for pid and returns
// its result value plus whether the process asked to destroy itself
// (process_delete of self), so the dispatcher can reply and tear it down
// on return.
type SyscallHandler func(pid defs.Pid_t, msg Msg) (val int64, selfDestruct bool)

// IRQHandler services one interrupt source (network or timer).
type IRQHandler func(source uint64)

// Loop is the dispatcher (§4.6). It owns no state of its own beyond the
// wiring needed to route a message: the process table (to resolve a badge
// to a PCB) and the coroutine scheduler (to run handlers off the main
// thread of control).
type Loop struct {
	ep    Endpoint
	procs *proc.Table_t
	sched *coro.Scheduler
	space kcap.Space

	onFault   FaultHandler
	onSyscall SyscallHandler
	onIRQ     map[uint64]IRQHandler
}

// NewLoop wires a dispatcher against its endpoint, process table,
// coroutine scheduler, and capability space (needed to tear down a
// self-destructing process's kernel handles). Handlers are registered
// afterward via OnFault, OnSyscall, and OnIRQ.
func NewLoop(ep Endpoint, procs *proc.Table_t, sched *coro.Scheduler, space kcap.Space) *Loop {
	return &Loop{
		ep:    ep,
		procs: procs,
		sched: sched,
		space: space,
		onIRQ: make(map[uint64]IRQHandler),
	}
}

func (l *Loop) OnFault(h FaultHandler)       { l.onFault = h }
func (l *Loop) OnSyscall(h SyscallHandler)   { l.onSyscall = h }
func (l *Loop) OnIRQ(source uint64, h IRQHandler) {
	l.onIRQ[source] = h
}

// Run executes the dispatcher loop until the endpoint reports a fatal
// error. Each iteration performs pending cleanup and pending resume before
// waiting again, matching §4.6's "after setting the reentry point for
// coroutine yield" ordering.
func (l *Loop) Run() defs.Err_t {
	for {
		l.sched.Cleanup()
		l.sched.Resume()

		msg, err := l.ep.Wait()
		if err != 0 {
			return err
		}
		l.dispatch(msg)
	}
}

// Step runs exactly one iteration of the loop body, for tests that drive
// the endpoint by hand instead of looping forever.
func (l *Loop) Step() defs.Err_t {
	l.sched.Cleanup()
	l.sched.Resume()

	msg, err := l.ep.Wait()
	if err != 0 {
		return err
	}
	l.dispatch(msg)
	return 0
}

func (l *Loop) dispatch(msg Msg) {
	if msg.Badge&defs.IRQBadge != 0 {
		source := msg.Badge &^ defs.IRQBadge
		if h, ok := l.onIRQ[source]; ok {
			h(source)
		} else {
			log.Printf("dispatch: dropping interrupt from unknown source %d", source)
		}
		return
	}

	pid := defs.Pid_t(msg.Badge)
	if _, ok := l.procs.Get(pid); !ok {
		log.Printf("dispatch: dropping message for unknown pid %d", pid)
		return
	}

	switch msg.Label {
	case defs.LabelPageFault:
		vaddr := uintptr(msg.Regs[0])
		replyCap := msg.ReplyCap
		l.sched.Start(func(p defs.Pid_t, arg interface{}) {
			err := l.onFault(p, vaddr)
			var regs [NumRegs]uint64
			regs[0] = uint64(err)
			l.ep.Reply(replyCap, regs)
		}, pid, nil)

	case defs.LabelSyscall:
		replyCap := msg.ReplyCap
		l.sched.Start(func(p defs.Pid_t, arg interface{}) {
			val, selfDestruct := l.onSyscall(p, msg)
			var regs [NumRegs]uint64
			regs[0] = uint64(val)
			l.ep.Reply(replyCap, regs)
			if selfDestruct {
				l.procs.Destroy(p, l.sched, l.space)
			}
		}, pid, nil)

	default:
		log.Printf("dispatch: dropping message with unknown label %v for pid %d", msg.Label, pid)
	}
}
