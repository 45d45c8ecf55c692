package dispatch

import (
	"testing"

	"coro"
	"defs"
	"kcap"
	"limits"
	"mem"
	"proc"
	"swap"
	"vfs"
	"vm"
)

// fakeEndpoint replays a fixed script of messages, one per Wait call, then
// reports an IO error to stop the loop.
type fakeEndpoint struct {
	msgs   []Msg
	i      int
	replies []uint64
	vals    []uint64
}

func (f *fakeEndpoint) Wait() (Msg, defs.Err_t) {
	if f.i >= len(f.msgs) {
		return Msg{}, defs.EIO_ERROR
	}
	m := f.msgs[f.i]
	f.i++
	return m, 0
}

func (f *fakeEndpoint) Reply(replyCap uint64, regs [NumRegs]uint64) {
	f.replies = append(f.replies, replyCap)
	f.vals = append(f.vals, regs[0])
}

func newTestLoop(t *testing.T, msgs []Msg) (*Loop, *fakeEndpoint, *proc.Table_t) {
	t.Helper()
	space := kcap.NewDefaultSpace()
	procs := proc.NewTable(limits.MaxProcesses)
	sched := coro.NewScheduler(limits.MaxProcesses)
	ep := &fakeEndpoint{msgs: msgs}
	return NewLoop(ep, procs, sched, space), ep, procs
}

func TestUnknownPidIsDropped(t *testing.T) {
	loop, ep, _ := newTestLoop(t, []Msg{
		{Badge: 99, Label: defs.LabelPageFault},
	})
	faultCalled := false
	loop.OnFault(func(defs.Pid_t, uintptr) defs.Err_t { faultCalled = true; return 0 })
	loop.OnSyscall(func(defs.Pid_t, Msg) (int64, bool) { return 0, false })

	if err := loop.Step(); err != 0 {
		t.Fatalf("Step: %v", err)
	}
	if faultCalled {
		t.Fatalf("fault handler should not run for an unknown pid")
	}
	_ = ep
}

func TestInterruptRoutesByLowBadgeBits(t *testing.T) {
	loop, _, _ := newTestLoop(t, []Msg{
		{Badge: defs.IRQBadge | defs.IRQTimer},
	})
	var got uint64 = 999
	loop.OnIRQ(defs.IRQTimer, func(source uint64) { got = source })
	loop.OnSyscall(func(defs.Pid_t, Msg) (int64, bool) { return 0, false })

	if err := loop.Step(); err != 0 {
		t.Fatalf("Step: %v", err)
	}
	if got != defs.IRQTimer {
		t.Fatalf("got source %d, want %d", got, defs.IRQTimer)
	}
}

// Self-destruct teardown itself exercises proc.Table_t.Destroy, already
// covered by proc's own tests (TestDestroyReparentsChildren et al); here
// we only check the routing decision: a message for a pid with no live
// PCB never reaches the syscall handler.
func TestSyscallForUnknownPidNeverReachesHandler(t *testing.T) {
	loop, _, _ := newTestLoop(t, []Msg{{Badge: 0, Label: defs.LabelSyscall}})
	called := false
	loop.OnSyscall(func(defs.Pid_t, Msg) (int64, bool) { called = true; return 0, false })
	if err := loop.Step(); err != 0 {
		t.Fatalf("Step: %v", err)
	}
	if called {
		t.Fatalf("syscall handler should not run: pid 0 has no PCB in an empty table")
	}
}

// TestSyscallReplyCarriesReturnValue exercises dispatch()'s actual wiring
// of a handler's return value onto Endpoint.Reply, the gap the process_wait
// hang was traced to: a handler that returns a value must see that value
// land in the replied registers, not just in an unread Dispatch result.
func TestSyscallReplyCarriesReturnValue(t *testing.T) {
	space := kcap.NewDefaultSpace()
	swapfile := vfs.NewMemFile()
	freelist := swap.NewFreelist(vfs.NewMemFile())
	oft := vfs.NewOFT()
	procs := proc.NewTable(limits.MaxProcesses)
	sched := coro.NewScheduler(limits.MaxProcesses)

	hooks := make(map[defs.Pid_t]*vm.Vm_t)
	ft := mem.NewFrametable(64, space, swapfile, freelist, hookTable(hooks), sched)
	newAs := func(pid defs.Pid_t) (*vm.Vm_t, defs.Err_t) {
		as, err := vm.NewVm(pid, ft, space, freelist, oft, procs.Alive)
		if err == 0 {
			hooks[pid] = as
		}
		return as, err
	}
	pcb, err := procs.Create("init", defs.NoPid, newAs, space)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}

	ep := &fakeEndpoint{msgs: []Msg{{Badge: uint64(pcb.Pid), Label: defs.LabelSyscall, ReplyCap: 42}}}
	loop := NewLoop(ep, procs, sched, space)
	loop.OnFault(func(defs.Pid_t, uintptr) defs.Err_t { return 0 })
	loop.OnSyscall(func(defs.Pid_t, Msg) (int64, bool) { return 7, false })

	if err := loop.Step(); err != 0 {
		t.Fatalf("Step: %v", err)
	}
	if len(ep.replies) != 1 || ep.replies[0] != 42 {
		t.Fatalf("expected one reply on cap 42, got %v", ep.replies)
	}
	if len(ep.vals) != 1 || ep.vals[0] != 7 {
		t.Fatalf("expected the reply to carry value 7, got %v", ep.vals)
	}
}

type hookTable map[defs.Pid_t]*vm.Vm_t

func (h hookTable) Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t {
	as, ok := h[pid]
	if !ok {
		return defs.ENOT_FOUND
	}
	return as.Evict(pid, vaddr, swapIndex)
}
