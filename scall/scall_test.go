package scall

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

type testEnv struct {
	s     *Server
	procs *proc.Table_t
	sched *coro.Scheduler
	space kcap.Space
	oft   *vfs.OFT
}

func newTestEnv(t *testing.T) (*testEnv, *proc.Pcb_t) {
	t.Helper()
	space := kcap.NewDefaultSpace()
	swapfile := vfs.NewMemFile()
	freelist := swap.NewFreelist(vfs.NewMemFile())
	oft := vfs.NewOFT()
	devices := vfs.NewRegistry()
	procs := proc.NewTable(limits.MaxProcesses)
	sched := coro.NewScheduler(limits.MaxProcesses)

	hooks := make(map[defs.Pid_t]*vm.Vm_t)
	ft := mem.NewFrametable(256, space, swapfile, freelist, hookTable(hooks), sched)
	newAs := func(pid defs.Pid_t) (*vm.Vm_t, defs.Err_t) {
		as, err := vm.NewVm(pid, ft, space, freelist, oft, procs.Alive)
		if err == 0 {
			hooks[pid] = as
		}
		return as, err
	}

	console := vfs.NewConsole(256)
	devices.Add("/dev/console", func(path string) vfs.Vnode_i { return console })

	srv := NewServer(procs, oft, devices, sched, space, newAs)
	pcb, err := procs.Create("init", defs.NoPid, newAs, space)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}
	return &testEnv{s: srv, procs: procs, sched: sched, space: space, oft: oft}, pcb
}

type hookTable map[defs.Pid_t]*vm.Vm_t

func (h hookTable) Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t {
	as, ok := h[pid]
	if !ok {
		return defs.ENOT_FOUND
	}
	return as.Evict(pid, vaddr, swapIndex)
}

func TestProcessIdReturnsCaller(t *testing.T) {
	env, pcb := newTestEnv(t)
	r := env.s.Dispatch(pcb.Pid, [4]uint64{uint64(defs.SYS_PROCESS_ID)})
	if r.Val != int64(pcb.Pid) {
		t.Fatalf("got %d, want %d", r.Val, pcb.Pid)
	}
}

func TestUnknownSyscallReturnsMinusOne(t *testing.T) {
	env, pcb := newTestEnv(t)
	r := env.s.Dispatch(pcb.Pid, [4]uint64{99})
	if r.Val != -1 {
		t.Fatalf("got %d, want -1", r.Val)
	}
}

func TestDispatchForDeadPidReturnsMinusOne(t *testing.T) {
	env, _ := newTestEnv(t)
	r := env.s.Dispatch(defs.Pid_t(200), [4]uint64{uint64(defs.SYS_PROCESS_ID)})
	if r.Val != -1 {
		t.Fatalf("got %d, want -1", r.Val)
	}
}

func TestProcessWaitOnNoChildrenFailsImmediately(t *testing.T) {
	env, pcb := newTestEnv(t)
	r := env.s.Dispatch(pcb.Pid, [4]uint64{uint64(defs.SYS_PROCESS_WAIT), uint64(defs.AnyPid)})
	if r.Val != -1 {
		t.Fatalf("got %d, want -1", r.Val)
	}
}

func TestProcessDeleteSelfSignalsDispatcher(t *testing.T) {
	env, pcb := newTestEnv(t)

	r := env.s.Dispatch(pcb.Pid, [4]uint64{uint64(defs.SYS_PROCESS_DELETE), uint64(pcb.Pid)})
	if !r.SelfDestruct {
		t.Fatalf("process_delete(self) should signal SelfDestruct")
	}
	if r.Val != 0 {
		t.Fatalf("got %d, want 0", r.Val)
	}
}

func TestCloseUnopenedFdFails(t *testing.T) {
	env, pcb := newTestEnv(t)
	r := env.s.Dispatch(pcb.Pid, [4]uint64{uint64(defs.SYS_CLOSE), 3})
	if r.Val != -1 {
		t.Fatalf("got %d, want -1", r.Val)
	}
}
