// Command sosd is the server's process entry point: it wires the frame
// table, swap-index free list, address-space layer, coroutine scheduler,
// process table, VFS device registry, and syscall surface together behind
// a single dispatcher loop, mirroring the original's main.c initialization
// order (untyped allocator, frame table, swap file, process table, device
// registration, then the endpoint wait loop).
package main

import (
	"log"

	"coro"
	"defs"
	"dispatch"
	"kcap"
	"limits"
	"mem"
	"proc"
	"scall"
	"swap"
	"vfs"
	"vm"
)

// server bundles every component the dispatcher and syscall surface share,
// so main can wire them once and hand the pieces to dispatch.NewLoop and
// scall.NewServer.
type server struct {
	space    kcap.Space
	ft       *mem.Frametable_t
	freelist *swap.Freelist_t
	oft      *vfs.OFT
	devices  *vfs.Registry
	procs    *proc.Table_t
	sched    *coro.Scheduler
	scalls   *scall.Server
	console  *vfs.ConsoleVnode
}

// frameTableCapacity stands in for "size the table so its own storage plus
// the frames it tracks just fit in the physical memory window" (§4.1):
// a real build derives this from the untyped memory the kernel hands over
// at boot; this in-process stand-in just picks a fixed pool size.
const frameTableCapacity = 4096

func newServer() *server {
	space := kcap.NewDefaultSpace()
	swapfile := vfs.NewMemFile()
	freelist := swap.NewFreelist(vfs.NewMemFile())
	oft := vfs.NewOFT()
	devices := vfs.NewRegistry()
	procs := proc.NewTable(limits.MaxProcesses)
	sched := coro.NewScheduler(limits.MaxProcesses)

	s := &server{
		space:    space,
		freelist: freelist,
		oft:      oft,
		devices:  devices,
		procs:    procs,
		sched:    sched,
	}

	// mem.NewFrametable needs vm's AddrSpaceHook at construction, but
	// vm.NewVm needs the already-constructed frame table; resolve the
	// cycle the same way the package tests do, with a hook that looks the
	// owning address space up by pid once every process has one.
	hooks := make(map[defs.Pid_t]*vm.Vm_t)
	s.ft = mem.NewFrametable(frameTableCapacity, space, swapfile, freelist, procHook(hooks), sched)

	s.console = vfs.NewConsole(4096)
	devices.Add("/dev/console", func(path string) vfs.Vnode_i { return s.console })
	devices.Add("/dev/prof", func(path string) vfs.Vnode_i { return vfs.NewProfVnode(s.ft) })

	newAs := func(pid defs.Pid_t) (*vm.Vm_t, defs.Err_t) {
		as, err := vm.NewVm(pid, s.ft, space, freelist, oft, procs.Alive)
		if err == 0 {
			hooks[pid] = as
		}
		return as, err
	}

	s.scalls = scall.NewServer(procs, oft, devices, sched, space, newAs)
	return s
}

// procHook implements mem.AddrSpaceHook by dispatching eviction callbacks
// to whichever process's address space owns the evicted frame.
type procHook map[defs.Pid_t]*vm.Vm_t

func (h procHook) Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t {
	as, ok := h[pid]
	if !ok {
		return defs.ENOT_FOUND
	}
	return as.Evict(pid, vaddr, swapIndex)
}

func (s *server) handleFault(pid defs.Pid_t, vaddr uintptr) defs.Err_t {
	pcb, ok := s.procs.Get(pid)
	if !ok {
		return defs.ENOT_FOUND
	}
	if err := pcb.As.MapPage(vaddr); err != 0 {
		// §4.7: a client that faulted on memory the server cannot
		// service is killed, not merely replied to with an error.
		log.Printf("sosd: pid %d killed on unserviceable fault at %#x: %v", pid, vaddr, err)
		s.procs.Destroy(pid, s.sched, s.space)
		return err
	}
	return 0
}

func (s *server) handleSyscall(pid defs.Pid_t, msg dispatch.Msg) (int64, bool) {
	reply := s.scalls.Dispatch(pid, msg.Regs)
	return reply.Val, reply.SelfDestruct
}

func main() {
	s := newServer()
	ep := newChanEndpoint()

	loop := dispatch.NewLoop(ep, s.procs, s.sched, s.space)
	loop.OnFault(s.handleFault)
	loop.OnSyscall(s.handleSyscall)
	loop.OnIRQ(defs.IRQTimer, func(source uint64) {
		log.Printf("sosd: timer interrupt (out of scope, §1): dropping")
	})
	loop.OnIRQ(defs.IRQNetwork, func(source uint64) {
		log.Printf("sosd: network interrupt (out of scope, §1): dropping")
	})

	log.Printf("sosd: initialized, %d frames, %d process slots", frameTableCapacity, limits.MaxProcesses)

	// The server runs until the machine resets (§9 Design Notes): there is
	// no teardown path out of Run.
	if err := loop.Run(); err != 0 {
		log.Fatalf("sosd: endpoint wait failed: %v", err)
	}
}
