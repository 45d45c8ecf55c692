// Package scall implements the client system-call ABI (§6): argument
// validation, user-pointer copying through the faulting process's address
// space, and reply-register assembly for each of the fourteen entries.
package scall

import (
	"time"

	"coro"
	"defs"
	"kcap"
	"limits"
	"proc"
	"ustr"
	"vfs"
	"vm"
)

// Reply is a syscall's outcome: Val is the value the dispatcher sends back
// in the first reply register (-1 on failure, §7), and SelfDestruct tells
// the dispatcher, not the client, that the caller asked to destroy itself.
type Reply struct {
	Val          int64
	SelfDestruct bool
}

// Server holds everything the syscall surface needs to resolve a request:
// the process table (to find the caller's PCB and address space), the
// global open-file table and device registry (to resolve paths), the
// coroutine scheduler (to suspend on process_wait), and the capability
// space (to spin up a new process's kernel handles on process_create).
type Server struct {
	procs    *proc.Table_t
	oft      *vfs.OFT
	devices  *vfs.Registry
	sched    *coro.Scheduler
	space kcap.Space
	boot  time.Time
	newAs func(pid defs.Pid_t) (*vm.Vm_t, defs.Err_t)
}

// NewServer wires a syscall surface against its collaborators. newAs
// builds a fresh address space for process_create, exactly as cmd/sosd
// wires vm.NewVm against the shared frame table and freelist.
func NewServer(procs *proc.Table_t, oft *vfs.OFT, devices *vfs.Registry, sched *coro.Scheduler, space kcap.Space, newAs func(defs.Pid_t) (*vm.Vm_t, defs.Err_t)) *Server {
	return &Server{
		procs:   procs,
		oft:     oft,
		devices: devices,
		sched:   sched,
		space:   space,
		boot:    time.Now(),
		newAs:   newAs,
	}
}

// Dispatch runs the syscall numbered regs[0] on behalf of pid. regs holds
// the syscall number followed by up to three argument registers, matching
// dispatch.Msg.Regs. It reports the reply to send and whether the process
// asked to destroy itself.
func (s *Server) Dispatch(pid defs.Pid_t, regs [4]uint64) Reply {
	pcb, ok := s.procs.Get(pid)
	if !ok {
		return Reply{Val: -1}
	}

	switch int(regs[0]) {
	case defs.SYS_WRITE:
		return s.write(pcb, int(regs[1]), uintptr(regs[2]), int(regs[3]))
	case defs.SYS_READ:
		return s.read(pcb, int(regs[1]), uintptr(regs[2]), int(regs[3]))
	case defs.SYS_OPEN:
		return s.open(pcb, uintptr(regs[1]), int(regs[2]))
	case defs.SYS_CLOSE:
		return s.close(pcb, int(regs[1]))
	case defs.SYS_BRK:
		return s.brk(pcb, uintptr(regs[1]))
	case defs.SYS_USLEEP:
		return s.usleep(pcb, regs[1])
	case defs.SYS_TIME_STAMP:
		return Reply{Val: time.Since(s.boot).Microseconds()}
	case defs.SYS_GETDIRENT:
		return s.getdirent(pcb, int(regs[1]), uintptr(regs[2]), int(regs[3]))
	case defs.SYS_STAT:
		return s.stat(pcb, uintptr(regs[1]), uintptr(regs[2]))
	case defs.SYS_PROCESS_CREATE:
		return s.processCreate(pcb, uintptr(regs[1]))
	case defs.SYS_PROCESS_DELETE:
		return s.processDelete(pcb, defs.Pid_t(regs[1]))
	case defs.SYS_PROCESS_ID:
		return Reply{Val: int64(pcb.Pid)}
	case defs.SYS_PROCESS_WAIT:
		return s.processWait(pcb, defs.Pid_t(regs[1]))
	case defs.SYS_PROCESS_STATUS:
		return s.processStatus(pcb, uintptr(regs[1]), int(regs[2]))
	default:
		return Reply{Val: -1}
	}
}

func (s *Server) write(pcb *proc.Pcb_t, fd int, buf uintptr, n int) Reply {
	ofd, ok := pcb.As.ResolveFd(fd)
	if !ok {
		return Reply{Val: -1}
	}
	vn, mode, offset, ok := s.oft.Get(ofd)
	if !ok || mode&vfs.FM_WRITE == 0 {
		return Reply{Val: -1}
	}
	tmp := make([]uint8, n)
	got, err := pcb.As.CopyIn(buf, tmp)
	if err != 0 {
		return Reply{Val: -1}
	}
	uio := &vfs.Uio{Buf: tmp[:got], Offset: offset, Remaining: got}
	if err := vn.Write(uio); err != 0 {
		return Reply{Val: -1}
	}
	moved := got - uio.Remaining
	s.oft.Advance(ofd, moved)
	return Reply{Val: int64(moved)}
}

func (s *Server) read(pcb *proc.Pcb_t, fd int, buf uintptr, n int) Reply {
	ofd, ok := pcb.As.ResolveFd(fd)
	if !ok {
		return Reply{Val: -1}
	}
	vn, mode, offset, ok := s.oft.Get(ofd)
	if !ok || mode&vfs.FM_READ == 0 {
		return Reply{Val: -1}
	}
	tmp := make([]uint8, n)
	uio := &vfs.Uio{Buf: tmp, Offset: offset, Remaining: n}
	if err := vn.Read(uio); err != 0 {
		return Reply{Val: -1}
	}
	moved := n - uio.Remaining
	s.oft.Advance(ofd, moved)
	if _, err := pcb.As.CopyOut(buf, tmp[:moved]); err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: int64(moved)}
}

func (s *Server) open(pcb *proc.Pcb_t, pathPtr uintptr, mode int) Reply {
	raw, err := pcb.As.CopyInStr(pathPtr, limits.MaxPathLen)
	if err != 0 {
		return Reply{Val: -1}
	}
	path := pcb.Cwd.Canonicalpath(ustr.Ustr(raw))

	vn, isDevice := s.devices.Lookup(path.String())
	if !isDevice {
		return Reply{Val: -1} // regular-file open belongs to the NFS/ELF-backed store, out of scope here (§1)
	}
	if err := vn.Open(path.String(), mode); err != 0 {
		return Reply{Val: -1}
	}
	ofd, err := s.oft.Alloc(vn, mode)
	if err != 0 {
		return Reply{Val: -1}
	}
	fd, err := pcb.As.AllocFd(ofd)
	if err != 0 {
		s.oft.Unref(ofd)
		return Reply{Val: -1}
	}
	return Reply{Val: int64(fd)}
}

func (s *Server) close(pcb *proc.Pcb_t, fd int) Reply {
	ofd, err := pcb.As.CloseFd(fd)
	if err != 0 {
		return Reply{Val: -1}
	}
	if _, err := s.oft.Unref(ofd); err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: 0}
}

func (s *Server) brk(pcb *proc.Pcb_t, newBrk uintptr) Reply {
	if err := pcb.As.Brk(newBrk); err != 0 {
		return Reply{Val: 1}
	}
	return Reply{Val: 0}
}

// usleep replies 0 at once. The timer that would delay the reply is
// external (§1 scope boundary) and is not wired in here, so the caller is
// not put to sleep and micros is not examined.
func (s *Server) usleep(pcb *proc.Pcb_t, micros uint64) Reply {
	return Reply{Val: 0}
}

func (s *Server) getdirent(pcb *proc.Pcb_t, fd int, buf uintptr, n int) Reply {
	ofd, ok := pcb.As.ResolveFd(fd)
	if !ok {
		return Reply{Val: -1}
	}
	vn, _, offset, ok := s.oft.Get(ofd)
	if !ok {
		return Reply{Val: -1}
	}
	ent, more, err := vn.Getdirent(int(offset))
	if err != 0 {
		return Reply{Val: -1}
	}
	if !more {
		return Reply{Val: 0}
	}
	name := []uint8(ent.Name)
	if len(name) > n {
		name = name[:n]
	}
	if _, err := pcb.As.CopyOut(buf, name); err != 0 {
		return Reply{Val: -1}
	}
	s.oft.Advance(ofd, 1)
	return Reply{Val: int64(len(name))}
}

func (s *Server) stat(pcb *proc.Pcb_t, pathPtr, bufPtr uintptr) Reply {
	raw, err := pcb.As.CopyInStr(pathPtr, limits.MaxPathLen)
	if err != 0 {
		return Reply{Val: -1}
	}
	path := pcb.Cwd.Canonicalpath(ustr.Ustr(raw))
	vn, ok := s.devices.Lookup(path.String())
	if !ok {
		return Reply{Val: -1}
	}
	size, mode, serr := vn.Stat()
	if serr != 0 {
		return Reply{Val: -1}
	}
	var packed [12]uint8
	for i := 0; i < 8; i++ {
		packed[i] = uint8(size >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		packed[8+i] = uint8(mode >> (8 * i))
	}
	if _, err := pcb.As.CopyOut(bufPtr, packed[:]); err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: 0}
}

func (s *Server) processCreate(pcb *proc.Pcb_t, pathPtr uintptr) Reply {
	_, err := pcb.As.CopyInStr(pathPtr, limits.MaxPathLen)
	if err != 0 {
		return Reply{Val: -1}
	}
	child, err := s.procs.Create("child", pcb.Pid, s.newAs, s.space)
	if err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: int64(child.Pid)}
}

func (s *Server) processDelete(pcb *proc.Pcb_t, target defs.Pid_t) Reply {
	if target == pcb.Pid {
		// A process destroying itself cannot be torn down from inside its
		// own syscall handler (its coroutine stack lives in the address
		// space about to be freed); the dispatcher completes the teardown
		// after this coroutine returns (§4.6).
		return Reply{Val: 0, SelfDestruct: true}
	}
	victim, ok := s.procs.Get(target)
	if !ok || victim.Parent != pcb.Pid {
		return Reply{Val: -1}
	}
	if err := s.procs.Destroy(target, s.sched, s.space); err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: 0}
}

func (s *Server) processWait(pcb *proc.Pcb_t, target defs.Pid_t) Reply {
	if target != defs.AnyPid {
		if victim, ok := s.procs.Get(target); !ok || victim.Parent != pcb.Pid {
			return Reply{Val: -1}
		}
	}
	hasChild := false
	for pid := defs.Pid_t(0); int(pid) < limits.MaxProcesses; pid++ {
		if p, ok := s.procs.Get(pid); ok && p.Parent == pcb.Pid {
			hasChild = true
			break
		}
	}
	if !hasChild && target == defs.AnyPid {
		return Reply{Val: -1}
	}

	s.procs.SetWait(pcb.Pid, target)
	s.procs.SetCoroutine(pcb.Pid, s.sched.CurrentID())
	s.sched.Yield(pcb.Pid, s.procs.Alive)
	s.procs.SetCoroutine(pcb.Pid, -1)

	got, _ := s.procs.Get(pcb.Pid)
	exited := got.Wait
	s.procs.SetWait(pcb.Pid, defs.NoPid)
	return Reply{Val: int64(exited)}
}

func (s *Server) processStatus(pcb *proc.Pcb_t, buf uintptr, max int) Reply {
	list := s.procs.List()
	if len(list)*16 > max {
		list = list[:max/16]
	}
	out := make([]uint8, 0, len(list)*16)
	for _, p := range list {
		var rec [16]uint8
		for i := 0; i < 4; i++ {
			rec[i] = uint8(p.Pid >> (8 * i))
		}
		for i := 0; i < 8; i++ {
			rec[4+i] = uint8(p.StartMs >> (8 * i))
		}
		out = append(out, rec[:]...)
	}
	if _, err := pcb.As.CopyOut(buf, out); err != 0 {
		return Reply{Val: -1}
	}
	return Reply{Val: int64(len(list))}
}
