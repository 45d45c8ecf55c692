// Package proc implements the process control block and process table
// (§4.5): creation, destruction, parent/child reparenting, and the
// wait-target protocol that lets a coroutine suspend on process_wait and
// be resumed by process_destroy.
package proc

import (
	"sync"
	"time"

	"accnt"
	"coro"
	"defs"
	"fd"
	"kcap"
	"vm"
)

// State is a PCB's lifecycle state (§3).
type State int

const (
	StateNotBusy State = iota
	StateSelfDestruct
	StateDestroyed
)

// Pcb_t is one process control block (§3).
type Pcb_t struct {
	Pid    defs.Pid_t
	Parent defs.Pid_t
	Name   string
	Start  time.Time
	State  State

	// Wait is the process's wait target: defs.NoPid (not waiting),
	// defs.AnyPid (waiting on any child), or a specific pid.
	Wait defs.Pid_t

	// CoroutineID is the slot of the coroutine suspended on this
	// process's behalf, or -1 if none.
	CoroutineID int

	Thread kcap.Cap
	CSpace kcap.Cap

	As  *vm.Vm_t
	Acc *accnt.Accnt_t
	Cwd *fd.Cwd_t
}

// Table_t is the process table: a fixed-size arena of PCB slots indexed
// by pid (§9 Design Notes: "cross-references are indices, not owning
// handles").
type Table_t struct {
	mu      sync.Mutex
	slots   []*Pcb_t
	endTime []time.Time
}

// NewTable returns an empty table with n slots.
func NewTable(n int) *Table_t {
	return &Table_t{
		slots:   make([]*Pcb_t, n),
		endTime: make([]time.Time, n),
	}
}

// pickSlotLocked implements the PCB-slot allocator resolution of the
// source's open question (§9): pick any empty slot, preferring the one
// freed longest ago (smallest end time; a never-used slot's zero-value
// end time sorts before every real timestamp, so never-used slots are
// always preferred over empty ones that have already held a process).
func (t *Table_t) pickSlotLocked() (int, defs.Err_t) {
	best := -1
	for i, s := range t.slots {
		if s != nil {
			continue
		}
		if best == -1 || t.endTime[i].Before(t.endTime[best]) {
			best = i
		}
	}
	if best == -1 {
		return 0, defs.ENO_MEMORY
	}
	return best, 0
}

// Create allocates a PCB slot and calls newAs to build its address space,
// so the caller controls exactly how kcap/mem/vm are wired together for
// the new process.
func (t *Table_t) Create(name string, parent defs.Pid_t, newAs func(pid defs.Pid_t) (*vm.Vm_t, defs.Err_t), space kcap.Space) (*Pcb_t, defs.Err_t) {
	t.mu.Lock()
	id, err := t.pickSlotLocked()
	if err != 0 {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	pid := defs.Pid_t(id)
	as, err := newAs(pid)
	if err != 0 {
		return nil, err
	}
	thread, err := space.NewThread()
	if err != 0 {
		return nil, err
	}
	cspace, err := space.NewCSpace()
	if err != 0 {
		space.FreeThread(thread)
		return nil, err
	}

	pcb := &Pcb_t{
		Pid:         pid,
		Parent:      parent,
		Name:        name,
		Start:       time.Now(),
		State:       StateNotBusy,
		Wait:        defs.NoPid,
		CoroutineID: -1,
		Thread:      thread,
		CSpace:      cspace,
		As:          as,
		Acc:         accnt.New(),
		Cwd:         fd.MkRootCwd(),
	}

	t.mu.Lock()
	t.slots[id] = pcb
	t.mu.Unlock()
	return pcb, 0
}

// Get returns the PCB for pid, if live.
func (t *Table_t) Get(pid defs.Pid_t) (*Pcb_t, bool) {
	if pid < 0 || int(pid) >= len(t.slots) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.slots[pid]
	return p, p != nil
}

// Alive reports process liveness by pid, matching the signature
// coro.Scheduler.Yield expects for its resume-time liveness check.
func (t *Table_t) Alive(pid defs.Pid_t) bool {
	_, ok := t.Get(pid)
	return ok
}

// SetCoroutine records the coroutine slot suspended on pid's behalf (or -1
// to clear it), so Destroy can later SetResume the right slot when pid's
// wait target exits (§4.5).
func (t *Table_t) SetCoroutine(pid defs.Pid_t, id int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid < 0 || int(pid) >= len(t.slots) || t.slots[pid] == nil {
		return defs.ENOT_FOUND
	}
	t.slots[pid].CoroutineID = id
	return 0
}

// SetWait records pid's wait target ahead of a process_wait coroutine
// suspension.
func (t *Table_t) SetWait(pid, target defs.Pid_t) defs.Err_t {
	p, ok := t.Get(pid)
	if !ok {
		return defs.ENOT_FOUND
	}
	t.mu.Lock()
	p.Wait = target
	t.mu.Unlock()
	return 0
}

// Destroy tears down pid's address space and kernel handles, reparents
// its children to defs.NoPid, and resumes its parent if it was waiting
// on this pid or on any child (§4.5).
func (t *Table_t) Destroy(pid defs.Pid_t, sched *coro.Scheduler, space kcap.Space) defs.Err_t {
	t.mu.Lock()
	pcb := t.slots[pid]
	if pcb == nil {
		t.mu.Unlock()
		return defs.ENOT_FOUND
	}

	for _, s := range t.slots {
		if s != nil && s.Parent == pid {
			s.Parent = defs.NoPid
		}
	}

	var parent *Pcb_t
	if pcb.Parent >= 0 && int(pcb.Parent) < len(t.slots) {
		parent = t.slots[pcb.Parent]
	}
	if parent != nil && (parent.Wait == defs.AnyPid || parent.Wait == pid) {
		parent.Wait = pid
		if parent.CoroutineID != -1 {
			sched.SetResume(parent.CoroutineID)
		}
	}

	t.slots[pid] = nil
	t.endTime[pid] = time.Now()
	t.mu.Unlock()

	pcb.As.Teardown()
	space.FreeThread(pcb.Thread)
	space.FreeCSpace(pcb.CSpace)

	if pcb.CoroutineID != -1 {
		sched.SetCleanup(pcb.CoroutineID)
		sched.Cleanup()
	}
	pcb.State = StateDestroyed
	return 0
}

// Summary is the richer process_status reply this module supplements
// (§6, SPEC_FULL.md): one entry per live process rather than just a
// count.
type Summary struct {
	Pid     defs.Pid_t
	Name    string
	StartMs int64
}

// List returns a snapshot summary of every live process, ordered by pid.
func (t *Table_t) List() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Summary, 0, len(t.slots))
	for _, p := range t.slots {
		if p == nil {
			continue
		}
		out = append(out, Summary{Pid: p.Pid, Name: p.Name, StartMs: p.Start.UnixMilli()})
	}
	return out
}
