// Package vm implements a client address space: its region list, the
// two-level software page table over frames owned by mem, page-fault
// resolution (map-on-demand), heap growth, and teardown (§4.3).
package vm

import (
	"sync"

	"defs"
	"kcap"
	"limits"
	"mem"
	"swap"
	"util"
	"vfs"
)

// Fixed region bases (§4.3: "three fixed regions (IPC buffer, heap,
// stack)"). Addresses at or above ipcBufferBase are mapped unswappable,
// per §4.1 step 5.
const (
	ipcBufferBase uintptr = 0x7ffff000
	heapBase      uintptr = 0x10000000
	heapMaxSize   uintptr = 0x10000000
	stackBase     uintptr = 0x70000000
	stackSize     uintptr = util.PGSIZE
)

// Region permission bits.
const (
	PermRead  uint8 = 1 << 0
	PermWrite uint8 = 1 << 1
	PermExec  uint8 = 1 << 2
)

// pte flags.
const (
	pteValid uint8 = 1 << 0
	pteSwap  uint8 = 1 << 1

	// pteBeingSwapped marks a PTE whose fault is presently resolving —
	// its data frame is being allocated or its swapped-out contents are
	// being read back in — with as.mu released around that I/O (§4.3
	// steps 5/8). MapPage rejects a second concurrent fault on the same
	// page while this bit is set rather than racing a fresh resolution
	// against one already in flight.
	pteBeingSwapped uint8 = 1 << 2
)

type pteEntry struct {
	frame mem.Findex_t
	swap  uint32
	flags uint8
	perm  uint8
}

type leaf_t [util.PTENTRIES]pteEntry

// Region_t is a half-open client virtual range with fixed permissions
// (§3). Regions are kept in a singly linked list, newest first; overlap
// is not checked, matching §4.3's "callers guarantee non-overlap".
type Region_t struct {
	Base  uintptr
	Size  uintptr
	Perms uint8
	next  *Region_t
}

func (r *Region_t) contains(va uintptr) bool {
	return va >= r.Base && va < r.Base+r.Size
}

// Vm_t is one process's address space (§3, §4.3).
type Vm_t struct {
	mu sync.Mutex

	pid    defs.Pid_t
	vspace uint64

	regions *Region_t
	root    [util.PTENTRIES]*leaf_t
	nmapped int

	fds [limits.ProcessMaxFiles]int // index into the global OFT, -1 when free

	ft       *mem.Frametable_t
	space    kcap.Space
	freelist *swap.Freelist_t
	oft      *vfs.OFT
	alive    func(defs.Pid_t) bool
}

// NewVm allocates a fresh client VSpace and an address space wrapping it.
// The IPC buffer and stack regions are defined immediately; the heap
// region is defined zero-sized at heapBase, grown later via Brk. alive
// reports process liveness by pid (normally proc.Table_t.Alive); MapPage
// threads it down to the frame table's yield points so a coroutine
// suspended on swap I/O unwinds cleanly if its process is destroyed
// meanwhile (§4.4).
func NewVm(pid defs.Pid_t, ft *mem.Frametable_t, space kcap.Space, freelist *swap.Freelist_t, oft *vfs.OFT, alive func(defs.Pid_t) bool) (*Vm_t, defs.Err_t) {
	vs, err := space.NewVSpace()
	if err != 0 {
		return nil, err
	}
	as := &Vm_t{
		pid:      pid,
		vspace:   vs,
		ft:       ft,
		space:    space,
		freelist: freelist,
		oft:      oft,
		alive:    alive,
	}
	for i := range as.fds {
		as.fds[i] = -1
	}
	as.DefineRegion(ipcBufferBase, util.PGSIZE, PermRead|PermWrite)
	as.DefineRegion(stackBase, stackSize, PermRead|PermWrite)
	as.DefineRegion(heapBase, 0, PermRead|PermWrite)
	return as, 0
}

// DefineRegion prepends a new region to the list; size may be zero
// (used for the not-yet-grown heap).
func (as *Vm_t) DefineRegion(base, size uintptr, perms uint8) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.regions = &Region_t{Base: base, Size: size, Perms: perms, next: as.regions}
}

// FindRegion does a linear search of the region list for the region
// containing va.
func (as *Vm_t) FindRegion(va uintptr) (*Region_t, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for r := as.regions; r != nil; r = r.next {
		if r.contains(va) {
			return r, true
		}
	}
	return nil, false
}

func (as *Vm_t) pteFor(va uintptr, alloc bool) (*pteEntry, defs.Err_t) {
	ri, li := util.RootIndex(va), util.LeafIndex(va)
	leaf := as.root[ri]
	if leaf == nil {
		if !alloc {
			return nil, defs.ENOT_FOUND
		}
		// as.mu is released around the allocation: it may evict, and
		// eviction calls back into Evict, which takes as.mu.
		as.mu.Unlock()
		idx, err := as.ft.UnswappableAlloc(as.pid, as.alive)
		as.mu.Lock()
		if err != 0 {
			return nil, defs.ENO_MEMORY
		}
		if leaf = as.root[ri]; leaf == nil {
			leaf = &leaf_t{}
			as.root[ri] = leaf
		}
		_ = idx // the unswappable frame backs this leaf page's existence in the frame table's accounting; its bytes are unused by this software walk.
	}
	return &leaf[li], 0
}

// clearBeingSwapped drops pteBeingSwapped once a fault's resolution has
// finished (successfully or not), re-acquiring as.mu itself.
func (as *Vm_t) clearBeingSwapped(pte *pteEntry) {
	as.mu.Lock()
	pte.flags &^= pteBeingSwapped
	as.mu.Unlock()
}

// MapPage resolves a page fault at va by allocating and mapping a fresh
// frame, or swapping a previously evicted page back in (§4.3). Both the
// frame allocation (which may itself evict and block on a swap-out write)
// and the swap-in read are real yield points (§4.1 step 3, §4.3 steps
// 5/8): as.mu is released around each so other coroutines — including
// other faults against this same address space — keep running while this
// one blocks on disk I/O.
func (as *Vm_t) MapPage(va uintptr) defs.Err_t {
	va = util.PageAlign(va)
	if va == 0 {
		return defs.EINVALID_ADDR
	}

	region, ok := as.FindRegion(va)
	if !ok {
		return defs.EINVALID_REGION
	}

	as.mu.Lock()
	pte, err := as.pteFor(va, true)
	if err != 0 {
		as.mu.Unlock()
		return err
	}
	if pte.flags&pteBeingSwapped != 0 {
		as.mu.Unlock()
		return defs.EALREADY_MAPPED
	}
	if pte.flags&pteValid != 0 && pte.flags&pteSwap == 0 {
		as.mu.Unlock()
		return defs.EALREADY_MAPPED
	}
	pte.flags |= pteBeingSwapped
	as.mu.Unlock()
	defer as.clearBeingSwapped(pte)

	var idx mem.Findex_t
	if va >= ipcBufferBase {
		idx, err = as.ft.UnswappableAlloc(as.pid, as.alive)
	} else {
		idx, err = as.ft.FrameAlloc(as.pid, as.alive)
	}
	if err != 0 {
		return err
	}

	as.mu.Lock()
	cap, err := as.ft.GetCap(idx)
	if err != 0 {
		as.mu.Unlock()
		as.ft.FrameFree(idx)
		return err
	}
	clientCap, err := as.space.CopyCap(cap)
	if err != 0 {
		as.mu.Unlock()
		as.ft.FrameFree(idx)
		return defs.EINTERNAL_MAP_ERROR
	}
	if err := as.space.MapIntoClient(as.vspace, va, clientCap, uint(region.Perms)); err != 0 {
		as.mu.Unlock()
		as.ft.FrameFree(idx)
		return defs.EINTERNAL_MAP_ERROR
	}

	if err := as.ft.InsertAppCap(idx, as.pid, va); err != 0 {
		as.mu.Unlock()
		as.ft.FrameFree(idx)
		return err
	}

	wasSwapped := pte.flags&pteSwap != 0
	prevSwap := pte.swap
	pte.frame = idx
	pte.flags = pteValid | pteBeingSwapped
	pte.perm = region.Perms
	pte.swap = 0
	as.mu.Unlock()

	if wasSwapped {
		if err := as.ft.SwapIn(idx, prevSwap, as.pid, as.alive); err != 0 {
			return err
		}
	}

	as.mu.Lock()
	as.nmapped++
	as.mu.Unlock()
	return 0
}

// UnmapPage removes the client-side mapping at va and clears its PTE and
// application-capability back-pointer, without freeing the frame itself
// (teardown and eviction are responsible for that).
func (as *Vm_t) UnmapPage(va uintptr) defs.Err_t {
	va = util.PageAlign(va)
	as.mu.Lock()
	defer as.mu.Unlock()

	pte, err := as.pteFor(va, false)
	if err != 0 {
		return err
	}
	if pte.flags&pteValid == 0 || pte.flags&pteSwap != 0 {
		return defs.ENOT_FOUND
	}
	cap, err := as.ft.GetCap(pte.frame)
	if err != 0 {
		return err
	}
	if err := as.space.UnmapFromClient(as.vspace, cap); err != 0 {
		return err
	}
	as.ft.ClearAppCap(pte.frame)
	*pte = pteEntry{}
	as.nmapped--
	return 0
}

// Evict implements mem.AddrSpaceHook: the frame table has already written
// the frame's contents to swapIndex by the time this is called, so all
// that remains is to retarget the PTE and drop the client-side mapping.
func (as *Vm_t) Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	pte, err := as.pteFor(vaddr, false)
	if err != 0 {
		return err
	}
	cap, err := as.ft.GetCap(pte.frame)
	if err == 0 {
		as.space.UnmapFromClient(as.vspace, cap)
	}
	pte.flags = pteSwap
	pte.swap = swapIndex
	pte.frame = 0
	as.nmapped--
	return 0
}

// Brk grows or shrinks the heap region to extend to newBrk.
func (as *Vm_t) Brk(newBrk uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	if newBrk < heapBase || newBrk > heapBase+heapMaxSize {
		return defs.EINVALID_ADDR
	}
	for r := as.regions; r != nil; r = r.next {
		if r.Base == heapBase {
			r.Size = newBrk - heapBase
			return 0
		}
	}
	return defs.EINVALID_REGION
}

// VSpace returns the client VSpace id this address space was allocated
// against, for PCBs that need to record it as a kernel handle.
func (as *Vm_t) VSpace() uint64 {
	return as.vspace
}

// Mapped reports the current page-mapped count, for tests.
func (as *Vm_t) Mapped() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.nmapped
}

// Teardown walks every valid PTE, releasing swap slots and frames, then
// closes any still-open file descriptors this address space owns.
func (as *Vm_t) Teardown() {
	as.mu.Lock()
	for ri, leaf := range as.root {
		if leaf == nil {
			continue
		}
		for li := range leaf {
			pte := &leaf[li]
			if pte.flags&pteValid == 0 && pte.flags&pteSwap == 0 {
				continue
			}
			if pte.flags&pteSwap != 0 {
				as.freelist.FreeSwapIndex(pte.swap)
			} else {
				if cap, err := as.ft.GetCap(pte.frame); err == 0 {
					as.space.UnmapFromClient(as.vspace, cap)
				}
				as.ft.ClearAppCap(pte.frame)
				as.ft.FrameFree(pte.frame)
			}
			*pte = pteEntry{}
		}
		as.root[ri] = nil
	}
	as.regions = nil
	as.nmapped = 0
	fds := as.fds
	as.mu.Unlock()

	for _, ofd := range fds {
		if ofd >= 0 {
			as.oft.Unref(ofd)
		}
	}
	as.space.FreeVSpace(as.vspace)
}
