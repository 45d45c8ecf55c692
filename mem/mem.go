// Package mem implements the frame table (§4.1): allocation, free-list
// reuse, pinning, and second-chance eviction over a fixed-capacity pool of
// physical frames. Frames are identified by index rather than by address
// (§9 Design Notes: "model as an arena of frames indexed by frame
// index") so this package never depends on the address-space package
// that owns the page tables pointing at them; eviction instead calls back
// through the AddrSpaceHook the caller supplies at construction.
package mem

import (
	"sync"
	"sync/atomic"

	"coro"
	"defs"
	"kcap"
	"swap"
	"util"
	"vfs"
)

// mask bits for a frame's status (§3).
const (
	maskValid     uint8 = 1 << 0
	maskSwappable uint8 = 1 << 1
	maskReference uint8 = 1 << 2

	// maskEvicting marks a frame whose contents are presently being
	// written to swap with ft.mu released (§4.1 step 3: "this call
	// blocks the calling coroutine on disk I/O; other coroutines run").
	// evictLocked's sweep must not pick this frame a second time while
	// its own eviction is still in flight.
	maskEvicting uint8 = 1 << 3
)

// Findex_t identifies one slot of the frame table. The zero value is a
// valid index (slot 0), so callers must consult the error return of the
// call that produced it rather than testing against a sentinel.
type Findex_t int32

// appCap is the application-capability back-pointer (§3): which process
// and client virtual address a frame is currently lent to. At most one
// may exist per frame (shared mappings are not supported, per §3).
type appCap struct {
	present bool
	pid     defs.Pid_t
	vaddr   uintptr
}

type frameEntry struct {
	cap  kcap.Cap
	app  appCap
	next int32 // free-list successor index, meaningful only when this entry is free
	mask uint8
}

// AddrSpaceHook is how the frame table reaches back into the owning
// address space during eviction, without importing the vm package. The
// implementation must unmap the frame from the client's VSpace and
// update the page-table entry at (pid, vaddr) to carry SWAP with the
// given swap-file slot before returning.
type AddrSpaceHook interface {
	Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t
}

// Frametable_t is the frame table (§4.1). Its capacity is fixed at
// construction, mirroring the original's physical-memory window sized up
// front; once every slot has been retyped from untyped memory at least
// once, further allocation requests trigger eviction rather than growing
// the table.
type Frametable_t struct {
	mu       sync.Mutex
	entries  []frameEntry
	inited   int
	freeHead int32 // -1 means empty
	victim   int

	space    kcap.Space
	swapfile vfs.Vnode_i
	freelist *swap.Freelist_t
	hook     AddrSpaceHook
	sched    *coro.Scheduler

	allocs, evictions, swapReads, swapWrites int64
}

// NewFrametable returns a frame table with room for capacity frames,
// backed by space for untyped-memory retyping and by swapfile/freelist
// for eviction and swap-in I/O. hook notifies the owning address space
// when eviction silently steals one of its mappings. sched is used to
// yield the calling coroutine around the actual swap-out write and
// swap-in read (§4.1 step 3, §4.3); a nil sched (as package tests pass)
// falls back to performing that I/O synchronously, with no other
// coroutine able to run meanwhile.
func NewFrametable(capacity int, space kcap.Space, swapfile vfs.Vnode_i, freelist *swap.Freelist_t, hook AddrSpaceHook, sched *coro.Scheduler) *Frametable_t {
	return &Frametable_t{
		entries:  make([]frameEntry, capacity),
		freeHead: -1,
		space:    space,
		swapfile: swapfile,
		freelist: freelist,
		hook:     hook,
		sched:    sched,
	}
}

// yieldForIO runs do (a disk operation against the swap file) on its own
// goroutine, yields the calling coroutine until it completes, then resumes
// it. This is how the frame table turns "blocks on disk I/O" into a real
// yield point (§4.1 step 3) instead of running the swap read/write while
// holding ft.mu: the caller must have released ft.mu before calling this.
// With no scheduler wired (unit tests constructing a bare Frametable_t),
// it just runs do and returns, preserving synchronous behavior.
func (ft *Frametable_t) yieldForIO(pid defs.Pid_t, alive func(defs.Pid_t) bool, do func() defs.Err_t) defs.Err_t {
	if ft.sched == nil || alive == nil {
		return do()
	}
	id := ft.sched.CurrentID()
	var result defs.Err_t
	done := make(chan struct{})
	go func() {
		result = do()
		close(done)
		ft.sched.SetResume(id)
		ft.sched.Resume()
	}()
	ft.sched.Yield(pid, alive)
	<-done
	return result
}

// FrameAlloc returns a freshly zeroed, swappable frame, reusing the free
// list's head if non-empty, else retyping new untyped memory, else
// running the eviction sweep (§4.1). pid/alive identify the coroutine on
// whose behalf this allocation runs, so an eviction triggered by a full
// table can yield around its swap-out write (§4.1 step 3).
func (ft *Frametable_t) FrameAlloc(pid defs.Pid_t, alive func(defs.Pid_t) bool) (Findex_t, defs.Err_t) {
	ft.mu.Lock()
	idx, err := ft.allocLocked(pid, alive)
	if err != 0 {
		ft.mu.Unlock()
		return 0, err
	}
	ft.entries[idx].mask = maskValid | maskSwappable | maskReference
	clear(ft.space.ServerMap(ft.entries[idx].cap))
	ft.mu.Unlock()
	atomic.AddInt64(&ft.allocs, 1)
	return Findex_t(idx), 0
}

// UnswappableAlloc allocates as FrameAlloc then clears SWAPPABLE, for
// page-table pages, IPC buffers, and coroutine stacks the eviction sweep
// must never touch.
func (ft *Frametable_t) UnswappableAlloc(pid defs.Pid_t, alive func(defs.Pid_t) bool) (Findex_t, defs.Err_t) {
	idx, err := ft.FrameAlloc(pid, alive)
	if err != 0 {
		return 0, err
	}
	ft.mu.Lock()
	ft.entries[idx].mask &^= maskSwappable
	ft.mu.Unlock()
	return idx, 0
}

// allocLocked must be called with ft.mu held; it may release and
// re-acquire ft.mu internally while evicting (evictLocked/evictFrameLocked
// yield around the swap-out write), but always returns with ft.mu held.
func (ft *Frametable_t) allocLocked(pid defs.Pid_t, alive func(defs.Pid_t) bool) (int, defs.Err_t) {
	if ft.freeHead != -1 {
		idx := int(ft.freeHead)
		ft.freeHead = ft.entries[idx].next
		return idx, 0
	}
	if ft.inited < len(ft.entries) {
		c, err := ft.space.RetypeFrame()
		if err != 0 {
			return 0, err
		}
		idx := ft.inited
		ft.entries[idx].cap = c
		ft.inited++
		return idx, 0
	}
	return ft.evictLocked(pid, alive)
}

// FrameFree pushes the frame back onto the free list and clears its
// status mask. A frame that was never allocated (no cap ever retyped for
// it) or that is already free returns ENOT_FOUND rather than silently
// succeeding: double-free is an error here, not a no-op.
func (ft *Frametable_t) FrameFree(idx Findex_t) defs.Err_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if int(idx) < 0 || int(idx) >= ft.inited {
		return defs.ENOT_FOUND
	}
	e := &ft.entries[idx]
	if e.mask&maskValid == 0 {
		return defs.ENOT_FOUND
	}
	e.mask = 0
	e.app = appCap{}
	e.next = ft.freeHead
	ft.freeHead = int32(idx)
	return 0
}

// GetCap returns the frame's server-side mapping capability.
func (ft *Frametable_t) GetCap(idx Findex_t) (kcap.Cap, defs.Err_t) {
	if int(idx) < 0 || int(idx) >= ft.inited {
		return kcap.NullCap, defs.ENOT_FOUND
	}
	return ft.entries[idx].cap, 0
}

// Bytes returns a server-mapped view of the frame's contents, for zeroing
// and for the user-pointer copy helpers vm builds on top of this table.
func (ft *Frametable_t) Bytes(idx Findex_t) []uint8 {
	ft.mu.Lock()
	c := ft.entries[idx].cap
	ft.mu.Unlock()
	return ft.space.ServerMap(c)
}

// InsertAppCap records the unique back-pointer used by fault handling and
// eviction. It fails with EALREADY_MAPPED if one is already present,
// since shared mappings are not supported (§3).
func (ft *Frametable_t) InsertAppCap(idx Findex_t, pid defs.Pid_t, vaddr uintptr) defs.Err_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	e := &ft.entries[idx]
	if e.app.present {
		return defs.EALREADY_MAPPED
	}
	e.app = appCap{present: true, pid: pid, vaddr: vaddr}
	return 0
}

// ClearAppCap removes a frame's back-pointer, e.g. after unmap_page has
// torn down the client mapping but before the frame itself is freed.
func (ft *Frametable_t) ClearAppCap(idx Findex_t) {
	ft.mu.Lock()
	ft.entries[idx].app = appCap{}
	ft.mu.Unlock()
}

// Pin clears SWAPPABLE and sets REFERENCE on a RAM-resident frame, so the
// eviction sweep leaves it alone while a handler blocks on I/O through a
// buffer it backs (§4.1). It is a no-op error for a frame that is not
// currently valid.
func (ft *Frametable_t) Pin(idx Findex_t) defs.Err_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	e := &ft.entries[idx]
	if e.mask&maskValid == 0 {
		return defs.ENOT_FOUND
	}
	e.mask |= maskReference
	e.mask &^= maskSwappable
	return 0
}

// Unpin restores SWAPPABLE on a frame previously pinned.
func (ft *Frametable_t) Unpin(idx Findex_t) defs.Err_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	e := &ft.entries[idx]
	if e.mask&maskValid == 0 {
		return defs.ENOT_FOUND
	}
	e.mask |= maskSwappable
	return 0
}

// evictLocked runs the second-chance sweep: a rotating hand walks the
// table, clearing REFERENCE on candidates it passes over and evicting the
// first candidate it finds with REFERENCE already clear. Must be called
// with ft.mu held; a frame already marked maskEvicting (another coroutine
// has unlocked ft.mu mid-eviction on it) is never chosen twice.
func (ft *Frametable_t) evictLocked(pid defs.Pid_t, alive func(defs.Pid_t) bool) (int, defs.Err_t) {
	n := ft.inited
	if n == 0 {
		return 0, defs.ENO_MEMORY
	}
	for tries := 0; tries < 2*n; tries++ {
		i := ft.victim
		ft.victim = (ft.victim + 1) % n
		e := &ft.entries[i]
		if e.mask&maskValid == 0 || e.mask&maskSwappable == 0 || e.mask&maskEvicting != 0 {
			continue
		}
		if e.mask&maskReference != 0 {
			e.mask &^= maskReference
			continue
		}
		return ft.evictFrameLocked(i, pid, alive)
	}
	return 0, defs.ENO_MEMORY
}

// evictFrameLocked carries out the eviction steps of §4.1 for the chosen
// victim: write its contents to a fresh swap slot, tell the owning
// address space to retarget its PTE at that slot, then hand the frame
// straight to the caller that triggered eviction (it is not pushed onto
// the free list, so it cannot be handed out a second time). Must
// be called with ft.mu held; it releases ft.mu around the swap-out write
// itself (via yieldForIO) so other coroutines run while this one blocks
// on disk I/O (§4.1 step 3), and always returns with ft.mu held again.
func (ft *Frametable_t) evictFrameLocked(i int, pid defs.Pid_t, alive func(defs.Pid_t) bool) (int, defs.Err_t) {
	e := &ft.entries[i]
	if !e.app.present {
		return 0, defs.EINTERNAL_MAP_ERROR
	}
	swapIdx, err := ft.freelist.GetSwapIndex()
	if err != 0 {
		return 0, err
	}
	victimPid, victimVaddr := e.app.pid, e.app.vaddr
	buf := ft.space.ServerMap(e.cap)
	e.mask |= maskEvicting

	ft.mu.Unlock()
	err = ft.yieldForIO(pid, alive, func() defs.Err_t {
		uio := &vfs.Uio{Buf: buf, Offset: int64(swapIdx) * util.PGSIZE, Remaining: util.PGSIZE}
		return ft.swapfile.Write(uio)
	})
	ft.mu.Lock()
	e.mask &^= maskEvicting
	if err != 0 {
		return 0, err
	}
	atomic.AddInt64(&ft.swapWrites, 1)

	if err := ft.hook.Evict(victimPid, victimVaddr, swapIdx); err != 0 {
		return 0, err
	}
	atomic.AddInt64(&ft.evictions, 1)

	e.mask = 0
	e.app = appCap{}
	return i, 0
}

// SwapIn reads one page from the swap file's slot swapIndex into the
// already-allocated frame idx, then returns the slot to the free list.
// Called from the fault handler (§4.3, step 9) once it has a fresh frame
// ready to receive a previously evicted page's contents. pid/alive
// identify the faulting coroutine so the read can yield (§4.3 steps 5/8,
// "other coroutines run" while this one blocks on the swap-in read).
func (ft *Frametable_t) SwapIn(idx Findex_t, swapIndex uint32, pid defs.Pid_t, alive func(defs.Pid_t) bool) defs.Err_t {
	ft.mu.Lock()
	cap := ft.entries[idx].cap
	ft.mu.Unlock()

	buf := ft.space.ServerMap(cap)
	err := ft.yieldForIO(pid, alive, func() defs.Err_t {
		uio := &vfs.Uio{Buf: buf, Offset: int64(swapIndex) * util.PGSIZE, Remaining: util.PGSIZE}
		return ft.swapfile.Read(uio)
	})
	if err != 0 {
		return err
	}

	ft.mu.Lock()
	err = ft.freelist.FreeSwapIndex(swapIndex)
	ft.mu.Unlock()
	if err != 0 {
		return err
	}
	atomic.AddInt64(&ft.swapReads, 1)
	return 0
}

// Stats satisfies vfs.ProfSource for the /dev/prof device.
func (ft *Frametable_t) Stats() vfs.FrameStats {
	return vfs.FrameStats{
		Allocated:  atomic.LoadInt64(&ft.allocs),
		Evictions:  atomic.LoadInt64(&ft.evictions),
		SwapReads:  atomic.LoadInt64(&ft.swapReads),
		SwapWrites: atomic.LoadInt64(&ft.swapWrites),
	}
}

// Used reports how many slots currently carry a valid frame, for tests
// asserting exact allocation counts (§8 #4).
func (ft *Frametable_t) Used() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for i := range ft.entries[:ft.inited] {
		if ft.entries[i].mask&maskValid != 0 {
			n++
		}
	}
	return n
}
