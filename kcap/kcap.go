// Package kcap is the thin capability-space / untyped-memory boundary the
// rest of the server talks to instead of the microkernel directly (§1:
// "thin wrappers around kernel primitives; treated as given"). mem and vm
// depend on the Space interface, not on a concrete microkernel, so tests
// can run against an in-process stand-in for the real seL4-style calls the
// original links against (ut_alloc, cspace_ut_retype_addr,
// seL4_ARM_Page_Map, ...).
package kcap

import "defs"

// Cap is an opaque, unforgeable reference to a kernel object (a mapped
// frame, a badged endpoint, a TCB, ...). The zero value is the null
// capability.
type Cap uint64

const NullCap Cap = 0

// Space is everything mem and vm need from the microkernel: untyped
// allocation/retype, mapping a frame into an address space, and unmapping
// it again. A production build would implement this against real seL4
// syscalls; this package's DefaultSpace implements it in-process so the
// server is runnable and testable standalone.
type Space interface {
	// RetypeFrame turns one page of untyped memory into a frame
	// capability. Returns NullCap and an error on exhaustion.
	RetypeFrame() (Cap, defs.Err_t)
	// FreeFrame returns a frame capability's backing untyped memory.
	FreeFrame(Cap)
	// ServerMap maps cap into the server's own address space and
	// returns a slice viewing its 4KiB contents.
	ServerMap(cap Cap) []uint8
	// CopyCap mints a second capability to the same frame, for lending
	// to a client address space alongside the server's own mapping.
	CopyCap(cap Cap) (Cap, defs.Err_t)
	// MapIntoClient maps cap into the given client VSpace id at va with
	// the given permission bits. The permission encoding is owned by
	// the vm package; kcap treats it as opaque.
	MapIntoClient(vspace uint64, va uintptr, cap Cap, perms uint) defs.Err_t
	// UnmapFromClient removes a mapping previously installed by
	// MapIntoClient and deletes cap.
	UnmapFromClient(vspace uint64, cap Cap) defs.Err_t
	// NewVSpace allocates a fresh client page-directory capability and
	// an opaque id the caller uses to refer to it.
	NewVSpace() (uint64, defs.Err_t)
	// FreeVSpace releases a VSpace allocated by NewVSpace.
	FreeVSpace(uint64)
	// NewThread allocates a TCB-equivalent handle for a new process.
	NewThread() (Cap, defs.Err_t)
	// FreeThread releases a handle allocated by NewThread.
	FreeThread(Cap)
	// NewCSpace allocates a one-level capability-space handle for a new
	// process.
	NewCSpace() (Cap, defs.Err_t)
	// FreeCSpace releases a handle allocated by NewCSpace.
	FreeCSpace(Cap)
}

// DefaultSpace is an in-process stand-in for the microkernel: frames are
// plain Go byte slices, and "mapping into a client" is recorded rather
// than enforced by hardware page tables. It is adequate for exercising
// every invariant in §8 without a real seL4 instance.
type DefaultSpace struct {
	frames  map[Cap][]uint8
	next    Cap
	vspaces map[uint64]bool
	nextVS  uint64
}

// NewDefaultSpace returns a ready-to-use in-process capability space.
func NewDefaultSpace() *DefaultSpace {
	return &DefaultSpace{
		frames:  make(map[Cap][]uint8),
		next:    1,
		vspaces: make(map[uint64]bool),
		nextVS:  1,
	}
}

func (s *DefaultSpace) RetypeFrame() (Cap, defs.Err_t) {
	c := s.next
	s.next++
	s.frames[c] = make([]uint8, 4096)
	return c, 0
}

func (s *DefaultSpace) FreeFrame(c Cap) {
	delete(s.frames, c)
}

func (s *DefaultSpace) ServerMap(c Cap) []uint8 {
	return s.frames[c]
}

func (s *DefaultSpace) CopyCap(c Cap) (Cap, defs.Err_t) {
	buf, ok := s.frames[c]
	if !ok {
		return NullCap, defs.EINTERNAL_MAP_ERROR
	}
	nc := s.next
	s.next++
	s.frames[nc] = buf // same backing array: a "copy" of the mapping cap
	return nc, 0
}

func (s *DefaultSpace) MapIntoClient(vspace uint64, va uintptr, cap Cap, perms uint) defs.Err_t {
	if _, ok := s.frames[cap]; !ok {
		return defs.EINTERNAL_MAP_ERROR
	}
	if !s.vspaces[vspace] {
		return defs.EINTERNAL_MAP_ERROR
	}
	return 0
}

func (s *DefaultSpace) UnmapFromClient(vspace uint64, cap Cap) defs.Err_t {
	delete(s.frames, cap)
	return 0
}

func (s *DefaultSpace) NewVSpace() (uint64, defs.Err_t) {
	id := s.nextVS
	s.nextVS++
	s.vspaces[id] = true
	return id, 0
}

func (s *DefaultSpace) FreeVSpace(id uint64) {
	delete(s.vspaces, id)
}

func (s *DefaultSpace) NewThread() (Cap, defs.Err_t) {
	c := s.next
	s.next++
	return c, 0
}

func (s *DefaultSpace) FreeThread(c Cap) {}

func (s *DefaultSpace) NewCSpace() (Cap, defs.Err_t) {
	c := s.next
	s.next++
	return c, 0
}

func (s *DefaultSpace) FreeCSpace(c Cap) {}
