// Package vfs defines the vnode interface the core dispatches open, read,
// write, close, stat, and getdirent through (§6), plus the global
// open-file table and the device registry that backs path lookups. This
// package intentionally has no dependency on mem/vm/proc: callers resolve
// client buffers to plain byte slices before handing them to a Uio, so the
// interface stays the externally-owned boundary §1 describes (the VFS
// implementation itself belongs to device/NFS drivers, out of scope here
// except for the small in-process vnodes this package documents as
// test/dev scaffolding).
package vfs

import (
	"defs"
	"limits"
)

// Uio describes one I/O transfer: a buffer already mapped into server
// memory (vm resolves client pointers to such a slice before calling
// here), the file offset to act at, and how much remains to transfer.
// Implementations must decrement Remaining by the number of bytes they
// move, per §6.
type Uio struct {
	Buf       []uint8
	Offset    int64
	Remaining int
}

// Dirent is one entry returned by Getdirent.
type Dirent struct {
	Name string
}

// Vnode_i is the capability set a device or file exposes. Every vnode
// implements all six methods; an operation a vnode does not support
// returns an error (e.g. ProfVnode.Write, Getdirent on a plain file).
type Vnode_i interface {
	Open(path string, mode int) defs.Err_t
	Close() defs.Err_t
	Read(uio *Uio) defs.Err_t
	Write(uio *Uio) defs.Err_t
	Stat() (size uint64, mode uint32, err defs.Err_t)
	Getdirent(pos int) (Dirent, bool, defs.Err_t)
}

// File access mode bits, passed to the open syscall.
const (
	FM_READ  = 0x1
	FM_WRITE = 0x2
)

// oftEntry is one global open-file table slot (§3).
type oftEntry struct {
	vnode    Vnode_i
	mode     int
	offset   int64
	refcount int
}

// OFT is the global, shared open-file table. Entries are indexed by a
// small integer ("ofd") that a process's fd table points into.
type OFT struct {
	entries []oftEntry
}

// NewOFT returns an empty open-file table sized per limits.MaxOpenFile.
func NewOFT() *OFT {
	return &OFT{
		entries: make([]oftEntry, limits.MaxOpenFile),
	}
}

// Alloc installs an already-opened vn in a free OFT slot with a reference
// count of one, returning the ofd.
func (o *OFT) Alloc(vn Vnode_i, mode int) (int, defs.Err_t) {
	for i := range o.entries {
		if o.entries[i].vnode == nil {
			o.entries[i] = oftEntry{vnode: vn, mode: mode, refcount: 1}
			return i, 0
		}
	}
	return -1, defs.ENO_MEMORY
}

// Ref increments the reference count of an existing ofd, for a second
// descriptor that points at it.
func (o *OFT) Ref(ofd int) {
	o.entries[ofd].refcount++
}

// Unref decrements an ofd's reference count and closes the vnode when it
// reaches zero (invariant 4, §3). It returns true when the vnode was
// actually closed.
func (o *OFT) Unref(ofd int) (bool, defs.Err_t) {
	e := &o.entries[ofd]
	if e.vnode == nil {
		return false, defs.ENOT_FOUND
	}
	e.refcount--
	if e.refcount > 0 {
		return false, 0
	}
	err := e.vnode.Close()
	*e = oftEntry{}
	return true, err
}

// Get returns the vnode, mode, and current offset for an ofd.
func (o *OFT) Get(ofd int) (Vnode_i, int, int64, bool) {
	if ofd < 0 || ofd >= len(o.entries) || o.entries[ofd].vnode == nil {
		return nil, 0, 0, false
	}
	e := &o.entries[ofd]
	return e.vnode, e.mode, e.offset, true
}

// Advance moves an ofd's byte offset forward by n, used after a
// successful read or write.
func (o *OFT) Advance(ofd int, n int) {
	o.entries[ofd].offset += int64(n)
}

// Refcount reports the current reference count of an ofd (for tests and
// §8's OFT-sharing scenario).
func (o *OFT) Refcount(ofd int) int {
	return o.entries[ofd].refcount
}
