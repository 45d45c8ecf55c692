package vfs

import (
	"sync"

	"defs"
)

// MemFile is a byte-addressable, growable in-memory vnode. It backs the
// swap package's backing store (§6: "the swap file is a sparse byte file
// addressed in page-sized slots") and doubles as a generic regular-file
// vnode for tests, standing in for the
// real NFS-backed file store that §1 keeps external. As the frame table's
// swapfile it is now reachable from more than one coroutine's swap-out/
// swap-in at a time (mem.Frametable_t releases its own lock around this
// call per §4.1 step 3), so reads/writes take their own lock rather than
// relying on a caller-held one.
type MemFile struct {
	mu   sync.Mutex
	data []byte
}

// NewMemFile returns an empty growable file.
func NewMemFile() *MemFile {
	return &MemFile{}
}

// NewMemFileFrom wraps existing bytes (e.g. an ELF image extracted from a
// built-in archive) as a read-only-by-convention vnode.
func NewMemFileFrom(b []byte) *MemFile {
	return &MemFile{data: b}
}

func (f *MemFile) Open(path string, mode int) defs.Err_t { return 0 }
func (f *MemFile) Close() defs.Err_t                      { return 0 }

func (f *MemFile) grow(to int64) {
	if to <= int64(len(f.data)) {
		return
	}
	grown := make([]byte, to)
	copy(grown, f.data)
	f.data = grown
}

func (f *MemFile) Read(uio *Uio) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uio.Offset >= int64(len(f.data)) {
		return 0
	}
	n := copy(uio.Buf[:uio.Remaining], f.data[uio.Offset:])
	uio.Remaining -= n
	return 0
}

func (f *MemFile) Write(uio *Uio) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := uio.Offset + int64(uio.Remaining)
	f.grow(end)
	n := copy(f.data[uio.Offset:end], uio.Buf[:uio.Remaining])
	uio.Remaining -= n
	return 0
}

func (f *MemFile) Stat() (uint64, uint32, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.data)), 0, 0
}

func (f *MemFile) Getdirent(pos int) (Dirent, bool, defs.Err_t) {
	return Dirent{}, false, defs.ENOT_FOUND
}

// Bytes exposes the file's current contents, for tests.
func (f *MemFile) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}
