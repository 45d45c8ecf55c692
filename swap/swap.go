// Package swap maintains the set of free page-sized slots in the backing
// swap file (§4.2). The live working set of free indices fits in one
// in-memory page; overflow pages are threaded through the file itself via
// a head pointer kept in RAM, and a bump pointer issues brand-new slots
// once no freed index remains anywhere.
package swap

import (
	"encoding/binary"

	"defs"
	"util"
	"vfs"
)

// workingSetSize is the number of uint32 indices that fit in one page,
// matching the original's FREELIST_SIZE sized to one 4K page of uint32s.
const workingSetSize = util.PGSIZE / 4

// overflowPage is one node of the in-RAM list of overflow pages; its
// index names the file slot the page's contents were spilled to.
type overflowPage struct {
	index uint32
	next  *overflowPage
}

// Freelist_t is the swap-index free list (§4.2). It performs I/O through
// a vnode presenting the backing file, exactly as a frame-table eviction
// or swap-in would.
type Freelist_t struct {
	vn     vfs.Vnode_i
	ids    [workingSetSize]uint32
	length int
	page   *overflowPage
	end    uint32
}

// NewFreelist returns a free list with an empty working set, reading and
// writing swap-file pages through vn.
func NewFreelist(vn vfs.Vnode_i) *Freelist_t {
	return &Freelist_t{vn: vn}
}

// GetSwapIndex returns a swap slot to write an evicted page into. It
// drains the in-memory working set first, then reloads an overflow page
// from the file if one is chained, and only then advances the bump
// pointer to mint a never-used slot.
func (f *Freelist_t) GetSwapIndex() (uint32, defs.Err_t) {
	if f.length > 0 {
		f.length--
		return f.ids[f.length], 0
	}

	if f.page != nil {
		buf := make([]uint8, util.PGSIZE)
		uio := &vfs.Uio{Buf: buf, Offset: int64(f.page.index) * util.PGSIZE, Remaining: util.PGSIZE}
		if err := f.vn.Read(uio); err != 0 {
			return 0, err
		}
		for i := range f.ids {
			f.ids[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}

		f.page = f.page.next
		f.length = workingSetSize

		f.length--
		return f.ids[f.length], 0
	}

	idx := f.end
	f.end++
	return idx, 0
}

// FreeSwapIndex returns index to the free list. When the working set is
// full, index itself becomes the new overflow page: the current working
// set is spilled to it and a fresh in-memory node is linked in.
func (f *Freelist_t) FreeSwapIndex(index uint32) defs.Err_t {
	if f.length == workingSetSize {
		buf := make([]uint8, util.PGSIZE)
		for i, id := range f.ids {
			binary.LittleEndian.PutUint32(buf[i*4:], id)
		}
		uio := &vfs.Uio{Buf: buf, Offset: int64(index) * util.PGSIZE, Remaining: util.PGSIZE}
		if err := f.vn.Write(uio); err != 0 {
			return err
		}

		f.page = &overflowPage{index: index, next: f.page}
		f.length = 0
		return 0
	}

	f.ids[f.length] = index
	f.length++
	return 0
}
