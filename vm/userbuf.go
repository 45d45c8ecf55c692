package vm

import (
	"defs"
	"mem"
	"util"
)

// CopyIn produces a server-visible view of up to len(dst) bytes starting
// at the client virtual address va, faulting in each page the range
// spans (§4.3: "if the range spans a page boundary, both pages are
// mapped"). It copies into dst and returns the number of bytes copied.
func (as *Vm_t) CopyIn(va uintptr, dst []uint8) (int, defs.Err_t) {
	return as.copyUser(va, dst, false)
}

// CopyOut writes src into the client address space starting at va,
// faulting in pages as CopyIn does.
func (as *Vm_t) CopyOut(va uintptr, src []uint8) (int, defs.Err_t) {
	return as.copyUser(va, src, true)
}

func (as *Vm_t) copyUser(va uintptr, buf []uint8, write bool) (int, defs.Err_t) {
	done := 0
	for done < len(buf) {
		cur := va + uintptr(done)
		page := util.PageAlign(cur)
		off := cur - page

		idx, err := as.ensureMapped(page)
		if err != 0 {
			return done, err
		}
		frame := as.ft.Bytes(idx)

		n := util.Min(len(buf)-done, util.PGSIZE-int(off))
		if write {
			copy(frame[off:], buf[done:done+n])
		} else {
			copy(buf[done:done+n], frame[off:])
		}
		done += n
	}
	return done, 0
}

// CopyInStr copies a NUL-terminated string of at most max bytes starting
// at va, returning the bytes before the NUL. It fails with EBAD_ARGUMENT
// if no NUL byte appears within the first max bytes, and with the fault
// error if a page of the range cannot be mapped.
func (as *Vm_t) CopyInStr(va uintptr, max int) (string, defs.Err_t) {
	buf := make([]uint8, 0, max)
	chunk := make([]uint8, util.PGSIZE)
	for len(buf) < max {
		page := util.PageAlign(va + uintptr(len(buf)))
		off := va + uintptr(len(buf)) - page

		idx, err := as.ensureMapped(page)
		if err != 0 {
			return "", err
		}
		frame := as.ft.Bytes(idx)

		n := util.Min(max-len(buf), util.PGSIZE-int(off))
		copy(chunk[:n], frame[off:off+uintptr(n)])
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				return string(buf), 0
			}
			buf = append(buf, chunk[i])
		}
	}
	return "", defs.EBAD_ARGUMENT
}

// ensureMapped returns the frame index backing page, faulting it in via
// MapPage if it is not already resident.
func (as *Vm_t) ensureMapped(page uintptr) (mem.Findex_t, defs.Err_t) {
	as.mu.Lock()
	pte, err := as.pteFor(page, false)
	resident := err == 0 && pte.flags&pteValid != 0 && pte.flags&pteSwap == 0
	var idx mem.Findex_t
	if resident {
		idx = pte.frame
	}
	as.mu.Unlock()

	if resident {
		return idx, 0
	}
	if err := as.MapPage(page); err != 0 {
		return 0, err
	}

	as.mu.Lock()
	pte, err = as.pteFor(page, false)
	if err == 0 {
		idx = pte.frame
	}
	as.mu.Unlock()
	return idx, err
}
