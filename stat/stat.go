// Package stat defines a serialized stat record, adapted from the
// teacher's stat.Stat_t field layout. The stat syscall in scall does not
// use it: it writes its own 12-byte record (8-byte size, 4-byte mode).
package stat

import "util"

// Stat_t is a stat record of size, mode, type, creation time and block
// count, serialized by Bytes.
type Stat_t struct {
	Size   uint64
	Mode   uint32
	Type   uint32 // 0 = regular file, 1 = directory, 2 = device
	Ctime  int64
	Blocks uint32
}

// StatSize is the number of bytes Bytes() produces.
const StatSize = 8 + 4 + 4 + 8 + 4

// Bytes serializes st into the layout a client unpacks on its side of the
// ABI.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, StatSize)
	off := 0
	util.Writen(b, 8, off, int(st.Size))
	off += 8
	util.Writen(b, 4, off, int(st.Mode))
	off += 4
	util.Writen(b, 4, off, int(st.Type))
	off += 4
	util.Writen(b, 8, off, int(st.Ctime))
	off += 8
	util.Writen(b, 4, off, int(st.Blocks))
	return b
}
