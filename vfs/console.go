package vfs

import (
	"defs"

	"circbuf"
)

// ConsoleVnode is an in-memory stand-in for the real serial console driver
// (explicitly external, §1), backed by a ring buffer. It is used by tests
// and by cmd/sosd when no real console driver is wired in, so that fd 1/2
// (stdout/stderr) and the hello-world scenario (§8 #1) are exercisable
// standalone.
type ConsoleVnode struct {
	rx, tx *circbuf.Circbuf_t
	// Sink optionally receives everything written, e.g. so a test can
	// assert on what a client printed.
	Sink func([]byte)
}

// NewConsole returns a console vnode with rx/tx buffers of the given
// capacity.
func NewConsole(cap int) *ConsoleVnode {
	return &ConsoleVnode{rx: circbuf.MkCircbuf(cap), tx: circbuf.MkCircbuf(cap)}
}

func (c *ConsoleVnode) Open(path string, mode int) defs.Err_t { return 0 }
func (c *ConsoleVnode) Close() defs.Err_t                     { return 0 }

func (c *ConsoleVnode) Read(uio *Uio) defs.Err_t {
	n := c.rx.Read(uio.Buf[:uio.Remaining])
	uio.Remaining -= n
	return 0
}

func (c *ConsoleVnode) Write(uio *Uio) defs.Err_t {
	n := c.tx.Write(uio.Buf[:uio.Remaining])
	if c.Sink != nil && n > 0 {
		c.Sink(uio.Buf[:n])
	}
	uio.Remaining -= n
	return 0
}

func (c *ConsoleVnode) Stat() (uint64, uint32, defs.Err_t) {
	return uint64(c.tx.Len()), 0, 0
}

func (c *ConsoleVnode) Getdirent(pos int) (Dirent, bool, defs.Err_t) {
	return Dirent{}, false, defs.ENOT_FOUND
}

// Feed injects bytes as if a client had typed them, for tests exercising
// read(fd==0).
func (c *ConsoleVnode) Feed(p []byte) {
	c.rx.Write(p)
}
