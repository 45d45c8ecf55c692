// Package fd tracks each process's current working directory and resolves
// client-supplied paths against it, adapted from the teacher's fd.Cwd_t.
// The teacher's Fd_t/fdops-based per-descriptor reopen model is dropped in
// favor of this server's global refcounted open-file table (§3's OFT and
// per-process index array, implemented in vfs and vm); only the
// cwd-relative path resolution survives, since §6's open/stat still need
// to turn a possibly-relative client path into a canonical absolute one.
package fd

import (
	"sync"

	"bpath"
	"ustr"
)

// Cwd_t tracks one process's current working directory.
type Cwd_t struct {
	mu   sync.Mutex
	path ustr.Ustr
}

// MkRootCwd returns a Cwd_t rooted at "/".
func MkRootCwd() *Cwd_t {
	return &Cwd_t{path: ustr.MkUstrRoot()}
}

// Path returns the current working directory.
func (c *Cwd_t) Path() ustr.Ustr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Chdir sets the current working directory to an already-canonicalized
// absolute path.
func (c *Cwd_t) Chdir(p ustr.Ustr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = p
}

// Fullpath joins the cwd with p if p is not already absolute.
func (c *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	full := append(append(ustr.Ustr{}, c.path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves p against the cwd and collapses "." / "..".
func (c *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(c.Fullpath(p))
}
