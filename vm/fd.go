package vm

import "defs"

// AllocFd installs ofd (an index into the global open-file table) into
// the first free descriptor-table slot and returns the process-visible
// fd number.
func (as *Vm_t) AllocFd(ofd int) (int, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, v := range as.fds {
		if v == -1 {
			as.fds[i] = ofd
			return i, 0
		}
	}
	return -1, defs.ENO_MEMORY
}

// BindFd installs ofd at a specific fd number, overwriting whatever that
// slot held.
func (as *Vm_t) BindFd(fd, ofd int) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	if fd < 0 || fd >= len(as.fds) {
		return defs.EBAD_ARGUMENT
	}
	as.fds[fd] = ofd
	return 0
}

// ResolveFd returns the OFT index a process-visible fd currently points
// at.
func (as *Vm_t) ResolveFd(fd int) (int, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if fd < 0 || fd >= len(as.fds) || as.fds[fd] == -1 {
		return -1, false
	}
	return as.fds[fd], true
}

// CloseFd drops a process-visible fd, returning the OFT index it pointed
// at. It does not unref that entry; the caller does.
func (as *Vm_t) CloseFd(fd int) (int, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if fd < 0 || fd >= len(as.fds) || as.fds[fd] == -1 {
		return -1, defs.ENOT_FOUND
	}
	ofd := as.fds[fd]
	as.fds[fd] = -1
	return ofd, 0
}
