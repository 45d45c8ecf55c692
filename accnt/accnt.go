// Package accnt keeps a per-process accounting record: wall-clock runtime
// and time reported as blocked on I/O. Each PCB carries one; the
// time_stamp and process_status syscalls do not read it.
package accnt

import (
	"sync"
	"time"
)

// Accnt_t accumulates one process's timing. Runtimens reports nanoseconds
// the process has existed; Blockedns sums the intervals reported through
// IOBegin/IOEnd (the teacher's Sysns field, renamed: this domain has no
// separate kernel/user execution mode to bill against, only
// running-vs-blocked-on-IO). No code in the server calls IOBegin/IOEnd,
// so Blockedns stays zero.
type Accnt_t struct {
	mu        sync.Mutex
	start     time.Time
	Blockedns int64
}

// New starts a fresh accounting record at the current time.
func New() *Accnt_t {
	return &Accnt_t{start: time.Now()}
}

// Runtimens returns nanoseconds since the process was created.
func (a *Accnt_t) Runtimens() int64 {
	return time.Since(a.start).Nanoseconds()
}

// IOBegin returns a token to pass to IOEnd once the blocking I/O
// completes.
func (a *Accnt_t) IOBegin() time.Time {
	return time.Now()
}

// IOEnd adds the duration since since to the blocked-on-IO accumulator.
func (a *Accnt_t) IOEnd(since time.Time) {
	d := time.Since(since).Nanoseconds()
	a.mu.Lock()
	a.Blockedns += d
	a.mu.Unlock()
}

// Snapshot returns (runtime ns, blocked ns) consistently.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Runtimens(), a.Blockedns
}
