// Package caller prints a diagnostic stack trace the first time a given
// call chain is seen, so that a noisy but harmless repeated event (such as
// an "unknown message" report) doesn't flood output.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Distinct tracks which call chains have already been reported.
type Distinct struct {
	mu  sync.Mutex
	did map[uintptr]bool
}

func (d *Distinct) hash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Report logs msg with a call-stack trace, but only the first time this
// particular call chain is observed. It returns true when it actually
// logged.
func (d *Distinct) Report(msg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.did == nil {
		d.did = make(map[uintptr]bool)
	}

	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	pcs = pcs[:n]
	h := d.hash(pcs)
	if d.did[h] {
		return false
	}
	d.did[h] = true

	frames := runtime.CallersFrames(pcs)
	trace := ""
	for {
		fr, more := frames.Next()
		trace += fmt.Sprintf("\t%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	fmt.Printf("%s\n%s", msg, trace)
	return true
}
