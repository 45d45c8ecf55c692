package vfs

import (
	"strings"

	"defs"
	"hashtable"
	"limits"
)

// DeviceFactory returns the vnode to use for a path that matched a
// registered device prefix. A factory may build a new instance per call
// or return one shared instance; file offsets live in the open-file
// table either way.
type DeviceFactory func(path string) Vnode_i

// Registry maps path prefixes to device factories (§6: "device
// registration maps a path prefix to an operations table").
type Registry struct {
	byPrefix *hashtable.Table[string, DeviceFactory]
	n        int
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{byPrefix: hashtable.New[string, DeviceFactory](limits.MaxDevices)}
}

// Add registers a device factory under the given path prefix.
func (r *Registry) Add(prefix string, f DeviceFactory) defs.Err_t {
	if r.n >= limits.MaxDevices {
		return defs.ENO_MEMORY
	}
	r.byPrefix.Put(prefix, f)
	r.n++
	return 0
}

// Lookup finds the device whose prefix matches path and returns the vnode
// its factory produces. ok is false when path names no registered device (the
// caller should fall through to a regular-file open).
func (r *Registry) Lookup(path string) (vn Vnode_i, ok bool) {
	var found DeviceFactory
	var matched bool
	r.byPrefix.Each(func(prefix string, f DeviceFactory) {
		if matched {
			return
		}
		if strings.HasPrefix(path, prefix) {
			found, matched = f, true
		}
	})
	if !matched {
		return nil, false
	}
	return found(path), true
}
