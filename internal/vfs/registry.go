package vfs

import (
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/kpath"
)

// MaxFilesystems bounds the filesystem driver registry, matching the
// kernel's fixed-pool discipline.
const MaxFilesystems = 16

// MaxMounts bounds the mount table.
const MaxMounts = 16

// Registry is the filesystem-driver registry and mount table. There is
// exactly one Registry per booted kernel instance, constructed fresh
// rather than reached through a package-level global.
type Registry struct {
	mu          sync.Mutex
	filesystems [MaxFilesystems]*FS
	mounts      [MaxMounts]*MountEntry
}

// MountEntry records one mounted filesystem.
type MountEntry struct {
	Mountpoint string // absolute, trailing "/"
	SB         *Superblock
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterFS installs fs into the first free slot. Fails with Exists if
// the name is already registered, NoSpace if the table is full, BadArg
// if fs or fs.Name is invalid.
func (r *Registry) RegisterFS(fs *FS) kerrno.Errno {
	if fs == nil || fs.Name == "" || fs.GetSB == nil {
		return kerrno.BadArg
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	free := -1
	for i, slot := range r.filesystems {
		if slot == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if slot.Name == fs.Name {
			return kerrno.Exists
		}
	}
	if free < 0 {
		return kerrno.NoSpace
	}
	r.filesystems[free] = fs
	return kerrno.OK
}

// UnregisterFS frees the slot named name, refusing if any mount still
// uses it.
func (r *Registry) UnregisterFS(name string) kerrno.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mounts {
		if m != nil && m.SB.FS.Name == name {
			return kerrno.Busy
		}
	}
	for i, slot := range r.filesystems {
		if slot != nil && slot.Name == name {
			r.filesystems[i] = nil
			return kerrno.OK
		}
	}
	return kerrno.NotFound
}

// GetFS looks up a registered driver by name.
func (r *Registry) GetFS(name string) (*FS, kerrno.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.filesystems {
		if slot != nil && slot.Name == name {
			return slot, kerrno.OK
		}
	}
	return nil, kerrno.NotFound
}

// FindMount selects the mount entry whose mountpoint is the longest
// component-boundary prefix of path, and returns the byte offset within
// path immediately after the match so the backing filesystem receives
// only the suffix.
func (r *Registry) FindMount(path string) (*MountEntry, int, kerrno.Errno) {
	if path == "" || path[0] != '/' {
		return nil, 0, kerrno.BadArg
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *MountEntry
	bestLen := -1
	for _, m := range r.mounts {
		if m == nil {
			continue
		}
		if kpath.HasPrefixComponent(path, m.Mountpoint) && len(m.Mountpoint) > bestLen {
			best = m
			bestLen = len(m.Mountpoint)
		}
	}
	if best == nil {
		return nil, 0, kerrno.NotFound
	}
	off := bestLen
	if off > 0 && best.Mountpoint[off-1] == '/' && off == len(path) {
		// exact match on a mountpoint with trailing slash already consumed
	}
	if off > len(path) {
		off = len(path)
	}
	return best, off, kerrno.OK
}

// List returns a snapshot of the current mount table, used by the
// mount(8)-equivalent reporting command (there is no /proc to read
// this kernel's own mount state from).
func (r *Registry) List() []MountEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MountEntry, 0, MaxMounts)
	for _, m := range r.mounts {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

func (r *Registry) addMount(m *MountEntry) kerrno.Errno {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.mounts {
		if e != nil && e.Mountpoint == m.Mountpoint {
			return kerrno.Busy
		}
	}
	for i, e := range r.mounts {
		if e == nil {
			r.mounts[i] = m
			return kerrno.OK
		}
	}
	return kerrno.NoSpace
}

func (r *Registry) removeMount(target string) (*MountEntry, kerrno.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.mounts {
		if e != nil && e.Mountpoint == target {
			r.mounts[i] = nil
			return e, kerrno.OK
		}
	}
	return nil, kerrno.NotFound
}
