package process

import (
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// MaxFDs bounds a task's fd table.
const MaxFDs = 64

type fdEntry struct {
	file        *vfs.File
	closeOnExec bool
}

// FDTable is a per-task fixed-size array of open-file references.
type FDTable struct {
	slots [MaxFDs]*fdEntry
}

// Alloc installs file at the lowest free index and returns that fd.
func (t *FDTable) Alloc(file *vfs.File) (int, kerrno.Errno) {
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = &fdEntry{file: file}
			return i, kerrno.OK
		}
	}
	return -1, kerrno.NoFiles
}

// Get returns the open file for fd.
func (t *FDTable) Get(fd int) (*vfs.File, kerrno.Errno) {
	if fd < 0 || fd >= MaxFDs || t.slots[fd] == nil {
		return nil, kerrno.BadFd
	}
	return t.slots[fd].file, kerrno.OK
}

// SetCloseOnExec sets or clears the FD_CLOEXEC bit for fd.
func (t *FDTable) SetCloseOnExec(fd int, v bool) kerrno.Errno {
	if fd < 0 || fd >= MaxFDs || t.slots[fd] == nil {
		return kerrno.BadFd
	}
	t.slots[fd].closeOnExec = v
	return kerrno.OK
}

// Dup shares the fd at oldfd into the lowest free slot.
func (t *FDTable) Dup(reg *vfs.Registry, oldfd int) (int, kerrno.Errno) {
	if oldfd < 0 || oldfd >= MaxFDs || t.slots[oldfd] == nil {
		return -1, kerrno.BadFd
	}
	entry := t.slots[oldfd]
	newfd, err := t.Alloc(entry.file)
	if err != kerrno.OK {
		return -1, err
	}
	reg.Dup(entry.file)
	return newfd, kerrno.OK
}

// Dup2 shares oldfd into newfd, closing whatever newfd previously held.
func (t *FDTable) Dup2(reg *vfs.Registry, oldfd, newfd int) kerrno.Errno {
	if oldfd < 0 || oldfd >= MaxFDs || t.slots[oldfd] == nil {
		return kerrno.BadFd
	}
	if newfd < 0 || newfd >= MaxFDs {
		return kerrno.BadFd
	}
	if oldfd == newfd {
		return kerrno.OK
	}
	if t.slots[newfd] != nil {
		t.closeSlot(reg, newfd)
	}
	reg.Dup(t.slots[oldfd].file)
	t.slots[newfd] = &fdEntry{file: t.slots[oldfd].file}
	return kerrno.OK
}

// Close releases fd, invoking VFS close on the last reference.
func (t *FDTable) Close(reg *vfs.Registry, fd int) kerrno.Errno {
	if fd < 0 || fd >= MaxFDs || t.slots[fd] == nil {
		return kerrno.BadFd
	}
	return t.closeSlot(reg, fd)
}

func (t *FDTable) closeSlot(reg *vfs.Registry, fd int) kerrno.Errno {
	entry := t.slots[fd]
	t.slots[fd] = nil
	return reg.Close(entry.file)
}

// CloseAll releases every populated slot in ascending fd order (_exit).
func (t *FDTable) CloseAll(reg *vfs.Registry) {
	for fd := range t.slots {
		if t.slots[fd] != nil {
			t.closeSlot(reg, fd)
		}
	}
}

// CloseExecOnes releases every slot marked close-on-exec (execve).
func (t *FDTable) CloseExecOnes(reg *vfs.Registry) {
	for fd, s := range t.slots {
		if s != nil && s.closeOnExec {
			t.closeSlot(reg, fd)
		}
	}
}

// Fork deep-copies t into a new table for the child, bumping every
// shared open-file's reference count.
func (t *FDTable) Fork(reg *vfs.Registry) *FDTable {
	child := &FDTable{}
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		reg.Dup(s.file)
		child.slots[i] = &fdEntry{file: s.file, closeOnExec: s.closeOnExec}
	}
	return child
}
