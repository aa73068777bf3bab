// Package devfs implements the device-node filesystem: a flat directory
// of character devices synthesized at registration time rather than
// parsed from any backing image.
//
// Device drivers themselves (RTC, keyboard, ATA) are not modeled here;
// this package only needs the narrow interface a driver uses to plug
// into a device-node inode, delegating file operations to an injected
// implementation rather than hard-coding them.
package devfs

import (
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// CharDevice is the minimal contract a character device driver
// implements. Read may block the calling task's goroutine (standing in
// for a task suspension point) until data is available; it must never
// be called from kernel code that cannot block.
type CharDevice interface {
	Read(buf []byte) (int, kerrno.Errno)
	Write(buf []byte) (int, kerrno.Errno)
}

type registeredDevice struct {
	name string
	dev  CharDevice
}

type fsState struct {
	mu      sync.Mutex
	devices []registeredDevice
	ino     map[string]uint64
	next    uint64
}

// FS is a devfs instance; devices may be registered before or after
// mounting, matching how RegisterDevice hooks run at boot before any
// process opens /dev.
type FS struct {
	fs *vfs.FS
	st *fsState
}

// New constructs a devfs driver registered under name (conventionally
// "devfs").
func New(name string) *FS {
	st := &fsState{ino: map[string]uint64{}}
	f := &FS{st: st}
	f.fs = &vfs.FS{
		Name: name,
		GetSB: func(flags uint32, source, opts string) (*vfs.Superblock, kerrno.Errno) {
			sb := &vfs.Superblock{
				RootIno: 1,
				Private: st,
				Ops: &vfs.SuperblockOps{
					AllocInode: func(sb *vfs.Superblock) (*vfs.Inode, kerrno.Errno) {
						return nil, kerrno.PermissionDenied
					},
					OpenInode: func(sb *vfs.Superblock, ino uint64) (*vfs.Inode, kerrno.Errno) {
						return st.openInode(ino)
					},
					FreeInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno { return kerrno.OK },
					ReadInode: func(sb *vfs.Superblock, ino uint64) (*vfs.Inode, kerrno.Errno) {
						return st.openInode(ino)
					},
					WriteInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno { return kerrno.OK },
					DropInode:  func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno { return kerrno.OK },
				},
			}
			return sb, kerrno.OK
		},
		KillSB: func(sb *vfs.Superblock) kerrno.Errno { return kerrno.OK },
	}
	return f
}

// Driver returns the registrable *vfs.FS.
func (f *FS) Driver() *vfs.FS { return f.fs }

// RegisterDevice synthesizes a device-node inode named name at the devfs
// root, backed by dev.
func (f *FS) RegisterDevice(name string, dev CharDevice) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.next++
	ino := f.st.next + 1 // root is ino 1
	f.st.devices = append(f.st.devices, registeredDevice{name: name, dev: dev})
	f.st.ino[name] = ino
}

func (st *fsState) openInode(ino uint64) (*vfs.Inode, kerrno.Errno) {
	if ino == 1 {
		return st.rootInode(), kerrno.OK
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, d := range st.devices {
		if st.ino[d.name] == ino {
			return st.deviceInode(ino, d.dev), kerrno.OK
		}
	}
	return nil, kerrno.NotFound
}

func (st *fsState) rootInode() *vfs.Inode {
	return &vfs.Inode{
		Ino:  1,
		Type: vfs.Directory,
		Mode: 0o555,
		IOp: &vfs.InodeOps{
			Lookup: func(dir *vfs.Inode, name string) (uint64, kerrno.Errno) {
				st.mu.Lock()
				defer st.mu.Unlock()
				ino, ok := st.ino[name]
				if !ok {
					return 0, kerrno.NotFound
				}
				return ino, kerrno.OK
			},
		},
		FOp: &vfs.FileOps{
			Readdir: func(f *vfs.File, cur *vfs.Dirent) kerrno.Errno {
				st.mu.Lock()
				defer st.mu.Unlock()
				idx := int(cur.Index) + 1
				if idx >= len(st.devices) {
					return kerrno.NotFound
				}
				d := st.devices[idx]
				cur.SetName(d.name)
				cur.Ino = st.ino[d.name]
				cur.Index = int64(idx)
				return kerrno.OK
			},
		},
	}
}

func (st *fsState) deviceInode(ino uint64, dev CharDevice) *vfs.Inode {
	return &vfs.Inode{
		Ino:  ino,
		Type: vfs.Device,
		Mode: 0o666,
		FOp: &vfs.FileOps{
			Read: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				return dev.Read(buf)
			},
			Write: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				return dev.Write(buf)
			},
		},
	}
}
