package vfs

import (
	"strings"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/kpath"
)

// Cred carries the caller identity that mount/permission checks test
// against. It is intentionally tiny and owned by vfs (not process) so
// this package has no dependency on the process model.
type Cred struct {
	Uid uint32
	Gid uint32
}

func (c Cred) isRoot() bool { return c.Uid == 0 && c.Gid == 0 }

// Access permission bits, matching the low three mode bits.
const (
	Read    = 0o4
	Write   = 0o2
	Execute = 0o1
)

// Mount implements sys_mount: root-only, canonicalizes and forces a
// trailing slash on target, resolves the backing driver, and — for
// non-root mounts — requires target to already exist as a directory the
// caller may fully access.
func (r *Registry) Mount(cred Cred, fsType, target, source, opts string, flags uint32) kerrno.Errno {
	if !cred.isRoot() {
		return kerrno.PermissionDenied
	}
	canon, err := kpath.Canonicalize(target)
	if err != kerrno.OK {
		return err
	}
	if !strings.HasSuffix(canon, "/") {
		canon += "/"
	}

	fs, err := r.GetFS(fsType)
	if err != kerrno.OK {
		return err
	}

	if canon != "/" {
		inode, lerr := r.Lookup(cred, strings.TrimSuffix(canon, "/"))
		if lerr != kerrno.OK {
			return lerr
		}
		defer r.putInode(inode)
		if inode.Type != Directory {
			return kerrno.NotDir
		}
		if !CheckPermission(inode, cred, Read|Write|Execute) {
			return kerrno.PermissionDenied
		}
	}

	sb, serr := fs.GetSB(flags, source, opts)
	if serr != kerrno.OK {
		return serr
	}
	sb.FS = fs

	if aerr := r.addMount(&MountEntry{Mountpoint: canon, SB: sb}); aerr != kerrno.OK {
		fs.KillSB(sb)
		return aerr
	}
	return kerrno.OK
}

// Umount implements sys_umount: root-only, refuses BUSY while any inode
// from the mount is still open, otherwise tears the superblock down.
func (r *Registry) Umount(cred Cred, target string) kerrno.Errno {
	if !cred.isRoot() {
		return kerrno.PermissionDenied
	}
	canon, err := kpath.Canonicalize(target)
	if err != kerrno.OK {
		return err
	}
	if !strings.HasSuffix(canon, "/") {
		canon += "/"
	}
	r.mu.Lock()
	var entry *MountEntry
	for _, e := range r.mounts {
		if e != nil && e.Mountpoint == canon {
			entry = e
			break
		}
	}
	r.mu.Unlock()
	if entry == nil {
		return kerrno.NotFound
	}
	if entry.SB.OpenCount() > 0 {
		return kerrno.Busy
	}
	if _, rerr := r.removeMount(canon); rerr != kerrno.OK {
		return rerr
	}
	return entry.SB.FS.KillSB(entry.SB)
}
