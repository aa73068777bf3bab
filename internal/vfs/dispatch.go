package vfs

import (
	"strings"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/kpath"
)

// MaxSymlinkDepth bounds symlink recursion during lookup.
const MaxSymlinkDepth = 8

// MaxOpenFiles is the nominal size of the system-wide open-file pool.
// Open does not count open files against it, so it is not enforced.
const MaxOpenFiles = 1024

// OpenFlags mirror the O_* constants at the syscall boundary; only the
// bits the VFS itself interprets are modeled here.
const (
	ORdOnly   = 0x0
	OWrOnly   = 0x1
	ORdWr     = 0x2
	OCreate   = 0x40
	OExcl     = 0x80
	OTruncate = 0x200
	OAppend   = 0x400
)

// CheckPermission reports whether cred has every bit in want against
// inode's mode, using the usual owner/group/other precedence (root
// always passes).
func CheckPermission(inode *Inode, cred Cred, want uint32) bool {
	if cred.isRoot() {
		return true
	}
	var bits uint32
	switch {
	case cred.Uid == inode.Uid:
		bits = (inode.Mode >> 6) & 0o7
	case cred.Gid == inode.Gid:
		bits = (inode.Mode >> 3) & 0o7
	default:
		bits = inode.Mode & 0o7
	}
	return bits&want == want
}

// openInode wraps sb.Ops.OpenInode and bumps sb.openCount on success, the
// two always move together per the invariant "every inode has
// sb.open_count >= 1".
func (r *Registry) openInode(sb *Superblock, ino uint64) (*Inode, kerrno.Errno) {
	inode, err := sb.Ops.OpenInode(sb, ino)
	if err != kerrno.OK {
		return nil, err
	}
	inode.SB = sb
	inode.incOpen()
	sb.openCountInc()
	return inode, kerrno.OK
}

// putInode releases one reference obtained via openInode/Lookup.
func (r *Registry) putInode(inode *Inode) kerrno.Errno {
	if inode.decOpen() > 0 {
		return kerrno.OK
	}
	sb := inode.SB
	err := sb.Ops.FreeInode(sb, inode)
	sb.openCountDec()
	return err
}

// Lookup resolves an absolute path to a held inode (the caller must
// release it via PutInode, normally through Close once it is attached
// to an open file).
func (r *Registry) Lookup(cred Cred, path string) (*Inode, kerrno.Errno) {
	return r.lookupDepth(cred, path, 0)
}

// PutInode is the exported counterpart callers outside this package use
// to release a directly-looked-up inode (e.g. for stat/chdir) that never
// passed through Open.
func (r *Registry) PutInode(inode *Inode) kerrno.Errno {
	return r.putInode(inode)
}

func (r *Registry) lookupDepth(cred Cred, path string, depth int) (*Inode, kerrno.Errno) {
	if depth > MaxSymlinkDepth {
		return nil, kerrno.Loop
	}
	canon, err := kpath.Canonicalize(path)
	if err != kerrno.OK {
		return nil, err
	}
	mount, off, err := r.FindMount(canon)
	if err != kerrno.OK {
		return nil, err
	}
	suffix := canon[off:]

	cur, err := r.openInode(mount.SB, mount.SB.RootIno)
	if err != kerrno.OK {
		return nil, err
	}

	comps := kpath.SplitComponents(suffix)
	for i, name := range comps {
		if cur.Type != Directory {
			r.putInode(cur)
			return nil, kerrno.NotDir
		}
		if cur.IOp == nil || cur.IOp.Lookup == nil {
			r.putInode(cur)
			return nil, kerrno.NotFound
		}
		childIno, lerr := cur.IOp.Lookup(cur, name)
		if lerr != kerrno.OK {
			r.putInode(cur)
			return nil, lerr
		}
		parent := cur
		child, oerr := r.openInode(mount.SB, childIno)
		r.putInode(parent)
		if oerr != kerrno.OK {
			return nil, oerr
		}
		cur = child

		isLast := i == len(comps)-1
		if cur.Type == Symlink && !isLast {
			if cur.IOp == nil || cur.IOp.Readlink == nil {
				r.putInode(cur)
				return nil, kerrno.NotFound
			}
			target, rerr := cur.IOp.Readlink(cur)
			if rerr != kerrno.OK {
				r.putInode(cur)
				return nil, rerr
			}
			dir := kpath.Dir(canon[:off] + strings.Join(comps[:i+1], "/"))
			rejoined, jerr := kpath.Join(dir, target)
			r.putInode(cur)
			if jerr != kerrno.OK {
				return nil, jerr
			}
			remainder := "/" + strings.Join(comps[i+1:], "/")
			full, jerr2 := kpath.Join(rejoined, remainder)
			if jerr2 != kerrno.OK {
				return nil, jerr2
			}
			return r.lookupDepth(cred, full, depth+1)
		}
	}
	return cur, kerrno.OK
}

// Open runs the open pipeline: resolve (with OCreate, a missing final
// component is created through the parent directory's InodeOps.Create
// when the driver has one), allocate a File, initialize it, invoke
// f_op.Open, and return the *File held with one reference (the caller
// attaches it to an fd table entry). Files are plain allocations; no
// NoFiles limit is applied.
func (r *Registry) Open(cred Cred, path string, flags uint32, mode uint32) (*File, kerrno.Errno) {
	inode, err := r.Lookup(cred, path)
	if err == kerrno.NotFound && flags&OCreate != 0 {
		canon, _ := kpath.Canonicalize(path) // Lookup already accepted path
		dir, derr := r.Lookup(cred, kpath.Dir(canon))
		if derr != kerrno.OK {
			return nil, derr
		}
		if dir.Type == Directory && dir.IOp != nil && dir.IOp.Create != nil {
			if _, err = dir.IOp.Create(dir, kpath.Base(canon), mode); err == kerrno.OK {
				inode, err = r.Lookup(cred, canon)
				flags &^= OExcl // the name did not exist before this call
			}
		}
		r.putInode(dir)
	}
	if err != kerrno.OK {
		return nil, err
	}
	if flags&OCreate != 0 && flags&OExcl != 0 {
		r.putInode(inode)
		return nil, kerrno.Exists
	}
	if inode.Type == Directory && (flags&(OWrOnly|ORdWr)) != 0 {
		r.putInode(inode)
		return nil, kerrno.IsDir
	}

	want := uint32(0)
	switch flags & 0x3 {
	case OWrOnly:
		want = Write
	case ORdWr:
		want = Read | Write
	default:
		want = Read
	}
	if !CheckPermission(inode, cred, want) {
		r.putInode(inode)
		return nil, kerrno.PermissionDenied
	}

	file := &File{Inode: inode, Mode: flags, FOp: inode.FOp}
	if inode.FOp != nil && inode.FOp.Open != nil {
		if oerr := inode.FOp.Open(inode, file); oerr != kerrno.OK {
			r.putInode(inode)
			return nil, oerr
		}
	}
	file.incOpen()
	return file, kerrno.OK
}

// Read validates the requested access against the open mode and
// dispatches to f_op.Read, updating file.Pos on success.
func (r *Registry) Read(file *File, buf []byte) (int, kerrno.Errno) {
	if file.Mode&0x3 == OWrOnly {
		return 0, kerrno.PermissionDenied
	}
	if file.FOp == nil || file.FOp.Read == nil {
		return 0, kerrno.IOError
	}
	n, err := file.FOp.Read(file, buf, &file.Pos)
	return n, err
}

// Write validates the requested access against the open mode and
// dispatches to f_op.Write, updating file.Pos on success.
func (r *Registry) Write(file *File, buf []byte) (int, kerrno.Errno) {
	m := file.Mode & 0x3
	if m != OWrOnly && m != ORdWr {
		return 0, kerrno.PermissionDenied
	}
	if file.FOp == nil || file.FOp.Write == nil {
		return 0, kerrno.IOError
	}
	if file.Mode&OAppend != 0 {
		file.Pos = file.Inode.Size
	}
	n, err := file.FOp.Write(file, buf, &file.Pos)
	return n, err
}

// Readdir advances the directory cursor embedded in cur and populates it
// with the next entry, or returns NotFound once iteration completes.
func (r *Registry) Readdir(file *File, cur *Dirent) kerrno.Errno {
	if file.Inode.Type != Directory {
		return kerrno.NotDir
	}
	if file.FOp == nil || file.FOp.Readdir == nil {
		return kerrno.NotFound
	}
	return file.FOp.Readdir(file, cur)
}

// Close decrements the file's reference count and, on the last
// reference, invokes f_op.Release and releases the inode. A
// release error is still propagated after freeing the slot.
func (r *Registry) Close(file *File) kerrno.Errno {
	if file.decOpen() > 0 {
		return kerrno.OK
	}
	var relErr kerrno.Errno
	if file.FOp != nil && file.FOp.Release != nil {
		relErr = file.FOp.Release(file.Inode, file)
	}
	putErr := r.putInode(file.Inode)
	if relErr != kerrno.OK {
		return relErr
	}
	return putErr
}

// Dup increments the file's reference count for dup/dup2/fork sharing.
func (r *Registry) Dup(file *File) { file.incOpen() }

// Stat projects an inode into the user-visible Stat record.
func Stat(inode *Inode) (s Stat) {
	s.Ino = inode.Ino
	s.Type = inode.Type
	s.Mode = inode.Mode
	s.Uid = inode.Uid
	s.Gid = inode.Gid
	s.Size = inode.Size
	s.Nlink = 1
	return s
}
