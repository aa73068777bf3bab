// Package vfs implements the filesystem registry, mount table and
// driver-polymorphic dispatch forming the kernel's VFS layer.
//
// Every backing store (ROM image, device nodes, ext4) implements the
// same small set of operation interfaces, and the VFS dispatches
// through them polymorphically rather than type-switching on
// filesystem kind.
package vfs

import (
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
)

// FileType enumerates the inode kinds the kernel understands.
type FileType int

const (
	Regular FileType = iota
	Directory
	Symlink
	Device
)

// MaxNameLen bounds a single path component, matching the dirent name
// field width at the user boundary.
const MaxNameLen = 255

// SuperblockOps is the per-filesystem inode lifecycle vtable. Every
// filesystem driver supplies one; the VFS never type-switches on the
// concrete filesystem, it only calls through this record.
type SuperblockOps struct {
	AllocInode func(sb *Superblock) (*Inode, kerrno.Errno)
	OpenInode  func(sb *Superblock, ino uint64) (*Inode, kerrno.Errno)
	FreeInode  func(sb *Superblock, inode *Inode) kerrno.Errno
	ReadInode  func(sb *Superblock, ino uint64) (*Inode, kerrno.Errno)
	WriteInode func(sb *Superblock, inode *Inode) kerrno.Errno
	DropInode  func(sb *Superblock, inode *Inode) kerrno.Errno
}

// InodeOps resolves names within a directory and follows symlinks.
type InodeOps struct {
	Lookup   func(dir *Inode, name string) (childIno uint64, err kerrno.Errno)
	Readlink func(inode *Inode) (target string, err kerrno.Errno)
	Create   func(dir *Inode, name string, mode uint32) (childIno uint64, err kerrno.Errno)
}

// FileOps is the per-inode default operations vtable; Open may replace
// it with a driver-specialized copy on the resulting *File, mirroring
// inode.f_op vs file.f_op.
type FileOps struct {
	Open    func(inode *Inode, file *File) kerrno.Errno
	Release func(inode *Inode, file *File) kerrno.Errno
	Read    func(file *File, buf []byte, pos *int64) (int, kerrno.Errno)
	Write   func(file *File, buf []byte, pos *int64) (int, kerrno.Errno)
	Readdir func(file *File, cur *Dirent) kerrno.Errno
}

// FS is a named, registered filesystem driver.
type FS struct {
	Name   string
	GetSB  func(flags uint32, source string, opts string) (*Superblock, kerrno.Errno)
	KillSB func(sb *Superblock) kerrno.Errno
}

// Superblock is the in-memory record of one mounted filesystem instance.
type Superblock struct {
	FS       *FS
	Ops      *SuperblockOps
	RootIno  uint64
	Private  interface{}

	mu        sync.Mutex
	openCount int
}

func (sb *Superblock) openCountInc() { sb.mu.Lock(); sb.openCount++; sb.mu.Unlock() }
func (sb *Superblock) openCountDec() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.openCount--
	return sb.openCount
}

// OpenCount reports the superblock's aggregate open-inode count, read by
// the mount table's busy check (sys_umount).
func (sb *Superblock) OpenCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.openCount
}

// Inode is an in-memory handle to one filesystem object. The driver owns
// the memory; callers obtained it via AllocInode/OpenInode and must
// eventually call FreeInode (here: Release via the VFS close path).
type Inode struct {
	Ino     uint64
	Type    FileType
	Mode    uint32 // permission bits, rwxrwxrwx
	Uid     uint32
	Gid     uint32
	Size    int64
	SB      *Superblock // non-owning back-reference
	FOp     *FileOps
	IOp     *InodeOps
	Private interface{}

	mu        sync.Mutex
	openCount int
}

func (in *Inode) incOpen() { in.mu.Lock(); in.openCount++; in.mu.Unlock() }
func (in *Inode) decOpen() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.openCount--
	return in.openCount
}

// OpenCount reports how many open files (system-wide) reference this
// inode.
func (in *Inode) OpenCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.openCount
}

// File is a system-wide open-file object: one per open() call, shared
// across dup()'d fds via its own reference count.
type File struct {
	Inode   *Inode
	Mode    uint32 // O_RDONLY / O_WRONLY / O_RDWR etc.
	Pos     int64
	FOp     *FileOps
	Private interface{}

	mu        sync.Mutex
	openCount int
}

func (f *File) incOpen() { f.mu.Lock(); f.openCount++; f.mu.Unlock() }
func (f *File) decOpen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCount--
	return f.openCount
}

// OpenCount reports the file's dup reference count.
func (f *File) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

// Dirent is both the readdir cursor (Index starts at -1) and the record
// returned to user space for one directory entry.
type Dirent struct {
	Name  [MaxNameLen + 1]byte
	Ino   uint64
	Index int64
}

// SetName copies name into the fixed-width Name field, truncating at
// MaxNameLen (callers validate length earlier; this is a backstop).
func (d *Dirent) SetName(name string) {
	n := copy(d.Name[:MaxNameLen], name)
	d.Name[n] = 0
}

// NameString returns the NUL-terminated Name field as a Go string.
func (d *Dirent) NameString() string {
	n := 0
	for n < len(d.Name) && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

// Stat is the projection of an inode returned by stat/fstat/lstat.
type Stat struct {
	Ino   uint64
	Type  FileType
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  int64
	Nlink uint32
}
