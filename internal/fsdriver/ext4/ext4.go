// Package ext4 implements the VFS driver contract for a block-device
// filesystem. Real ext4 on-disk layout parsing is not attempted; this
// package models the backing store as a fixed-size in-memory block
// array addressed through a BlockDevice, so the VFS-facing contract
// (get_sb/kill_sb, read-write inodes, create) is exercised the
// same way a real parser's would be. The "storage path" is a
// BlockDevice instead of the host filesystem.
package ext4

import (
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// BlockDevice is the narrow interface the driver needs from the ATA
// layer; a test or boot sequence supplies an in-memory implementation.
type BlockDevice interface {
	ReadBlock(n int) []byte
	WriteBlock(n int, data []byte)
	NumBlocks() int
	BlockSize() int
}

// MemBlockDevice is a trivial in-memory BlockDevice for tests and for
// booting without real ATA hardware.
type MemBlockDevice struct {
	blockSize int
	blocks    [][]byte
}

// NewMemBlockDevice allocates n blocks of size blockSize.
func NewMemBlockDevice(n, blockSize int) *MemBlockDevice {
	d := &MemBlockDevice{blockSize: blockSize, blocks: make([][]byte, n)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
	}
	return d
}

func (d *MemBlockDevice) ReadBlock(n int) []byte        { return d.blocks[n] }
func (d *MemBlockDevice) WriteBlock(n int, data []byte) { copy(d.blocks[n], data) }
func (d *MemBlockDevice) NumBlocks() int                { return len(d.blocks) }
func (d *MemBlockDevice) BlockSize() int                { return d.blockSize }

// fileRecord is a file's metadata plus the list of device block numbers
// holding its bytes in order; size may fall short of len(blocks)*blockSize,
// since the last block is only partially used.
type fileRecord struct {
	name     string
	dir      bool
	blocks   []int
	size     int64
	children []uint64
	mode     uint32
	uid, gid uint32
}

type fsState struct {
	mu        sync.Mutex
	dev       BlockDevice
	byIno     map[uint64]*fileRecord
	nextIno   uint64
	nextBlock int
}

// allocBlock hands out the next free device block in order; this
// simulator never reclaims freed blocks onto a free list, matching its
// inode allocator's own ever-increasing counter.
func (st *fsState) allocBlock() (int, kerrno.Errno) {
	if st.nextBlock >= st.dev.NumBlocks() {
		return 0, kerrno.NoSpace
	}
	b := st.nextBlock
	st.nextBlock++
	return b, kerrno.OK
}

// readAt copies up to len(buf) bytes of rec's content starting at pos,
// walking rec's block list and reading each one off st.dev.
func (st *fsState) readAt(rec *fileRecord, pos int64, buf []byte) int {
	bs := int64(st.dev.BlockSize())
	n := 0
	for n < len(buf) && pos < rec.size {
		blkIdx := int(pos / bs)
		if blkIdx >= len(rec.blocks) {
			break
		}
		off := int(pos % bs)
		block := st.dev.ReadBlock(rec.blocks[blkIdx])
		c := copy(buf[n:], block[off:])
		if remaining := rec.size - pos; int64(c) > remaining {
			c = int(remaining)
		}
		n += c
		pos += int64(c)
	}
	return n
}

// writeAt writes buf into rec's content starting at pos, allocating new
// device blocks as needed and growing rec.size to cover the write.
func (st *fsState) writeAt(rec *fileRecord, pos int64, buf []byte) kerrno.Errno {
	bs := int64(st.dev.BlockSize())
	n := 0
	for n < len(buf) {
		blkIdx := int(pos / bs)
		off := int(pos % bs)
		for blkIdx >= len(rec.blocks) {
			nb, err := st.allocBlock()
			if err != kerrno.OK {
				return err
			}
			rec.blocks = append(rec.blocks, nb)
		}
		block := st.dev.ReadBlock(rec.blocks[blkIdx])
		c := copy(block[off:], buf[n:])
		st.dev.WriteBlock(rec.blocks[blkIdx], block)
		n += c
		pos += int64(c)
	}
	if pos > rec.size {
		rec.size = pos
	}
	return kerrno.OK
}

// New constructs a driver whose get_sb formats (or, for this simulator,
// simply initializes) a filesystem on dev.
func New(name string, dev BlockDevice) *vfs.FS {
	return &vfs.FS{
		Name: name,
		GetSB: func(flags uint32, source, opts string) (*vfs.Superblock, kerrno.Errno) {
			st := &fsState{dev: dev, byIno: map[uint64]*fileRecord{}}
			st.nextIno = 1
			st.byIno[1] = &fileRecord{name: "/", dir: true, mode: 0o755}
			sb := &vfs.Superblock{
				RootIno: 1,
				Private: st,
				Ops: &vfs.SuperblockOps{
					AllocInode: st.allocInode,
					OpenInode:  st.openInode,
					FreeInode:  func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno { return kerrno.OK },
					ReadInode:  st.openInode,
					WriteInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno { return kerrno.OK },
					DropInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno {
						st.mu.Lock()
						defer st.mu.Unlock()
						delete(st.byIno, inode.Ino)
						return kerrno.OK
					},
				},
			}
			return sb, kerrno.OK
		},
		KillSB: func(sb *vfs.Superblock) kerrno.Errno { return kerrno.OK },
	}
}

func (st *fsState) allocInode(sb *vfs.Superblock) (*vfs.Inode, kerrno.Errno) {
	st.mu.Lock()
	st.nextIno++
	ino := st.nextIno
	st.byIno[ino] = &fileRecord{mode: 0o644}
	st.mu.Unlock()
	return st.buildInode(ino)
}

func (st *fsState) openInode(sb *vfs.Superblock, ino uint64) (*vfs.Inode, kerrno.Errno) {
	return st.buildInode(ino)
}

func (st *fsState) buildInode(ino uint64) (*vfs.Inode, kerrno.Errno) {
	st.mu.Lock()
	rec, ok := st.byIno[ino]
	st.mu.Unlock()
	if !ok {
		return nil, kerrno.NotFound
	}
	typ := vfs.Regular
	if rec.dir {
		typ = vfs.Directory
	}
	inode := &vfs.Inode{
		Ino:  ino,
		Type: typ,
		Mode: rec.mode,
		Uid:  rec.uid,
		Gid:  rec.gid,
		Size: rec.size,
		IOp: &vfs.InodeOps{
			Lookup: func(dir *vfs.Inode, name string) (uint64, kerrno.Errno) {
				st.mu.Lock()
				defer st.mu.Unlock()
				drec := st.byIno[dir.Ino]
				for _, c := range drec.children {
					if st.byIno[c].name == name {
						return c, kerrno.OK
					}
				}
				return 0, kerrno.NotFound
			},
			Create: func(dir *vfs.Inode, name string, mode uint32) (uint64, kerrno.Errno) {
				st.mu.Lock()
				defer st.mu.Unlock()
				st.nextIno++
				ino := st.nextIno
				st.byIno[ino] = &fileRecord{name: name, mode: mode}
				drec := st.byIno[dir.Ino]
				drec.children = append(drec.children, ino)
				return ino, kerrno.OK
			},
		},
		FOp: &vfs.FileOps{
			Read: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				st.mu.Lock()
				defer st.mu.Unlock()
				r := st.byIno[f.Inode.Ino]
				if *pos >= r.size {
					return 0, kerrno.OK
				}
				n := st.readAt(r, *pos, buf)
				*pos += int64(n)
				return n, kerrno.OK
			},
			Write: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				st.mu.Lock()
				defer st.mu.Unlock()
				r := st.byIno[f.Inode.Ino]
				if werr := st.writeAt(r, *pos, buf); werr != kerrno.OK {
					return 0, werr
				}
				*pos += int64(len(buf))
				f.Inode.Size = r.size
				return len(buf), kerrno.OK
			},
			Readdir: func(f *vfs.File, cur *vfs.Dirent) kerrno.Errno {
				st.mu.Lock()
				defer st.mu.Unlock()
				r := st.byIno[f.Inode.Ino]
				idx := int(cur.Index) + 1
				if idx >= len(r.children) {
					return kerrno.NotFound
				}
				childIno := r.children[idx]
				cur.SetName(st.byIno[childIno].name)
				cur.Ino = childIno
				cur.Index = int64(idx)
				return kerrno.OK
			},
		},
	}
	return inode, kerrno.OK
}
