// Package romfs implements a read-only, wholly in-memory filesystem
// driver for the VFS, standing in for a ROM-image filesystem whose
// on-disk image parser is treated as an external collaborator: this
// package only needs to satisfy the same driver contract the VFS hands
// any filesystem, built purely from Go data structures with no
// host-filesystem backing.
package romfs

import (
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// Node is one file or directory in the image.
type Node struct {
	Name     string
	Dir      bool
	Data     []byte
	Children []*Node
}

type inodeData struct {
	node *Node
}

type fsState struct {
	mu      sync.Mutex
	byIno   map[uint64]*Node
	nextIno uint64
}

// New builds a *vfs.FS whose get_sb produces a superblock rooted at
// root, named by the caller (conventionally "romfs").
func New(name string, root *Node) *vfs.FS {
	return &vfs.FS{
		Name: name,
		GetSB: func(flags uint32, source string, opts string) (*vfs.Superblock, kerrno.Errno) {
			st := &fsState{byIno: map[uint64]*Node{}}
			rootIno := st.assignIno(root)
			sb := &vfs.Superblock{
				RootIno: rootIno,
				Private: st,
				Ops: &vfs.SuperblockOps{
					AllocInode: func(sb *vfs.Superblock) (*vfs.Inode, kerrno.Errno) {
						return nil, kerrno.PermissionDenied // read-only: no new inodes
					},
					OpenInode: func(sb *vfs.Superblock, ino uint64) (*vfs.Inode, kerrno.Errno) {
						return openInode(sb, st, ino)
					},
					FreeInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno {
						return kerrno.OK
					},
					ReadInode: func(sb *vfs.Superblock, ino uint64) (*vfs.Inode, kerrno.Errno) {
						return openInode(sb, st, ino)
					},
					WriteInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno {
						return kerrno.PermissionDenied
					},
					DropInode: func(sb *vfs.Superblock, inode *vfs.Inode) kerrno.Errno {
						return kerrno.OK
					},
				},
			}
			return sb, kerrno.OK
		},
		KillSB: func(sb *vfs.Superblock) kerrno.Errno {
			return kerrno.OK
		},
	}
}

func (st *fsState) assignIno(n *Node) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextIno++
	ino := st.nextIno
	st.byIno[ino] = n
	for _, c := range n.Children {
		st.assignInoLocked(c)
	}
	return ino
}

func (st *fsState) assignInoLocked(n *Node) uint64 {
	st.nextIno++
	ino := st.nextIno
	st.byIno[ino] = n
	for _, c := range n.Children {
		st.assignInoLocked(c)
	}
	return ino
}

func (st *fsState) inoOf(n *Node) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	for ino, node := range st.byIno {
		if node == n {
			return ino
		}
	}
	return 0
}

func openInode(sb *vfs.Superblock, st *fsState, ino uint64) (*vfs.Inode, kerrno.Errno) {
	st.mu.Lock()
	node, ok := st.byIno[ino]
	st.mu.Unlock()
	if !ok {
		return nil, kerrno.NotFound
	}
	typ := vfs.Regular
	mode := uint32(0o444)
	if node.Dir {
		typ = vfs.Directory
		mode = 0o555
	}
	inode := &vfs.Inode{
		Ino:     ino,
		Type:    typ,
		Mode:    mode,
		Size:    int64(len(node.Data)),
		Private: &inodeData{node: node},
		IOp: &vfs.InodeOps{
			Lookup: func(dir *vfs.Inode, name string) (uint64, kerrno.Errno) {
				dnode := dir.Private.(*inodeData).node
				for _, c := range dnode.Children {
					if c.Name == name {
						return st.inoOf(c), kerrno.OK
					}
				}
				return 0, kerrno.NotFound
			},
		},
		FOp: &vfs.FileOps{
			Read: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				n := f.Inode.Private.(*inodeData).node
				if *pos >= int64(len(n.Data)) {
					return 0, kerrno.OK
				}
				c := copy(buf, n.Data[*pos:])
				*pos += int64(c)
				return c, kerrno.OK
			},
			Write: func(f *vfs.File, buf []byte, pos *int64) (int, kerrno.Errno) {
				return 0, kerrno.PermissionDenied
			},
			Readdir: func(f *vfs.File, cur *vfs.Dirent) kerrno.Errno {
				n := f.Inode.Private.(*inodeData).node
				idx := int(cur.Index) + 1
				if idx >= len(n.Children) {
					return kerrno.NotFound
				}
				child := n.Children[idx]
				cur.SetName(child.Name)
				cur.Ino = st.inoOf(child)
				cur.Index = int64(idx)
				return kerrno.OK
			},
		},
	}
	return inode, kerrno.OK
}
