package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/fsdriver/romfs"
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

func rootCred() vfs.Cred { return vfs.Cred{Uid: 0, Gid: 0} }

func buildRegistry(t *testing.T) *vfs.Registry {
	t.Helper()
	reg := vfs.NewRegistry()
	root := &romfs.Node{
		Name: "/",
		Dir:  true,
		Children: []*romfs.Node{
			{Name: "hello.txt", Data: []byte("hello world")},
			{Name: "sub", Dir: true, Children: []*romfs.Node{
				{Name: "deep.txt", Data: []byte("deep")},
			}},
		},
	}
	fs := romfs.New("mp3fs", root)
	require.Equal(t, kerrno.OK, reg.RegisterFS(fs))
	require.Equal(t, kerrno.OK, reg.Mount(rootCred(), "mp3fs", "/", "", "", 0))
	return reg
}

func TestMountAndOpenRead(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.Open(rootCred(), "/hello.txt", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.OK, err)

	buf := make([]byte, 32)
	n, err := reg.Read(f, buf)
	require.Equal(t, kerrno.OK, err)
	require.Equal(t, "hello world", string(buf[:n]))

	require.Equal(t, kerrno.OK, reg.Close(f))
}

func TestLookupNested(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.Open(rootCred(), "/sub/deep.txt", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.OK, err)
	buf := make([]byte, 16)
	n, _ := reg.Read(f, buf)
	require.Equal(t, "deep", string(buf[:n]))
	reg.Close(f)
}

func TestOpenNotFound(t *testing.T) {
	reg := buildRegistry(t)
	_, err := reg.Open(rootCred(), "/nope.txt", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.NotFound, err)
}

func TestReaddirEnumeratesOnce(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.Open(rootCred(), "/", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.OK, err)

	seen := map[string]bool{}
	cur := &vfs.Dirent{Index: -1}
	for {
		rerr := reg.Readdir(f, cur)
		if rerr == kerrno.NotFound {
			break
		}
		require.Equal(t, kerrno.OK, rerr)
		name := cur.NameString()
		require.Falsef(t, seen[name], "entry %q enumerated twice", name)
		seen[name] = true
	}
	require.Equal(t, map[string]bool{"hello.txt": true, "sub": true}, seen)
	reg.Close(f)
}

func TestWriteRejectedOnReadOnlyFS(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.Open(rootCred(), "/hello.txt", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.OK, err)
	_, werr := reg.Write(f, []byte("x"))
	require.Equal(t, kerrno.PermissionDenied, werr)
	reg.Close(f)
}

func TestMountRequiresRoot(t *testing.T) {
	reg := vfs.NewRegistry()
	fs := romfs.New("mp3fs", &romfs.Node{Name: "/", Dir: true})
	require.Equal(t, kerrno.OK, reg.RegisterFS(fs))
	err := reg.Mount(vfs.Cred{Uid: 1, Gid: 1}, "mp3fs", "/", "", "", 0)
	require.Equal(t, kerrno.PermissionDenied, err)
}

func TestUmountBusyUntilClosed(t *testing.T) {
	reg := buildRegistry(t)
	f, err := reg.Open(rootCred(), "/hello.txt", vfs.ORdOnly, 0)
	require.Equal(t, kerrno.OK, err)

	require.Equal(t, kerrno.Busy, reg.Umount(rootCred(), "/"))

	require.Equal(t, kerrno.OK, reg.Close(f))
	require.Equal(t, kerrno.OK, reg.Umount(rootCred(), "/"))
}

func TestFindMountComponentBoundary(t *testing.T) {
	reg := vfs.NewRegistry()
	root := &romfs.Node{Name: "/", Dir: true, Children: []*romfs.Node{
		{Name: "abc", Dir: true},
	}}
	rootFS := romfs.New("mp3fs", root)
	require.Equal(t, kerrno.OK, reg.RegisterFS(rootFS))
	require.Equal(t, kerrno.OK, reg.Mount(rootCred(), "mp3fs", "/", "", "", 0))

	subFS := romfs.New("devfs", &romfs.Node{Name: "/", Dir: true})
	require.Equal(t, kerrno.OK, reg.RegisterFS(subFS))
	require.Equal(t, kerrno.OK, reg.Mount(rootCred(), "devfs", "/abc", "", "", 0))

	// "/abcdef" must NOT resolve against the "/abc" mountpoint: mount
	// matching stops at path component boundaries, so it must fall back
	// to the root mount instead of matching "/abc" as a bare textual
	// prefix.
	m, _, err := reg.FindMount("/abcdef")
	require.Equal(t, kerrno.OK, err)
	require.Equal(t, "/", m.Mountpoint)

	m, _, err = reg.FindMount("/abc/x")
	require.Equal(t, kerrno.OK, err)
	require.Equal(t, "/abc/", m.Mountpoint)
}

func TestRegisterFSDuplicateName(t *testing.T) {
	reg := vfs.NewRegistry()
	fs1 := romfs.New("dup", &romfs.Node{Name: "/", Dir: true})
	fs2 := romfs.New("dup", &romfs.Node{Name: "/", Dir: true})
	require.Equal(t, kerrno.OK, reg.RegisterFS(fs1))
	require.Equal(t, kerrno.Exists, reg.RegisterFS(fs2))
}
