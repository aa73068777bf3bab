package process_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/fsdriver/romfs"
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

func testCred() vfs.Cred { return vfs.Cred{Uid: 0, Gid: 0} }

func newTestRegistry(t *testing.T) *vfs.Registry {
	t.Helper()
	reg := vfs.NewRegistry()
	root := &romfs.Node{
		Name: "/",
		Dir:  true,
		Children: []*romfs.Node{
			{Name: "hello.txt", Data: []byte("hello world")},
		},
	}
	fs := romfs.New("mp3fs", root)
	require.Equal(t, kerrno.OK, reg.RegisterFS(fs))
	require.Equal(t, kerrno.OK, reg.Mount(testCred(), "mp3fs", "/", "", "", 0))
	return reg
}
