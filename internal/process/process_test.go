package process_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/process"
)

func TestForkThenExitThenWaitpid(t *testing.T) {
	pool := process.NewFramePool(1024)
	reg := newTestRegistry(t)
	tt := process.NewTaskTable(pool, reg)

	parent, err := tt.Spawn(0, 0)
	require.Equal(t, kerrno.OK, err)

	child, err := tt.Fork(parent)
	require.Equal(t, kerrno.OK, err)
	require.NotEqual(t, parent.Pid, child.Pid)
	require.Equal(t, parent.Pid, child.Ppid)
	require.EqualValues(t, 0, child.Frame.ReturnValue())

	tt.Exit(child, 7)

	pid, status, werr := tt.Waitpid(parent, child.Pid, 0)
	require.Equal(t, kerrno.OK, werr)
	require.Equal(t, child.Pid, pid)
	require.Equal(t, 7, status)

	_, gerr := tt.Get(child.Pid)
	require.Equal(t, kerrno.NotFound, gerr)
}

func TestWaitpidNoHangReturnsImmediately(t *testing.T) {
	pool := process.NewFramePool(1024)
	reg := newTestRegistry(t)
	tt := process.NewTaskTable(pool, reg)

	parent, _ := tt.Spawn(0, 0)
	_, err := tt.Fork(parent)
	require.Equal(t, kerrno.OK, err)

	pid, _, werr := tt.Waitpid(parent, -1, process.WNoHang)
	require.Equal(t, kerrno.OK, werr)
	require.Equal(t, 0, pid)
}

func TestForkDuplicatesFDTable(t *testing.T) {
	pool := process.NewFramePool(1024)
	reg := newTestRegistry(t)
	tt := process.NewTaskTable(pool, reg)

	parent, _ := tt.Spawn(0, 0)
	f, oerr := reg.Open(testCred(), "/hello.txt", 0, 0)
	require.Equal(t, kerrno.OK, oerr)
	fd, aerr := parent.FDs.Alloc(f)
	require.Equal(t, kerrno.OK, aerr)

	child, ferr := tt.Fork(parent)
	require.Equal(t, kerrno.OK, ferr)

	cf, gerr := child.FDs.Get(fd)
	require.Equal(t, kerrno.OK, gerr)
	require.Same(t, f, cf)
	require.Equal(t, 2, f.OpenCount())
}
