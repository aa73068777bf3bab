package syscall_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/fsdriver/romfs"
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/process"
	"github.com/schrodinghauer/saenaios/internal/sched"
	syscall "github.com/schrodinghauer/saenaios/internal/syscall"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

func writeUserBytes(task *process.Task, vaddr uint32, data []byte) kerrno.Errno {
	entry, ok := task.AS.FindContaining(vaddr)
	if !ok {
		return kerrno.BadAddress
	}
	task.AS.Pool().Write(entry.PAddr, int(vaddr-entry.VAddr), data)
	return kerrno.OK
}

func newGate(t *testing.T) (*syscall.Gate, *process.TaskTable, *process.Task) {
	t.Helper()
	reg := vfs.NewRegistry()
	root := &romfs.Node{Name: "/", Dir: true, Children: []*romfs.Node{
		{Name: "hello.txt", Data: []byte("hi there")},
	}}
	require.Equal(t, kerrno.OK, reg.RegisterFS(romfs.New("romfs", root)))
	require.Equal(t, kerrno.OK, reg.Mount(vfs.Cred{}, "romfs", "/", "", "", 0))

	pool := process.NewFramePool(256)
	tt := process.NewTaskTable(pool, reg)
	task, err := tt.Spawn(0, 0)
	require.Equal(t, kerrno.OK, err)

	g := syscall.NewGate(reg, tt, nil, nil)
	return g, tt, task
}

// putString writes a NUL-terminated string into a fresh user page and
// returns its virtual address.
func putString(t *testing.T, task *process.Task, s string) uint32 {
	t.Helper()
	paddr, err := task.AS.Pool().Alloc()
	require.Equal(t, kerrno.OK, err)
	vaddr := uint32(0x40000000)
	task.AS.Map(vaddr, paddr, process.FlagPresent|process.FlagUser)
	b := append([]byte(s), 0)
	task.AS.Pool().Write(paddr, 0, b)
	return vaddr
}

func mapScratchPage(t *testing.T, task *process.Task, vaddr uint32) {
	t.Helper()
	paddr, err := task.AS.Pool().Alloc()
	require.Equal(t, kerrno.OK, err)
	task.AS.Map(vaddr, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)
}

func TestOpenReadCloseRoundTrip(t *testing.T) {
	g, _, task := newGate(t)
	pathAddr := putString(t, task, "/hello.txt")

	fd := g.Invoke(task, syscall.SysOpen, pathAddr, 0, 0)
	require.GreaterOrEqual(t, fd, int32(0))

	const bufAddr = 0x50000000
	mapScratchPage(t, task, bufAddr)

	n := g.Invoke(task, syscall.SysRead, uint32(fd), bufAddr, 8)
	require.EqualValues(t, 8, n)

	out, err := readUserBytes(task, bufAddr, 8)
	require.Equal(t, kerrno.OK, err)
	require.Equal(t, "hi there", string(out))

	require.EqualValues(t, 0, g.Invoke(task, syscall.SysClose, uint32(fd), 0, 0))
}

func readUserBytes(task *process.Task, vaddr uint32, n int) ([]byte, kerrno.Errno) {
	entry, ok := task.AS.FindContaining(vaddr)
	if !ok {
		return nil, kerrno.BadAddress
	}
	buf := make([]byte, n)
	task.AS.Pool().Read(entry.PAddr, int(vaddr-entry.VAddr), buf)
	return buf, kerrno.OK
}

func TestOpenMissingFileReturnsNegativeErrno(t *testing.T) {
	g, _, task := newGate(t)
	pathAddr := putString(t, task, "/nope.txt")
	ret := g.Invoke(task, syscall.SysOpen, pathAddr, 0, 0)
	require.Equal(t, int32(kerrno.NotFound), ret)
}

func TestUnknownSyscallReturnsBadSyscall(t *testing.T) {
	g, _, task := newGate(t)
	ret := g.Invoke(task, 9999, 0, 0, 0)
	require.Equal(t, int32(kerrno.BadSyscall), ret)
}

func TestGetpidGetuidGetgid(t *testing.T) {
	g, _, task := newGate(t)
	require.Equal(t, int32(task.Pid), g.Invoke(task, syscall.SysGetpid, 0, 0, 0))
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysGetuid, 0, 0, 0))
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysGetgid, 0, 0, 0))
}

func TestForkReturnsChildPidToParent(t *testing.T) {
	g, _, task := newGate(t)
	childPid := g.Invoke(task, syscall.SysFork, 0, 0, 0)
	require.Greater(t, childPid, int32(0))
	require.NotEqual(t, int32(task.Pid), childPid)
}

func TestExitThenWaitpidByParent(t *testing.T) {
	g, tt, task := newGate(t)
	childPid := g.Invoke(task, syscall.SysFork, 0, 0, 0)
	require.Greater(t, childPid, int32(0))
	child, err := tt.Get(int(childPid))
	require.Equal(t, kerrno.OK, err)

	require.EqualValues(t, 0, g.Invoke(child, syscall.SysExit, 7, 0, 0))

	const statusAddr = 0x60000000
	mapScratchPage(t, task, statusAddr)
	ret := g.Invoke(task, syscall.SysWaitpid, uint32(childPid), statusAddr, uint32(process.WNoHang))
	require.Equal(t, childPid, ret)
}

func TestSigactionInstallsAndReadsOldHandler(t *testing.T) {
	g, _, task := newGate(t)

	const actAddr = 0x41000000
	mapScratchPage(t, task, actAddr)
	act := make([]byte, 12)
	binary.LittleEndian.PutUint32(act[0:], uint32(ksignal.ActionHandler))
	binary.LittleEndian.PutUint32(act[8:], 0x2000)
	require.Equal(t, kerrno.OK, writeUserBytes(task, actAddr, act))

	require.EqualValues(t, 0, g.Invoke(task, syscall.SysSigaction, uint32(ksignal.SIGUSR1), actAddr, 0))
	require.Equal(t, ksignal.ActionHandler, task.Sig.Handlers[ksignal.SIGUSR1].Action)
	require.EqualValues(t, 0x2000, task.Sig.Handlers[ksignal.SIGUSR1].Entry)

	const oldAddr = 0x42000000
	mapScratchPage(t, task, oldAddr)
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysSigaction, uint32(ksignal.SIGUSR1), 0, oldAddr))
	old, err := readUserBytes(task, oldAddr, 12)
	require.Equal(t, kerrno.OK, err)
	require.EqualValues(t, ksignal.ActionHandler, binary.LittleEndian.Uint32(old[0:]))
	require.EqualValues(t, 0x2000, binary.LittleEndian.Uint32(old[8:]))
}

func TestSigactionRejectsOutOfRangeSignal(t *testing.T) {
	g, _, task := newGate(t)
	ret := g.Invoke(task, syscall.SysSigaction, uint32(ksignal.Max+5), 0, 0)
	require.Equal(t, int32(kerrno.BadArg), ret)
}

func TestSigprocmaskBlockThenSetmask(t *testing.T) {
	g, _, task := newGate(t)

	const setAddr = 0x43000000
	mapScratchPage(t, task, setAddr)
	mask := make([]byte, 4)
	binary.LittleEndian.PutUint32(mask, uint32(ksignal.Bitmask(0).With(ksignal.SIGUSR1)))
	require.Equal(t, kerrno.OK, writeUserBytes(task, setAddr, mask))

	const sigBlock = 0
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysSigprocmask, sigBlock, setAddr, 0))
	require.True(t, task.Sig.Blocked.Has(ksignal.SIGUSR1))

	const oldAddr = 0x44000000
	mapScratchPage(t, task, oldAddr)
	const sigSetmask = 2
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysSigprocmask, sigSetmask, 0, oldAddr))
	old, err := readUserBytes(task, oldAddr, 4)
	require.Equal(t, kerrno.OK, err)
	require.True(t, ksignal.Bitmask(binary.LittleEndian.Uint32(old)).Has(ksignal.SIGUSR1))
}

func TestSigsuspendInterruptedByDeliveredSignal(t *testing.T) {
	g, tt, task := newGate(t)

	const maskAddr = 0x45000000
	mapScratchPage(t, task, maskAddr)
	require.Equal(t, kerrno.OK, writeUserBytes(task, maskAddr, make([]byte, 4)))

	done := make(chan int32, 1)
	go func() { done <- g.Invoke(task, syscall.SysSigsuspend, maskAddr, 0, 0) }()

	require.Eventually(t, func() bool {
		task.Lock()
		defer task.Unlock()
		return task.Status == process.Sleeping
	}, time.Second, time.Millisecond)

	require.Equal(t, kerrno.OK, tt.Kill(task.Pid, ksignal.SIGUSR1))

	select {
	case ret := <-done:
		require.Equal(t, int32(kerrno.Interrupted), ret)
	case <-time.After(time.Second):
		t.Fatal("sigsuspend never woke up")
	}
}

func TestSigreturnRestoresInterruptedFrame(t *testing.T) {
	reg := vfs.NewRegistry()
	require.Equal(t, kerrno.OK, reg.RegisterFS(romfs.New("romfs", &romfs.Node{Name: "/", Dir: true})))
	require.Equal(t, kerrno.OK, reg.Mount(vfs.Cred{}, "romfs", "/", "", "", 0))
	pool := process.NewFramePool(256)
	tt := process.NewTaskTable(pool, reg)
	task, err := tt.Spawn(0, 0)
	require.Equal(t, kerrno.OK, err)

	deliver := sched.NewDeliverer(func(*process.Task, ksignal.Sig) {})
	g := syscall.NewGate(reg, tt, deliver, nil)

	const stackAddr = 0x46000000
	paddr, aerr := task.AS.Pool().Alloc()
	require.Equal(t, kerrno.OK, aerr)
	task.AS.Map(stackAddr, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)
	task.Frame.UserESP = stackAddr + process.PageSize
	task.Frame.EIP = 0x1000

	const actAddr = 0x47000000
	mapScratchPage(t, task, actAddr)
	act := make([]byte, 12)
	binary.LittleEndian.PutUint32(act[0:], uint32(ksignal.ActionHandler))
	binary.LittleEndian.PutUint32(act[8:], 0x2000)
	require.Equal(t, kerrno.OK, writeUserBytes(task, actAddr, act))
	require.EqualValues(t, 0, g.Invoke(task, syscall.SysSigaction, uint32(ksignal.SIGUSR1), actAddr, 0))

	require.Equal(t, kerrno.OK, tt.Kill(task.Pid, ksignal.SIGUSR1))
	g.Invoke(task, syscall.SysGetpid, 0, 0, 0) // any syscall's post-return check delivers it
	require.EqualValues(t, 0x2000, task.Frame.EIP)

	g.Invoke(task, syscall.SysSigreturn, 0, 0, 0)
	require.EqualValues(t, 0x1000, task.Frame.EIP)
	require.False(t, task.Sig.Blocked.Has(ksignal.SIGUSR1))
}
