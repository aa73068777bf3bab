package sched_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/process"
	"github.com/schrodinghauer/saenaios/internal/sched"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

func newTaskTable(t *testing.T) *process.TaskTable {
	t.Helper()
	pool := process.NewFramePool(256)
	reg := vfs.NewRegistry()
	return process.NewTaskTable(pool, reg)
}

func TestPickRoundRobinsByPidAscending(t *testing.T) {
	tt := newTaskTable(t)
	a, _ := tt.Spawn(0, 0)
	b, _ := tt.Fork(a)
	c, _ := tt.Fork(a)

	s := sched.New(tt)
	first := s.Pick()
	second := s.Pick()
	third := s.Pick()
	fourth := s.Pick()

	require.Equal(t, a.Pid, first.Pid)
	require.Equal(t, b.Pid, second.Pid)
	require.Equal(t, c.Pid, third.Pid)
	require.Equal(t, a.Pid, fourth.Pid) // wraps around
}

func TestPickSkipsNonRunningTasks(t *testing.T) {
	tt := newTaskTable(t)
	a, _ := tt.Spawn(0, 0)
	b, _ := tt.Fork(a)
	tt.Exit(b, 0)

	s := sched.New(tt)
	require.Equal(t, a.Pid, s.Pick().Pid)
	require.Equal(t, a.Pid, s.Pick().Pid)
}

func TestSignalHandlerTrampolineAndSigReturn(t *testing.T) {
	tt := newTaskTable(t)
	task, err := tt.Spawn(1000, 1000)
	require.Equal(t, kerrno.OK, err)

	// Give the task a minimal mapped user stack page so the trampoline
	// has somewhere to write.
	paddr, aerr := task.AS.Pool().Alloc()
	require.Equal(t, kerrno.OK, aerr)
	const stackVAddr = 0x08000000
	task.AS.Map(stackVAddr, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)
	task.Frame.UserESP = stackVAddr + process.PageSize
	task.Frame.EIP = 0x1000 // pretend interrupted instruction

	require.Equal(t, kerrno.OK, task.Sig.SetAction(ksignal.SIGUSR1, ksignal.Handler{
		Action: ksignal.ActionHandler,
		Entry:  0x2000,
	}))

	terminated := false
	d := sched.NewDeliverer(func(tk *process.Task, sig ksignal.Sig) { terminated = true })

	require.Equal(t, kerrno.OK, tt.Kill(task.Pid, ksignal.SIGUSR1))
	d.CheckAndDeliver(task)

	require.False(t, terminated)
	require.EqualValues(t, 0x2000, task.Frame.EIP)
	require.True(t, task.Sig.Blocked.Has(ksignal.SIGUSR1))
	require.False(t, task.Sig.Pending.Has(ksignal.SIGUSR1))

	sched.SigReturn(task)
	require.EqualValues(t, 0x1000, task.Frame.EIP)
	require.False(t, task.Sig.Blocked.Has(ksignal.SIGUSR1))
}

func TestDefaultActionTerminatesTarget(t *testing.T) {
	tt := newTaskTable(t)
	task, _ := tt.Spawn(0, 0)

	var termSig ksignal.Sig
	d := sched.NewDeliverer(func(tk *process.Task, sig ksignal.Sig) { termSig = sig })

	require.Equal(t, kerrno.OK, tt.Kill(task.Pid, ksignal.SIGTERM))
	d.CheckAndDeliver(task)
	require.Equal(t, ksignal.SIGTERM, termSig)
}

func TestIgnoredSignalClearsPendingWithoutBlocking(t *testing.T) {
	tt := newTaskTable(t)
	task, _ := tt.Spawn(0, 0)
	require.Equal(t, kerrno.OK, task.Sig.SetAction(ksignal.SIGUSR2, ksignal.Handler{Action: ksignal.ActionIgnore}))

	d := sched.NewDeliverer(func(tk *process.Task, sig ksignal.Sig) {})
	require.Equal(t, kerrno.OK, tt.Kill(task.Pid, ksignal.SIGUSR2))
	d.CheckAndDeliver(task)

	require.False(t, task.Sig.Pending.Has(ksignal.SIGUSR2))
	require.False(t, task.Sig.Blocked.Has(ksignal.SIGUSR2))
}
