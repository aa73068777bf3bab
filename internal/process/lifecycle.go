package process

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// MaxTasks bounds the global task table.
const MaxTasks = 256

// UserStackTop is the simulated top of every task's user stack; argv,
// envp and signal trampoline frames are all marshalled below it,
// growing down, as in a real x86 user stack.
const UserStackTop = 0xC0000000

// WNOHANG/WUNTRACED mirror the waitpid flag bits exposed at the syscall
// boundary.
const (
	WNoHang   = 1
	WUntraced = 2
)

// TaskTable is the global, fixed-size process table plus the fork/
// execve/exit/waitpid state machine.
type TaskTable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   [MaxTasks]*Task
	nextPid int
	pool    *FramePool
	reg     *vfs.Registry
}

// NewTaskTable creates an empty table whose tasks share pool for
// physical frames and reg for filesystem access.
func NewTaskTable(pool *FramePool, reg *vfs.Registry) *TaskTable {
	tt := &TaskTable{nextPid: 1, pool: pool, reg: reg}
	tt.cond = sync.NewCond(&tt.mu)
	return tt
}

// Spawn creates the very first task (init), outside of fork, with a
// fresh address space and no open files. Used once at boot.
func (tt *TaskTable) Spawn(uid, gid uint32) (*Task, kerrno.Errno) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	slot, pid, err := tt.allocSlotLocked()
	if err != kerrno.OK {
		return nil, err
	}
	t := newTask()
	t.Pid = pid
	t.Ppid = 0
	t.Gen = uuid.New()
	t.Uid, t.Gid = uid, gid
	t.Status = Running
	t.FDs = &FDTable{}
	t.AS = NewAddressSpace(tt.pool)
	t.Cwd = "/"
	tt.tasks[slot] = t
	return t, kerrno.OK
}

func (tt *TaskTable) allocSlotLocked() (int, int, kerrno.Errno) {
	for i, s := range tt.tasks {
		if s == nil || s.Status == Unused {
			pid := tt.nextPid
			tt.nextPid++
			return i, pid, kerrno.OK
		}
	}
	return -1, 0, kerrno.NoSpace
}

// Get returns the task with the given pid, or NotFound.
func (tt *TaskTable) Get(pid int) (*Task, kerrno.Errno) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for _, t := range tt.tasks {
		if t != nil && t.Pid == pid && t.Status != Unused {
			return t, kerrno.OK
		}
	}
	return nil, kerrno.NotFound
}

// Runnable returns every task currently eligible for scheduling
// (Running or about to be), in task-table slot order, which is not
// pid order once reaped slots are reused — the scheduler's round-robin
// candidate pool, which Pick sorts by pid.
func (tt *TaskTable) Runnable() []*Task {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	var out []*Task
	for _, t := range tt.tasks {
		if t != nil && t.Status == Running {
			out = append(out, t)
		}
	}
	return out
}

// Fork duplicates the fd table, signal handlers, cwd and a COW
// address-space copy; the child's saved frame is
// identical except EAX (return value) is 0. Returns the child task; the
// caller (the syscall gate) sets the parent's own return value to the
// child's pid.
func (tt *TaskTable) Fork(parent *Task) (*Task, kerrno.Errno) {
	child := newTask()
	child.Status = Running // reserves the slot for the scan below

	tt.mu.Lock()
	slot, pid, err := tt.allocSlotLocked()
	if err != kerrno.OK {
		tt.mu.Unlock()
		return nil, err
	}
	tt.tasks[slot] = child
	tt.mu.Unlock()

	parent.Lock()
	child.Pid = pid
	child.Ppid = parent.Pid
	child.Gen = uuid.New()
	child.Uid, child.Gid = parent.Uid, parent.Gid
	child.Status = Running
	child.Cwd = parent.Cwd
	child.Cmdline = parent.Cmdline
	child.Frame = parent.Frame
	child.Frame.SetReturnValue(0)
	child.Sig = parent.Sig
	child.Sig.Pending = 0
	child.FDs = parent.FDs.Fork(tt.reg)
	child.AS = NewAddressSpace(tt.pool)
	parent.AS.ForkInto(child.AS)
	parent.Unlock()

	return child, kerrno.OK
}

// Execve replaces a task's image. Resolution/permission/ELF-signature
// checks happen before any state is mutated ("pre-commit"); once the
// commit point is reached the operation cannot fail.
func (tt *TaskTable) Execve(cred vfs.Cred, t *Task, path string, argv, envp []string) kerrno.Errno {
	inode, err := tt.reg.Lookup(cred, path)
	if err != kerrno.OK {
		return err
	}
	defer tt.reg.PutInode(inode)
	if inode.Type == vfs.Directory {
		return kerrno.IsDir
	}
	if !vfs.CheckPermission(inode, cred, vfs.Execute) {
		return kerrno.PermissionDenied
	}

	f := &vfs.File{Inode: inode, Mode: vfs.ORdOnly}
	data, rerr := readAll(tt.reg, f)
	if rerr != kerrno.OK {
		return rerr
	}
	img, ierr := LoadELF32(data)
	if ierr != kerrno.OK {
		return ierr
	}

	// commit point: past here, execve cannot fail.
	t.Lock()
	defer t.Unlock()

	t.AS.UnmapAll()
	for _, seg := range img.Segments {
		mapSegment(t.AS, tt.pool, seg)
	}
	stackTop := marshalUserStack(t.AS, tt.pool, argv, envp)

	t.FDs.CloseExecOnes(tt.reg)
	t.Sig.ResetToDefault()

	t.Frame = Frame{EIP: img.Entry, UserESP: stackTop, Magic: FrameMagic}
	t.Cmdline = path
	return kerrno.OK
}

// readAll reads an inode's full contents directly, without allocating a
// system-wide open-file slot — execve needs the raw bytes to hand to the
// ELF loader before any fd exists for the new image.
func readAll(reg *vfs.Registry, f *vfs.File) ([]byte, kerrno.Errno) {
	buf := make([]byte, 0, f.Inode.Size)
	chunk := make([]byte, 4096)
	var pos int64
	for {
		if f.Inode.FOp == nil || f.Inode.FOp.Read == nil {
			return nil, kerrno.IOError
		}
		n, err := f.Inode.FOp.Read(f, chunk, &pos)
		if err != kerrno.OK {
			return nil, err
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf, kerrno.OK
}

func mapSegment(as *AddressSpace, pool *FramePool, seg Segment) {
	flags := FlagPresent | FlagUser
	if seg.Writable {
		flags |= FlagWritable
	}
	for off := 0; off < len(seg.Data); off += PageSize {
		paddr, err := pool.Alloc()
		if err != kerrno.OK {
			return
		}
		end := off + PageSize
		if end > len(seg.Data) {
			end = len(seg.Data)
		}
		pool.Write(paddr, 0, seg.Data[off:end])
		as.Map(seg.VAddr+uint32(off), paddr, flags)
	}
}

// marshalUserStack lays out argv/envp on a fresh user stack: a pointer
// table followed by the string blob, all inside the user stack region.
func marshalUserStack(as *AddressSpace, pool *FramePool, argv, envp []string) uint32 {
	paddr, err := pool.Alloc()
	if err != kerrno.OK {
		return UserStackTop
	}
	vaddr := UserStackTop - PageSize
	as.Map(vaddr, paddr, FlagPresent|FlagWritable|FlagUser)

	page := make([]byte, PageSize)
	cursor := PageSize
	var argvOffsets, envpOffsets []uint32

	place := func(s string) uint32 {
		b := append([]byte(s), 0)
		cursor -= len(b)
		copy(page[cursor:], b)
		return vaddr + uint32(cursor)
	}
	for _, s := range envp {
		envpOffsets = append(envpOffsets, place(s))
	}
	for _, s := range argv {
		argvOffsets = append(argvOffsets, place(s))
	}

	// pointer tables, NULL-terminated, envp then argv so that argv sits
	// at the lowest address closest to the final stack pointer.
	writePtrTable := func(ptrs []uint32) uint32 {
		n := (len(ptrs) + 1) * 4
		cursor -= n
		base := cursor
		for i, p := range ptrs {
			binary.LittleEndian.PutUint32(page[base+i*4:], p)
		}
		binary.LittleEndian.PutUint32(page[base+len(ptrs)*4:], 0)
		return vaddr + uint32(base)
	}
	writePtrTable(envpOffsets)
	writePtrTable(argvOffsets)

	pool.Write(paddr, 0, page)
	return vaddr + uint32(cursor)
}

// Exit implements _exit: release fds, free user pages, become zombie,
// raise SIGCHLD on the parent and wake it if it is waiting.
func (tt *TaskTable) Exit(t *Task, status int) {
	t.Lock()
	t.FDs.CloseAll(tt.reg)
	t.AS.UnmapAll()
	t.Status = Zombie
	t.ExitCode = status & 0xff
	ppid := t.Ppid
	t.Unlock()

	tt.cond.L.Lock()
	defer tt.cond.L.Unlock()
	if parent, err := tt.getLocked(ppid); err == kerrno.OK {
		parent.Lock()
		parent.Sig.Raise(ksignal.SIGCHLD)
		parent.Unlock()
	}
	tt.cond.Broadcast()
}

func (tt *TaskTable) getLocked(pid int) (*Task, kerrno.Errno) {
	for _, t := range tt.tasks {
		if t != nil && t.Pid == pid && t.Status != Unused {
			return t, kerrno.OK
		}
	}
	return nil, kerrno.NotFound
}

// Waitpid reaps a zombie child: pid<=0 means "any child". Blocks
// until a matching child is a zombie, unless WNoHang is set.
func (tt *TaskTable) Waitpid(parent *Task, pid int, flags int) (childPid int, status int, err kerrno.Errno) {
	tt.cond.L.Lock()
	defer tt.cond.L.Unlock()

	for {
		hasChildren := false
		for i, t := range tt.tasks {
			if t == nil || t.Ppid != parent.Pid || t.Status == Unused {
				continue
			}
			if pid > 0 && t.Pid != pid {
				continue
			}
			hasChildren = true
			if t.Status == Zombie {
				t.Lock()
				code := t.ExitCode
				cpid := t.Pid
				t.Unlock()
				t.Status = Unused
				tt.tasks[i] = nil
				return cpid, code, kerrno.OK
			}
		}
		if !hasChildren {
			return 0, 0, kerrno.NoChild
		}
		if flags&WNoHang != 0 {
			return 0, 0, kerrno.OK
		}
		tt.cond.Wait()
	}
}

// SigSuspend implements sigsuspend: temporarily replaces t's blocked mask
// with mask and sleeps until a signal is delivered, then restores the
// original mask and returns Interrupted — sigsuspend always returns as
// if interrupted, never as a normal success.
func (tt *TaskTable) SigSuspend(t *Task, mask ksignal.Bitmask) kerrno.Errno {
	t.Lock()
	saved := t.Sig.Blocked
	t.Sig.Blocked = mask
	if t.Sig.NextDeliverable() != 0 {
		t.Sig.Blocked = saved
		t.Unlock()
		return kerrno.Interrupted
	}
	ch := t.resetWakeChannel()
	t.Status = Sleeping
	t.SleepReason = SleepSignal
	t.Unlock()

	<-ch

	t.Lock()
	t.Status = Running
	t.SleepReason = NoSleep
	t.Sig.Blocked = saved
	t.Unlock()
	return kerrno.Interrupted
}

// Kill implements kill(pid, sig): raises the signal on the target and,
// if it is sleeping interruptibly and the signal is unblocked, wakes it.
func (tt *TaskTable) Kill(pid int, sig ksignal.Sig) kerrno.Errno {
	target, err := tt.Get(pid)
	if err != kerrno.OK {
		return err
	}
	target.Lock()
	wake, rerr := target.Sig.Raise(sig)
	sleeping := target.Status == Sleeping
	ch := target.wakeOnSignal
	target.Unlock()
	if rerr != kerrno.OK {
		return rerr
	}
	if wake && sleeping {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return kerrno.OK
}
