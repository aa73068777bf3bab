package syscall

import (
	"log"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/process"
	"github.com/schrodinghauer/saenaios/internal/sched"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// handler is one syscall's kernel-side implementation: it sees the raw
// three argument registers and returns the raw accumulator value
// (negative meaning -errno).
type handler func(g *Gate, t *process.Task, a, b, c uint32) int32

// Gate is the numbered system-call table. It copies argument registers,
// invokes the handler, runs pending signal delivery, and places the
// return value back in the caller's accumulator.
type Gate struct {
	Reg     *vfs.Registry
	Tasks   *process.TaskTable
	Deliver *sched.Deliverer
	Log     *log.Logger

	table map[int32]handler
}

// NewGate builds a gate wired to reg/tasks/deliver, with every syscall
// number in numbers.go bound to its handler (or left absent, which
// Invoke reports as BadSyscall).
func NewGate(reg *vfs.Registry, tasks *process.TaskTable, deliver *sched.Deliverer, logger *log.Logger) *Gate {
	g := &Gate{Reg: reg, Tasks: tasks, Deliver: deliver, Log: logger}
	g.table = map[int32]handler{
		SysOpen:    sysOpen,
		SysClose:   sysClose,
		SysRead:    sysRead,
		SysWrite:   sysWrite,
		SysLseek:   sysLseek,
		SysGetdents: sysGetdents,
		SysMount:   sysMount,
		SysUmount:  sysUmount,
		SysStat:    sysStat,
		SysFstat:   sysFstat,
		SysLstat:   sysStat, // lstat == stat: no driver distinguishes symlink targets here
		SysFork:    sysFork,
		SysExecve:  sysExecve,
		SysExit:    sysExit,
		SysWaitpid: sysWaitpid,
		SysGetpid:  sysGetpid,
		SysGetuid:  sysGetuid,
		SysSetuid:  sysSetuid,
		SysGetgid:  sysGetgid,
		SysSetgid:  sysSetgid,
		SysKill:    sysKill,
		SysBrk:     sysBrk,
		SysSbrk:    sysSbrk,
		SysChdir:   sysChdir,
		SysGetcwd:  sysGetcwd,

		SysSigaction:   sysSigaction,
		SysSigprocmask: sysSigprocmask,
		SysSigsuspend:  sysSigsuspend,
		SysSigreturn:   sysSigreturn,

		// Named in the syscall set but unsupported by any filesystem or
		// device driver this kernel carries: chmod/fchmod, chown/fchown,
		// link/unlink/symlink/readlink, truncate/ftruncate, rename,
		// mkdir/rmdir, ioctl. None of them has an entry here, so each
		// returns BadSyscall through Invoke's "unknown number" path; the
		// gap is auditable by comparing this table with numbers.go.
	}
	return g
}

// Invoke runs syscall num with argument registers a, b, c against t,
// then checks for a deliverable signal before returning to user mode,
// matching the "after any syscall" delivery point.
func (g *Gate) Invoke(t *process.Task, num int32, a, b, c uint32) int32 {
	h, ok := g.table[num]
	if !ok {
		if g.Log != nil {
			g.Log.Printf("pid %d: unknown syscall %d", t.Pid, num)
		}
		return int32(kerrno.BadSyscall)
	}
	ret := h(g, t, a, b, c)
	if g.Deliver != nil {
		g.Deliver.CheckAndDeliver(t)
	}
	return ret
}

func cred(t *process.Task) vfs.Cred { return vfs.Cred{Uid: t.Uid, Gid: t.Gid} }

func errRet(e kerrno.Errno) int32 { return int32(e) }

func sysOpen(g *Gate, t *process.Task, pathPtr, flags, mode uint32) int32 {
	path, err := copyInString(t, pathPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	file, oerr := g.Reg.Open(cred(t), path, flags, mode)
	if oerr != kerrno.OK {
		return errRet(oerr)
	}
	fd, aerr := t.FDs.Alloc(file)
	if aerr != kerrno.OK {
		g.Reg.Close(file)
		return errRet(aerr)
	}
	return int32(fd)
}

func sysClose(g *Gate, t *process.Task, fd, _, _ uint32) int32 {
	return errRet(t.FDs.Close(g.Reg, int(int32(fd))))
}

func sysRead(g *Gate, t *process.Task, fd, bufPtr, count uint32) int32 {
	file, err := t.FDs.Get(int(int32(fd)))
	if err != kerrno.OK {
		return errRet(err)
	}
	buf := make([]byte, count)
	n, rerr := g.Reg.Read(file, buf)
	if rerr != kerrno.OK {
		return errRet(rerr)
	}
	if cerr := copyOutBytes(t, bufPtr, buf[:n]); cerr != kerrno.OK {
		return errRet(cerr)
	}
	return int32(n)
}

func sysWrite(g *Gate, t *process.Task, fd, bufPtr, count uint32) int32 {
	file, err := t.FDs.Get(int(int32(fd)))
	if err != kerrno.OK {
		return errRet(err)
	}
	data, cerr := copyInBytes(t, bufPtr, int(count))
	if cerr != kerrno.OK {
		return errRet(cerr)
	}
	n, werr := g.Reg.Write(file, data)
	if werr != kerrno.OK {
		return errRet(werr)
	}
	return int32(n)
}

// Whence values for lseek, matching the conventional SEEK_* constants.
const (
	seekSet = 0
	seekCur = 1
	seekEnd = 2
)

func sysLseek(g *Gate, t *process.Task, fd, offset, whence uint32) int32 {
	file, err := t.FDs.Get(int(int32(fd)))
	if err != kerrno.OK {
		return errRet(err)
	}
	off := int64(int32(offset))
	var base int64
	switch whence {
	case seekSet:
		base = 0
	case seekCur:
		base = file.Pos
	case seekEnd:
		base = file.Inode.Size
	default:
		return errRet(kerrno.BadArg)
	}
	newPos := base + off
	if newPos < 0 {
		return errRet(kerrno.BadArg)
	}
	file.Pos = newPos
	return int32(newPos)
}

func sysGetdents(g *Gate, t *process.Task, fd, direntPtr, _ uint32) int32 {
	file, err := t.FDs.Get(int(int32(fd)))
	if err != kerrno.OK {
		return errRet(err)
	}
	// The file position holds the directory cursor between calls: 0 maps
	// to the initial Index of -1.
	d := vfs.Dirent{Index: file.Pos - 1}
	if derr := g.Reg.Readdir(file, &d); derr != kerrno.OK {
		if derr == kerrno.NotFound {
			return 0 // iteration complete
		}
		return errRet(derr)
	}
	buf := make([]byte, len(d.Name)+8+8)
	copy(buf, d.Name[:])
	off := len(d.Name)
	putU64(buf[off:], d.Ino)
	putU64(buf[off+8:], uint64(d.Index))
	if cerr := copyOutBytes(t, direntPtr, buf); cerr != kerrno.OK {
		return errRet(cerr)
	}
	file.Pos = d.Index + 1
	return 1
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func sysMount(g *Gate, t *process.Task, fsTypePtr, targetPtr, optsPtr uint32) int32 {
	// Kernel-side signature is authoritative: (type, target, opts). The
	// libc wrapper's separate "source"/"filesystemtype" arguments both
	// collapse onto fsType here.
	fsType, err := copyInString(t, fsTypePtr, 64)
	if err != kerrno.OK {
		return errRet(err)
	}
	target, err := copyInString(t, targetPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	opts, err := copyInString(t, optsPtr, 256)
	if err != kerrno.OK {
		return errRet(err)
	}
	return errRet(g.Reg.Mount(cred(t), fsType, target, fsType, opts, 0))
}

func sysUmount(g *Gate, t *process.Task, targetPtr, _, _ uint32) int32 {
	target, err := copyInString(t, targetPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	return errRet(g.Reg.Umount(cred(t), target))
}

func marshalStat(s vfs.Stat) []byte {
	buf := make([]byte, 8+4+4+4+4+8+4)
	putU64(buf[0:], s.Ino)
	putU32(buf[8:], uint32(s.Type))
	putU32(buf[12:], s.Mode)
	putU32(buf[16:], s.Uid)
	putU32(buf[20:], s.Gid)
	putU64(buf[24:], uint64(s.Size))
	putU32(buf[32:], s.Nlink)
	return buf
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func sysStat(g *Gate, t *process.Task, pathPtr, statPtr, _ uint32) int32 {
	path, err := copyInString(t, pathPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	inode, lerr := g.Reg.Lookup(cred(t), path)
	if lerr != kerrno.OK {
		return errRet(lerr)
	}
	defer g.Reg.PutInode(inode)
	return errRet(copyOutBytes(t, statPtr, marshalStat(vfs.Stat(inode))))
}

func sysFstat(g *Gate, t *process.Task, fd, statPtr, _ uint32) int32 {
	file, err := t.FDs.Get(int(int32(fd)))
	if err != kerrno.OK {
		return errRet(err)
	}
	return errRet(copyOutBytes(t, statPtr, marshalStat(vfs.Stat(file.Inode))))
}

func sysFork(g *Gate, t *process.Task, _, _, _ uint32) int32 {
	child, err := g.Tasks.Fork(t)
	if err != kerrno.OK {
		return errRet(err)
	}
	return int32(child.Pid)
}

func sysExecve(g *Gate, t *process.Task, pathPtr, argvPtr, envpPtr uint32) int32 {
	path, err := copyInString(t, pathPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	argv, aerr := copyInStringVectorOrEmpty(t, argvPtr)
	if aerr != kerrno.OK {
		return errRet(aerr)
	}
	envp, eerr := copyInStringVectorOrEmpty(t, envpPtr)
	if eerr != kerrno.OK {
		return errRet(eerr)
	}
	return errRet(g.Tasks.Execve(cred(t), t, path, argv, envp))
}

func copyInStringVectorOrEmpty(t *process.Task, vaddr uint32) ([]string, kerrno.Errno) {
	if vaddr == 0 {
		return nil, kerrno.OK
	}
	return copyInStringVector(t, vaddr, 256)
}

func sysExit(g *Gate, t *process.Task, status, _, _ uint32) int32 {
	g.Tasks.Exit(t, int(status))
	return 0
}

func sysWaitpid(g *Gate, t *process.Task, pid, statusPtr, flags uint32) int32 {
	childPid, status, err := g.Tasks.Waitpid(t, int(int32(pid)), int(flags))
	if err != kerrno.OK {
		return errRet(err)
	}
	if statusPtr != 0 {
		buf := make([]byte, 4)
		putU32(buf, uint32(status))
		if cerr := copyOutBytes(t, statusPtr, buf); cerr != kerrno.OK {
			return errRet(cerr)
		}
	}
	return int32(childPid)
}

func sysGetpid(g *Gate, t *process.Task, _, _, _ uint32) int32 { return int32(t.Pid) }
func sysGetuid(g *Gate, t *process.Task, _, _, _ uint32) int32 { return int32(t.Uid) }
func sysGetgid(g *Gate, t *process.Task, _, _, _ uint32) int32 { return int32(t.Gid) }

func sysSetuid(g *Gate, t *process.Task, uid, _, _ uint32) int32 {
	if t.Uid != 0 {
		return errRet(kerrno.PermissionDenied)
	}
	t.Uid = uid
	return 0
}

func sysSetgid(g *Gate, t *process.Task, gid, _, _ uint32) int32 {
	if t.Uid != 0 {
		return errRet(kerrno.PermissionDenied)
	}
	t.Gid = gid
	return 0
}

func sysKill(g *Gate, t *process.Task, pid, sig, _ uint32) int32 {
	return errRet(g.Tasks.Kill(int(int32(pid)), ksignal.Sig(sig)))
}

func sysBrk(g *Gate, t *process.Task, newBreak, _, _ uint32) int32 {
	// No heap segment is modeled (dynamic kernel/user memory beyond
	// fixed pools is out of scope); brk/sbrk always report success
	// without moving anything, the same contract a no-MMU target gives.
	return int32(newBreak)
}

func sysSbrk(g *Gate, t *process.Task, increment, _, _ uint32) int32 {
	return 0
}

func sysChdir(g *Gate, t *process.Task, pathPtr, _, _ uint32) int32 {
	path, err := copyInString(t, pathPtr, 4096)
	if err != kerrno.OK {
		return errRet(err)
	}
	inode, lerr := g.Reg.Lookup(cred(t), path)
	if lerr != kerrno.OK {
		return errRet(lerr)
	}
	defer g.Reg.PutInode(inode)
	if inode.Type != vfs.Directory {
		return errRet(kerrno.NotDir)
	}
	t.Cwd = path
	return 0
}

func sysGetcwd(g *Gate, t *process.Task, bufPtr, size, _ uint32) int32 {
	b := append([]byte(t.Cwd), 0)
	if uint32(len(b)) > size {
		return errRet(kerrno.BadArg)
	}
	if cerr := copyOutBytes(t, bufPtr, b); cerr != kerrno.OK {
		return errRet(cerr)
	}
	return int32(len(b))
}

// sigactionSize is the marshalled size of a ksignal.Handler crossing the
// user boundary: action, mask, entry, each a 4-byte word.
const sigactionSize = 12

func marshalSigaction(h ksignal.Handler) []byte {
	buf := make([]byte, sigactionSize)
	putU32(buf[0:], uint32(h.Action))
	putU32(buf[4:], h.Mask)
	putU32(buf[8:], uint32(h.Entry))
	return buf
}

func unmarshalSigaction(buf []byte) ksignal.Handler {
	return ksignal.Handler{
		Action: ksignal.Action(getU32(buf[0:])),
		Mask:   getU32(buf[4:]),
		Entry:  uintptr(getU32(buf[8:])),
	}
}

func getU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

// sysSigaction installs act as sig's new disposition, handing back the
// previous one through oldActPtr when non-NULL — either pointer may be
// NULL independently, as with the real sigaction(2).
func sysSigaction(g *Gate, t *process.Task, sig, actPtr, oldActPtr uint32) int32 {
	s := ksignal.Sig(sig)
	if s <= 0 || int(s) >= ksignal.Max {
		return errRet(kerrno.BadArg)
	}
	if oldActPtr != 0 {
		t.Lock()
		old := t.Sig.Handlers[s]
		t.Unlock()
		if cerr := copyOutBytes(t, oldActPtr, marshalSigaction(old)); cerr != kerrno.OK {
			return errRet(cerr)
		}
	}
	if actPtr == 0 {
		return 0
	}
	buf, cerr := copyInBytes(t, actPtr, sigactionSize)
	if cerr != kerrno.OK {
		return errRet(cerr)
	}
	t.Lock()
	err := t.Sig.SetAction(s, unmarshalSigaction(buf))
	t.Unlock()
	return errRet(err)
}

// SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK, matching the conventional how values.
const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetmask = 2
)

// sysSigprocmask reads/writes a task's blocked-signal mask, the
// underlying primitive behind the libc sigprocmask/pthread_sigmask
// wrappers.
func sysSigprocmask(g *Gate, t *process.Task, how, setPtr, oldsetPtr uint32) int32 {
	t.Lock()
	old := t.Sig.Blocked
	t.Unlock()
	if oldsetPtr != 0 {
		buf := make([]byte, 4)
		putU32(buf, uint32(old))
		if cerr := copyOutBytes(t, oldsetPtr, buf); cerr != kerrno.OK {
			return errRet(cerr)
		}
	}
	if setPtr == 0 {
		return 0
	}
	buf, cerr := copyInBytes(t, setPtr, 4)
	if cerr != kerrno.OK {
		return errRet(cerr)
	}
	mask := ksignal.Bitmask(getU32(buf))
	t.Lock()
	defer t.Unlock()
	switch how {
	case sigBlock:
		t.Sig.Blocked |= mask
	case sigUnblock:
		t.Sig.Blocked &^= mask
	case sigSetmask:
		t.Sig.Blocked = mask
	default:
		return errRet(kerrno.BadArg)
	}
	return 0
}

// sysSigsuspend replaces the blocked mask with the one at maskPtr and
// sleeps until a signal arrives, always returning Interrupted.
func sysSigsuspend(g *Gate, t *process.Task, maskPtr, _, _ uint32) int32 {
	buf, cerr := copyInBytes(t, maskPtr, 4)
	if cerr != kerrno.OK {
		return errRet(cerr)
	}
	mask := ksignal.Bitmask(getU32(buf))
	return errRet(g.Tasks.SigSuspend(t, mask))
}

// sysSigreturn implements the trampoline's tail call back into the
// kernel: it takes no arguments, recovering the saved blocked mask and
// interrupted frame from the user stack layout buildTrampoline wrote.
func sysSigreturn(g *Gate, t *process.Task, _, _, _ uint32) int32 {
	sched.SigReturn(t)
	return int32(t.Frame.EAX)
}
