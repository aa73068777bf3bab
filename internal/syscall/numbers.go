// Package syscall implements the numbered system-call gate: argument
// copy-in/copy-out against a task's simulated address space, dispatch
// to the VFS/process/signal cores, and the negative-errno return
// convention user space expects.
package syscall

// Syscall numbers. The gate's contract only requires each number be
// unique and stable; collisions from the source kernel's original table
// (lseek/chmod sharing 35, brk/chmod sharing 36) are resolved here.
const (
	SysExit    = 1
	SysFork    = 2
	SysRead    = 3
	SysWrite   = 4
	SysOpen    = 5
	SysClose   = 6
	SysWaitpid = 7
	SysLink    = 9
	SysUnlink  = 10
	SysExecve  = 11
	SysChdir   = 12
	SysChmod   = 15
	SysChown   = 16
	SysStat    = 18
	SysLseek   = 19
	SysGetpid  = 20
	SysMount   = 21
	SysUmount  = 22
	SysSetuid  = 23
	SysGetuid  = 24
	SysFstat   = 28
	SysRename  = 38
	SysMkdir   = 39
	SysRmdir   = 40
	SysBrk     = 45
	SysSetgid  = 46
	SysGetgid  = 47
	SysKill    = 37
	SysIoctl   = 54
	SysSymlink = 83
	SysLstat   = 84
	SysReadlink  = 85
	SysTruncate  = 92
	SysFtruncate = 93
	SysFchmod    = 94
	SysFchown    = 95
	SysSigaction    = 67
	SysSigsuspend   = 72
	SysSigreturn    = 119
	SysSigprocmask  = 126
	SysGetdents     = 141
	SysGetcwd       = 183
	SysSbrk         = 199
)

// names maps every defined number to its syscall name; Name exposes it
// for diagnostics.
var names = map[int32]string{
	SysExit: "_exit", SysFork: "fork", SysRead: "read", SysWrite: "write",
	SysOpen: "open", SysClose: "close", SysWaitpid: "waitpid",
	SysLink: "link", SysUnlink: "unlink", SysExecve: "execve",
	SysChdir: "chdir", SysChmod: "chmod", SysChown: "chown",
	SysStat: "stat", SysLseek: "lseek", SysGetpid: "getpid",
	SysMount: "mount", SysUmount: "umount", SysSetuid: "setuid",
	SysGetuid: "getuid", SysFstat: "fstat", SysRename: "rename",
	SysMkdir: "mkdir", SysRmdir: "rmdir", SysBrk: "brk",
	SysSetgid: "setgid", SysGetgid: "getgid", SysKill: "kill",
	SysIoctl: "ioctl", SysSymlink: "symlink", SysLstat: "lstat",
	SysReadlink: "readlink", SysTruncate: "truncate",
	SysFtruncate: "ftruncate", SysFchmod: "fchmod", SysFchown: "fchown",
	SysSigaction: "sigaction", SysSigsuspend: "sigsuspend", SysSigreturn: "sigreturn",
	SysSigprocmask: "sigprocmask", SysGetdents: "getdents",
	SysGetcwd: "getcwd", SysSbrk: "sbrk",
}

// Name returns the syscall name for num, or "?" if unassigned.
func Name(num int32) string {
	if n, ok := names[num]; ok {
		return n
	}
	return "?"
}
