// Command saenaios boots the kernel simulator: it registers the
// filesystem drivers, mounts the root and device filesystems, spawns
// the init task, and drives the scheduler's timer-tick loop until
// interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/schrodinghauer/saenaios/internal/fsdriver/devfs"
	"github.com/schrodinghauer/saenaios/internal/fsdriver/ext4"
	"github.com/schrodinghauer/saenaios/internal/fsdriver/romfs"
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/process"
	"github.com/schrodinghauer/saenaios/internal/sched"
	"github.com/schrodinghauer/saenaios/internal/syscall"
	"github.com/schrodinghauer/saenaios/internal/vfs"
)

// Options carries every boot-time tunable, parsed from the command
// line with pflag the way the rest of this codebase's tooling does.
type Options struct {
	Debug        bool
	TickInterval time.Duration
	MaxFrames    uint32
	ExtraMounts  []string // "type:target" pairs mounted after boot
}

func parseFlags() *Options {
	o := &Options{}
	flag.BoolVar(&o.Debug, "debug", false, "log every scheduling tick")
	flag.DurationVar(&o.TickInterval, "tick", 10*time.Millisecond, "simulated timer-tick interval")
	flag.Uint32Var(&o.MaxFrames, "max-frames", 4096, "simulated physical frame pool capacity")
	flag.StringArrayVar(&o.ExtraMounts, "mount", nil, "type:target pairs mounted after boot (repeatable)")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	logger := log.New(os.Stderr, "saenaios: ", log.Lmicroseconds)
	if !opts.Debug {
		logger.SetOutput(os.Stderr)
	}

	reg := vfs.NewRegistry()
	if err := bootFilesystems(reg); err != kerrno.OK {
		logger.Fatalf("boot: %v", err)
	}
	for _, spec := range opts.ExtraMounts {
		if err := mountSpec(reg, spec); err != kerrno.OK {
			logger.Fatalf("mount %q: %v", spec, err)
		}
	}

	pool := process.NewFramePool(opts.MaxFrames)
	tasks := process.NewTaskTable(pool, reg)
	init_, err := tasks.Spawn(0, 0)
	if err != kerrno.OK {
		logger.Fatalf("spawn init: %v", err)
	}
	logger.Printf("init task pid=%d", init_.Pid)

	deliver := sched.NewDeliverer(func(t *process.Task, sig ksignal.Sig) {
		logger.Printf("pid %d terminated by signal %d", t.Pid, sig)
		tasks.Exit(t, 128+int(sig))
	})
	gate := syscall.NewGate(reg, tasks, deliver, logger)
	driveBootSyscalls(gate, init_, logger)

	scheduler := sched.New(tasks)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Printf("shutting down")
		cancel()
	}()

	var current *process.Task = init_
	onTick := func(next *process.Task) {
		if opts.Debug && next != nil {
			logger.Printf("tick: scheduled pid=%d", next.Pid)
		}
		current = next
	}
	if err := sched.RunLoop(ctx, opts.TickInterval, scheduler, deliver, func() *process.Task { return current }, onTick); err != nil && err != context.Canceled {
		logger.Fatalf("scheduler: %v", err)
	}
}

// bootFilesystems registers the driver set this kernel ships with and
// mounts a minimal root: romfs at "/", devfs at "/dev", and an
// in-memory-backed ext4 at "/mnt".
func bootFilesystems(reg *vfs.Registry) kerrno.Errno {
	root := &romfs.Node{Name: "/", Dir: true, Children: []*romfs.Node{
		{Name: "bin", Dir: true},
		{Name: "dev", Dir: true},
		{Name: "mnt", Dir: true},
		{Name: "etc", Dir: true, Children: []*romfs.Node{
			{Name: "motd", Data: []byte("welcome\n")},
		}},
	}}
	if err := reg.RegisterFS(romfs.New("romfs", root)); err != kerrno.OK {
		return err
	}
	if err := reg.Mount(vfs.Cred{}, "romfs", "/", "", "", 0); err != kerrno.OK {
		return err
	}

	dfs := devfs.New("devfs")
	dfs.RegisterDevice("null", nullDevice{})
	if err := reg.RegisterFS(dfs.Driver()); err != kerrno.OK {
		return err
	}
	if err := reg.Mount(vfs.Cred{}, "devfs", "/dev", "", "", 0); err != kerrno.OK {
		return err
	}

	dev := ext4.NewMemBlockDevice(4096, 1024)
	if err := reg.RegisterFS(ext4.New("ext4", dev)); err != kerrno.OK {
		return err
	}
	if err := reg.Mount(vfs.Cred{}, "ext4", "/mnt", "", "", 0); err != kerrno.OK {
		return err
	}
	return kerrno.OK
}

// mountSpec parses a "type:target" pair from --mount and mounts it
// against an already-registered driver.
func mountSpec(reg *vfs.Registry, spec string) kerrno.Errno {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return reg.Mount(vfs.Cred{}, spec[:i], spec[i+1:], "", "", 0)
		}
	}
	return kerrno.BadArg
}

// driveBootSyscalls pushes init through open/read/close on the motd file
// via the real numbered gate, the same path any user program takes, so
// the dispatch table is exercised by the running binary and not only by
// gate_test.go.
func driveBootSyscalls(g *syscall.Gate, t *process.Task, logger *log.Logger) {
	const scratchVAddr = 0x09000000
	const bufOff = 512

	paddr, aerr := t.AS.Pool().Alloc()
	if aerr != kerrno.OK {
		logger.Printf("boot self-test: no scratch frame: %v", aerr)
		return
	}
	t.AS.Map(scratchVAddr, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)
	t.AS.Pool().Write(paddr, 0, append([]byte("/etc/motd"), 0))

	fd := g.Invoke(t, syscall.SysOpen, scratchVAddr, uint32(vfs.ORdOnly), 0)
	if fd < 0 {
		logger.Printf("boot self-test: open /etc/motd: errno %d", fd)
		return
	}

	n := g.Invoke(t, syscall.SysRead, uint32(fd), scratchVAddr+bufOff, 64)
	if n < 0 {
		logger.Printf("boot self-test: read: errno %d", n)
	} else {
		buf := make([]byte, n)
		t.AS.Pool().Read(paddr, bufOff, buf)
		logger.Printf("boot self-test: read %d bytes through the syscall gate: %q", n, buf)
	}

	g.Invoke(t, syscall.SysClose, uint32(fd), 0, 0)
}

// nullDevice discards writes and reads as empty, the simulator's
// stand-in for /dev/null.
type nullDevice struct{}

func (nullDevice) Read(buf []byte) (int, kerrno.Errno)  { return 0, kerrno.OK }
func (nullDevice) Write(buf []byte) (int, kerrno.Errno) { return len(buf), kerrno.OK }
