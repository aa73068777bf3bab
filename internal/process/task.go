package process

import (
	"sync"

	"github.com/google/uuid"

	"github.com/schrodinghauer/saenaios/internal/ksignal"
)

// Status is a task's lifecycle state.
type Status int

const (
	Unused Status = iota
	Running
	Sleeping
	Zombie
	Dead
)

func (s Status) String() string {
	switch s {
	case Unused:
		return "unused"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Zombie:
		return "zombie"
	case Dead:
		return "dead"
	default:
		return "?"
	}
}

// SleepReason records why a task suspended.
type SleepReason int

const (
	NoSleep SleepReason = iota
	SleepChild
	SleepSignal
	SleepTimer
	SleepIO
)

// MaxArgLen bounds the command-line/argument buffer.
const MaxArgLen = 4096

// Task is one process slot. The Gen field is a uuid stamped fresh by
// Spawn and Fork, distinguishing successive occupants of the same table
// slot; no operation in this package compares it.
type Task struct {
	mu sync.Mutex

	Pid  int
	Ppid int
	Gen  uuid.UUID

	Uid, Gid uint32

	Status      Status
	SleepReason SleepReason

	Frame Frame
	FDs   *FDTable
	AS    *AddressSpace
	Sig   ksignal.State

	Cwd     string
	Cmdline string

	ExitCode     int
	ExitSignal   ksignal.Sig
	wakeOnSignal chan struct{}
}

// Lock/Unlock expose the task's mutex to the scheduler, which must
// capture/mutate Frame and Status consistently with lifecycle
// operations running on other goroutines.
func (t *Task) Lock()   { t.mu.Lock() }
func (t *Task) Unlock() { t.mu.Unlock() }

func newTask() *Task {
	return &Task{wakeOnSignal: make(chan struct{}, 1)}
}

// WakeChannel returns the channel a suspended task's goroutine blocks
// on; closing/sending wakes it. Each sleep creates a fresh channel so a
// stale wakeup from a previous sleep can't be mistaken for the current
// one.
func (t *Task) WakeChannel() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakeOnSignal
}

func (t *Task) resetWakeChannel() chan struct{} {
	ch := make(chan struct{}, 1)
	t.wakeOnSignal = ch
	return ch
}
