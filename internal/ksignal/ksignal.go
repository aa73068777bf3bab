// Package ksignal implements the pure signal-state logic: handler
// tables, pending/blocked bitmasks and the default-action table. It
// knows nothing about tasks, address spaces or the scheduler — those
// live in package process, which embeds State and drives delivery by
// calling into this package.
package ksignal

import "github.com/schrodinghauer/saenaios/internal/kerrno"

// Sig is a signal number. SIGKILL/SIGSEGV/etc. below follow the
// conventional small-integer POSIX numbering.
type Sig int

const (
	SIGHUP  Sig = 1
	SIGINT  Sig = 2
	SIGQUIT Sig = 3
	SIGILL  Sig = 4
	SIGTRAP Sig = 5
	SIGABRT Sig = 6
	SIGFPE  Sig = 8
	SIGKILL Sig = 9
	SIGUSR1 Sig = 10
	SIGSEGV Sig = 11
	SIGUSR2 Sig = 12
	SIGPIPE Sig = 13
	SIGALRM Sig = 14
	SIGTERM Sig = 15
	SIGCHLD Sig = 17
	SIGCONT Sig = 18
	SIGSTOP Sig = 19

	Max = 32
)

// Action describes the disposition of a signal.
type Action int

const (
	ActionDefault Action = iota
	ActionIgnore
	ActionHandler
)

// DefaultOutcome is what the default action for a signal actually does,
// made explicit data rather than an implicit switch, so the whole table
// is assertable in one place.
type DefaultOutcome int

const (
	DefaultTerminate DefaultOutcome = iota
	DefaultIgnoreSig
	DefaultStop
	DefaultContinue
)

// DefaultAction maps every signal this kernel recognizes to its default
// disposition when no handler is installed.
var DefaultAction = map[Sig]DefaultOutcome{
	SIGHUP:  DefaultTerminate,
	SIGINT:  DefaultTerminate,
	SIGQUIT: DefaultTerminate,
	SIGILL:  DefaultTerminate,
	SIGTRAP: DefaultTerminate,
	SIGABRT: DefaultTerminate,
	SIGFPE:  DefaultTerminate,
	SIGKILL: DefaultTerminate,
	SIGUSR1: DefaultTerminate,
	SIGSEGV: DefaultTerminate,
	SIGUSR2: DefaultTerminate,
	SIGPIPE: DefaultTerminate,
	SIGALRM: DefaultTerminate,
	SIGTERM: DefaultTerminate,
	SIGCHLD: DefaultIgnoreSig,
	SIGCONT: DefaultContinue,
	SIGSTOP: DefaultStop,
}

// Handler is one task's per-signal disposition record.
type Handler struct {
	Action Action
	Mask   uint32 // additional signals blocked while this handler runs
	Entry  uintptr
}

// Bitmask is a fixed-width signal set; bit n-1 corresponds to signal n.
type Bitmask uint32

func (m Bitmask) Has(s Sig) bool    { return m&(1<<uint(s-1)) != 0 }
func (m Bitmask) With(s Sig) Bitmask { return m | (1 << uint(s-1)) }
func (m Bitmask) Without(s Sig) Bitmask { return m &^ (1 << uint(s-1)) }

// State is the per-task signal state embedded into process.Task.
type State struct {
	Handlers [Max]Handler
	Pending  Bitmask
	Blocked  Bitmask
}

// NewState returns a State with every signal at its default
// disposition, nothing pending or blocked.
func NewState() State { return State{} }

// Raise sets pending[sig] as kill(pid, sig) does: the caller
// (TaskTable.Kill) is responsible for waking a sleeping target when
// Raise reports the signal is both newly pending and unblocked.
func (s *State) Raise(sig Sig) (wakeWorthy bool, err kerrno.Errno) {
	if sig <= 0 || int(sig) >= Max {
		return false, kerrno.BadArg
	}
	already := s.Pending.Has(sig)
	s.Pending = s.Pending.With(sig)
	return !already && !s.Blocked.Has(sig), kerrno.OK
}

// NextDeliverable returns the lowest-numbered pending, unblocked signal,
// or 0 if none is deliverable right now.
func (s *State) NextDeliverable() Sig {
	for sig := Sig(1); int(sig) < Max; sig++ {
		if s.Pending.Has(sig) && !s.Blocked.Has(sig) {
			return sig
		}
	}
	return 0
}

// ClearPending clears pending[sig] without altering blocked — used for
// the ignore disposition, which must not block the signal it ignores.
func (s *State) ClearPending(sig Sig) {
	s.Pending = s.Pending.Without(sig)
}

// Consume clears pending[sig] and adds sig itself, plus any additional
// mask the handler installs, to blocked — the caller restores blocked on
// sigreturn.
func (s *State) Consume(sig Sig) {
	s.Pending = s.Pending.Without(sig)
	h := s.Handlers[sig]
	s.Blocked = s.Blocked.With(sig)
	for b := Sig(1); int(b) < Max; b++ {
		if h.Mask&(1<<uint(b-1)) != 0 {
			s.Blocked = s.Blocked.With(b)
		}
	}
}

// ResetToDefault restores every handler to its default disposition
// (execve behavior); signal masks are preserved by the caller simply
// not touching Blocked/Pending.
func (s *State) ResetToDefault() {
	for i := range s.Handlers {
		s.Handlers[i] = Handler{}
	}
}

// SetAction installs a new handler/mask/action for sig.
func (s *State) SetAction(sig Sig, h Handler) kerrno.Errno {
	if sig <= 0 || int(sig) >= Max {
		return kerrno.BadArg
	}
	if sig == SIGKILL {
		return kerrno.BadArg
	}
	s.Handlers[sig] = h
	return kerrno.OK
}
