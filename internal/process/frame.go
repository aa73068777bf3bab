// Package process implements the per-task fd table, the address-space/
// page-map model, and the task table and lifecycle (fork, execve, exit,
// waitpid, kill).
//
// The fd table's shape (a fixed array of entries plus free-slot reuse) and the
// simulated physical-frame allocator's fixed-capacity pool follow the
// same patterns used elsewhere in this codebase for bounded resource
// tables.
package process

import "github.com/schrodinghauer/saenaios/internal/kerrno"

// Frame is a task's saved register frame: general registers in "pusha"
// order, an iret frame, and a magic word identifying the frame so a
// corrupted stack can be detected defensively.
type Frame struct {
	// General-purpose registers, named for an x86 "pusha" push order.
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32

	// iret frame.
	EIP    uint32
	CS     uint32
	EFlags uint32
	UserESP uint32
	SS     uint32

	Magic uint32
}

// FrameMagic is the sentinel value stamped into every saved frame; kept
// for serialization/debug dumps even though lookup no longer scans for it.
const FrameMagic = 0x4B45524E // "KERN"

// ReturnValue reports the value a syscall leaves in the accumulator.
func (f *Frame) ReturnValue() int32 { return int32(f.EAX) }

// SetReturnValue stores a syscall's return value (or -errno) in EAX.
func (f *Frame) SetReturnValue(v int32) { f.EAX = uint32(v) }

// SetReturnErrno stores err (possibly OK) as the syscall return value.
func (f *Frame) SetReturnErrno(err kerrno.Errno) { f.EAX = uint32(int32(err)) }
