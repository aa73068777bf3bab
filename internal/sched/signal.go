package sched

import (
	"encoding/binary"

	"github.com/schrodinghauer/saenaios/internal/ksignal"
	"github.com/schrodinghauer/saenaios/internal/process"
)

// TrampolineAddr is a fixed, never-mapped return address a handler
// "returns" to; sigreturn recognizes it and performs the restore instead
// of treating it as real code.
const TrampolineAddr uint32 = 0xFFFFE000

// savedFrameSize is the byte size of a marshalled Frame on the user
// stack: 12 uint32 words, every Frame field except UserESP and Magic.
const savedFrameSize = 12 * 4

// Deliverer checks a task's pending/blocked signal state before return
// to user mode and, when warranted, builds the trampoline frame or
// performs the signal's default action.
type Deliverer struct {
	terminate func(t *process.Task, sig ksignal.Sig)
}

// NewDeliverer builds a Deliverer whose default-terminate outcome calls
// terminate (normally TaskTable.Exit wrapped to also record the killing
// signal).
func NewDeliverer(terminate func(t *process.Task, sig ksignal.Sig)) *Deliverer {
	return &Deliverer{terminate: terminate}
}

// CheckAndDeliver applies the next deliverable signal's disposition to
// t, if any, before it returns to user mode.
func (d *Deliverer) CheckAndDeliver(t *process.Task) {
	t.Lock()
	sig := t.Sig.NextDeliverable()
	if sig == 0 {
		t.Unlock()
		return
	}
	h := t.Sig.Handlers[sig]
	switch h.Action {
	case ksignal.ActionIgnore:
		t.Sig.ClearPending(sig)
		t.Unlock()
	case ksignal.ActionDefault:
		outcome := ksignal.DefaultAction[sig]
		t.Sig.ClearPending(sig)
		t.Unlock()
		if outcome == ksignal.DefaultTerminate {
			d.terminate(t, sig)
		}
		// DefaultStop/DefaultContinue/DefaultIgnoreSig: job control and
		// SIGCHLD bookkeeping are modeled as no-ops here.
	case ksignal.ActionHandler:
		d.buildTrampoline(t, sig, h)
		t.Unlock()
	}
}

// buildTrampoline pushes the interrupted frame, the pre-delivery blocked
// mask, the signal number, and the trampoline return address onto the
// user stack, then redirects EIP to the handler. Caller holds t's lock.
func (d *Deliverer) buildTrampoline(t *process.Task, sig ksignal.Sig, h ksignal.Handler) {
	pool := t.AS.Pool()
	esp := t.Frame.UserESP
	savedBlocked := t.Sig.Blocked

	// Layout from the new esp upward: [retaddr=trampoline][sig][blocked
	// mask][saved frame], matching a cdecl call to handler(sig) that
	// "returns" into the trampoline stub, which in turn invokes
	// sigreturn with no arguments — sigreturn recovers everything it
	// needs from this stack layout.
	esp -= savedFrameSize
	frameAddr := esp
	writeFrame(t.AS, pool, frameAddr, &t.Frame)

	esp -= 4
	writeWord(t.AS, pool, esp, uint32(savedBlocked))

	esp -= 4
	writeWord(t.AS, pool, esp, uint32(sig))

	esp -= 4
	writeWord(t.AS, pool, esp, TrampolineAddr)

	t.Sig.Consume(sig)
	t.Frame.EIP = uint32(h.Entry)
	t.Frame.UserESP = esp
}

// SigReturn implements sigreturn: pop the saved blocked mask and
// interrupted frame back off the user stack. The layout mirrors
// buildTrampoline exactly, so esp here is the value left in
// Frame.UserESP when the handler "returns" into the trampoline stub
// and the stub traps into this syscall — nothing is passed as an
// argument, it is all recovered from the stack itself.
func SigReturn(t *process.Task) {
	t.Lock()
	defer t.Unlock()
	esp := t.Frame.UserESP + 8 // skip [retaddr][sig] to reach the blocked mask
	pool := t.AS.Pool()
	t.Sig.Blocked = ksignal.Bitmask(readWord(t.AS, pool, esp))
	readFrame(t.AS, pool, esp+4, &t.Frame)
	// UserESP is not in the saved words: the interrupted stack pointer is
	// the address just above the saved frame.
	t.Frame.UserESP = esp + 4 + savedFrameSize
}

func writeWord(as *process.AddressSpace, pool *process.FramePool, vaddr uint32, v uint32) {
	entry, ok := as.FindContaining(vaddr)
	if !ok {
		return
	}
	off := int(vaddr - entry.VAddr)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	pool.Write(entry.PAddr, off, buf)
}

func readWord(as *process.AddressSpace, pool *process.FramePool, vaddr uint32) uint32 {
	entry, ok := as.FindContaining(vaddr)
	if !ok {
		return 0
	}
	off := int(vaddr - entry.VAddr)
	buf := make([]byte, 4)
	pool.Read(entry.PAddr, off, buf)
	return binary.LittleEndian.Uint32(buf)
}

func writeFrame(as *process.AddressSpace, pool *process.FramePool, vaddr uint32, f *process.Frame) {
	buf := make([]byte, savedFrameSize)
	words := []uint32{f.EDI, f.ESI, f.EBP, f.ESP, f.EBX, f.EDX, f.ECX, f.EAX, f.EIP, f.CS, f.EFlags, f.SS}
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	entry, ok := as.FindContaining(vaddr)
	if !ok {
		return
	}
	pool.Write(entry.PAddr, int(vaddr-entry.VAddr), buf)
}

func readFrame(as *process.AddressSpace, pool *process.FramePool, vaddr uint32, f *process.Frame) {
	entry, ok := as.FindContaining(vaddr)
	if !ok {
		return
	}
	buf := make([]byte, savedFrameSize)
	pool.Read(entry.PAddr, int(vaddr-entry.VAddr), buf)
	words := make([]uint32, 12)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	f.EDI, f.ESI, f.EBP, f.ESP, f.EBX, f.EDX, f.ECX, f.EAX, f.EIP, f.CS, f.EFlags, f.SS =
		words[0], words[1], words[2], words[3], words[4], words[5], words[6], words[7], words[8], words[9], words[10], words[11]
}
