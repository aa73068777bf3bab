package syscall

import (
	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/process"
)

// copyInBytes reads n bytes starting at a user virtual address, walking
// page boundaries the way a real copy_from_user would, returning
// BadAddress the first time it steps off a mapped page.
func copyInBytes(t *process.Task, vaddr uint32, n int) ([]byte, kerrno.Errno) {
	out := make([]byte, n)
	pool := t.AS.Pool()
	for off := 0; off < n; {
		entry, ok := t.AS.FindContaining(vaddr + uint32(off))
		if !ok || entry.Flags&process.FlagUser == 0 {
			return nil, kerrno.BadAddress
		}
		pageOff := int(vaddr+uint32(off)) - int(entry.VAddr)
		chunk := process.PageSize - pageOff
		if chunk > n-off {
			chunk = n - off
		}
		pool.Read(entry.PAddr, pageOff, out[off:off+chunk])
		off += chunk
	}
	return out, kerrno.OK
}

// copyOutBytes writes data to a user virtual address, page by page.
func copyOutBytes(t *process.Task, vaddr uint32, data []byte) kerrno.Errno {
	pool := t.AS.Pool()
	for off := 0; off < len(data); {
		entry, ok := t.AS.FindContaining(vaddr + uint32(off))
		if !ok || entry.Flags&process.FlagUser == 0 || entry.Flags&process.FlagWritable == 0 {
			return kerrno.BadAddress
		}
		pageOff := int(vaddr+uint32(off)) - int(entry.VAddr)
		chunk := process.PageSize - pageOff
		if chunk > len(data)-off {
			chunk = len(data) - off
		}
		pool.Write(entry.PAddr, pageOff, data[off:off+chunk])
		off += chunk
	}
	return kerrno.OK
}

// copyInString reads a NUL-terminated string from user memory, up to
// maxLen bytes, the way execve's argv/envp and path arguments arrive at
// the gate.
func copyInString(t *process.Task, vaddr uint32, maxLen int) (string, kerrno.Errno) {
	pool := t.AS.Pool()
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		entry, ok := t.AS.FindContaining(vaddr + uint32(i))
		if !ok || entry.Flags&process.FlagUser == 0 {
			return "", kerrno.BadAddress
		}
		pageOff := int(vaddr+uint32(i)) - int(entry.VAddr)
		b := make([]byte, 1)
		pool.Read(entry.PAddr, pageOff, b)
		if b[0] == 0 {
			return string(buf), kerrno.OK
		}
		buf = append(buf, b[0])
	}
	return "", kerrno.NameTooLong
}

// copyInStringVector reads a NULL-terminated array of string pointers
// (argv/envp), each itself NUL-terminated, following the native
// pointer-table layout marshalUserStack writes.
func copyInStringVector(t *process.Task, vaddr uint32, maxEntries int) ([]string, kerrno.Errno) {
	var out []string
	for i := 0; i < maxEntries; i++ {
		ptrBytes, err := copyInBytes(t, vaddr+uint32(i*4), 4)
		if err != kerrno.OK {
			return nil, err
		}
		ptr := uint32(ptrBytes[0]) | uint32(ptrBytes[1])<<8 | uint32(ptrBytes[2])<<16 | uint32(ptrBytes[3])<<24
		if ptr == 0 {
			return out, kerrno.OK
		}
		s, serr := copyInString(t, ptr, process.MaxArgLen)
		if serr != kerrno.OK {
			return nil, serr
		}
		out = append(out, s)
	}
	return nil, kerrno.BadArg
}
