package process

import (
	"bytes"
	"debug/elf"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
)

// Image is a loaded executable: an entry point and the PT_LOAD segments
// to map into a fresh address space. No third-party ELF-parsing library
// appears anywhere in the retrieval pack, so this one corner of C6 uses
// the standard library's debug/elf rather than inventing a dependency.
type Image struct {
	Entry    uint32
	Segments []Segment
}

// Segment is one loadable program-header entry.
type Segment struct {
	VAddr      uint32
	Data       []byte
	Writable   bool
	Executable bool
}

// LoadELF32 parses an ELF32 executable, rejecting unrecognized magic
// with NotExec the way execve must before committing to replace a
// task's image.
func LoadELF32(data []byte) (*Image, kerrno.Errno) {
	if len(data) < 4 || !bytes.Equal(data[:4], []byte(elf.ELFMAG)) {
		return nil, kerrno.NotExec
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, kerrno.NotExec
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS32 || f.Type != elf.ET_EXEC {
		return nil, kerrno.NotExec
	}

	img := &Image{Entry: uint32(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, prog.Memsz)
		r := prog.Open()
		n, _ := r.Read(buf)
		_ = n
		img.Segments = append(img.Segments, Segment{
			VAddr:      uint32(prog.Vaddr),
			Data:       buf,
			Writable:   prog.Flags&elf.PF_W != 0,
			Executable: prog.Flags&elf.PF_X != 0,
		})
	}
	return img, kerrno.OK
}
