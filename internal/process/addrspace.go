package process

import (
	"sort"
	"sync"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
)

// PageSize is the simulated hardware page size.
const PageSize = 4096

// Hardware page-map flags.
const (
	FlagPresent  uint32 = 1 << 0
	FlagWritable uint32 = 1 << 1
	FlagUser     uint32 = 1 << 2
)

// PageMapEntry is one (vaddr, paddr, flags, cow) mapping.
type PageMapEntry struct {
	VAddr uint32
	PAddr uint32
	Flags uint32
	COW   bool
}

// frame is a simulated physical page: a fixed-size byte buffer plus a
// reference count so two mappings can share one COW frame.
type frame struct {
	data []byte
	refs int
}

// FramePool is the bounded pool of simulated physical frames standing in
// for real RAM, grounded on splice/pool.go's fixed-capacity buffer pool.
type FramePool struct {
	mu     sync.Mutex
	frames map[uint32]*frame
	next   uint32
	max    uint32
}

// NewFramePool creates a pool that can hand out up to maxFrames frames.
func NewFramePool(maxFrames uint32) *FramePool {
	return &FramePool{frames: map[uint32]*frame{}, next: 1, max: maxFrames}
}

// Alloc returns a fresh zeroed frame's physical address.
func (p *FramePool) Alloc() (uint32, kerrno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next > p.max {
		return 0, kerrno.NoSpace
	}
	paddr := p.next
	p.next++
	p.frames[paddr] = &frame{data: make([]byte, PageSize), refs: 1}
	return paddr, kerrno.OK
}

func (p *FramePool) incRef(paddr uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[paddr]; ok {
		f.refs++
	}
}

// Refs reports the current reference count of a frame (used to decide
// whether a COW fault needs to copy or can simply reuse the frame).
func (p *FramePool) Refs(paddr uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[paddr]; ok {
		return f.refs
	}
	return 0
}

// Release drops one reference, freeing the frame when it reaches zero.
func (p *FramePool) Release(paddr uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[paddr]
	if !ok {
		return
	}
	f.refs--
	if f.refs <= 0 {
		delete(p.frames, paddr)
	}
}

// Read copies up to len(buf) bytes starting at offset within the frame.
func (p *FramePool) Read(paddr uint32, offset int, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[paddr]; ok {
		copy(buf, f.data[offset:])
	}
}

// Write copies buf into the frame at offset.
func (p *FramePool) Write(paddr uint32, offset int, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.frames[paddr]; ok {
		copy(f.data[offset:], buf)
	}
}

// copyFrame duplicates the contents of src into a freshly allocated
// frame and returns its physical address.
func (p *FramePool) copyFrame(src uint32) (uint32, kerrno.Errno) {
	dst, err := p.Alloc()
	if err != kerrno.OK {
		return 0, err
	}
	p.mu.Lock()
	srcF, dstF := p.frames[src], p.frames[dst]
	copy(dstF.data, srcF.data)
	p.mu.Unlock()
	return dst, kerrno.OK
}

// AddressSpace is a task's bounded, vaddr-sorted list of page-map
// entries.
type AddressSpace struct {
	pool    *FramePool
	entries []PageMapEntry
}

// NewAddressSpace creates an empty address space backed by pool.
func NewAddressSpace(pool *FramePool) *AddressSpace {
	return &AddressSpace{pool: pool}
}

// Pool returns the frame pool backing this address space.
func (as *AddressSpace) Pool() *FramePool { return as.pool }

// Map inserts or replaces the mapping for vaddr, keeping entries sorted.
func (as *AddressSpace) Map(vaddr, paddr uint32, flags uint32) {
	i := as.indexOf(vaddr)
	if i < len(as.entries) && as.entries[i].VAddr == vaddr {
		as.entries[i].PAddr = paddr
		as.entries[i].Flags = flags
		as.entries[i].COW = false
		return
	}
	e := PageMapEntry{VAddr: vaddr, PAddr: paddr, Flags: flags}
	as.entries = append(as.entries, PageMapEntry{})
	copy(as.entries[i+1:], as.entries[i:])
	as.entries[i] = e
}

// Unmap removes the mapping for vaddr, releasing its frame.
func (as *AddressSpace) Unmap(vaddr uint32) {
	i := as.indexOf(vaddr)
	if i >= len(as.entries) || as.entries[i].VAddr != vaddr {
		return
	}
	as.pool.Release(as.entries[i].PAddr)
	as.entries = append(as.entries[:i], as.entries[i+1:]...)
}

// UnmapAll releases every mapping (execve reset, _exit page teardown).
func (as *AddressSpace) UnmapAll() {
	for _, e := range as.entries {
		as.pool.Release(e.PAddr)
	}
	as.entries = nil
}

// Find returns the mapping for vaddr, if any.
func (as *AddressSpace) Find(vaddr uint32) (PageMapEntry, bool) {
	i := as.indexOf(vaddr)
	if i < len(as.entries) && as.entries[i].VAddr == vaddr {
		return as.entries[i], true
	}
	return PageMapEntry{}, false
}

func (as *AddressSpace) indexOf(vaddr uint32) int {
	return sort.Search(len(as.entries), func(i int) bool { return as.entries[i].VAddr >= vaddr })
}

// ForkInto duplicates as's mappings into child. Every entry now has two
// owners (parent and child) and must have its frame's refcount bumped
// accordingly, whether or not it is writable; writable user mappings
// additionally lose the writable bit and become COW in both copies, so
// a later write forces a private copy instead of corrupting the other
// side's view.
func (as *AddressSpace) ForkInto(child *AddressSpace) {
	child.entries = make([]PageMapEntry, len(as.entries))
	for i, e := range as.entries {
		as.pool.incRef(e.PAddr)
		if e.Flags&FlagWritable != 0 && e.Flags&FlagUser != 0 {
			e.Flags &^= FlagWritable
			e.COW = true
			as.entries[i] = e
		}
		child.entries[i] = e
	}
}

// HandleWriteFault services a write fault against a COW entry: if the
// frame is still shared, it copies the frame and restores writability
// on the faulting entry only; if the frame was already private (refs
// dropped to 1), it simply clears COW and restores writability in
// place.
func (as *AddressSpace) HandleWriteFault(vaddr uint32) kerrno.Errno {
	i := as.indexOf(vaddr)
	if i >= len(as.entries) || as.entries[i].VAddr != vaddr || !as.entries[i].COW {
		return kerrno.BadAddress
	}
	e := &as.entries[i]
	if as.pool.Refs(e.PAddr) <= 1 {
		e.COW = false
		e.Flags |= FlagWritable
		return kerrno.OK
	}
	newPAddr, err := as.pool.copyFrame(e.PAddr)
	if err != kerrno.OK {
		return err
	}
	as.pool.Release(e.PAddr)
	e.PAddr = newPAddr
	e.COW = false
	e.Flags |= FlagWritable
	return kerrno.OK
}

// FindContaining returns the mapping whose page contains addr, if any —
// used by the signal trampoline builder, which writes at sub-page byte
// offsets rather than page-aligned addresses.
func (as *AddressSpace) FindContaining(addr uint32) (PageMapEntry, bool) {
	return as.Find(addr &^ (PageSize - 1))
}

// Entries returns a snapshot of the address space's mappings, used by
// the scheduler to reprogram the simulated page directory on a switch.
func (as *AddressSpace) Entries() []PageMapEntry {
	out := make([]PageMapEntry, len(as.entries))
	copy(out, as.entries)
	return out
}
