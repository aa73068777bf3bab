package process_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/schrodinghauer/saenaios/internal/kerrno"
	"github.com/schrodinghauer/saenaios/internal/process"
)

func TestForkIntoSharesFrameUntilWrite(t *testing.T) {
	pool := process.NewFramePool(64)
	parent := process.NewAddressSpace(pool)
	child := process.NewAddressSpace(pool)

	paddr, err := pool.Alloc()
	require.Equal(t, kerrno.OK, err)
	pool.Write(paddr, 0, []byte("A"))
	parent.Map(0x1000, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)

	parent.ForkInto(child)

	pe, ok := parent.Find(0x1000)
	require.True(t, ok)
	require.True(t, pe.COW)
	require.Zero(t, pe.Flags&process.FlagWritable)

	ce, ok := child.Find(0x1000)
	require.True(t, ok)
	require.True(t, ce.COW)
	require.Equal(t, pe.PAddr, ce.PAddr)

	require.Equal(t, kerrno.OK, child.HandleWriteFault(0x1000))
	ce, _ = child.Find(0x1000)
	require.False(t, ce.COW)
	require.NotEqual(t, pe.PAddr, ce.PAddr)

	buf := make([]byte, 1)
	pool.Write(ce.PAddr, 0, []byte("B"))
	pool.Read(ce.PAddr, 0, buf)
	require.Equal(t, "B", string(buf))

	pool.Read(pe.PAddr, 0, buf)
	require.Equal(t, "A", string(buf))
}

// TestForkIntoParentEntryUnaffectedByChildWriteFault confirms a child's
// copy-on-write fault never mutates the parent's page-table entry, by
// comparing a snapshot taken before the fault against one taken after.
func TestForkIntoParentEntryUnaffectedByChildWriteFault(t *testing.T) {
	pool := process.NewFramePool(64)
	parent := process.NewAddressSpace(pool)
	child := process.NewAddressSpace(pool)

	paddr, err := pool.Alloc()
	require.Equal(t, kerrno.OK, err)
	parent.Map(0x2000, paddr, process.FlagPresent|process.FlagWritable|process.FlagUser)

	parent.ForkInto(child)
	before, ok := parent.Find(0x2000)
	require.True(t, ok)

	require.Equal(t, kerrno.OK, child.HandleWriteFault(0x2000))

	after, ok := parent.Find(0x2000)
	require.True(t, ok)
	if diff := pretty.Compare(before, after); diff != "" {
		t.Errorf("parent page-table entry changed across child write fault: %s", diff)
	}
}

// TestForkIntoKeepsReadOnlySharedFrameAliveAfterChildExit covers a
// non-writable mapping (e.g. a mapped code segment): ForkInto must bump
// its refcount too, or the first side to UnmapAll frees a frame the
// other side still maps.
func TestForkIntoKeepsReadOnlySharedFrameAliveAfterChildExit(t *testing.T) {
	pool := process.NewFramePool(64)
	parent := process.NewAddressSpace(pool)
	child := process.NewAddressSpace(pool)

	paddr, err := pool.Alloc()
	require.Equal(t, kerrno.OK, err)
	pool.Write(paddr, 0, []byte("code"))
	parent.Map(0x3000, paddr, process.FlagPresent|process.FlagUser)

	parent.ForkInto(child)
	require.Equal(t, 2, pool.Refs(paddr))

	child.UnmapAll()
	require.Equal(t, 1, pool.Refs(paddr))

	buf := make([]byte, 4)
	pool.Read(paddr, 0, buf)
	require.Equal(t, "code", string(buf))
}
