package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kngarcia/SO-Decentralizado/internal/mem"
)

func TestHandleFaultUnmappedIsFatal(t *testing.T) {
	w, root := newTestWalker(t)
	res := w.HandleFault(root, 0x9000, false, true)
	require.Equal(t, FaultFatal, res)
}

func TestHandleFaultUserAccessToSupervisorPageIsRepaired(t *testing.T) {
	w, root := newTestWalker(t)
	require.True(t, w.MapRange(root, 0x1000, mem.PGSIZE, PTE_W)) // no PTE_U
	res := w.HandleFault(root, 0x1000, false, true)
	require.Equal(t, FaultResolved, res)

	pte, found := w.FindPTE(root, 0x1000)
	require.True(t, found)
	require.True(t, pte.User(), "missing user bit on an otherwise-valid mapping is repaired in place")
}

func TestHandleFaultWriteToAlreadyWritablePageIsFatal(t *testing.T) {
	w, root := newTestWalker(t)
	require.True(t, w.MapRange(root, 0x1000, mem.PGSIZE, PTE_U|PTE_W))
	res := w.HandleFault(root, 0x1000, true, true)
	require.Equal(t, FaultFatal, res, "a write fault against an already-writable PTE is corrupted state, not something to repair")
}

func TestHandleFaultCowCopiesOnWrite(t *testing.T) {
	w, parentRoot := newTestWalker(t)
	require.True(t, w.MapRange(parentRoot, 0x10000, mem.PGSIZE, PTE_U|PTE_W))

	parentPTE, _ := w.FindPTE(parentRoot, 0x10000)
	original := parentPTE.Addr()
	page := w.Phys.Dmap(original)
	page[0] = 0x42

	childRoot, ok := w.CloneCow(parentRoot)
	require.True(t, ok)
	require.Equal(t, 2, w.Phys.Refcount(original))

	res := w.HandleFault(childRoot, 0x10000, true, true)
	require.Equal(t, FaultResolved, res)

	childPTE, found := w.FindPTE(childRoot, 0x10000)
	require.True(t, found)
	require.True(t, childPTE.Writable())
	require.NotEqual(t, original, childPTE.Addr(), "COW fault must install a private frame")
	require.Equal(t, 1, w.Phys.Refcount(original), "parent's frame refcount drops back to 1")
	require.Equal(t, byte(0x42), w.Phys.Dmap(childPTE.Addr())[0], "copied frame preserves original bytes")

	// Parent is unaffected and still shares nothing with the child.
	parentPTE, _ = w.FindPTE(parentRoot, 0x10000)
	require.False(t, parentPTE.Writable(), "parent PTE stays read-only until it also faults")
	require.Equal(t, original, parentPTE.Addr())
}

func TestHandleFaultStaleWritableBitIsRepairedWithoutCopy(t *testing.T) {
	w, root := newTestWalker(t)
	require.True(t, w.MapRange(root, 0x10000, mem.PGSIZE, PTE_U|PTE_W))

	pte, _ := w.FindPTE(root, 0x10000)
	frame := pte.Addr()
	pte.Set(pte.Get() &^ PTE_W) // simulate a private page whose W bit got cleared

	res := w.HandleFault(root, 0x10000, true, true)
	require.Equal(t, FaultResolved, res)

	pte, _ = w.FindPTE(root, 0x10000)
	require.True(t, pte.Writable())
	require.Equal(t, frame, pte.Addr(), "single-owner repair must not allocate a new frame")
}
