package regframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewKernelTaskZeroesGeneralRegisters(t *testing.T) {
	f := NewKernelTask(0x8000)
	for i, v := range f.General() {
		require.Zero(t, v, "register %d should start zeroed", i)
	}
	require.Equal(t, uint64(0x8000), f.RIP)
	require.Equal(t, SelKernelCode, f.CS)
	require.Equal(t, RFLAGS_IF, f.RFLAGS)
}

func TestNewUserEntrySetsRing3Selectors(t *testing.T) {
	f := NewUserEntry(0x401000, 0x7ffffffff000)
	require.Equal(t, SelUserCode, f.CS)
	require.Equal(t, SelUserData, f.SS)
	require.Equal(t, uint64(0x7ffffffff000), f.RSP)
}

func TestSetReturnOnlyTouchesRAX(t *testing.T) {
	f := &Frame_t{RBX: 1, RCX: 2}
	f.SetReturn(99)
	require.Equal(t, uint64(99), f.Return())
	require.Equal(t, uint64(1), f.RBX)
	require.Equal(t, uint64(2), f.RCX)
}

func TestCloneIsIndependentCopy(t *testing.T) {
	f := &Frame_t{RAX: 5}
	c := f.Clone()
	c.SetReturn(10)
	require.Equal(t, uint64(5), f.RAX)
	require.Equal(t, uint64(10), c.RAX)
}
