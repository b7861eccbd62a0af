package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kngarcia/SO-Decentralizado/internal/platform"
	"github.com/kngarcia/SO-Decentralizado/internal/proc"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
	"github.com/kngarcia/SO-Decentralizado/internal/syscall"
	"github.com/kngarcia/SO-Decentralizado/internal/trap"
)

func newTestKernel(t *testing.T) (*Kernel_t, *platform.Fake) {
	t.Helper()
	hooks := platform.NewFake()
	k, err := New(Config{NFrames: 512, ReservedFrames: 8, Hooks: hooks})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, k.Close()) })
	return k, hooks
}

func TestNewWiresEverySubsystem(t *testing.T) {
	k, _ := newTestKernel(t)
	require.NotNil(t, k.Phys)
	require.NotNil(t, k.Walker)
	require.NotNil(t, k.Procs)
	require.NotNil(t, k.Sched)
	require.NotNil(t, k.Trap)
	require.NotNil(t, k.Log)
	require.NotNil(t, k.Prof)
	require.Equal(t, 512, k.Phys.NFrames())
	require.Equal(t, 8, k.Phys.ReservedFrames())
}

func TestWithInterruptsDisabledRunsExclusively(t *testing.T) {
	k, _ := newTestKernel(t)
	ran := false
	err := k.WithInterruptsDisabled(context.Background(), func() { ran = true })
	require.NoError(t, err)
	require.True(t, ran)
}

func TestTimerTickRecordsProfilerSampleForCurrentTask(t *testing.T) {
	k, hooks := newTestKernel(t)
	a := k.Sched.Create("a", 0x1000)
	k.Sched.Create("b", 0x2000)
	frame, ok := k.Sched.Start()
	require.True(t, ok)
	require.Equal(t, a.Frame, frame)

	k.Trap.Dispatch(trap.VecTimer, frame, 0, false, nil)
	require.Equal(t, 1, hooks.TimerAcks)

	snap := k.Prof.Snapshot()
	require.Len(t, snap.Sample, 1, "one sample recorded for the task that was current at tick time")
}

func TestSpawnELFRejectsGarbageImage(t *testing.T) {
	k, _ := newTestKernel(t)
	_, err := k.SpawnELF("bad", []byte("definitely not an elf"))
	require.Error(t, err)
}

func TestForkSyscallEndToEndThroughTrapDispatcher(t *testing.T) {
	k, _ := newTestKernel(t)

	parent := &proc.Process_t{
		Name:  "parent",
		Root:  k.Root,
		Frame: regframe.NewUserEntry(0x1000, 0x2000),
		FDs:   k.Procs.NewFDTable(),
	}
	k.Procs.Register(parent)
	k.Sched.Add(parent.Id)
	k.Sched.Start()

	parent.Frame.RAX = syscall.SYS_FORK
	before := k.Procs.Count()
	k.Trap.Dispatch(trap.VecSyscall, parent.Frame, 0, false, nil)

	require.Equal(t, before+1, k.Procs.Count())
	require.NotEqual(t, uint64(0), parent.Frame.RAX, "parent's frame gets the child pid back")
}
