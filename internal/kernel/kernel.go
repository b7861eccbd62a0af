// Package kernel wires every subsystem into one bootable unit: the frame
// allocator, page-table walker, ELF loader, process registry, scheduler,
// syscall dispatcher, and trap dispatcher, plus the ambient logging and
// profiling sinks.
//
// Grounded on biscuit/src/kernel/chentry.go's Main (the single function
// that allocates physical memory, builds the kernel's own address space,
// and hands off to the first scheduled task) and on
// original_source/kernel/kernel.c's kmain boot sequence.
package kernel

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/kngarcia/SO-Decentralizado/internal/defs"
	"github.com/kngarcia/SO-Decentralizado/internal/elf"
	"github.com/kngarcia/SO-Decentralizado/internal/klog"
	"github.com/kngarcia/SO-Decentralizado/internal/kprof"
	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/mq"
	"github.com/kngarcia/SO-Decentralizado/internal/platform"
	"github.com/kngarcia/SO-Decentralizado/internal/proc"
	"github.com/kngarcia/SO-Decentralizado/internal/sched"
	"github.com/kngarcia/SO-Decentralizado/internal/syscall"
	"github.com/kngarcia/SO-Decentralizado/internal/trap"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

/// Config sizes the simulated physical window and optionally supplies
/// platform hooks (real hardware in principle, platform.NewFake() in tests
/// and the demo binary).
type Config struct {
	NFrames        int
	ReservedFrames int
	Hooks          platform.Hooks
}

/// Kernel_t is the fully wired core. Every exported field is a subsystem
/// the rest of the package list (cmd/kernel, tests) might reach into
/// directly; there is no hidden global state anywhere in this module.
type Kernel_t struct {
	Phys   *mem.Physmem_t
	Walker *vm.Walker_t
	Loader *elf.Loader
	Procs  *proc.Registry_t
	Sched  *sched.Scheduler_t
	Trap   *trap.Dispatcher_t
	Log    *klog.Logger
	Prof   *kprof.Recorder
	OOM    chan mq.OOMMsg_t

	Platform platform.Hooks
	Root     mem.Pa_t // kernel's own address-space root

	// Images holds the embedded ELF64 binaries SYS_EXEC is allowed to
	// run, keyed by the name a caller passes to RegisterImage. It is the
	// same map instance handed to the syscall context, so registering an
	// image here takes effect immediately.
	Images map[string][]byte

	// intrGate models "interrupts disabled" as a capacity-1 semaphore:
	// holding it is equivalent to running with IF=0. Only
	// WithInterruptsDisabled acquires it; the trap, syscall and fault
	// paths run without taking it.
	intrGate *semaphore.Weighted
}

/// New builds and wires every subsystem but does not start any task.
func New(cfg Config) (*Kernel_t, error) {
	if cfg.Hooks == nil {
		cfg.Hooks = platform.NewFake()
	}

	phys, err := mem.New(cfg.NFrames, cfg.ReservedFrames)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	root, ok := phys.AllocFrame()
	if !ok {
		return nil, fmt.Errorf("kernel: out of memory allocating kernel root page table")
	}

	walker := vm.New(phys, cfg.Hooks)
	walker.SetActive(root)

	procs := proc.New()
	scheduler := sched.New(procs)
	loader := elf.New(walker)
	log := klog.New()
	images := make(map[string][]byte)

	sc := &syscall.Context{
		Phys:       phys,
		Walker:     walker,
		Procs:      procs,
		Sched:      scheduler,
		Log:        log,
		Loader:     loader,
		KernelRoot: root,
		Images:     images,
	}

	dispatcher := trap.New(walker, procs, scheduler, sc, cfg.Hooks)
	prof := kprof.New()
	dispatcher.Prof = prof

	return &Kernel_t{
		Phys:     phys,
		Walker:   walker,
		Loader:   loader,
		Procs:    procs,
		Sched:    scheduler,
		Trap:     dispatcher,
		Log:      log,
		Prof:     prof,
		OOM:      mq.NewOOMChannel(),
		Platform: cfg.Hooks,
		Root:     root,
		Images:   images,
		intrGate: semaphore.NewWeighted(1),
	}, nil
}

/// Close releases the simulated physical memory window.
func (k *Kernel_t) Close() error {
	return k.Phys.Close()
}

/// WithInterruptsDisabled runs fn while holding the interrupt-disable gate,
/// mirroring a cli()/sti() critical section. fn must not block on anything
/// that itself needs interrupts enabled to make progress.
func (k *Kernel_t) WithInterruptsDisabled(ctx context.Context, fn func()) error {
	if err := k.intrGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer k.intrGate.Release(1)
	fn()
	return nil
}

/// RegisterImage makes img runnable by name via SYS_EXEC. There is no
/// filesystem behind exec in this core, so the set of runnable images is
/// exactly what's been registered here.
func (k *Kernel_t) RegisterImage(name string, img []byte) {
	k.Images[name] = img
}

/// SpawnELF loads img as a fresh process, registers it, and enqueues it on
/// the scheduler's ready queue.
func (k *Kernel_t) SpawnELF(name string, img []byte) (*proc.Process_t, error) {
	res, err := k.Loader.Load(k.Root, img)
	if err != nil {
		return nil, err
	}

	p := &proc.Process_t{
		Name:      name,
		State:     defs.PROC_NEW,
		Root:      res.Root,
		Frame:     res.Frame,
		FDs:       k.Procs.NewFDTable(),
		HeapStart: res.HeapStart,
		HeapEnd:   res.HeapEnd,
		StackBase: res.StackBase,
		StackTop:  res.StackTop,
	}
	k.Procs.Register(p)
	k.Sched.Add(p.Id)
	return p, nil
}
