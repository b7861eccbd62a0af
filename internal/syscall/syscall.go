// Package syscall implements the syscall numbers table and dispatcher: the
// int-0x80-style ABI of {number in RAX, up to three arguments in RDI/RSI/
// RDX, signed-negative-on-failure result written back into RAX}.
//
// Grounded on original_source/kernel/syscall.c/.h's syscall table and
// argument convention, and on biscuit's defs.Err_t negative-errno
// convention.
package syscall

import (
	"github.com/kngarcia/SO-Decentralizado/internal/defs"
	"github.com/kngarcia/SO-Decentralizado/internal/elf"
	"github.com/kngarcia/SO-Decentralizado/internal/fd"
	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/proc"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
	"github.com/kngarcia/SO-Decentralizado/internal/sched"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

// Syscall numbers.
const (
	SYS_EXIT  = 0
	SYS_YIELD = 1
	SYS_LOG   = 2
	SYS_MMAP  = 3
	SYS_FORK  = 4
	SYS_WAIT  = 5
	SYS_READ  = 6
	SYS_WRITE = 7
	SYS_OPEN  = 8
	SYS_CLOSE = 9
	SYS_EXEC  = 10
)

// maxPathLen bounds the NUL-terminated path string SYS_EXEC reads out of
// user memory, so a missing terminator can't make the kernel walk pages
// forever.
const maxPathLen = 256

/// Logger receives bytes written via SYS_LOG/SYS_WRITE to descriptor
/// defs.D_CONSOLE, decoupling this package from internal/klog.
type Logger interface {
	Write(p []byte) (int, error)
}

/// Context bundles every kernel subsystem a syscall might need to touch.
type Context struct {
	Phys   *mem.Physmem_t
	Walker *vm.Walker_t
	Procs  *proc.Registry_t
	Sched  *sched.Scheduler_t
	Log    Logger

	// Loader and KernelRoot back SYS_EXEC: Loader builds the replacement
	// address space, cloned from KernelRoot so kernel mappings survive
	// the load the same way they do for a freshly spawned process.
	Loader     *elf.Loader
	KernelRoot mem.Pa_t
	// Images maps a recognized exec target name to its embedded ELF64
	// image. SYS_EXEC only ever runs a name found here — there is no
	// filesystem to resolve an arbitrary path against.
	Images map[string][]byte
}

/// Outcome reports what a dispatched syscall did, beyond the return value
/// already poked into the caller's frame: whether the calling process
/// exited (so the trap dispatcher must reap it and switch tasks) and
/// whether fork created a new child (Dispatch has already added it to the
/// scheduler's ready queue).
type Outcome struct {
	Exited bool
	Forked *proc.Process_t
}

/// Dispatch decodes the syscall number and arguments out of frame, performs
/// the call against p (the currently-running process), writes the result
/// into frame's return register, and reports any scheduling side effects.
func (c *Context) Dispatch(p *proc.Process_t, frame *regframe.Frame_t) Outcome {
	num := frame.RAX
	a0, a1, a2 := frame.RDI, frame.RSI, frame.RDX

	switch num {
	case SYS_EXIT:
		c.Procs.Exit(p.Id, int(int64(a0)))
		return Outcome{Exited: true}

	case SYS_YIELD:
		frame.SetReturn(0)

	case SYS_LOG:
		n, err := c.writeFD(p, int(a0), a1, a2)
		frame.SetReturn(resultReg(n, err))

	case SYS_WRITE:
		n, err := c.writeFD(p, int(a0), a1, a2)
		frame.SetReturn(resultReg(n, err))

	case SYS_READ:
		// No backing storage behind a descriptor in this core (no
		// filesystem, per Non-goals); reading always yields EOF.
		frame.SetReturn(0)

	case SYS_MMAP:
		ok := c.Walker.MapRange(p.Root, uintptr(a0), int(a1), vm.PTE_U|vm.PTE_W)
		if !ok {
			frame.SetReturn(errReg(defs.ENOMEM))
			break
		}
		frame.SetReturn(a0)

	case SYS_FORK:
		child, ok := c.Procs.Clone(c.Walker, p)
		if !ok {
			frame.SetReturn(errReg(defs.ENOMEM))
			break
		}
		frame.SetReturn(uint64(child.Id))
		c.Sched.Add(child.Id)
		return Outcome{Forked: child}

	case SYS_WAIT:
		child, ok := c.Procs.Find(int(a0))
		if !ok {
			frame.SetReturn(errReg(defs.ESRCH))
			break
		}
		if child.State != defs.PROC_DEAD {
			frame.SetReturn(errReg(defs.EAGAIN))
			break
		}
		frame.SetReturn(uint64(uint32(child.ExitCode)))
		c.Procs.Remove(child.Id)

	case SYS_OPEN:
		slot, ok := p.FDs.Alloc()
		if !ok {
			frame.SetReturn(errReg(defs.EBADF))
			break
		}
		frame.SetReturn(uint64(slot))

	case SYS_CLOSE:
		if !p.FDs.Valid(int(a0)) {
			frame.SetReturn(errReg(defs.EBADF))
			break
		}
		p.FDs.Decref(int(a0))
		frame.SetReturn(0)

	case SYS_EXEC:
		path, ok := c.readUserCString(p, uintptr(a0))
		if !ok {
			frame.SetReturn(errReg(defs.EFAULT))
			break
		}
		img, ok := c.Images[path]
		if !ok {
			frame.SetReturn(errReg(defs.ESRCH))
			break
		}
		res, err := c.Loader.Load(c.KernelRoot, img)
		if err != nil {
			frame.SetReturn(errReg(defs.E2BIG))
			break
		}
		p.Root = res.Root
		p.HeapStart = res.HeapStart
		p.HeapEnd = res.HeapEnd
		p.StackBase = res.StackBase
		p.StackTop = res.StackTop
		*frame = *res.Frame

	default:
		frame.SetReturn(errReg(defs.EINVAL))
	}

	return Outcome{}
}

func (c *Context) writeFD(p *proc.Process_t, descriptor int, vaddr, length uint64) (int, error) {
	if descriptor != int(defs.D_CONSOLE) && !p.FDs.Valid(descriptor) {
		return 0, errOf(defs.EBADF)
	}
	buf := make([]byte, 0, length)
	remaining := length
	addr := uintptr(vaddr)
	for remaining > 0 {
		pte, ok := c.Walker.FindPTE(p.Root, addr)
		if !ok || !pte.User() {
			return 0, errOf(defs.EFAULT)
		}
		page := c.Walker.Phys.Dmap(pte.Addr())
		off := addr & uintptr(mem.PGSIZE-1)
		n := uint64(mem.PGSIZE) - uint64(off)
		if n > remaining {
			n = remaining
		}
		buf = append(buf, page[off:uintptr(off)+uintptr(n)]...)
		addr += uintptr(n)
		remaining -= n
	}
	return c.Log.Write(buf)
}

// readUserCString copies a NUL-terminated string out of user memory
// starting at vaddr, one page-crossing-aware byte at a time, stopping at
// the NUL or at maxPathLen. ok is false on an unmapped or non-user page.
func (c *Context) readUserCString(p *proc.Process_t, vaddr uintptr) (string, bool) {
	var buf []byte
	addr := vaddr
	for len(buf) < maxPathLen {
		pte, ok := c.Walker.FindPTE(p.Root, addr)
		if !ok || !pte.User() {
			return "", false
		}
		page := c.Walker.Phys.Dmap(pte.Addr())
		off := addr & uintptr(mem.PGSIZE-1)
		b := page[off]
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
		addr++
	}
	return "", false
}

type kernelError struct{ e defs.Err_t }

func (k kernelError) Error() string { return "syscall error" }
func errOf(e defs.Err_t) error      { return kernelError{e} }

func resultReg(n int, err error) uint64 {
	if err != nil {
		if ke, ok := err.(kernelError); ok {
			return errReg(ke.e)
		}
		return errReg(defs.EFAULT)
	}
	return uint64(n)
}

// errReg encodes a kernel error as a negative errno: the low bits of the
// return register hold -err, sign-extended.
func errReg(e defs.Err_t) uint64 {
	return uint64(int64(-int32(e)))
}

/// NSlots re-exports fd.NSlots for callers that only import this package.
const NSlots = fd.NSlots
