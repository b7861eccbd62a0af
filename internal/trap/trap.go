// Package trap implements the trap dispatcher: it decodes which vector
// fired (timer, page fault, general-protection fault, syscall) and routes
// to the scheduler, the page-table walker's fault handler, or the syscall
// layer, returning the frame the caller should resume with.
//
// Grounded on original_source/kernel/mm/virtual_memory.c's
// page_fault_handler and original_source/kernel/scheduler/preemptive.c's
// timer-interrupt path, adapted to biscuit's single Trapframe-in/
// Trapframe-out dispatch discipline.
package trap

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kngarcia/SO-Decentralizado/internal/defs"
	"github.com/kngarcia/SO-Decentralizado/internal/kprof"
	"github.com/kngarcia/SO-Decentralizado/internal/platform"
	"github.com/kngarcia/SO-Decentralizado/internal/proc"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
	"github.com/kngarcia/SO-Decentralizado/internal/sched"
	"github.com/kngarcia/SO-Decentralizado/internal/syscall"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

// Vector identifies which trap gate fired, matching the subset of the IDT
// this core cares about.
type Vector int

const (
	VecTimer Vector = iota
	VecPageFault
	VecGeneralProtection
	VecSyscall
)

/// Dispatcher_t owns every subsystem a trap might touch and presents the
/// single entry point the (simulated) trap-entry stub calls.
type Dispatcher_t struct {
	Walker   *vm.Walker_t
	Procs    *proc.Registry_t
	Sched    *sched.Scheduler_t
	Syscalls *syscall.Context
	Platform platform.Hooks

	// Prof records which pid ran on each timer tick, for the D_PROF
	// device. Nil disables profiling.
	Prof *kprof.Recorder
}

func New(w *vm.Walker_t, procs *proc.Registry_t, s *sched.Scheduler_t, sc *syscall.Context, hooks platform.Hooks) *Dispatcher_t {
	return &Dispatcher_t{Walker: w, Procs: procs, Sched: s, Syscalls: sc, Platform: hooks}
}

/// Dispatch routes one trap. faultAddr and writeFault are only meaningful
/// for VecPageFault; code is the raw faulting instruction bytes, only used
/// to render a disassembly for VecGeneralProtection's crash dump. It
/// returns the frame execution should resume with.
func (d *Dispatcher_t) Dispatch(vec Vector, frame *regframe.Frame_t, faultAddr uintptr, writeFault bool, code []byte) *regframe.Frame_t {
	userMode := frame.CS&0x3 != 0

	switch vec {
	case VecTimer:
		d.Platform.AckTimer()
		if d.Prof != nil {
			if cur, ok := d.Procs.Current(); ok {
				d.Prof.Record(cur.Id)
			}
		}
		return d.Sched.Tick(frame)

	case VecPageFault:
		cur, ok := d.Procs.Current()
		if !ok {
			d.Platform.Halt()
			return frame
		}
		res := d.Walker.HandleFault(cur.Root, faultAddr, writeFault, userMode)
		if res == vm.FaultFatal {
			return d.kill(cur, frame)
		}
		return frame

	case VecGeneralProtection:
		cur, ok := d.Procs.Current()
		if !ok {
			d.Platform.Halt()
			return frame
		}
		d.dumpFault(cur, frame, code)
		return d.kill(cur, frame)

	case VecSyscall:
		cur, ok := d.Procs.Current()
		if !ok {
			d.Platform.Halt()
			return frame
		}
		outcome := d.Syscalls.Dispatch(cur, frame)
		if outcome.Forked != nil {
			// Child starts ready; parent continues on the same frame.
			return frame
		}
		if outcome.Exited {
			return d.kill(cur, frame)
		}
		return frame
	}

	return frame
}

func (d *Dispatcher_t) kill(p *proc.Process_t, frame *regframe.Frame_t) *regframe.Frame_t {
	if p.State != defs.PROC_DEAD {
		d.Procs.Exit(p.Id, -1)
	}
	d.Sched.Reap()
	next := d.Sched.Tick(frame)
	if d.Sched.Len() == 0 {
		d.Platform.Halt()
	}
	return next
}

/// dumpFault renders a human-readable crash report: register contents plus
/// a best-effort disassembly of the faulting instruction.
func (d *Dispatcher_t) dumpFault(p *proc.Process_t, frame *regframe.Frame_t, code []byte) string {
	inst, err := x86asm.Decode(code, 64)
	instText := "<undecodable>"
	if err == nil {
		instText = x86asm.GNUSyntax(inst, uint64(frame.RIP), nil)
	}
	return fmt.Sprintf("general protection fault: pid=%d rip=%#x cs=%#x instr=%q",
		p.Id, frame.RIP, frame.CS, instText)
}
