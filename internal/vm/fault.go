package vm

import "github.com/kngarcia/SO-Decentralizado/internal/mem"

// FaultResult classifies the outcome of a page-fault so the trap dispatcher
// knows whether to resume the faulting task or kill it.
type FaultResult int

const (
	FaultResolved FaultResult = iota /// handled in-place, resume the task
	FaultFatal                       /// no mapping or permission mismatch the core can repair
)

/// HandleFault implements the decision tree from the page-fault handler in
/// original_source/kernel/mm/virtual_memory.c, adapted to this walker's
/// PTERef abstraction:
//
//  1. No PTE present at all                -> FaultFatal (unmapped access).
//  2. Present, user-mode access, PTE user
//     bit clear                            -> repair: OR in PTE_U, flush
//     the TLB entry, resume -> FaultResolved (virtual_memory.c:257-262).
//  3. Not a write fault                    -> FaultResolved.
//  4. Write fault, PTE already writable    -> the hardware should never
//     raise a write fault against a writable mapping; treat it as
//     corrupted state and terminate -> FaultFatal
//     (virtual_memory.c:266-272).
//  5. Write fault, not writable,
//     refcount > 1 (shared COW frame)      -> copy-on-write: allocate a
//     fresh frame, copy the shared page's bytes, drop the shared frame's
//     refcount, install the new frame writable -> FaultResolved.
//  6. Write fault, not writable,
//     refcount == 1 (private, stale W bit) -> just set the writable bit
//     back -> FaultResolved (a benign race between CloneCow and the first
//     write, or a leftover from MapRange's PTE_U|PTE_W flags being cleared
//     by a prior CloneCow on the same address space).
func (w *Walker_t) HandleFault(root mem.Pa_t, vaddr uintptr, writeFault, userMode bool) FaultResult {
	pte, ok := w.FindPTE(root, vaddr)
	if !ok {
		return FaultFatal
	}
	if userMode && !pte.User() {
		pte.Set(pte.Get() | PTE_U)
		w.Flush.FlushAddr(vaddr)
		return FaultResolved
	}
	if !writeFault {
		return FaultResolved
	}
	if pte.Writable() {
		return FaultFatal
	}

	frame := pte.Addr()
	if w.Phys.Refcount(frame) > 1 {
		newFrame, ok := w.Phys.AllocFrame()
		if !ok {
			return FaultFatal
		}
		*w.Phys.Dmap(newFrame) = *w.Phys.Dmap(frame)
		w.Phys.Decref(frame)
		flags := pte.Get()&^PTE_ADDR | uint64(newFrame) | PTE_W
		pte.Set(flags)
		return FaultResolved
	}

	pte.Set(pte.Get() | PTE_W)
	return FaultResolved
}
