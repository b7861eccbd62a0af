// Package platform declares the narrow interfaces the kernel core expects
// from its out-of-scope collaborators: descriptor-table setup, PIC remap,
// and PIT programming. Real wiring to hardware lives outside this module;
// a fake implementation is provided here for tests and host demonstration,
// mirroring how original_source's tests/*.c stub
// pic_send_eoi/enable_interrupts under HOST_TEST.
package platform

/// TimerAck acknowledges the timer interrupt at the interrupt controller.
/// The trap dispatcher's timer path must call this before returning.
type TimerAck interface {
	AckTimer()
}

/// TLBFlusher invalidates translation lookaside buffer entries.
type TLBFlusher interface {
	FlushAddr(vaddr uintptr)
	FlushAll()
}

/// Halter stops the (virtual) CPU. Used when no runnable task remains or a
/// fatal fault leaves nothing else to do.
type Halter interface {
	Halt()
}

/// Hooks bundles the three platform collaborators the core needs.
type Hooks interface {
	TimerAck
	TLBFlusher
	Halter
}

/// Fake is an in-memory stand-in for real hardware collaborators, used by
/// tests and by cmd/kernel's demo boot. It counts calls instead of touching
/// any real interrupt controller or CPU.
type Fake struct {
	TimerAcks  int
	Flushes    int
	FlushAddrs []uintptr
	Halted     bool
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) AckTimer()               { f.TimerAcks++ }
func (f *Fake) FlushAddr(vaddr uintptr) { f.Flushes++; f.FlushAddrs = append(f.FlushAddrs, vaddr) }
func (f *Fake) FlushAll()               { f.Flushes++ }
func (f *Fake) Halt()                   { f.Halted = true }
