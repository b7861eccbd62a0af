// Package elf loads a static ELF64 executable into a fresh address space:
// validates the header, maps and copies each PT_LOAD segment (zeroing the
// tail that is BSS), maps a heap region and a stack, and builds the
// synthetic interrupt-return frame needed to drop into ring-3 at the
// entry point.
//
// Grounded on biscuit/src/kernel/chentry.go's use of the standard library's
// debug/elf to parse headers, and on original_source/kernel/elf_loader.c's
// segment-copy-then-zero-bss and initial-stack-setup sequence. Relocations
// and shared objects are out of scope — this loader handles a single
// statically-linked executable or position-independent binary, matching
// elf_loader.c's ET_EXEC/ET_DYN acceptance.
package elf

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/ianlancetaylor/demangle"

	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

// Fixed layout constants for the user address space this loader builds,
// mirroring elf_loader.c's USER_STACK_TOP/USER_STACK_SIZE and heap placement.
const (
	StackSize = 8 * mem.PGSIZE
	StackTop  = 0x0000_7fff_ffff_f000
	HeapSize  = 16 * mem.PGSIZE
)

/// Result carries everything the process registry needs to finish building
/// a Process_t after a successful Load.
type Result struct {
	Root      mem.Pa_t
	Frame     *regframe.Frame_t
	HeapStart uintptr
	HeapEnd   uintptr
	StackBase uintptr
	StackTop  uintptr
}

/// Loader ties ELF parsing to a page-table walker, so PT_LOAD segments can
/// be mapped and copied as they're discovered.
type Loader struct {
	Walker *vm.Walker_t
}

func New(w *vm.Walker_t) *Loader { return &Loader{Walker: w} }

/// Load validates img as a static ELF64 executable, builds a fresh address
/// space under a freshly allocated root (cloned from kernelRoot so kernel
/// mappings like the direct map stay reachable during the copy), and
/// returns the entry-frame/layout information the caller needs.
func (l *Loader) Load(kernelRoot mem.Pa_t, img []byte) (*Result, error) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("elf: parse: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elf: not a 64-bit executable")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("elf: not little-endian")
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("elf: not a static executable or position-independent binary (type %v)", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("elf: not x86-64 (machine %v)", f.Machine)
	}

	root, ok := l.Walker.CloneCow(kernelRoot)
	if !ok {
		return nil, fmt.Errorf("elf: out of memory allocating address space root")
	}

	var maxVaddr uintptr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := l.loadSegment(root, prog); err != nil {
			return nil, err
		}
		end := uintptr(prog.Vaddr + prog.Memsz)
		if end > maxVaddr {
			maxVaddr = end
		}
	}

	heapStart := roundup(maxVaddr, uintptr(mem.PGSIZE))
	heapEnd := heapStart + HeapSize
	if !l.Walker.MapRange(root, heapStart, HeapSize, vm.PTE_U|vm.PTE_W) {
		return nil, fmt.Errorf("elf: failed to map heap")
	}

	stackBase := uintptr(StackTop - StackSize)
	if !l.Walker.MapRange(root, stackBase, StackSize, vm.PTE_U|vm.PTE_W) {
		return nil, fmt.Errorf("elf: failed to map stack")
	}

	return &Result{
		Root:      root,
		Frame:     regframe.NewUserEntry(f.Entry, uint64(StackTop)),
		HeapStart: heapStart,
		HeapEnd:   heapEnd,
		StackBase: stackBase,
		StackTop:  uintptr(StackTop),
	}, nil
}

func (l *Loader) loadSegment(root mem.Pa_t, prog *elf.Prog) error {
	flags := vm.PTE_U
	if prog.Flags&elf.PF_W != 0 {
		flags |= vm.PTE_W
	}
	if !l.Walker.MapRange(root, uintptr(prog.Vaddr), int(prog.Memsz), flags) {
		return fmt.Errorf("elf: failed to map segment at 0x%x", prog.Vaddr)
	}

	data := make([]byte, prog.Filesz)
	if _, err := prog.ReadAt(data, 0); err != nil {
		return fmt.Errorf("elf: read segment at 0x%x: %w", prog.Vaddr, err)
	}

	written := uintptr(0)
	for written < uintptr(len(data)) {
		vaddr := uintptr(prog.Vaddr) + written
		pte, ok := l.Walker.FindPTE(root, vaddr)
		if !ok {
			return fmt.Errorf("elf: segment page at 0x%x not mapped", vaddr)
		}
		page := l.Walker.Phys.Dmap(pte.Addr())
		off := vaddr & uintptr(mem.PGSIZE-1)
		n := uintptr(mem.PGSIZE) - off
		if rem := uintptr(len(data)) - written; n > rem {
			n = rem
		}
		copy(page[off:off+n], data[written:written+n])
		written += n
	}
	// bytes in [Filesz, Memsz) are BSS; MapRange already handed back
	// zeroed frames (mem.Physmem_t.AllocFrame clears them), so there is
	// nothing further to zero here.
	return nil
}

func roundup(v, b uintptr) uintptr {
	return (v + b - 1) &^ (b - 1)
}

/// DemangleSymbol best-effort demangles a C++ symbol name for crash-dump
/// logging; names that don't parse as mangled C++ are returned unchanged.
func DemangleSymbol(name string) string {
	out, err := demangle.ToString(name, demangle.NoParams)
	if err != nil {
		return name
	}
	return out
}
