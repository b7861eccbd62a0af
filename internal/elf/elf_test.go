package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/platform"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

// elf64Ehdr/elf64Phdr mirror the on-disk Elf64_Ehdr/Elf64_Phdr layout so
// tests can hand-assemble a minimal static executable without needing a
// real linker on the test machine.
type elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf64Phdr struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	etExec   = 2
	etDyn    = 3
	emX86_64 = 62
	ptLoad   = 1
	pfX      = 1
	pfW      = 2
	pfR      = 4
)

// buildMinimalELF assembles a one-segment static ELF64 executable: filesz
// bytes of code/data copied verbatim, with (memsz-filesz) bytes of BSS the
// loader must zero.
func buildMinimalELF(t *testing.T, vaddr uint64, code []byte, memsz uint64) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56

	ehdr := elf64Ehdr{
		Type:      etExec,
		Machine:   emX86_64,
		Version:   1,
		Entry:     vaddr,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
	}
	ehdr.Ident[0] = 0x7f
	ehdr.Ident[1] = 'E'
	ehdr.Ident[2] = 'L'
	ehdr.Ident[3] = 'F'
	ehdr.Ident[4] = 2 // ELFCLASS64
	ehdr.Ident[5] = 1 // ELFDATA2LSB
	ehdr.Ident[6] = 1 // EV_CURRENT

	phdr := elf64Phdr{
		Type:   ptLoad,
		Flags:  pfR | pfX | pfW,
		Offset: ehsize + phentsize,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  memsz,
		Align:  uint64(mem.PGSIZE),
	}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &ehdr))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &phdr))
	buf.Write(code)
	return buf.Bytes()
}

func newTestLoader(t *testing.T) (*Loader, mem.Pa_t) {
	t.Helper()
	phys, err := mem.New(512, 2)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, phys.Close()) })

	kernelRoot, ok := phys.AllocFrame()
	require.True(t, ok)

	w := vm.New(phys, platform.NewFake())
	w.SetActive(kernelRoot)
	return New(w), kernelRoot
}

func TestLoadRejectsBadMagic(t *testing.T) {
	l, kroot := newTestLoader(t)
	_, err := l.Load(kroot, []byte("not an elf"))
	require.Error(t, err)
}

func TestLoadMapsSegmentAndZeroesBSS(t *testing.T) {
	l, kroot := newTestLoader(t)
	vaddr := uint64(0x400000)
	code := []byte{0x90, 0x90, 0x90, 0x90} // 4 bytes of content
	img := buildMinimalELF(t, vaddr, code, uint64(2*mem.PGSIZE))

	res, err := l.Load(kroot, img)
	require.NoError(t, err)
	require.Equal(t, vaddr, res.Frame.RIP)

	pte, found := l.Walker.FindPTE(res.Root, uintptr(vaddr))
	require.True(t, found)
	require.True(t, pte.Present())
	require.True(t, pte.User())

	page := l.Walker.Phys.Dmap(pte.Addr())
	require.Equal(t, code, []byte(page[:4]))

	// BSS: the rest of this page, and the whole second page, must be zero.
	for _, b := range page[4:] {
		require.Zero(t, b)
	}
	secondPte, found := l.Walker.FindPTE(res.Root, uintptr(vaddr)+uintptr(mem.PGSIZE))
	require.True(t, found)
	secondPage := l.Walker.Phys.Dmap(secondPte.Addr())
	for _, b := range secondPage {
		require.Zero(t, b)
	}
}

func TestLoadMapsHeapAboveLastSegmentAndAStack(t *testing.T) {
	l, kroot := newTestLoader(t)
	vaddr := uint64(0x400000)
	img := buildMinimalELF(t, vaddr, []byte{0x90}, uint64(mem.PGSIZE))

	res, err := l.Load(kroot, img)
	require.NoError(t, err)
	require.Greater(t, res.HeapEnd, res.HeapStart)
	require.Greater(t, res.HeapStart, uintptr(vaddr))

	stackPte, found := l.Walker.FindPTE(res.Root, res.StackTop-8)
	require.True(t, found)
	require.True(t, stackPte.Present())
	require.True(t, stackPte.Writable())
}

func TestLoadAcceptsPositionIndependentExecutable(t *testing.T) {
	l, kroot := newTestLoader(t)
	img := buildMinimalELF(t, 0x400000, []byte{0x90}, uint64(mem.PGSIZE))
	img[16] = etDyn // e_type is the first field after the 16-byte e_ident

	res, err := l.Load(kroot, img)
	require.NoError(t, err, "ET_DYN binaries must load the same as ET_EXEC")
	require.Equal(t, uint64(0x400000), res.Frame.RIP)
}

func TestLoadRejects32Bit(t *testing.T) {
	l, kroot := newTestLoader(t)
	img := buildMinimalELF(t, 0x400000, []byte{0x90}, uint64(mem.PGSIZE))
	img[4] = 1 // ELFCLASS32
	_, err := l.Load(kroot, img)
	require.Error(t, err)
}

func TestDemangleSymbolPassesThroughPlainNames(t *testing.T) {
	require.Equal(t, "main", DemangleSymbol("main"))
}
