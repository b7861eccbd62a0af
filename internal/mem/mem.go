// Package mem implements the physical frame allocator: a bitmap of fixed
// page-sized frames with per-frame reference counting, plus the physical
// page/page-table-node types shared by the rest of the kernel.
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t (bitmap + Refcnt array,
// Refup/Refdown/Refpg_new) and on original_source/kernel/mm/physical_memory.c
// (frame_bitmap, frame_refcount, alloc_frame/free_frame/frame_incref/
// frame_decref). SMP support (biscuit's per-CPU free lists, runtime.CPUHint)
// is dropped per the No-SMP non-goal.
package mem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kngarcia/SO-Decentralizado/internal/defs"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number out of an address.
const PGMASK Pa_t = ^PGOFFSET

/// Pa_t is a physical address: an offset into the simulated physical window.
type Pa_t uintptr

/// Pg_t is one physical page viewed as raw bytes.
type Pg_t [PGSIZE]byte

/// Pmap_t is a page-table node: 512 64-bit entries.
type Pmap_t [512]uint64

const maxRefcount = ^uint16(0)

/// Physmem_t is the physical frame allocator. It owns a single real
/// anonymous mapping (via golang.org/x/sys/unix.Mmap) that stands in for
/// physical RAM, so that pages a process writes into are genuinely
/// observable bytes rather than a bookkeeping fiction.
type Physmem_t struct {
	sync.Mutex

	window   []byte   // backing store, len == nframes*PGSIZE
	bitmap   []byte   // one bit per frame; set == allocated
	refcount []uint16 // per-frame reference count

	nframes  int
	reserved int
}

/// New allocates the simulated physical window and reserves the first
/// reserved frames (kernel image + early data), mirroring
/// physical_memory_init's reservation of the first 8192 frames.
func New(nframes, reserved int) (*Physmem_t, error) {
	if reserved > nframes {
		return nil, fmt.Errorf("mem: reserved frames (%d) exceeds window (%d)", reserved, nframes)
	}
	size := nframes * PGSIZE
	window, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap physical window: %w", err)
	}
	p := &Physmem_t{
		window:   window,
		bitmap:   make([]byte, (nframes+7)/8),
		refcount: make([]uint16, nframes),
		nframes:  nframes,
		reserved: reserved,
	}
	for i := 0; i < reserved; i++ {
		p.setBit(i)
		p.refcount[i] = 1
	}
	return p, nil
}

/// Close releases the backing mapping. Safe to call once.
func (p *Physmem_t) Close() error {
	if p.window == nil {
		return nil
	}
	err := unix.Munmap(p.window)
	p.window = nil
	return err
}

func (p *Physmem_t) setBit(i int)   { p.bitmap[i/8] |= 1 << uint(i%8) }
func (p *Physmem_t) clearBit(i int) { p.bitmap[i/8] &^= 1 << uint(i%8) }
func (p *Physmem_t) testBit(i int) bool {
	return p.bitmap[i/8]&(1<<uint(i%8)) != 0
}

func (p *Physmem_t) idx(pa Pa_t) int {
	return int(pa) >> PGSHIFT
}

/// AllocFrame scans the bitmap for the first clear bit, sets it,
/// initializes refcount to 1, and returns the frame-base address. It
/// returns (0, false) when no frame is free.
func (p *Physmem_t) AllocFrame() (Pa_t, bool) {
	p.Lock()
	defer p.Unlock()
	for i := 0; i < p.nframes; i++ {
		if !p.testBit(i) {
			p.setBit(i)
			p.refcount[i] = 1
			pa := Pa_t(i << PGSHIFT)
			clear(p.window[int(pa) : int(pa)+PGSIZE])
			return pa, true
		}
	}
	return 0, false
}

/// FreeFrame clears the bitmap bit and zeroes the refcount directly. It
/// assumes a single owner; COW paths must use Decref instead.
func (p *Physmem_t) FreeFrame(pa Pa_t) {
	p.Lock()
	defer p.Unlock()
	i := p.idx(pa)
	p.clearBit(i)
	p.refcount[i] = 0
}

/// Incref bumps a frame's reference count. Overflow is fatal: a 16-bit
/// refcount must never wrap, matching biscuit's "XXXPANIC" checks in
/// Physmem_t.Refup.
func (p *Physmem_t) Incref(pa Pa_t) {
	p.Lock()
	defer p.Unlock()
	i := p.idx(pa)
	if p.refcount[i] == 0 {
		panic("mem: incref on unallocated frame")
	}
	if p.refcount[i] == maxRefcount {
		panic("mem: refcount overflow")
	}
	p.refcount[i]++
}

/// Decref drops a frame's reference count, releasing the frame (clearing
/// the bitmap, zeroing the refcount) when it reaches zero. It returns true
/// when the frame was released.
func (p *Physmem_t) Decref(pa Pa_t) bool {
	p.Lock()
	defer p.Unlock()
	i := p.idx(pa)
	if p.refcount[i] == 0 {
		panic("mem: decref on unallocated frame")
	}
	p.refcount[i]--
	if p.refcount[i] == 0 {
		p.clearBit(i)
		return true
	}
	return false
}

/// Refcount is a read-only accessor.
func (p *Physmem_t) Refcount(pa Pa_t) int {
	p.Lock()
	defer p.Unlock()
	return int(p.refcount[p.idx(pa)])
}

/// Dmap returns the direct-mapped byte slice backing the given physical
/// page. It panics on an out-of-range address, mirroring Physmem_t.Dmap's
/// "direct map not large enough" panic.
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	i := p.idx(pa)
	if i < 0 || i >= p.nframes {
		panic("mem: address outside physical window")
	}
	off := i << PGSHIFT
	return (*Pg_t)(p.window[off : off+PGSIZE])
}

/// NFrames reports the size of the simulated physical window.
func (p *Physmem_t) NFrames() int { return p.nframes }

/// ReservedFrames reports how many low frames were reserved at init.
func (p *Physmem_t) ReservedFrames() int { return p.reserved }

/// ErrOOM is returned by higher layers when AllocFrame reports exhaustion.
var ErrOOM = defs.ENOMEM
