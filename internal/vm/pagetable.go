// Package vm implements the four-level page-table walker: find/mark/map
// operations plus copy-on-write clone. It knows nothing about processes or
// scheduling; it only understands physical frames (internal/mem) and
// virtual addresses.
//
// Grounded on biscuit/src/vm/as.go (pmap_walk, Page_insert, Sys_pgfault) and
// original_source/kernel/mm/pagetable.c (pt_find_pte_for_vaddr,
// pt_clone_for_cow, pt_map_range, pt_mark_user_recursive). Intermediate
// PDPT/PD nodes are shared by pointer after CloneCow, not deep-copied — the
// same limitation pagetable.c documents inline ("big 1GB pages... leave
// unchanged (hard to COW now)").
package vm

import (
	"unsafe"

	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/platform"
)

// PTE bit layout, low 12 bits.
const (
	PTE_P   uint64 = 1 << 0 /// present
	PTE_W   uint64 = 1 << 1 /// writable
	PTE_U   uint64 = 1 << 2 /// user-accessible
	PTE_A   uint64 = 1 << 5 /// accessed
	PTE_D   uint64 = 1 << 6 /// dirty
	PTE_PS  uint64 = 1 << 7 /// large page (PDPT: 1GB: PD: 2MB)
	// PTE_ADDR covers bits 12..51, the physical-address field of a PTE.
	PTE_ADDR uint64 = 0x000f_ffff_ffff_f000
)

const entries = 512

func idx(vaddr uintptr, shift uint) int {
	return int((vaddr >> shift) & 0x1ff)
}

func pml4Idx(v uintptr) int { return idx(v, 39) }
func pdptIdx(v uintptr) int { return idx(v, 30) }
func pdIdx(v uintptr) int   { return idx(v, 21) }
func ptIdx(v uintptr) int   { return idx(v, 12) }

/// Walker_t ties the page-table operations to a physical frame allocator
/// and the TLB-flush platform hook. It also tracks the currently active
/// root for bookkeeping (there is no real CR3 register to read back).
type Walker_t struct {
	Phys   *mem.Physmem_t
	Flush  platform.TLBFlusher
	Active mem.Pa_t
}

func New(phys *mem.Physmem_t, flush platform.TLBFlusher) *Walker_t {
	return &Walker_t{Phys: phys, Flush: flush}
}

/// PTERef identifies one page-table-entry slot: the node containing it and
/// the index within that node. Large points at a PDPT or PD entry that maps
/// a 1GB/2MB page directly.
type PTERef struct {
	Node  *mem.Pmap_t
	Index int
	Large bool
}

func (r PTERef) Get() uint64     { return r.Node[r.Index] }
func (r PTERef) Set(v uint64)    { r.Node[r.Index] = v }
func (r PTERef) Present() bool   { return r.Get()&PTE_P != 0 }
func (r PTERef) Writable() bool  { return r.Get()&PTE_W != 0 }
func (r PTERef) User() bool      { return r.Get()&PTE_U != 0 }
func (r PTERef) Addr() mem.Pa_t  { return mem.Pa_t(r.Get() & PTE_ADDR) }

/// FindPTE walks PML4->PDPT->PD->PT for vaddr. ok is false when any level
/// on the path is not present. A large-page PDPT/PD entry terminates the
/// walk early and is reported via PTERef.Large.
func (w *Walker_t) FindPTE(root mem.Pa_t, vaddr uintptr) (PTERef, bool) {
	pml4 := w.pmapOf(root)
	e := pml4[pml4Idx(vaddr)]
	if e&PTE_P == 0 {
		return PTERef{}, false
	}
	pdpt := w.pmapOf(mem.Pa_t(e & PTE_ADDR))
	pi := pdptIdx(vaddr)
	e = pdpt[pi]
	if e&PTE_P == 0 {
		return PTERef{}, false
	}
	if e&PTE_PS != 0 {
		return PTERef{Node: pdpt, Index: pi, Large: true}, true
	}
	pd := w.pmapOf(mem.Pa_t(e & PTE_ADDR))
	di := pdIdx(vaddr)
	e = pd[di]
	if e&PTE_P == 0 {
		return PTERef{}, false
	}
	if e&PTE_PS != 0 {
		return PTERef{Node: pd, Index: di, Large: true}, true
	}
	pt := w.pmapOf(mem.Pa_t(e & PTE_ADDR))
	ti := ptIdx(vaddr)
	if pt[ti]&PTE_P == 0 {
		return PTERef{}, false
	}
	return PTERef{Node: pt, Index: ti}, true
}

func (w *Walker_t) pmapOf(pa mem.Pa_t) *mem.Pmap_t {
	pg := w.Phys.Dmap(pa)
	return bytesToPmap(pg)
}

func bytesToPmap(pg *mem.Pg_t) *mem.Pmap_t {
	return (*mem.Pmap_t)(unsafe.Pointer(pg))
}

/// MarkUserPath ORs in the user bit (PTE_U) on every present entry along
/// the path to vaddr, stopping at any large-page entry. It is idempotent.
func (w *Walker_t) MarkUserPath(root mem.Pa_t, vaddr uintptr) {
	pml4 := w.pmapOf(root)
	i4 := pml4Idx(vaddr)
	if pml4[i4]&PTE_P == 0 {
		return
	}
	pml4[i4] |= PTE_U
	pdpt := w.pmapOf(mem.Pa_t(pml4[i4] & PTE_ADDR))
	i3 := pdptIdx(vaddr)
	if pdpt[i3]&PTE_P == 0 {
		return
	}
	pdpt[i3] |= PTE_U
	if pdpt[i3]&PTE_PS != 0 {
		return
	}
	pd := w.pmapOf(mem.Pa_t(pdpt[i3] & PTE_ADDR))
	i2 := pdIdx(vaddr)
	if pd[i2]&PTE_P == 0 {
		return
	}
	pd[i2] |= PTE_U
	if pd[i2]&PTE_PS != 0 {
		return
	}
	pt := w.pmapOf(mem.Pa_t(pd[i2] & PTE_ADDR))
	i1 := ptIdx(vaddr)
	if pt[i1]&PTE_P != 0 {
		pt[i1] |= PTE_U
	}
}

/// MapRange rounds vaddr/size to 4KB pages and, for each page, creates any
/// missing intermediate tables and maps a freshly allocated frame with
/// present|flags. Failure at any step unwinds every frame this call
/// allocated and clears the entries that pointed at them — partial mapping
/// is forbidden.
func (w *Walker_t) MapRange(root mem.Pa_t, vaddr uintptr, size int, flags uint64) bool {
	start := vaddr &^ uintptr(mem.PGSIZE-1)
	end := (vaddr + uintptr(size) + uintptr(mem.PGSIZE-1)) &^ uintptr(mem.PGSIZE-1)

	var allocated []PTERef
	rollback := func() {
		for i := len(allocated) - 1; i >= 0; i-- {
			pa := allocated[i].Addr()
			allocated[i].Set(0)
			w.Phys.FreeFrame(pa)
		}
	}

	pml4 := w.pmapOf(root)
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		pdpt, ok := w.ensurePresentTracked(pml4, pml4Idx(va), PTE_U|PTE_W, &allocated)
		if !ok {
			rollback()
			return false
		}
		pd, ok := w.ensurePresentTracked(pdpt, pdptIdx(va), PTE_U|PTE_W, &allocated)
		if !ok {
			rollback()
			return false
		}
		pt, ok := w.ensurePresentTracked(pd, pdIdx(va), PTE_U|PTE_W, &allocated)
		if !ok {
			rollback()
			return false
		}
		ti := ptIdx(va)
		if pt[ti]&PTE_P != 0 {
			// already mapped; nothing to allocate for this page.
			continue
		}
		pa, ok := w.Phys.AllocFrame()
		if !ok {
			rollback()
			return false
		}
		pt[ti] = uint64(pa) | PTE_P | flags
		allocated = append(allocated, PTERef{Node: pt, Index: ti})
	}
	return true
}

func (w *Walker_t) ensurePresentTracked(table *mem.Pmap_t, index int, flags uint64, allocated *[]PTERef) (*mem.Pmap_t, bool) {
	e := table[index]
	if e&PTE_P != 0 {
		return w.pmapOf(mem.Pa_t(e & PTE_ADDR)), true
	}
	pa, ok := w.Phys.AllocFrame()
	if !ok {
		return nil, false
	}
	table[index] = uint64(pa) | PTE_P | flags
	*allocated = append(*allocated, PTERef{Node: table, Index: index})
	return w.pmapOf(pa), true
}

/// CloneCow allocates a new root, copies the parent root verbatim, and for
/// every present 4KB leaf PTE in the parent's subtree: increfs the mapped
/// frame and clears the writable bit in both parent and child PTEs. 1GB and
/// 2MB large pages are left shared and writable, unchanged. Intermediate
/// PDPT/PD nodes are shared by pointer, not deep-copied (see package doc).
func (w *Walker_t) CloneCow(parentRoot mem.Pa_t) (mem.Pa_t, bool) {
	childRoot, ok := w.Phys.AllocFrame()
	if !ok {
		return 0, false
	}
	parent := w.pmapOf(parentRoot)
	child := w.pmapOf(childRoot)
	*child = *parent

	for i4 := 0; i4 < entries; i4++ {
		e4 := parent[i4]
		if e4&PTE_P == 0 {
			continue
		}
		pdpt := w.pmapOf(mem.Pa_t(e4 & PTE_ADDR))
		for i3 := 0; i3 < entries; i3++ {
			e3 := pdpt[i3]
			if e3&PTE_P == 0 || e3&PTE_PS != 0 {
				continue // 1GB pages stay shared+writable
			}
			pd := w.pmapOf(mem.Pa_t(e3 & PTE_ADDR))
			for i2 := 0; i2 < entries; i2++ {
				e2 := pd[i2]
				if e2&PTE_P == 0 || e2&PTE_PS != 0 {
					continue // 2MB pages stay shared+writable
				}
				pt := w.pmapOf(mem.Pa_t(e2 & PTE_ADDR))
				for i1 := 0; i1 < entries; i1++ {
					pte := pt[i1]
					if pte&PTE_P == 0 {
						continue
					}
					frame := mem.Pa_t(pte & PTE_ADDR)
					w.Phys.Incref(frame)
					pt[i1] = pte &^ PTE_W
				}
			}
		}
	}
	return childRoot, true
}

/// SetActive installs root as the active page-table root (bookkeeping
/// only — there is no real CR3 in a host simulation) and flushes the TLB.
func (w *Walker_t) SetActive(root mem.Pa_t) {
	w.Active = root
	w.Flush.FlushAll()
}
