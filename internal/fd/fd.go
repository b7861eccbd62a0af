// Package fd implements the process-agnostic file-descriptor slot pool and
// the per-process index arrays that reference it. It knows nothing about
// what a descriptor refers to — no fdops.Fdops_i, no filesystem — per the
// Non-goals (this core models process/memory/scheduling primitives, not a
// filesystem).
//
// Grounded on biscuit/src/fd/fd.go's Fd_t/refcount discipline, generalized
// so the refcounted slots live in one shared Pool_t rather than inside each
// process's table: a process's Table_t only stores which pool slot each of
// its local descriptor numbers maps to, so the invariant "sum of
// per-process references to slot S equals slot S's refcount" holds across
// fork the same way it would with real shared kernel file objects.
package fd

import "github.com/kngarcia/SO-Decentralizado/internal/defs"

// NSlots is the fixed size of the shared descriptor-slot pool.
const NSlots = 64

// freeSlot marks an entry in a Table_t's local array as unused.
const freeSlot = -1

/// Pool_t is the shared pool of reference-counted descriptor slots. alloc
/// finds the first entry with refcount 0, sets it to 1, and returns its
/// index; incref/decref adjust a slot's count, and decref to 0 frees the
/// slot. Every process's Table_t references the same Pool_t.
type Pool_t struct {
	refcount [NSlots]uint32
}

/// NewPool returns an empty shared slot pool.
func NewPool() *Pool_t { return &Pool_t{} }

/// Alloc finds the first free slot (refcount 0), sets its count to 1, and
/// returns its index. ok is false when every slot is in use.
func (p *Pool_t) Alloc() (int, bool) {
	for i := 0; i < NSlots; i++ {
		if p.refcount[i] == 0 {
			p.refcount[i] = 1
			return i, true
		}
	}
	return 0, false
}

/// Incref bumps the reference count of an already-allocated slot, used when
/// a descriptor is duplicated across a fork. It panics if slot is free or
/// out of range — callers must only incref slots they know are live.
func (p *Pool_t) Incref(slot int) {
	p.checkRange(slot)
	if p.refcount[slot] == 0 {
		panic("fd: incref on free slot")
	}
	p.refcount[slot]++
}

/// Decref drops a slot's reference count, freeing it (refcount back to 0)
/// once it reaches zero. It returns true when the slot was freed.
func (p *Pool_t) Decref(slot int) bool {
	p.checkRange(slot)
	if p.refcount[slot] == 0 {
		panic("fd: decref on free slot")
	}
	p.refcount[slot]--
	return p.refcount[slot] == 0
}

/// Refcount is a read-only accessor, 0 for a free slot.
func (p *Pool_t) Refcount(slot int) int {
	if slot < 0 || slot >= NSlots {
		return 0
	}
	return int(p.refcount[slot])
}

func (p *Pool_t) checkRange(slot int) {
	if slot < 0 || slot >= NSlots {
		panic("fd: slot out of range")
	}
}

/// Table_t is one process's fixed-size descriptor array: local descriptor
/// number -> shared pool slot index, sentinel -1 = free.
type Table_t struct {
	pool  *Pool_t
	slots [NSlots]int
}

/// New returns an empty descriptor table backed by pool. Every process
/// sharing fork-duplicated descriptors must reference the same pool.
func New(pool *Pool_t) *Table_t {
	t := &Table_t{pool: pool}
	for i := range t.slots {
		t.slots[i] = freeSlot
	}
	return t
}

/// Alloc allocates a fresh slot in the shared pool and binds it to the
/// first free local descriptor number, returning that number. ok is false
/// when either the local table or the shared pool is full.
func (t *Table_t) Alloc() (int, bool) {
	local := t.firstFreeLocal()
	if local < 0 {
		return 0, false
	}
	slot, ok := t.pool.Alloc()
	if !ok {
		return 0, false
	}
	t.slots[local] = slot
	return local, true
}

func (t *Table_t) firstFreeLocal() int {
	for i, s := range t.slots {
		if s == freeSlot {
			return i
		}
	}
	return -1
}

/// Incref bumps the shared pool's refcount for the slot fd is bound to. It
/// panics if fd is free or out of range.
func (t *Table_t) Incref(fd int) {
	t.checkRange(fd)
	slot := t.slots[fd]
	if slot == freeSlot {
		panic("fd: incref on free descriptor")
	}
	t.pool.Incref(slot)
}

/// Decref drops the shared pool's refcount for the slot fd is bound to and
/// frees fd locally. It returns true when the underlying pool slot was
/// itself freed (no other table still references it).
func (t *Table_t) Decref(fd int) bool {
	t.checkRange(fd)
	slot := t.slots[fd]
	if slot == freeSlot {
		panic("fd: decref on free descriptor")
	}
	freed := t.pool.Decref(slot)
	t.slots[fd] = freeSlot
	return freed
}

/// Valid reports whether fd is currently bound to a pool slot.
func (t *Table_t) Valid(fd int) bool {
	if fd < 0 || fd >= NSlots {
		return false
	}
	return t.slots[fd] != freeSlot
}

/// Refcount is a read-only accessor for the shared slot fd is bound to, 0
/// for a free descriptor.
func (t *Table_t) Refcount(fd int) int {
	if fd < 0 || fd >= NSlots {
		return 0
	}
	slot := t.slots[fd]
	if slot == freeSlot {
		return 0
	}
	return t.pool.Refcount(slot)
}

/// Clone copies every live local-descriptor-to-slot binding into a new
/// table sharing the same pool, for fork's "duplicate the FD table" step.
/// The caller must Incref every slot being duplicated (via the parent's
/// table) before calling Clone, so the pool's refcounts reflect the new
/// reference the child now holds.
func (t *Table_t) Clone() *Table_t {
	c := &Table_t{pool: t.pool}
	c.slots = t.slots
	return c
}

func (t *Table_t) checkRange(fd int) {
	if fd < 0 || fd >= NSlots {
		panic("fd: descriptor out of range")
	}
}

/// ErrNoSlots is returned by higher layers when Alloc reports exhaustion.
var ErrNoSlots = defs.EBADF
