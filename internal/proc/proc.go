// Package proc defines the process record and the process registry: process
// creation, lookup, and the fork operation that ties together page-table
// cloning (internal/vm), descriptor-table duplication (internal/fd), and
// register-frame duplication (internal/regframe).
//
// Grounded on original_source/kernel/process_manager.c's process table and
// fork_process (struct process, the pid-indexed table, duplicate-then-poke
// sequence) and on biscuit/src/proc (per-process Tid_t/pid allocation,
// Proc_t fields). Filesystem-backed process state (cwd, ulim, mmap_list,
// vmregions) is dropped; this registry tracks only the process-record
// fields a scheduler and fork operation actually need.
package proc

import (
	"sync"

	"github.com/kngarcia/SO-Decentralizado/internal/defs"
	"github.com/kngarcia/SO-Decentralizado/internal/fd"
	"github.com/kngarcia/SO-Decentralizado/internal/mem"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
	"github.com/kngarcia/SO-Decentralizado/internal/vm"
)

/// Process_t is one process's kernel-visible state: identity, address-space
/// root, saved register frame, descriptor table, and scheduling state.
type Process_t struct {
	Id       int
	Name     string
	ParentId int
	State    defs.Pstate_t
	ExitCode int

	Root  mem.Pa_t
	Frame *regframe.Frame_t
	FDs   *fd.Table_t

	// HeapStart/HeapEnd bound the heap window the ELF loader mapped;
	// StackBase/StackTop bound the process's initial stack mapping. Set by
	// the ELF loader; no syscall moves them afterwards.
	HeapStart uintptr
	HeapEnd   uintptr
	StackBase uintptr
	StackTop  uintptr
}

/// Registry_t is the pid-indexed table of live processes plus the
/// currently-scheduled pid, mirroring process_manager.c's single global
/// process table and "current" pointer. Pool is the single process-agnostic
/// descriptor-slot pool every process's Process_t.FDs table is bound to, so
/// fork's shared-slot invariant holds across the whole registry rather than
/// per process.
type Registry_t struct {
	sync.Mutex
	procs   map[int]*Process_t
	nextId  int
	current int

	Pool *fd.Pool_t
}

/// New returns an empty registry. Pids start at 1; 0 is reserved to mean
/// "no current process".
func New() *Registry_t {
	return &Registry_t{procs: make(map[int]*Process_t), nextId: 1, Pool: fd.NewPool()}
}

/// NewFDTable returns a descriptor table bound to the registry's shared
/// slot pool, the way every process's FD table must be constructed.
func (r *Registry_t) NewFDTable() *fd.Table_t {
	return fd.New(r.Pool)
}

/// Register assigns the next pid to p, stores it, and returns the pid.
func (r *Registry_t) Register(p *Process_t) int {
	r.Lock()
	defer r.Unlock()
	p.Id = r.nextId
	r.nextId++
	r.procs[p.Id] = p
	return p.Id
}

/// Find returns the process with the given pid, if live.
func (r *Registry_t) Find(id int) (*Process_t, bool) {
	r.Lock()
	defer r.Unlock()
	p, ok := r.procs[id]
	return p, ok
}

/// Count reports the number of live process records.
func (r *Registry_t) Count() int {
	r.Lock()
	defer r.Unlock()
	return len(r.procs)
}

/// SetCurrent records which pid is presently running, for Current to report.
func (r *Registry_t) SetCurrent(id int) {
	r.Lock()
	defer r.Unlock()
	r.current = id
}

/// Current returns the presently-running process, if set.
func (r *Registry_t) Current() (*Process_t, bool) {
	r.Lock()
	defer r.Unlock()
	if r.current == 0 {
		return nil, false
	}
	p, ok := r.procs[r.current]
	return p, ok
}

/// Exit marks a process dead with the given exit code. Its pid stays in the
/// registry (callers may still Find it to collect the exit code) until
/// Remove is called, matching a parent's eventual wait/reap step.
func (r *Registry_t) Exit(id int, code int) {
	r.Lock()
	defer r.Unlock()
	if p, ok := r.procs[id]; ok {
		p.State = defs.PROC_DEAD
		p.ExitCode = code
	}
}

/// Remove deletes a (presumed dead and reaped) process record.
func (r *Registry_t) Remove(id int) {
	r.Lock()
	defer r.Unlock()
	delete(r.procs, id)
}

/// Clone implements fork: allocates a child process record sharing the
/// parent's name, COW-clones the address space, duplicates the descriptor
/// table (increffing every live slot in the parent so both tables now share
/// ownership), clones the register frame, and pokes the child's return-value
/// register to 0 (the parent's return value — the child's pid — is the
/// caller's responsibility, since only the syscall layer knows which
/// register frame belongs to the parent). The child starts in PROC_NEW.
func (r *Registry_t) Clone(walker *vm.Walker_t, parent *Process_t) (*Process_t, bool) {
	childRoot, ok := walker.CloneCow(parent.Root)
	if !ok {
		return nil, false
	}

	for i := 0; i < fd.NSlots; i++ {
		if parent.FDs.Valid(i) {
			parent.FDs.Incref(i)
		}
	}
	childFDs := parent.FDs.Clone()

	child := &Process_t{
		Name:      parent.Name,
		ParentId:  parent.Id,
		State:     defs.PROC_NEW,
		Root:      childRoot,
		Frame:     parent.Frame.Clone(),
		FDs:       childFDs,
		HeapStart: parent.HeapStart,
		HeapEnd:   parent.HeapEnd,
		StackBase: parent.StackBase,
		StackTop:  parent.StackTop,
	}
	child.Frame.SetReturn(0)

	r.Register(child)
	return child, true
}
