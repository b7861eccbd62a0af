// Package sched implements the round-robin preemptive scheduler: a ready
// queue of pids and the tick operation the timer trap drives.
//
// Grounded on original_source/kernel/scheduler/preemptive.c (the circular
// ready queue, schedule()'s save-current/advance/restore-next sequence) and
// on biscuit's Proc_t state machine for the runnable/blocked/dead
// transitions.
package sched

import (
	"github.com/kngarcia/SO-Decentralizado/internal/defs"
	"github.com/kngarcia/SO-Decentralizado/internal/proc"
	"github.com/kngarcia/SO-Decentralizado/internal/regframe"
)

/// Scheduler_t holds the ready queue (pids in round-robin order) and a
/// reference to the process registry it schedules.
type Scheduler_t struct {
	Procs *proc.Registry_t

	queue []int // ready pids, in rotation order
	pos   int   // index of the currently-running pid within queue
}

/// New returns a scheduler bound to an existing process registry.
func New(procs *proc.Registry_t) *Scheduler_t {
	return &Scheduler_t{Procs: procs}
}

/// Add enqueues an already-registered, runnable pid at the back of the
/// ready queue.
func (s *Scheduler_t) Add(pid int) {
	s.queue = append(s.queue, pid)
}

/// Create registers a brand-new kernel task (entry point, no address space
/// of its own beyond the kernel's) and adds it to the ready queue, mirroring
/// preemptive.c's create_task: allocate a process_t, install a synthetic
/// initial frame, mark it ready, enqueue.
func (s *Scheduler_t) Create(name string, entry uint64) *proc.Process_t {
	p := &proc.Process_t{
		Name:  name,
		State: defs.PROC_RUNNING,
		Frame: regframe.NewKernelTask(entry),
	}
	s.Procs.Register(p)
	s.Add(p.Id)
	return p
}

/// Start selects the first ready pid as current and returns its frame, for
/// the initial handoff out of boot into the first scheduled task.
func (s *Scheduler_t) Start() (*regframe.Frame_t, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	s.pos = 0
	pid := s.queue[0]
	p, ok := s.Procs.Find(pid)
	if !ok {
		return nil, false
	}
	p.State = defs.PROC_RUNNING
	s.Procs.SetCurrent(pid)
	return p.Frame, true
}

/// Tick implements the timer-driven preemption step: the trap dispatcher
/// passes in the currently-running task's saved frame pointer (so it can be
/// written back onto the outgoing process's record), and Tick returns the
/// frame to resume with. The current task is located via Procs.Current
/// rather than a cached queue index, so Tick stays correct even when a
/// prior Reap has removed the outgoing task from the queue entirely (the
/// exit/fatal-fault path: mark dead, Reap, then Tick). If no other
/// runnable task exists, the same frame is returned.
func (s *Scheduler_t) Tick(saved *regframe.Frame_t) *regframe.Frame_t {
	n := len(s.queue)
	if n == 0 {
		return saved
	}

	cur, hasCur := s.Procs.Current()
	if hasCur && cur.State == defs.PROC_RUNNING {
		cur.Frame = saved
	}

	start := -1
	if hasCur {
		for i, pid := range s.queue {
			if pid == cur.Id {
				start = i
				break
			}
		}
	}

	for i := 1; i <= n; i++ {
		idx := ((start+i)%n + n) % n
		p, ok := s.Procs.Find(s.queue[idx])
		if !ok || p.State == defs.PROC_DEAD {
			continue
		}
		s.pos = idx
		p.State = defs.PROC_RUNNING
		s.Procs.SetCurrent(s.queue[idx])
		return p.Frame
	}

	return saved
}

/// Reap drops dead pids from the ready queue permanently (the registry
/// record itself is removed separately via Registry_t.Remove, once a parent
/// has collected the exit code).
func (s *Scheduler_t) Reap() {
	alive := s.queue[:0]
	for _, pid := range s.queue {
		if p, ok := s.Procs.Find(pid); ok && p.State != defs.PROC_DEAD {
			alive = append(alive, pid)
		}
	}
	s.queue = alive
	if s.pos >= len(s.queue) {
		s.pos = 0
	}
}

/// Len reports the number of pids currently in the ready queue.
func (s *Scheduler_t) Len() int { return len(s.queue) }
