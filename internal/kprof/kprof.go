// Package kprof renders scheduler activity as a pprof profile: every
// scheduler tick records which pid ran, and Snapshot turns the accumulated
// samples into a github.com/google/pprof/profile.Profile a host tool can
// inspect. The defs.D_PROF device id is reserved for it, but no syscall
// path reads the profile; callers use Snapshot directly.
//
// Grounded on the pack's examples consuming github.com/google/pprof/profile
// as a profile data model rather than hand-rolling one.
package kprof

import (
	"fmt"
	"sync"

	"github.com/google/pprof/profile"
)

/// sample is one scheduler tick: which pid ran, for how many ticks.
type sample struct {
	pid   int
	ticks int64
}

/// Recorder accumulates per-pid tick counts under a mutex; Snapshot renders
/// them into a profile.Profile on demand.
type Recorder struct {
	mu      sync.Mutex
	samples map[int]*sample
}

func New() *Recorder {
	return &Recorder{samples: make(map[int]*sample)}
}

/// Record notes that pid ran for one scheduler tick.
func (r *Recorder) Record(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.samples[pid]
	if !ok {
		s = &sample{pid: pid}
		r.samples[pid] = s
	}
	s.ticks++
}

/// Snapshot renders the accumulated tick counts as a pprof profile, one
/// sample per pid carrying a "ticks" value.
func (r *Recorder) Snapshot() *profile.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "ticks", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "scheduler_tick", Unit: "count"},
		Period:     1,
	}

	locations := make(map[int]*profile.Location, len(r.samples))
	for pid := range r.samples {
		fn := &profile.Function{
			ID:   uint64(pid),
			Name: fmt.Sprintf("pid-%d", pid),
		}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:   uint64(pid),
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		locations[pid] = loc
	}

	for pid, s := range r.samples {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{locations[pid]},
			Value:    []int64{s.ticks},
		})
	}
	return p
}
