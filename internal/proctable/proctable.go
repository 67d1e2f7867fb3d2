// Package proctable assembles the per-cycle process table: it walks the live
// pids, reads each one's attributes, and converts cumulative CPU ticks into a
// per-cycle utilization percentage via the accounting package.
package proctable

import (
	"context"
	"runtime"
	"sort"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"procstream-agent/internal/accounting"
	"procstream-agent/internal/sampling"
)

// Source reads one process's attributes. Comm and Stat errors mean the
// process vanished between enumeration and read; Threads and ResidentKB
// degrade to zero on their own.
type Source interface {
	Comm(pid int) (string, error)
	Stat(pid int) (state byte, utime, stime uint64, err error)
	Threads(pid int) int
	ResidentKB(pid int) uint64
}

type Options struct {
	Source Source
	Clock  *accounting.HostClock

	// ListPids enumerates candidate pids; nil selects gopsutil.
	ListPids func(ctx context.Context) ([]int, error)
	// CoreCount reports online logical cores; nil selects gopsutil. The
	// first successful value is cached for the lifetime of the sampler.
	CoreCount func(ctx context.Context) (int, error)

	// EvictStale reconciles the accounting table against the live pid set
	// each cycle, dropping entries for exited processes.
	EvictStale bool
}

type Sampler struct {
	src        Source
	clock      *accounting.HostClock
	table      *accounting.Table
	listPids   func(ctx context.Context) ([]int, error)
	coreCount  func(ctx context.Context) (int, error)
	evictStale bool
	cores      int
}

func New(opts Options) *Sampler {
	s := &Sampler{
		src:        opts.Source,
		clock:      opts.Clock,
		table:      accounting.NewTable(),
		listPids:   opts.ListPids,
		coreCount:  opts.CoreCount,
		evictStale: opts.EvictStale,
	}
	if s.listPids == nil {
		s.listPids = gopsutilPids
	}
	if s.coreCount == nil {
		s.coreCount = gopsutilCores
	}
	return s
}

// Sample runs one full process pass. It never fails: enumeration errors
// yield an empty table without disturbing accounting state, per-pid read
// races drop only the affected pid, and
// unreadable host counters force every percentage to zero for the cycle.
func (s *Sampler) Sample(ctx context.Context) []sampling.ProcessSample {
	pids, err := s.listPids(ctx)
	if err != nil {
		// Transient: leave the host clock baseline and every accounting
		// entry in place so the next successful cycle diffs across the gap
		// instead of starting over.
		return nil
	}

	_, hostDelta := s.clock.Sample()
	cores := s.onlineCores(ctx)

	samples := make([]sampling.ProcessSample, 0, len(pids))
	live := make(map[int]struct{}, len(pids))

	for _, pid := range pids {
		name, err := s.src.Comm(pid)
		if err != nil {
			continue // gone since enumeration; next cycle re-enumerates
		}
		state, utime, stime, err := s.src.Stat(pid)
		if err != nil {
			continue
		}
		live[pid] = struct{}{}

		var pct float64
		if hostDelta > 0 {
			delta, first := s.table.Accumulate(pid, utime+stime)
			if !first {
				pct = float64(delta) * 100.0 / (float64(hostDelta) * float64(cores))
			}
		}

		samples = append(samples, sampling.ProcessSample{
			PID:        pid,
			Name:       name,
			State:      state,
			CPUPercent: pct,
			Threads:    s.src.Threads(pid),
			ResidentKB: s.src.ResidentKB(pid),
		})
	}

	if s.evictStale {
		s.table.Evict(live)
	}

	// Descending by utilization; ties keep enumeration order.
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].CPUPercent > samples[j].CPUPercent
	})

	return samples
}

// Tracked reports how many pids the accounting table currently holds.
func (s *Sampler) Tracked() int { return s.table.Len() }

func (s *Sampler) onlineCores(ctx context.Context) int {
	if s.cores > 0 {
		return s.cores
	}
	n, err := s.coreCount(ctx)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	s.cores = n
	return n
}

func gopsutilPids(ctx context.Context) ([]int, error) {
	raw, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	pids := make([]int, len(raw))
	for i, p := range raw {
		pids[i] = int(p)
	}
	return pids, nil
}

func gopsutilCores(ctx context.Context) (int, error) {
	return cpu.CountsWithContext(ctx, true)
}
