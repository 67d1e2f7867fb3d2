package proctable

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procstream-agent/internal/accounting"
	"procstream-agent/internal/sampling"
)

type fakeProc struct {
	name    string
	state   byte
	ticks   uint64
	threads int
	rssKB   uint64

	commErr bool
	statErr bool
}

type fakeSource struct {
	procs map[int]*fakeProc
}

func (f *fakeSource) Comm(pid int) (string, error) {
	p, ok := f.procs[pid]
	if !ok || p.commErr {
		return "", errors.New("no such process")
	}
	return p.name, nil
}

func (f *fakeSource) Stat(pid int) (byte, uint64, uint64, error) {
	p, ok := f.procs[pid]
	if !ok || p.statErr {
		return 0, 0, 0, errors.New("no such process")
	}
	return p.state, p.ticks, 0, nil
}

func (f *fakeSource) Threads(pid int) int {
	if p, ok := f.procs[pid]; ok {
		return p.threads
	}
	return 0
}

func (f *fakeSource) ResidentKB(pid int) uint64 {
	if p, ok := f.procs[pid]; ok {
		return p.rssKB
	}
	return 0
}

type harness struct {
	src       *fakeSource
	sampler   *Sampler
	hostTotal uint64
	listErr   error
}

func newHarness(t *testing.T, cores int, evict bool) *harness {
	t.Helper()
	h := &harness{src: &fakeSource{procs: map[int]*fakeProc{}}}
	clock := accounting.NewHostClock(func() (uint64, error) {
		if h.hostTotal == 0 {
			return 0, errors.New("unreadable")
		}
		return h.hostTotal, nil
	})
	h.sampler = New(Options{
		Source: h.src,
		Clock:  clock,
		ListPids: func(context.Context) ([]int, error) {
			if h.listErr != nil {
				return nil, h.listErr
			}
			pids := make([]int, 0, len(h.src.procs))
			// Deterministic enumeration order for the stability tests.
			for pid := 1; pid <= 64; pid++ {
				if _, ok := h.src.procs[pid]; ok {
					pids = append(pids, pid)
				}
			}
			return pids, nil
		},
		CoreCount:  func(context.Context) (int, error) { return cores, nil },
		EvictStale: evict,
	})
	return h
}

func (h *harness) cycle(hostTotal uint64) []sampling.ProcessSample {
	h.hostTotal = hostTotal
	return h.sampler.Sample(context.Background())
}

func TestUtilizationDelta(t *testing.T) {
	h := newHarness(t, 4, false)
	h.src.procs[10] = &fakeProc{name: "worker", state: 'R', ticks: 30, threads: 2, rssKB: 1024}

	// Cycle 1: host baseline, delta 0, everything reports 0%.
	got := h.cycle(900)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].CPUPercent)

	// Cycle 2: first observation of the pid, still 0%.
	h.src.procs[10].ticks = 40
	got = h.cycle(1000)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].CPUPercent)

	// Cycle 3: host 1000->1100 (delta 100), proc +10 ticks, 4 cores => 2.5%.
	h.src.procs[10].ticks = 50
	got = h.cycle(1100)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.5, got[0].CPUPercent, 1e-9)
	assert.Equal(t, "worker", got[0].Name)
	assert.Equal(t, byte('R'), got[0].State)
	assert.Equal(t, 2, got[0].Threads)
	assert.Equal(t, uint64(1024), got[0].ResidentKB)
}

func TestZeroHostDeltaForcesZeroPercent(t *testing.T) {
	h := newHarness(t, 4, false)
	h.src.procs[10] = &fakeProc{name: "busy", state: 'R', ticks: 100}

	h.cycle(1000)
	h.src.procs[10].ticks = 100000

	// Host counters unreadable this cycle: hostTotal 0 trips the reader error.
	got := h.cycle(0)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].CPUPercent)
}

func TestVanishedPidSkippedEntirely(t *testing.T) {
	h := newHarness(t, 1, false)
	h.src.procs[1] = &fakeProc{name: "alive", state: 'S'}
	h.src.procs[2] = &fakeProc{name: "ghost", state: 'S', commErr: true}
	h.src.procs[3] = &fakeProc{name: "halfgone", state: 'S', statErr: true}

	got := h.cycle(1000)
	require.Len(t, got, 1)
	assert.Equal(t, "alive", got[0].Name)
}

func TestSortDescendingStable(t *testing.T) {
	h := newHarness(t, 1, false)
	for pid := 1; pid <= 4; pid++ {
		h.src.procs[pid] = &fakeProc{name: fmt.Sprintf("p%d", pid), state: 'S', ticks: 0}
	}

	h.cycle(1000)
	h.cycle(1100) // baselines stored

	// p2 gains 20 ticks, p3 gains 5; p1 and p4 stay idle and tie at 0%.
	h.src.procs[2].ticks = 20
	h.src.procs[3].ticks = 5
	got := h.cycle(1200)

	require.Len(t, got, 4)
	assert.Equal(t, "p2", got[0].Name)
	assert.Equal(t, "p3", got[1].Name)
	// Ties preserve enumeration order.
	assert.Equal(t, "p1", got[2].Name)
	assert.Equal(t, "p4", got[3].Name)
}

func TestEvictionToggle(t *testing.T) {
	for _, evict := range []bool{true, false} {
		t.Run(fmt.Sprintf("evict=%v", evict), func(t *testing.T) {
			h := newHarness(t, 1, evict)
			h.src.procs[1] = &fakeProc{name: "a", state: 'S'}
			h.src.procs[2] = &fakeProc{name: "b", state: 'S'}

			h.cycle(1000)
			h.cycle(1100)
			require.Equal(t, 2, h.sampler.Tracked())

			delete(h.src.procs, 2)
			h.cycle(1200)
			if evict {
				assert.Equal(t, 1, h.sampler.Tracked())
			} else {
				assert.Equal(t, 2, h.sampler.Tracked())
			}
		})
	}
}

func TestEnumerationFailurePreservesAccountingState(t *testing.T) {
	h := newHarness(t, 1, true)
	h.src.procs[10] = &fakeProc{name: "worker", state: 'R', ticks: 100}

	h.cycle(1000) // host baseline
	h.cycle(1100) // pid baseline stored
	require.Equal(t, 1, h.sampler.Tracked())

	// One bad enumeration: no samples, but nothing evicted and the host
	// clock baseline stays at 1100.
	h.listErr = errors.New("proc unreadable")
	got := h.cycle(1200)
	assert.Empty(t, got)
	assert.Equal(t, 1, h.sampler.Tracked())

	// Recovery cycle diffs across the gap: host 1100->1300 (delta 200),
	// proc +10 ticks, 1 core => 5%, not a first observation.
	h.listErr = nil
	h.src.procs[10].ticks = 110
	got = h.cycle(1300)
	require.Len(t, got, 1)
	assert.InDelta(t, 5.0, got[0].CPUPercent, 1e-9)
}

func TestEnumerationFailureYieldsEmptyTable(t *testing.T) {
	clock := accounting.NewHostClock(func() (uint64, error) { return 1000, nil })
	s := New(Options{
		Source:    &fakeSource{procs: map[int]*fakeProc{}},
		Clock:     clock,
		ListPids:  func(context.Context) ([]int, error) { return nil, errors.New("proc unreadable") },
		CoreCount: func(context.Context) (int, error) { return 1, nil },
	})

	got := s.Sample(context.Background())
	assert.Empty(t, got)
}
