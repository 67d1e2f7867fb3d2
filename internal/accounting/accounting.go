// Package accounting converts cumulative CPU tick counters into per-cycle
// deltas. The kernel reports monotonically increasing totals; a utilization
// percentage needs the increase since the previous cycle, which means keeping
// the last observed value per process and for the host as a whole.
package accounting

// Table keeps the last observed cumulative tick count per pid.
type Table struct {
	lastTicks map[int]uint64
}

func NewTable() *Table {
	return &Table{lastTicks: make(map[int]uint64)}
}

// Accumulate records cumulativeTicks for pid and returns the increase since
// the previous observation. On the first observation of a pid there is no
// baseline to diff against: the value is stored and first is true, and the
// caller must report zero utilization rather than compute a delta.
//
// A cumulative value below the stored baseline means the pid was reused by
// the kernel for a new process; the entry is re-baselined and reported as a
// first observation instead of producing a wrapped-around delta.
func (t *Table) Accumulate(pid int, cumulativeTicks uint64) (delta uint64, first bool) {
	last, ok := t.lastTicks[pid]
	t.lastTicks[pid] = cumulativeTicks
	if !ok || cumulativeTicks < last {
		return 0, true
	}
	return cumulativeTicks - last, false
}

// Evict drops entries for pids not present in live. Without this, pid churn
// grows the table for the lifetime of the run.
func (t *Table) Evict(live map[int]struct{}) {
	for pid := range t.lastTicks {
		if _, ok := live[pid]; !ok {
			delete(t.lastTicks, pid)
		}
	}
}

// Len reports the number of tracked pids.
func (t *Table) Len() int { return len(t.lastTicks) }

// HostClock tracks the host-wide cumulative tick total across cycles.
type HostClock struct {
	read      func() (uint64, error)
	lastTotal uint64
}

// NewHostClock wraps a reader of the host's cumulative tick total
// (user+nice+system+idle).
func NewHostClock(read func() (uint64, error)) *HostClock {
	return &HostClock{read: read}
}

// Sample reads the current host tick total and returns it with the delta
// since the previous sample. The first successful read establishes the
// baseline and reports a zero delta. An unreadable counter source reports
// (0, 0) and leaves the baseline untouched.
func (c *HostClock) Sample() (total, delta uint64) {
	total, err := c.read()
	if err != nil {
		return 0, 0
	}
	if c.lastTotal == 0 {
		c.lastTotal = total
		return total, 0
	}
	delta = total - c.lastTotal
	c.lastTotal = total
	return total, delta
}
