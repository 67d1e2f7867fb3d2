package sampling

// ProcessSample is one process's state for a single cycle. Rebuilt from
// scratch every cycle, never kept across cycles.
type ProcessSample struct {
	PID        int
	Name       string
	State      byte
	CPUPercent float64
	Threads    int
	ResidentKB uint64
}

// GPUSample is one device row from the GPU telemetry backend.
type GPUSample struct {
	Index       int
	Name        string
	Utilization int
	MemUsedMB   uint64
	MemTotalMB  uint64
	Temperature int
	PowerW      int
	PowerLimitW int
}

// Snapshot is everything collected in one cycle.
type Snapshot struct {
	Processes []ProcessSample
	GPUs      []GPUSample
}
