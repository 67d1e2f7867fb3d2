package sampling

import "context"

// GPUSource queries current readings for all installed GPU devices.
// GPU telemetry is best-effort: backends return an error for diagnostics,
// but callers must degrade to an empty device set, never fail the cycle.
type GPUSource interface {
	Sample(ctx context.Context) ([]GPUSample, error)
	Close() error
	Name() string
}
