package agent

import (
	"context"
	"io"
	"time"

	"procstream-agent/internal/accounting"
	"procstream-agent/internal/config"
	"procstream-agent/internal/emitter"
	"procstream-agent/internal/logging"
	"procstream-agent/internal/nvmlgpu"
	"procstream-agent/internal/procfs"
	"procstream-agent/internal/proctable"
	"procstream-agent/internal/sampling"
	"procstream-agent/internal/smi"
)

// ProcessSource produces one cycle's process table. Satisfied by
// proctable.Sampler; tests substitute fakes.
type ProcessSource interface {
	Sample(ctx context.Context) []sampling.ProcessSample
}

type Options struct {
	Config config.Config
	Logger *logging.Logger
	Output io.Writer

	// Processes and GPU override the wiring built from Config; nil selects
	// the production collaborators.
	Processes ProcessSource
	GPU       sampling.GPUSource
}

type Agent struct {
	cfg   config.Config
	log   *logging.Logger
	procs ProcessSource
	gpu   sampling.GPUSource // nil when GPU collection is disabled
	emit  *emitter.Emitter
}

func New(opts Options) *Agent {
	a := &Agent{
		cfg:   opts.Config,
		log:   opts.Logger,
		procs: opts.Processes,
		gpu:   opts.GPU,
		emit:  emitter.New(opts.Output),
	}

	if a.procs == nil {
		fs := procfs.New(opts.Config.ProcRoot)
		a.procs = proctable.New(proctable.Options{
			Source:     fs,
			Clock:      accounting.NewHostClock(fs.TotalTicks),
			EvictStale: opts.Config.EvictStale,
		})
	}
	if a.gpu == nil {
		switch opts.Config.GPUSampler {
		case "nvml":
			a.gpu = nvmlgpu.New(opts.Config.MaxGPUs)
		case "none":
			// leave nil
		default:
			a.gpu = smi.New(opts.Config.SMIPath, opts.Config.GPUQueryTimeout, opts.Config.MaxGPUs)
		}
	}
	return a
}

// Run drives the sampling loop until ctx is cancelled: one cycle
// immediately, then one per interval. A cycle never stops the loop; emit
// failures are logged and the next tick retries.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()
	if a.gpu != nil {
		defer func() { _ = a.gpu.Close() }()
	}

	gpuBackend := "none"
	if a.gpu != nil {
		gpuBackend = a.gpu.Name()
	}
	a.log.Info(map[string]any{
		"msg":        "sampling loop starting",
		"interval_s": int(a.cfg.SampleInterval.Seconds()),
		"gpu":        gpuBackend,
	})

	a.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Agent) cycle(ctx context.Context) {
	snap := sampling.Snapshot{Processes: a.procs.Sample(ctx)}

	if a.gpu != nil {
		gpus, err := a.gpu.Sample(ctx)
		if err != nil {
			// Best-effort telemetry: no devices this cycle.
			a.log.Debug(map[string]any{"msg": "gpu sample failed", "backend": a.gpu.Name(), "error": err.Error()})
			gpus = nil
		}
		snap.GPUs = gpus
	}

	if err := a.emit.Emit(snap); err != nil {
		a.log.Warn(map[string]any{"msg": "emit failed", "error": err.Error()})
	}
}
