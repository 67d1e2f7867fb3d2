// Package emitter frames one cycle's snapshot as line-oriented text for the
// presentation layer reading the stream.
package emitter

import (
	"bufio"
	"fmt"
	"io"

	"procstream-agent/internal/sampling"
)

const (
	processEnd = "END"
	gpuStart   = "GPU_START"
	gpuEnd     = "GPU_END"
)

type Emitter struct {
	w *bufio.Writer
}

func New(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriter(w)}
}

// Emit writes one complete frame. Each block is flushed as soon as its
// terminator is written, so a reader that sees the terminator holds a
// complete block. The process block always ends with the END sentinel, even
// when empty; the GPU block is omitted entirely when no devices reported.
func (e *Emitter) Emit(snap sampling.Snapshot) error {
	for _, p := range snap.Processes {
		fmt.Fprintf(e.w, "%d|%s|%c|%.2f|%d|%d\n",
			p.PID, p.Name, p.State, p.CPUPercent, p.ResidentKB, p.Threads)
	}
	fmt.Fprintln(e.w, processEnd)
	if err := e.w.Flush(); err != nil {
		return err
	}

	if len(snap.GPUs) == 0 {
		return nil
	}

	fmt.Fprintln(e.w, gpuStart)
	for _, g := range snap.GPUs {
		fmt.Fprintf(e.w, "GPU|%d|%s|%d|%d|%d|%d|%d|%d\n",
			g.Index, g.Name, g.Utilization, g.MemUsedMB, g.MemTotalMB,
			g.Temperature, g.PowerW, g.PowerLimitW)
	}
	fmt.Fprintln(e.w, gpuEnd)
	return e.w.Flush()
}
