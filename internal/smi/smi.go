// Package smi collects GPU telemetry by shelling out to nvidia-smi.
package smi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"procstream-agent/internal/sampling"
)

// Longest device name kept in a sample; nvidia-smi output is trusted for
// content but not for length.
const maxNameLen = 64

const queryFields = "index,name,utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw,power.limit"

type Collector struct {
	BinaryPath string
	Timeout    time.Duration
	MaxDevices int
}

func New(binaryPath string, timeout time.Duration, maxDevices int) *Collector {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = "nvidia-smi"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxDevices <= 0 {
		maxDevices = 8
	}
	return &Collector{BinaryPath: binaryPath, Timeout: timeout, MaxDevices: maxDevices}
}

func (c *Collector) Name() string { return "nvidia-smi" }

func (c *Collector) Close() error { return nil }

// Sample queries all installed devices in one blocking invocation. The
// returned error is diagnostic only; callers treat any failure as "no GPU
// data this cycle".
func (c *Collector) Sample(ctx context.Context) ([]sampling.GPUSample, error) {
	qctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	out, err := c.run(qctx,
		"--query-gpu="+queryFields,
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, err
	}
	return parseOutput(out, c.MaxDevices), nil
}

func (c *Collector) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		se := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("nvidia-smi failed: %w: %s", err, se)
	}
	return out, nil
}

// parseOutput converts csv,noheader,nounits rows into samples, at most max
// devices. Malformed fields default to zero; a short or garbled row still
// yields a sample rather than being dropped.
func parseOutput(b []byte, max int) []sampling.GPUSample {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	var gpus []sampling.GPUSample
	for scanner.Scan() && len(gpus) < max {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		gpus = append(gpus, parseRow(strings.Split(line, ",")))
	}
	return gpus
}

// Field order matches queryFields.
func parseRow(cols []string) sampling.GPUSample {
	var g sampling.GPUSample
	for i, col := range cols {
		col = strings.TrimSpace(col)
		switch i {
		case 0:
			g.Index, _ = strconv.Atoi(col)
		case 1:
			g.Name = truncate(col, maxNameLen)
		case 2:
			g.Utilization, _ = strconv.Atoi(col)
		case 3:
			g.MemUsedMB, _ = strconv.ParseUint(col, 10, 64)
		case 4:
			g.MemTotalMB, _ = strconv.ParseUint(col, 10, 64)
		case 5:
			g.Temperature, _ = strconv.Atoi(col)
		case 6:
			w, _ := strconv.ParseFloat(col, 64)
			g.PowerW = int(w)
		case 7:
			// Boards without power management report "[N/A]".
			if strings.Contains(col, "N/A") {
				g.PowerLimitW = 0
				break
			}
			w, _ := strconv.ParseFloat(col, 64)
			g.PowerLimitW = int(w)
		}
	}
	return g
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
