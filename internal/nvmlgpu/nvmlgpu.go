package nvmlgpu

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"procstream-agent/internal/sampling"
)

// Client samples GPU telemetry through the NVML cgo bindings instead of
// shelling out to nvidia-smi.

type Client struct {
	maxDevices  int
	initialized bool
}

func New(maxDevices int) *Client {
	if maxDevices <= 0 {
		maxDevices = 8
	}
	return &Client{maxDevices: maxDevices}
}

func (c *Client) Init() error {
	if c.initialized {
		return nil
	}
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	c.initialized = true
	return nil
}

func (c *Client) Name() string { return "nvml" }

func (c *Client) Close() error {
	if !c.initialized {
		return nil
	}
	_ = nvml.Shutdown()
	c.initialized = false
	return nil
}

func (c *Client) Sample(ctx context.Context) ([]sampling.GPUSample, error) {
	_ = ctx
	if err := c.Init(); err != nil {
		return nil, err
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device get count failed: %s", nvml.ErrorString(ret))
	}
	if count > c.maxDevices {
		count = c.maxDevices
	}

	gpus := make([]sampling.GPUSample, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml get handle index=%d failed: %s", i, nvml.ErrorString(ret))
		}

		// Per-field failures leave the zero value, same contract as the
		// nvidia-smi parser.
		g := sampling.GPUSample{Index: i}
		if name, ret := dev.GetName(); ret == nvml.SUCCESS {
			g.Name = name
		}
		if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
			g.Utilization = int(util.Gpu)
		}
		if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
			g.MemUsedMB = mem.Used / (1024 * 1024)
			g.MemTotalMB = mem.Total / (1024 * 1024)
		}
		if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			g.Temperature = int(temp)
		}
		if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
			g.PowerW = int(mw / 1000)
		}
		if mw, ret := dev.GetPowerManagementLimit(); ret == nvml.SUCCESS {
			g.PowerLimitW = int(mw / 1000)
		}

		gpus = append(gpus, g)
	}

	return gpus, nil
}
