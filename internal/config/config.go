package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	ProcRoot        string        `yaml:"proc_root"`
	EvictStale      bool          `yaml:"evict_stale"`
	GPUSampler      string        `yaml:"gpu_sampler"` // smi, nvml or none
	SMIPath         string        `yaml:"smi_path"`
	GPUQueryTimeout time.Duration `yaml:"gpu_query_timeout"`
	MaxGPUs         int           `yaml:"max_gpus"`
	LogLevel        string        `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		SampleInterval:  2 * time.Second,
		ProcRoot:        "/proc",
		EvictStale:      true,
		GPUSampler:      "smi",
		SMIPath:         "nvidia-smi",
		GPUQueryTimeout: 5 * time.Second,
		MaxGPUs:         8,
		LogLevel:        "info",
	}
}

// Load assembles the configuration in ascending precedence: defaults, then
// an optional YAML file named by -config, then environment variables, then
// the remaining flags.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("procstream-agent", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "config", "", "Optional YAML config file")

	// Flags parse into their own copy; only values the caller actually set
	// are copied over the file/env result below.
	flagCfg := Defaults()
	fs.DurationVar(&flagCfg.SampleInterval, "sample-interval", flagCfg.SampleInterval, "Pause between sampling cycles")
	fs.StringVar(&flagCfg.ProcRoot, "proc-root", flagCfg.ProcRoot, "proc filesystem mountpoint")
	fs.BoolVar(&flagCfg.EvictStale, "evict-stale", flagCfg.EvictStale, "Drop accounting entries for exited processes each cycle")
	fs.StringVar(&flagCfg.GPUSampler, "gpu-sampler", flagCfg.GPUSampler, "GPU telemetry backend: smi, nvml or none")
	fs.StringVar(&flagCfg.SMIPath, "smi-path", flagCfg.SMIPath, "Path to the nvidia-smi binary")
	fs.DurationVar(&flagCfg.GPUQueryTimeout, "gpu-query-timeout", flagCfg.GPUQueryTimeout, "Bound on one GPU telemetry invocation")
	fs.IntVar(&flagCfg.MaxGPUs, "max-gpus", flagCfg.MaxGPUs, "Maximum GPU devices reported per cycle")
	fs.StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Minimum log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if file != "" {
		if err := loadFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	// Flags win over file and env.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sample-interval":
			cfg.SampleInterval = flagCfg.SampleInterval
		case "proc-root":
			cfg.ProcRoot = flagCfg.ProcRoot
		case "evict-stale":
			cfg.EvictStale = flagCfg.EvictStale
		case "gpu-sampler":
			cfg.GPUSampler = flagCfg.GPUSampler
		case "smi-path":
			cfg.SMIPath = flagCfg.SMIPath
		case "gpu-query-timeout":
			cfg.GPUQueryTimeout = flagCfg.GPUQueryTimeout
		case "max-gpus":
			cfg.MaxGPUs = flagCfg.MaxGPUs
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		}
	})

	if cfg.SampleInterval <= 0 {
		return Config{}, fmt.Errorf("config: sample interval must be positive, got %s", cfg.SampleInterval)
	}
	switch cfg.GPUSampler {
	case "smi", "nvml", "none":
	default:
		return Config{}, fmt.Errorf("config: unknown gpu sampler %q", cfg.GPUSampler)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := envInt("SAMPLE_INTERVAL_SECONDS", 0); v > 0 {
		cfg.SampleInterval = time.Duration(v) * time.Second
	}
	cfg.ProcRoot = envString("PROC_ROOT", cfg.ProcRoot)
	cfg.EvictStale = envBool("EVICT_STALE", cfg.EvictStale)
	cfg.GPUSampler = envString("GPU_SAMPLER", cfg.GPUSampler)
	cfg.SMIPath = envString("SMI_PATH", cfg.SMIPath)
	if v := envInt("GPU_QUERY_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.GPUQueryTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("MAX_GPUS", 0); v > 0 {
		cfg.MaxGPUs = v
	}
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
}

func envString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
