package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procstream-agent/internal/agent"
	"procstream-agent/internal/config"
	"procstream-agent/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	// stdout carries the snapshot stream; diagnostics go to stderr.
	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	hostname, _ := os.Hostname()
	logger.Info(map[string]any{
		"msg":        "procstream-agent starting",
		"node":       hostname,
		"interval_s": int(cfg.SampleInterval.Seconds()),
		"gpu":        cfg.GPUSampler,
	})

	ag := agent.New(agent.Options{
		Config: cfg,
		Logger: logger,
		Output: os.Stdout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := ag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(map[string]any{"msg": "procstream-agent exited with error", "error": err.Error()})
		// give log collector a chance
		time.Sleep(250 * time.Millisecond)
		os.Exit(1)
	}
}
