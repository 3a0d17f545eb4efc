package engine

import (
	"context"
	"fmt"

	"ijscript/client"
	"ijscript/internal/config"
	"ijscript/internal/logging"
	"ijscript/internal/telemetry"
)

var (
	_ client.Observer     = (*telemetry.Metrics)(nil)
	_ client.TempObserver = (*telemetry.Metrics)(nil)
)

// Bootstrap wires metrics and a connected runner from cfg. Extra options are
// applied after the config-derived ones.
func Bootstrap(ctx context.Context, cfg config.Client, opts ...client.Option) (*Engine, error) {
	// 1. metrics
	metrics := telemetry.NewMetrics()

	// 2. runner
	base := []client.Option{
		client.WithLogger(logging.L()),
		client.WithTimeout(cfg.Timeout),
		client.WithAxes(cfg.Axes),
		client.WithTempDir(cfg.TempDir),
		client.WithObserver(metrics),
	}
	runner, err := client.Dial(ctx, cfg.Address, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		runner:  runner,
		metrics: metrics,
	}, nil
}
