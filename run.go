// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"bytes"
	"context"
	"io"
	"time"

	bedrockconfig "github.com/z5labs/bedrock/config"

	"github.com/z5labs/outbox/app"
)

// Deps bundles the pluggable adapters a caller must supply to [Run]: a
// storage backend, cluster-membership and partition-assignment adapters,
// and the handlers registered for this instance's payload types.
type Deps struct {
	Store      RecordStore
	Instances  InstanceRegistry
	Partitions PartitionCoordinator
	Handlers   *HandlerRegistry
	Metrics    MetricsRecorder
}

// Run reads cfgReader as a [Config] (layered over the embedded
// default_config.yaml), bootstraps OpenTelemetry, then calls build to
// construct this instance's storage and coordination adapters and runs
// the resulting [Engine] until ctx is cancelled. It composes app.Run and
// app.WithHooks exactly as the host framework's own top-level entrypoint
// composes bedrock.Run and app.WithHooks, so the telemetry shutdown hook
// always runs after the engine stops, success or failure.
func Run(ctx context.Context, cfgReader io.Reader, build func(context.Context, Config) (Deps, error)) error {
	cfgBytes, err := io.ReadAll(cfgReader)
	if err != nil {
		return err
	}

	cfg, err := ReadConfig(bytes.NewReader(cfgBytes))
	if err != nil {
		return err
	}

	shutdownTelemetry, err := InitTelemetry(ctx, cfg.OTel)
	if err != nil {
		return err
	}

	log := Logger("github.com/z5labs/outbox")

	builder := app.WithHooks(func(ctx context.Context, hooks *app.HookRegistry, cfg Config) (app.Runtime, error) {
		deps, err := build(ctx, cfg)
		if err != nil {
			return nil, err
		}

		metrics := deps.Metrics
		if metrics == nil {
			metrics = NoopMetricsRecorder{}
		}

		chain := NewProcessorChain(deps.Store, deps.Handlers, log, ProcessorChainOptions{
			DeleteCompletedRecords: cfg.Engine.DeleteCompletedRecords,
		})

		sched := NewScheduler(deps.Store, deps.Partitions, chain, metrics, log, SchedulerOptions{
			PollInterval:            time.Duration(cfg.Engine.PollIntervalMillis) * time.Millisecond,
			BatchSize:               cfg.Engine.BatchSize,
			StopOnFirstFailure:      cfg.Engine.StopOnFirstFailure,
			ConcurrencyLimit:        cfg.Engine.ExecutorConcurrencyLimit,
			GracefulShutdownTimeout: time.Duration(cfg.Engine.GracefulShutdownTimeoutSeconds) * time.Second,
		})

		engine := NewEngine(deps.Instances, deps.Partitions, sched, log, EngineOptions{
			HeartbeatInterval: time.Duration(cfg.Engine.HeartbeatIntervalSeconds) * time.Second,
			Scheduler: SchedulerOptions{
				GracefulShutdownTimeout: time.Duration(cfg.Engine.GracefulShutdownTimeoutSeconds) * time.Second,
			},
			Metrics: metrics,
		})

		hooks.OnPostRun(func(ctx context.Context) error {
			return shutdownTelemetry(ctx)
		})

		return engine, nil
	})

	cfgSrcs := []bedrockconfig.Source{
		configSource(bytes.NewReader(defaultConfigBytes)),
		configSource(bytes.NewReader(cfgBytes)),
	}
	return app.Run(ctx, builder, cfgSrcs...)
}
