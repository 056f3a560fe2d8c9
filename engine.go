// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EngineOptions configures [NewEngine]. See §6. StaleInstanceTimeout is
// not among these: it's consumed directly by the chosen InstanceRegistry
// adapter at construction time, not by the Engine itself.
type EngineOptions struct {
	HeartbeatInterval time.Duration
	Scheduler         SchedulerOptions
	Metrics           MetricsRecorder
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetricsRecorder{}
	}
	return o
}

// Engine wires the InstanceRegistry heartbeat loop, the
// PartitionCoordinator rebalance loop and the Scheduler into a single
// [Runtime][*Engine] compatible with the host framework's app.Run.
// See §1's component table and §5's concurrency model: a single-threaded
// heartbeat/cleanup timer runs alongside the scheduler's own tick loop.
type Engine struct {
	registry    InstanceRegistry
	coordinator PartitionCoordinator
	scheduler   *Scheduler
	metrics     MetricsRecorder
	log         *slog.Logger
	opts        EngineOptions
}

// NewEngine constructs an [Engine]. store, coordinator, chain and
// scheduler must all already agree on the same RecordStore and
// HandlerRegistry; use [NewScheduler] to build scheduler before calling
// this constructor.
func NewEngine(registry InstanceRegistry, coordinator PartitionCoordinator, scheduler *Scheduler, log *slog.Logger, opts EngineOptions) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		registry:    registry,
		coordinator: coordinator,
		scheduler:   scheduler,
		metrics:     opts.Metrics,
		log:         log,
		opts:        opts,
	}
}

// Run registers the local instance, starts the heartbeat/rebalance loop
// and the scheduler, and blocks until ctx is cancelled. On cancellation
// it abandons this instance's partitions and gracefully shuts down the
// instance registration, draining in-flight KeyWorkers per the
// scheduler's own GracefulShutdownTimeout.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.registry.RegisterInstance(ctx); err != nil {
		return &CoordinationError{Op: "RegisterInstance", Err: err}
	}
	if err := e.coordinator.Rebalance(ctx); err != nil {
		e.log.ErrorContext(ctx, "initial rebalance failed", slog.Any("error", err))
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		e.heartbeatLoop(heartbeatCtx)
	}()

	schedulerErr := e.scheduler.Run(ctx)

	cancelHeartbeat()
	<-heartbeatDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.opts.Scheduler.GracefulShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := e.coordinator.AbandonPartitions(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, &CoordinationError{Op: "AbandonPartitions", Err: err})
	}
	if err := e.registry.GracefulShutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, &CoordinationError{Op: "GracefulShutdown", Err: err})
	}

	return errors.Join(schedulerErr, shutdownErr)
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.registry.PerformHeartbeatAndCleanup(ctx); err != nil {
				e.log.ErrorContext(ctx, "heartbeat failed", slog.Any("error", err))
				continue
			}
			if err := e.coordinator.Rebalance(ctx); err != nil {
				e.log.ErrorContext(ctx, "rebalance failed", slog.Any("error", err))
				continue
			}
			e.recordClusterMetrics(ctx)
		}
	}
}

func (e *Engine) recordClusterMetrics(ctx context.Context) {
	active, err := e.registry.GetActiveInstances(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "failed to read active instances for metrics", slog.Any("error", err))
		return
	}
	e.metrics.ClusterInstancesTotal(len(active))

	assigned, err := e.coordinator.GetAssignedPartitionNumbers(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "failed to read assigned partitions for metrics", slog.Any("error", err))
		return
	}
	e.metrics.PartitionsAssigned(len(assigned))

	// GetAssignedPartitionNumbers only reports this instance's claims, so
	// this instance can only report its own share of TotalPartitions as
	// unassigned-to-it; a true cluster-wide count would need a
	// coordinator query not exposed by the interface.
	total := e.coordinator.TotalPartitions()
	unassignedHere := total - len(assigned)
	if unassignedHere < 0 {
		unassignedHere = 0
	}
	e.metrics.ClusterPartitionsUnassigned(unassignedHere)

	assignedSet := make(map[int]bool, len(assigned))
	for _, p := range assigned {
		assignedSet[p] = true
	}
	for p := 0; p < total; p++ {
		e.metrics.ClusterPartitionUnassignedFlag(p, !assignedSet[p])
	}
}
