// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/z5labs/outbox/concurrent"
)

// SchedulerOptions configures a [NewScheduler] instance. See §4.5 and §6.
type SchedulerOptions struct {
	// PollInterval is the tick period. Defaults to one second.
	PollInterval time.Duration
	// BatchSize is the max number of distinct keys claimed per tick per
	// instance. Defaults to 100.
	BatchSize int
	// StopOnFirstFailure, when true, halts a KeyWorker's walk through a
	// key's records at the first non-COMPLETED outcome, leaving the rest
	// for a later tick.
	StopOnFirstFailure bool
	// ConcurrencyLimit bounds the number of KeyWorkers running at once;
	// -1 means unbounded.
	ConcurrencyLimit int
	// GracefulShutdownTimeout bounds how long Run, once its context is
	// cancelled, waits for in-flight KeyWorkers to drain before returning
	// anyway.
	GracefulShutdownTimeout time.Duration
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.ConcurrencyLimit == 0 {
		o.ConcurrencyLimit = -1
	}
	if o.GracefulShutdownTimeout <= 0 {
		o.GracefulShutdownTimeout = 30 * time.Second
	}
	return o
}

// Scheduler owns the periodic tick loop described in §4.5: each tick it
// asks coordinator for this instance's assigned partitions, asks store
// for eligible keys within them, and fans a KeyWorker out per key over a
// bounded pool. Distinct keys run concurrently; a per-key in-memory
// mutex prevents this instance from ever running two KeyWorkers for the
// same key at once, matching the single-writer partition discipline
// described in §5.
type Scheduler struct {
	store       RecordStore
	coordinator PartitionCoordinator
	chain       *ProcessorChain
	metrics     MetricsRecorder
	log         *slog.Logger
	opts        SchedulerOptions
	now         func() time.Time

	keyLocks *concurrent.KeyedMutex[string]
	stopping atomic.Bool
	pool     *pool.ContextPool
}

// NewScheduler wires a [Scheduler] over store, coordinator and chain.
func NewScheduler(store RecordStore, coordinator PartitionCoordinator, chain *ProcessorChain, metrics MetricsRecorder, log *slog.Logger, opts SchedulerOptions) *Scheduler {
	if metrics == nil {
		metrics = NoopMetricsRecorder{}
	}
	return &Scheduler{
		store:       store,
		coordinator: coordinator,
		chain:       chain,
		metrics:     metrics,
		log:         log,
		opts:        opts.withDefaults(),
		now:         time.Now,
		keyLocks:    concurrent.NewKeyedMutex[string](),
	}
}

// Run blocks ticking at PollInterval until ctx is cancelled, then drains
// outstanding KeyWorkers up to GracefulShutdownTimeout before returning.
// After Shutdown is called, ticks are skipped but Run keeps blocking
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	p := pool.New()
	if s.opts.ConcurrencyLimit > 0 {
		p = p.WithMaxGoroutines(s.opts.ConcurrencyLimit)
	}
	s.pool = p.WithContext(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drain()
		case <-ticker.C:
			if s.stopping.Load() {
				continue
			}
			if err := s.tick(ctx); err != nil {
				s.log.ErrorContext(ctx, "scheduler tick failed", slog.Any("error", err))
			}
		}
	}
}

// Shutdown signals the tick loop to stop claiming new keys. Call
// followed by cancelling the context passed to Run to begin draining.
func (s *Scheduler) Shutdown() {
	s.stopping.Store(true)
}

func (s *Scheduler) drain() error {
	done := make(chan error, 1)
	go func() {
		done <- s.pool.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(s.opts.GracefulShutdownTimeout):
		s.log.Warn("graceful shutdown timed out waiting for key workers", slog.Duration("timeout", s.opts.GracefulShutdownTimeout))
		return nil
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	partitions, err := s.coordinator.GetAssignedPartitionNumbers(ctx)
	if err != nil {
		return &CoordinationError{Op: "GetAssignedPartitionNumbers", Err: err}
	}
	if len(partitions) == 0 {
		return nil
	}

	s.recordStatusMetrics(ctx)
	s.recordPendingRecordMetrics(ctx, partitions)

	keys, err := s.store.FindEligibleKeysInPartitions(ctx, partitions, s.opts.BatchSize, s.opts.StopOnFirstFailure)
	if err != nil {
		return &StoreError{Op: "FindEligibleKeysInPartitions", Err: err}
	}

	for _, key := range keys {
		key := key
		s.pool.Go(func(ctx context.Context) error {
			s.dispatchKey(ctx, key)
			return nil
		})
	}
	return nil
}

// recordStatusMetrics reports the current outbox.records.count{status}
// gauges per §6, one query per terminal/in-flight status.
func (s *Scheduler) recordStatusMetrics(ctx context.Context) {
	for _, status := range []Status{StatusNew, StatusFailed, StatusCompleted} {
		n, err := s.store.CountByStatus(ctx, status)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to count records by status", slog.String("status", string(status)), slog.Any("error", err))
			continue
		}
		s.metrics.RecordsByStatus(status, n)
	}
}

// recordPendingRecordMetrics reports the
// outbox.partitions.pending.records.{total,max,avg} gauges per §6, summed
// and maxed over this instance's assigned partitions.
func (s *Scheduler) recordPendingRecordMetrics(ctx context.Context, partitions []int) {
	var total, max int64
	for _, p := range partitions {
		n, err := s.store.CountByPartition(ctx, p, StatusNew)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to count pending records for partition", slog.Int("partition", p), slog.Any("error", err))
			continue
		}
		total += n
		if n > max {
			max = n
		}
	}
	s.metrics.PartitionsPendingRecords(total, max, float64(total)/float64(len(partitions)))
}

// dispatchKey is the KeyWorker body from §4.5. Errors dispatching an
// individual record are logged, not propagated, so one bad key never
// cancels its siblings in the pool.
func (s *Scheduler) dispatchKey(ctx context.Context, key string) {
	s.keyLocks.Lock(key)
	defer s.keyLocks.Unlock(key)

	records, err := s.store.FindIncompleteRecordsByKey(ctx, key)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load records for key", KeyAttr(key), slog.Any("error", err))
		return
	}

	now := s.now()
	for _, record := range records {
		if s.stopping.Load() {
			return
		}
		if record.NextRetryAt.After(now) {
			continue
		}

		err := s.chain.Dispatch(ctx, record)
		if err != nil {
			s.log.ErrorContext(ctx, "dispatch failed", KeyAttr(key), HandlerIDAttr(record.HandlerID), slog.Any("error", err))
		}

		if s.opts.StopOnFirstFailure && record.Status != StatusCompleted {
			return
		}
	}
}
