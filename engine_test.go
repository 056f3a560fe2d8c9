// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Run(t *testing.T) {
	t.Run("will register the instance, run until cancelled, then clean up", func(t *testing.T) {
		store := newFakeStore()
		registry := NewHandlerRegistry()
		chain := NewProcessorChain(store, registry, discardLogger(), ProcessorChainOptions{})
		coordinator := &fakeCoordinator{partitions: []int{0}}
		instReg := &fakeInstanceRegistry{id: "i1"}

		sched := NewScheduler(store, coordinator, chain, nil, discardLogger(), SchedulerOptions{
			PollInterval:            5 * time.Millisecond,
			GracefulShutdownTimeout: time.Second,
		})

		engine := NewEngine(instReg, coordinator, sched, discardLogger(), EngineOptions{
			HeartbeatInterval: 5 * time.Millisecond,
			Scheduler:         SchedulerOptions{GracefulShutdownTimeout: time.Second},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := engine.Run(ctx)
		require.NoError(t, err)

		assert.True(t, instReg.registered)
		assert.True(t, instReg.shutdown)
		assert.True(t, coordinator.rebalanced)
		assert.True(t, coordinator.abandoned)
	})
}

type fakeInstanceRegistry struct {
	id         string
	registered bool
	shutdown   bool
	heartbeats int
}

func (r *fakeInstanceRegistry) RegisterInstance(ctx context.Context) error {
	r.registered = true
	return nil
}

func (r *fakeInstanceRegistry) PerformHeartbeatAndCleanup(ctx context.Context) error {
	r.heartbeats++
	return nil
}

func (r *fakeInstanceRegistry) GracefulShutdown(ctx context.Context) error {
	r.shutdown = true
	return nil
}

func (r *fakeInstanceRegistry) GetActiveInstances(ctx context.Context) ([]*OutboxInstance, error) {
	return []*OutboxInstance{{InstanceID: r.id, Status: InstanceActive}}, nil
}

func (r *fakeInstanceRegistry) IsInstanceActive(ctx context.Context, instanceID string) (bool, error) {
	return instanceID == r.id, nil
}

func (r *fakeInstanceRegistry) GetCurrentInstanceID() string {
	return r.id
}
