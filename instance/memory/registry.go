// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package memory provides an in-process outbox.InstanceRegistry for
// tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/z5labs/outbox"
)

// Registry is a mutex-guarded map of the process's cluster view. Each
// heartbeat refreshes the local instance and evicts every other instance
// whose last heartbeat is older than the stale timeout.
type Registry struct {
	mu           sync.Mutex
	instances    map[string]*outbox.OutboxInstance
	currentID    string
	staleTimeout time.Duration
	now          func() time.Time
}

// New constructs a [Registry] for a single local instance identified by
// currentID, evicting peers whose heartbeat is older than staleTimeout.
func New(currentID string, staleTimeout time.Duration) *Registry {
	return &Registry{
		instances:    make(map[string]*outbox.OutboxInstance),
		currentID:    currentID,
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
}

func (r *Registry) RegisterInstance(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.instances[r.currentID] = &outbox.OutboxInstance{
		InstanceID:      r.currentID,
		Status:          outbox.InstanceActive,
		LastHeartbeatAt: now,
		RegisteredAt:    now,
	}
	return nil
}

func (r *Registry) PerformHeartbeatAndCleanup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if inst, ok := r.instances[r.currentID]; ok {
		inst.LastHeartbeatAt = now
	}

	for id, inst := range r.instances {
		if id == r.currentID {
			continue
		}
		if now.Sub(inst.LastHeartbeatAt) > r.staleTimeout {
			delete(r.instances, id)
		}
	}
	return nil
}

func (r *Registry) GracefulShutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.instances, r.currentID)
	return nil
}

func (r *Registry) GetActiveInstances(ctx context.Context) ([]*outbox.OutboxInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*outbox.OutboxInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.Status == outbox.InstanceActive {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *Registry) IsInstanceActive(ctx context.Context, instanceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[instanceID]
	return ok && inst.Status == outbox.InstanceActive, nil
}

func (r *Registry) GetCurrentInstanceID() string {
	return r.currentID
}
