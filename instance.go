// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import "context"

// InstanceRegistry tracks the cluster's running [OutboxInstance] members
// via heartbeats. Operations report failures as returned errors; the
// [Engine] logs heartbeat and rebalance failures and keeps the scheduler
// running. See §4.3.
type InstanceRegistry interface {
	// RegisterInstance inserts the local instance row. Idempotent across
	// retries.
	RegisterInstance(ctx context.Context) error

	// PerformHeartbeatAndCleanup refreshes the local instance's heartbeat
	// and evicts any instance whose heartbeat is older than the stale
	// timeout. Called on a timer.
	PerformHeartbeatAndCleanup(ctx context.Context) error

	// GracefulShutdown transitions the local instance to SHUTTING_DOWN
	// then deletes its row.
	GracefulShutdown(ctx context.Context) error

	// GetActiveInstances returns every instance currently ACTIVE.
	GetActiveInstances(ctx context.Context) ([]*OutboxInstance, error)

	// IsInstanceActive reports whether instanceID is currently ACTIVE.
	IsInstanceActive(ctx context.Context, instanceID string) (bool, error)

	// GetCurrentInstanceID returns this process's instance ID, generated
	// once at construction.
	GetCurrentInstanceID() string
}
