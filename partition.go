// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import "context"

// PartitionCoordinator deterministically maps each partition number to
// exactly one active instance and persists the mapping so it survives
// across ticks and is observable by every instance. See §4.4.
type PartitionCoordinator interface {
	// Rebalance fetches the active instance set, computes the target
	// assignment (partition p -> instances[p mod N]), and claims every
	// partition this instance now owns. Claims are CAS-like: an instance
	// may only overwrite an assignment whose current owner is inactive or
	// itself. The [Engine] calls it once at startup and after every
	// successful heartbeat.
	Rebalance(ctx context.Context) error

	// GetAssignedPartitionNumbers returns the partitions whose persisted
	// owner is the local instance.
	GetAssignedPartitionNumbers(ctx context.Context) ([]int, error)

	// AbandonPartitions releases every partition currently owned by the
	// local instance, called from graceful shutdown.
	AbandonPartitions(ctx context.Context) error

	// TotalPartitions returns the constant partition-space size this
	// coordinator was configured with.
	TotalPartitions() int
}
