// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package postgres is the production outbox.PartitionCoordinator
// adapter, backed by the outbox_partition_assignment table from §6. See
// §4.4: partition p is deterministically owned by
// activeInstances[p mod N] sorted by instance ID, claimed with a
// conditional write so a partition is never dual-owned.
package postgres

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/z5labs/outbox"
)

// Coordinator is a Postgres-backed outbox.PartitionCoordinator.
type Coordinator struct {
	pool       *pgxpool.Pool
	registry   outbox.InstanceRegistry
	instanceID string
	total      int
}

// New constructs a [Coordinator] over a partition space of size total,
// using registry to discover the active instance set on every
// Rebalance.
func New(pool *pgxpool.Pool, registry outbox.InstanceRegistry, total int) *Coordinator {
	return &Coordinator{
		pool:       pool,
		registry:   registry,
		instanceID: registry.GetCurrentInstanceID(),
		total:      total,
	}
}

func (c *Coordinator) Rebalance(ctx context.Context) error {
	active, err := c.registry.GetActiveInstances(ctx)
	if err != nil {
		return &outbox.CoordinationError{Op: "Rebalance", Err: err}
	}
	if len(active) == 0 {
		return nil
	}

	ids := make([]string, len(active))
	for i, inst := range active {
		ids[i] = inst.InstanceID
	}
	sort.Strings(ids)

	for p := 0; p < c.total; p++ {
		owner := ids[p%len(ids)]
		if owner != c.instanceID {
			continue
		}

		_, err := c.pool.Exec(ctx, `
			INSERT INTO outbox_partition_assignment (partition_no, instance_id, assigned_at)
			VALUES ($1, $2, now())
			ON CONFLICT (partition_no) DO UPDATE SET instance_id = EXCLUDED.instance_id, assigned_at = now()
			WHERE outbox_partition_assignment.instance_id = $2
			   OR NOT EXISTS (
			       SELECT 1 FROM outbox_instance
			       WHERE id = outbox_partition_assignment.instance_id AND status = 'ACTIVE'
			   )`,
			p, owner,
		)
		if err != nil {
			return &outbox.CoordinationError{Op: "Rebalance", Err: err}
		}
	}
	return nil
}

func (c *Coordinator) GetAssignedPartitionNumbers(ctx context.Context) ([]int, error) {
	rows, err := c.pool.Query(ctx, `SELECT partition_no FROM outbox_partition_assignment WHERE instance_id = $1`, c.instanceID)
	if err != nil {
		return nil, &outbox.CoordinationError{Op: "GetAssignedPartitionNumbers", Err: err}
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, &outbox.CoordinationError{Op: "GetAssignedPartitionNumbers", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Coordinator) AbandonPartitions(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM outbox_partition_assignment WHERE instance_id = $1`, c.instanceID)
	if err != nil {
		return &outbox.CoordinationError{Op: "AbandonPartitions", Err: err}
	}
	return nil
}

func (c *Coordinator) TotalPartitions() int {
	return c.total
}
