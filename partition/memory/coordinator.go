// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package memory provides an in-process outbox.PartitionCoordinator for
// tests and single-instance deployments, where the local instance
// trivially owns every partition.
package memory

import (
	"context"
	"sync"

	"github.com/z5labs/outbox"
)

// Coordinator assigns every partition in [0, total) to the local
// instance. There is no cluster to rebalance against, so Rebalance is a
// no-op once the initial claim is made.
type Coordinator struct {
	mu         sync.Mutex
	instanceID string
	total      int
	owned      map[int]bool
}

// New constructs a [Coordinator] for instanceID over a partition space
// of size total.
func New(instanceID string, total int) *Coordinator {
	return &Coordinator{
		instanceID: instanceID,
		total:      total,
		owned:      make(map[int]bool),
	}
}

func (c *Coordinator) Rebalance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for p := 0; p < c.total; p++ {
		c.owned[p] = true
	}
	return nil
}

func (c *Coordinator) GetAssignedPartitionNumbers(ctx context.Context) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0, len(c.owned))
	for p, owned := range c.owned {
		if owned {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Coordinator) AbandonPartitions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.owned = make(map[int]bool)
	return nil
}

func (c *Coordinator) TotalPartitions() int {
	return c.total
}
