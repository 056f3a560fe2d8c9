// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Rebalance(t *testing.T) {
	t.Run("will claim every partition in the space", func(t *testing.T) {
		c := New("i1", 4)
		ctx := context.Background()

		require.NoError(t, c.Rebalance(ctx))

		partitions, err := c.GetAssignedPartitionNumbers(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{0, 1, 2, 3}, partitions)
	})
}

func TestCoordinator_AbandonPartitions(t *testing.T) {
	t.Run("will release every claim", func(t *testing.T) {
		c := New("i1", 2)
		ctx := context.Background()

		require.NoError(t, c.Rebalance(ctx))
		require.NoError(t, c.AbandonPartitions(ctx))

		partitions, err := c.GetAssignedPartitionNumbers(ctx)
		require.NoError(t, err)
		assert.Empty(t, partitions)
	})
}
