// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// NewID generates a fresh globally unique identifier, used both for
// [OutboxRecord.ID] and, when the caller does not supply one, as an
// auto-generated [OutboxRecord.Key].
func NewID() string {
	return uuid.NewString()
}

// Partition computes the stable partition number for key, in
// [0, totalPartitions). The same key always hashes to the same partition,
// for the lifetime of the cluster's TOTAL_PARTITIONS setting, per the
// partition-stability invariant in §3/§8.
func Partition(key string, totalPartitions int) int {
	if totalPartitions <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(totalPartitions))
}
