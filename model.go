// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import "time"

// DefaultTotalPartitions is the partition-space size [NewOutbox] uses
// unless [WithTotalPartitions] overrides it.
const DefaultTotalPartitions = 64

// Status is the lifecycle state of an [OutboxRecord].
type Status string

const (
	// StatusNew means the record is still eligible for dispatch (subject
	// to NextRetryAt).
	StatusNew Status = "NEW"
	// StatusCompleted is terminal: the handler succeeded.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is terminal: retries were exhausted or the exception
	// was non-retryable and no fallback completed it.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether status no longer transitions, per the
// status-monotonicity invariant in §8.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutboxRecord is the unit of delivery: "handler H must process payload P
// once". See §3 for the full invariant list.
type OutboxRecord struct {
	ID         string
	Key        string
	Payload    string
	RecordType string

	Context Context

	Partition int
	HandlerID string

	Status Status

	FailureCount     int
	FailureReason    string
	FailureException string

	CreatedAt   time.Time
	NextRetryAt time.Time
	CompletedAt *time.Time
}

// Eligible reports whether the record is currently dispatchable: still NEW
// and its retry delay has elapsed.
func (r *OutboxRecord) Eligible(now time.Time) bool {
	return r.Status == StatusNew && !r.NextRetryAt.After(now)
}

// InstanceStatus is the lifecycle state of an [OutboxInstance].
type InstanceStatus string

const (
	InstanceActive       InstanceStatus = "ACTIVE"
	InstanceShuttingDown InstanceStatus = "SHUTTING_DOWN"
	InstanceDead         InstanceStatus = "DEAD"
)

// OutboxInstance is a running member of the cluster. See §3.
type OutboxInstance struct {
	InstanceID      string
	Hostname        string
	Port            int
	Status          InstanceStatus
	LastHeartbeatAt time.Time
	RegisteredAt    time.Time
}

// PartitionAssignment is a persisted (partition -> instance) mapping. See
// §3 and §4.4.
type PartitionAssignment struct {
	Partition  int
	InstanceID string
	AssignedAt time.Time
}
