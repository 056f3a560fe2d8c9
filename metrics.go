// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

// MetricsRecorder observes engine-level gauges per §6:
// outbox.records.count{status}, outbox.partitions.assigned.count,
// outbox.partitions.pending.records.{total,max,avg},
// outbox.cluster.instances.total,
// outbox.cluster.partitions.unassigned.count,
// outbox.cluster.partitions.unassigned.flag{partition=n}. Concrete
// OTel-backed implementations live in the metrics subpackage;
// [NoopMetricsRecorder] is the zero-dependency default.
type MetricsRecorder interface {
	RecordsByStatus(status Status, count int64)
	PartitionsAssigned(count int)
	PartitionsPendingRecords(total, max int64, avg float64)
	ClusterInstancesTotal(count int)
	ClusterPartitionsUnassigned(count int)
	// ClusterPartitionUnassignedFlag reports, for a single partition
	// number, whether it currently has no owner from this instance's
	// point of view.
	ClusterPartitionUnassignedFlag(partition int, unassigned bool)
}

// NoopMetricsRecorder discards every observation.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) RecordsByStatus(Status, int64)                 {}
func (NoopMetricsRecorder) PartitionsAssigned(int)                        {}
func (NoopMetricsRecorder) PartitionsPendingRecords(int64, int64, float64) {}
func (NoopMetricsRecorder) ClusterInstancesTotal(int)                     {}
func (NoopMetricsRecorder) ClusterPartitionsUnassigned(int)               {}
func (NoopMetricsRecorder) ClusterPartitionUnassignedFlag(int, bool)      {}
