// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics is the OTel-backed outbox.MetricsRecorder
// implementation, emitting the gauges listed in §6.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/z5labs/outbox"
)

const meterName = "github.com/z5labs/outbox/metrics"

// Recorder is an outbox.MetricsRecorder backed by the global
// OTel MeterProvider.
type Recorder struct {
	recordsByStatus             metric.Int64Gauge
	partitionsAssigned          metric.Int64Gauge
	partitionsPendingTotal      metric.Int64Gauge
	partitionsPendingMax        metric.Int64Gauge
	partitionsPendingAvg        metric.Float64Gauge
	clusterInstancesTotal       metric.Int64Gauge
	clusterPartitionsUnassigned metric.Int64Gauge
	clusterPartitionUnassigned  metric.Int64Gauge
}

// New constructs a [Recorder], registering every instrument against the
// global meter provider under meterName.
func New() (*Recorder, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	recordsByStatus, err := meter.Int64Gauge(
		"outbox.records.count",
		metric.WithDescription("Number of outbox records currently in a given status"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	partitionsAssigned, err := meter.Int64Gauge(
		"outbox.partitions.assigned.count",
		metric.WithDescription("Number of partitions currently assigned to this instance"),
		metric.WithUnit("{partition}"),
	)
	if err != nil {
		return nil, err
	}

	partitionsPendingTotal, err := meter.Int64Gauge(
		"outbox.partitions.pending.records.total",
		metric.WithDescription("Total pending records across this instance's assigned partitions"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	partitionsPendingMax, err := meter.Int64Gauge(
		"outbox.partitions.pending.records.max",
		metric.WithDescription("Max pending records in any single assigned partition"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	partitionsPendingAvg, err := meter.Float64Gauge(
		"outbox.partitions.pending.records.avg",
		metric.WithDescription("Average pending records per assigned partition"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	clusterInstancesTotal, err := meter.Int64Gauge(
		"outbox.cluster.instances.total",
		metric.WithDescription("Number of active instances in the cluster"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	clusterPartitionsUnassigned, err := meter.Int64Gauge(
		"outbox.cluster.partitions.unassigned.count",
		metric.WithDescription("Number of partitions not assigned to the reporting instance"),
		metric.WithUnit("{partition}"),
	)
	if err != nil {
		return nil, err
	}

	clusterPartitionUnassigned, err := meter.Int64Gauge(
		"outbox.cluster.partitions.unassigned.flag",
		metric.WithDescription("1 if the given partition is not assigned to the reporting instance, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		recordsByStatus:             recordsByStatus,
		partitionsAssigned:          partitionsAssigned,
		partitionsPendingTotal:      partitionsPendingTotal,
		partitionsPendingMax:        partitionsPendingMax,
		partitionsPendingAvg:        partitionsPendingAvg,
		clusterInstancesTotal:       clusterInstancesTotal,
		clusterPartitionsUnassigned: clusterPartitionsUnassigned,
		clusterPartitionUnassigned:  clusterPartitionUnassigned,
	}, nil
}

func (r *Recorder) RecordsByStatus(status outbox.Status, count int64) {
	r.recordsByStatus.Record(context.Background(), count, metric.WithAttributes(attribute.String("status", string(status))))
}

func (r *Recorder) PartitionsAssigned(count int) {
	r.partitionsAssigned.Record(context.Background(), int64(count))
}

func (r *Recorder) PartitionsPendingRecords(total, max int64, avg float64) {
	r.partitionsPendingTotal.Record(context.Background(), total)
	r.partitionsPendingMax.Record(context.Background(), max)
	r.partitionsPendingAvg.Record(context.Background(), avg)
}

func (r *Recorder) ClusterInstancesTotal(count int) {
	r.clusterInstancesTotal.Record(context.Background(), int64(count))
}

func (r *Recorder) ClusterPartitionsUnassigned(count int) {
	r.clusterPartitionsUnassigned.Record(context.Background(), int64(count))
}

func (r *Recorder) ClusterPartitionUnassignedFlag(partition int, unassigned bool) {
	var v int64
	if unassigned {
		v = 1
	}
	r.clusterPartitionUnassigned.Record(context.Background(), v, metric.WithAttributes(attribute.Int("partition", partition)))
}
