// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/z5labs/outbox"
)

func TestRecorder_RecordsByStatus(t *testing.T) {
	t.Run("will record a gauge value tagged with status", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

		prevProvider := otel.GetMeterProvider()
		otel.SetMeterProvider(provider)
		defer otel.SetMeterProvider(prevProvider)

		recorder, err := New()
		require.NoError(t, err)

		recorder.RecordsByStatus(outbox.StatusFailed, 7)

		var data metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &data))

		found := false
		for _, sm := range data.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name == "outbox.records.count" {
					found = true
				}
			}
		}
		assert.True(t, found)
	})
}

func TestRecorder_ClusterPartitionUnassignedFlag(t *testing.T) {
	t.Run("will record a gauge value tagged with the partition number", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

		prevProvider := otel.GetMeterProvider()
		otel.SetMeterProvider(provider)
		defer otel.SetMeterProvider(prevProvider)

		recorder, err := New()
		require.NoError(t, err)

		recorder.ClusterPartitionUnassignedFlag(3, true)

		var data metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &data))

		found := false
		for _, sm := range data.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name == "outbox.cluster.partitions.unassigned.flag" {
					found = true
				}
			}
		}
		assert.True(t, found)
	})
}
