// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	outboxconfig "github.com/z5labs/outbox/config"
)

func TestInitTelemetry(t *testing.T) {
	t.Run("will install no-op trace and metric providers when no OTLP target is configured", func(t *testing.T) {
		prevTP := otel.GetTracerProvider()
		prevMP := otel.GetMeterProvider()
		defer func() {
			otel.SetTracerProvider(prevTP)
			otel.SetMeterProvider(prevMP)
		}()

		cfg := outboxconfig.OTel{
			Resource: outboxconfig.Resource{ServiceName: "outbox-test", ServiceVersion: "test"},
		}

		shutdown, err := InitTelemetry(context.Background(), cfg)
		require.NoError(t, err)
		require.NotNil(t, shutdown)

		assert.IsType(t, tracenoop.TracerProvider{}, otel.GetTracerProvider())
		assert.IsType(t, metricnoop.MeterProvider{}, otel.GetMeterProvider())

		assert.NoError(t, shutdown(context.Background()))
	})
}
