// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestRun(t *testing.T) {
	t.Run("will build the engine from the supplied deps and run until cancelled", func(t *testing.T) {
		prevTP := otel.GetTracerProvider()
		prevMP := otel.GetMeterProvider()
		defer func() {
			otel.SetTracerProvider(prevTP)
			otel.SetMeterProvider(prevMP)
		}()

		store := newFakeStore()
		coordinator := &fakeCoordinator{partitions: []int{0}}
		instances := &fakeInstanceRegistry{id: "i1"}

		cfgYAML := `
engine:
  poll_interval_millis: 5
  heartbeat_interval_seconds: 1
  graceful_shutdown_timeout_seconds: 1
`
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := Run(ctx, strings.NewReader(cfgYAML), func(ctx context.Context, cfg Config) (Deps, error) {
			return Deps{
				Store:      store,
				Instances:  instances,
				Partitions: coordinator,
				Handlers:   NewHandlerRegistry(),
			}, nil
		})
		require.NoError(t, err)
		require.True(t, instances.registered)
	})
}
