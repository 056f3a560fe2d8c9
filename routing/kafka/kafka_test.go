// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestEncodeHeaders(t *testing.T) {
	t.Run("will carry every caller-supplied header", func(t *testing.T) {
		headers := encodeHeaders(context.Background(), map[string]string{"x-origin": "orders-service"})

		found := false
		for _, h := range headers {
			if h.Key == "x-origin" && string(h.Value) == "orders-service" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("will inject the active trace context as additional headers", func(t *testing.T) {
		prevPropagator := otel.GetTextMapPropagator()
		otel.SetTextMapPropagator(propagation.TraceContext{})
		defer otel.SetTextMapPropagator(prevPropagator)

		carrier := propagation.MapCarrier{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
		ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)

		headers := encodeHeaders(ctx, nil)

		found := false
		for _, h := range headers {
			if h.Key == "traceparent" {
				found = true
			}
		}
		assert.True(t, found)
	})
}

type staticCodec struct {
	data []byte
	err  error
}

func (c staticCodec) Encode(any) ([]byte, error) { return c.data, c.err }
