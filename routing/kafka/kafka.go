// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka is the franz-go-backed broker adapter for §4.8's routing
// table: it turns a resolved [routing.Decision] into a published Kafka
// record, encoding the payload via a caller-supplied [Codec] and
// propagating the active trace context as record headers.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/z5labs/outbox/routing"
)

// Codec encodes a routed payload into the bytes published as the Kafka
// record value. Callers typically supply a JSON-marshalling closure.
type Codec interface {
	Encode(v any) ([]byte, error)
}

// CodecFunc adapts a function to a [Codec].
type CodecFunc func(v any) ([]byte, error)

// Encode implements [Codec].
func (f CodecFunc) Encode(v any) ([]byte, error) { return f(v) }

// TLSConfig holds TLS/mTLS configuration for secure connections to the
// brokers.
type TLSConfig struct {
	CertFile string
	CertData []byte

	KeyFile string
	KeyData []byte

	CAFile string
	CAData []byte

	ServerName string
	MinVersion uint16
	MaxVersion uint16
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: cfg.MinVersion,
		MaxVersion: cfg.MaxVersion,
		ServerName: cfg.ServerName,
	}

	certData, keyData := cfg.CertData, cfg.KeyData
	var err error
	if cfg.CertFile != "" {
		certData, err = os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read client certificate file %q: %w", cfg.CertFile, err)
		}
	}
	if cfg.KeyFile != "" {
		keyData, err = os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read client key file %q: %w", cfg.KeyFile, err)
		}
	}
	if len(certData) > 0 && len(keyData) > 0 {
		cert, err := tls.X509KeyPair(certData, keyData)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to load client certificate and key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	caData := cfg.CAData
	if cfg.CAFile != "" {
		caData, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("kafka: failed to read CA certificate file %q: %w", cfg.CAFile, err)
		}
	}
	if len(caData) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("kafka: failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Options configures a [Publisher].
type Options struct {
	tlsConfig      *TLSConfig
	produceTimeout time.Duration
}

// Option configures a [Publisher] at construction time.
type Option func(*Options)

// WithTLS configures TLS/mTLS for secure connections to the brokers.
func WithTLS(cfg TLSConfig) Option {
	return func(o *Options) { o.tlsConfig = &cfg }
}

// ProduceTimeout bounds how long a single [Publisher.Publish] call waits
// for the broker to acknowledge the record. Defaults to 10s.
func ProduceTimeout(d time.Duration) Option {
	return func(o *Options) { o.produceTimeout = d }
}

// Publisher adapts a [routing.Table]'s resolved decisions to Kafka
// records published through a franz-go client.
type Publisher struct {
	client  *kgo.Client
	codec   Codec
	log     *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration
}

// NewPublisher constructs a [Publisher] connected to brokers.
func NewPublisher(brokers []string, codec Codec, log *slog.Logger, opts ...Option) (*Publisher, error) {
	cfg := &Options{produceTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.WithLogger(kslog.New(log)),
		kgo.WithHooks(
			kotel.NewTracer(
				kotel.TracerProvider(otel.GetTracerProvider()),
				kotel.TracerPropagator(otel.GetTextMapPropagator()),
			),
			kotel.NewMeter(
				kotel.MeterProvider(otel.GetMeterProvider()),
			),
		),
	}

	if cfg.tlsConfig != nil {
		tlsConfig, err := buildTLSConfig(cfg.tlsConfig)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, kgo.DialTLSConfig(tlsConfig))
	}

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to construct client: %w", err)
	}

	return &Publisher{
		client:  client,
		codec:   codec,
		log:     log,
		tracer:  otel.Tracer("github.com/z5labs/outbox/routing/kafka"),
		timeout: cfg.produceTimeout,
	}, nil
}

// Close releases the underlying client's connections.
func (p *Publisher) Close() { p.client.Close() }

// Publish encodes decision.Payload and produces it to decision.Target,
// propagating the ambient trace context as record headers via the
// global text-map propagator.
func (p *Publisher) Publish(ctx context.Context, decision routing.Decision) error {
	if decision.Skip {
		return nil
	}

	spanCtx, span := p.tracer.Start(
		ctx,
		decision.Target,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", decision.Target),
		),
	)
	defer span.End()

	value, err := p.codec.Encode(decision.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("kafka: failed to encode payload for %q: %w", decision.Target, err)
	}

	record := &kgo.Record{
		Topic:   decision.Target,
		Key:     []byte(decision.Key),
		Value:   value,
		Headers: encodeHeaders(spanCtx, decision.Headers),
	}

	produceCtx, cancel := context.WithTimeout(spanCtx, p.timeout)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, record)
	if err := result.FirstErr(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.ErrorContext(spanCtx, "failed to publish kafka record", slog.String("topic", decision.Target), slog.Any("error", err))
		return fmt.Errorf("kafka: failed to publish to %q: %w", decision.Target, err)
	}

	return nil
}

func encodeHeaders(ctx context.Context, headers map[string]string) []kgo.RecordHeader {
	out := make([]kgo.RecordHeader, 0, len(headers)+2)
	for k, v := range headers {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	return out
}
