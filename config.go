// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package outbox

import (
	"bytes"
	_ "embed"
	"io"
	"os"

	bedrockconfig "github.com/z5labs/bedrock/config"

	outboxconfig "github.com/z5labs/outbox/config"
)

//go:embed default_config.yaml
var defaultConfigBytes []byte

// EngineConfig carries the §6 tunables that govern scheduling, dispatch
// concurrency, cluster membership and partitioning.
type EngineConfig struct {
	PollIntervalMillis             int64 `config:"poll_interval_millis"`
	BatchSize                      int   `config:"batch_size"`
	StopOnFirstFailure             bool  `config:"stop_on_first_failure"`
	DeleteCompletedRecords         bool  `config:"delete_completed_records"`
	HeartbeatIntervalSeconds       int64 `config:"heartbeat_interval_seconds"`
	StaleInstanceTimeoutSeconds    int64 `config:"stale_instance_timeout_seconds"`
	GracefulShutdownTimeoutSeconds int64 `config:"graceful_shutdown_timeout_seconds"`
	ExecutorConcurrencyLimit       int   `config:"executor_concurrency_limit"`
	TotalPartitions                int   `config:"total_partitions"`
}

// Config is the root configuration document for an outbox instance,
// combining OpenTelemetry instrumentation settings with the engine
// tunables above.
type Config struct {
	OTel   outboxconfig.OTel `config:"otel"`
	Engine EngineConfig      `config:"engine"`
}

// configSource renders r as a Go text template (exposing "env" and
// "default" helper functions, matching the convention demonstrated by
// default_config.yaml) and parses the result as YAML.
func configSource(r io.Reader) bedrockconfig.Source {
	return bedrockconfig.FromYaml(
		bedrockconfig.RenderTextTemplate(
			r,
			bedrockconfig.TemplateFunc("env", func(key string) any {
				v, ok := os.LookupEnv(key)
				if ok {
					return v
				}
				return nil
			}),
			bedrockconfig.TemplateFunc("default", func(def, v any) any {
				if v == nil {
					return def
				}
				return v
			}),
		),
	)
}

// ReadConfig layers r's YAML (templated per [configSource]) on top of the
// embedded default_config.yaml and unmarshals the merged result into a
// [Config].
func ReadConfig(r io.Reader) (Config, error) {
	srcs := []bedrockconfig.Source{
		configSource(bytes.NewReader(defaultConfigBytes)),
		configSource(r),
	}

	m, err := bedrockconfig.Read(srcs...)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := m.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
