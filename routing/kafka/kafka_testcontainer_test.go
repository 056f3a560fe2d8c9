//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/z5labs/outbox/routing"
)

func setupKafkaContainer(t *testing.T) (brokers []string, cleanup func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "docker.io/apache/kafka-native:latest",
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.NetworkMode = "host"
		},
		User: "root",
		Env: map[string]string{
			"KAFKA_NODE_ID":                                   "1",
			"KAFKA_PROCESS_ROLES":                             "broker,controller",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":                  "1@localhost:9093",
			"KAFKA_CONTROLLER_LISTENER_NAMES":                 "CONTROLLER",
			"KAFKA_LISTENERS":                                 "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":                      "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":            "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":                "PLAINTEXT",
			"KAFKA_LOG_DIRS":                                  "/var/lib/kafka/data",
			"KAFKA_CLUSTER_ID":                                "WmV3pZkQR0O6n5j3x8j6bg==",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR":          "1",
			"KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR":  "1",
			"KAFKA_TRANSACTION_STATE_LOG_MIN_ISR":             "1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS":          "0",
			"KAFKA_AUTO_CREATE_TOPICS_ENABLE":                 "true",
		},
		WaitingFor: wait.ForLog("Kafka Server started").WithStartupTimeout(60 * time.Second),
	}

	kafkaContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Kafka container")

	cleanup = func() {
		ctx := context.Background()
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	}

	time.Sleep(2 * time.Second)
	return []string{"localhost:9092"}, cleanup
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("will publish the routed record and it must be readable back from the topic", func(t *testing.T) {
		brokers, cleanup := setupKafkaContainer(t)
		defer cleanup()

		codec := CodecFunc(json.Marshal)
		log := slog.New(slog.NewTextHandler(io.Discard, nil))

		pub, err := NewPublisher(brokers, codec, log)
		require.NoError(t, err)
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err = pub.Publish(ctx, routing.Decision{
			Target:  "outbox-routing-test",
			Key:     "k1",
			Payload: map[string]string{"order_id": "o1"},
		})
		require.NoError(t, err)

		consumer, err := kgo.NewClient(
			kgo.SeedBrokers(brokers...),
			kgo.ConsumeTopics("outbox-routing-test"),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
		require.NoError(t, err)
		defer consumer.Close()

		fetches := consumer.PollFetches(ctx)
		fetches.EachError(func(topic string, partition int32, err error) {
			t.Fatalf("fetch error on %s/%d: %v", topic, partition, err)
		})

		var found bool
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == "k1" {
				found = true
			}
		})
		require.True(t, found)
	})
}
