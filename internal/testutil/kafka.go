//go:build integration
// +build integration

package testutil

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/segmentio/kafka-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

// SetupKafka starts a single-node Kafka broker, creates topics and returns
// the bootstrap addresses.
func SetupKafka(t *testing.T, topics ...string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), containerStartupTimeout)
	defer cancel()

	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("sandboxnotify-test"))
	if err != nil {
		t.Fatalf("Failed to start Kafka container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("Failed to get Kafka brokers: %v", err)
	}

	createTopics(t, brokers[0], topics...)
	return brokers
}

func createTopics(t *testing.T, broker string, topics ...string) {
	t.Helper()
	if len(topics) == 0 {
		return
	}

	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		t.Fatalf("Failed to dial Kafka: %v", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		t.Fatalf("Failed to find Kafka controller: %v", err)
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		t.Fatalf("Failed to dial Kafka controller: %v", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}
	if err := controllerConn.CreateTopics(configs...); err != nil {
		t.Fatalf("Failed to create Kafka topics: %v", err)
	}
}
