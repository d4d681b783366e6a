//go:build integration

// Package testutil starts throwaway brokers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQImage is the broker image integration tests run against
const RabbitMQImage = "rabbitmq:3.12-management"

// StartRabbitMQ starts a broker container and returns its AMQP URL. The
// container is terminated when the test ends.
func StartRabbitMQ(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	container, amqpURL, err := CreateMessageQueueContainer(context.Background())
	if err != nil {
		t.Fatalf("failed to start rabbitmq: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	})

	return amqpURL
}

// CreateMessageQueueContainer starts a RabbitMQ container
func CreateMessageQueueContainer(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        RabbitMQImage,
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor: wait.ForLog("Server startup complete").
			WithStartupTimeout(60 * time.Second),
	}
	rmqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start container: %w", err)
	}

	host, err := rmqC.Host(ctx)
	if err != nil {
		return rmqC, "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := rmqC.MappedPort(ctx, "5672/tcp")
	if err != nil {
		return rmqC, "", fmt.Errorf("failed to get mapped port: %w", err)
	}

	return rmqC, "amqp://guest:guest@" + host + ":" + port.Port() + "/", nil
}
