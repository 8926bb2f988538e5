//go:build integration
// +build integration

// Run unit tests with: go test ./...
// Run integration tests with: go test -tags=integration ./...

package messaging

import (
	"context"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// TestPublishConsumeGradeEssayTask publishes a grading task and verifies a
// receiver drains and acknowledges it end to end against a real broker.
func TestPublishConsumeGradeEssayTask(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Println("Setting up RabbitMQ container...")
	rabbitmqContainer, err := rabbitmq.RunContainer(ctx,
		testcontainers.WithImage("rabbitmq:3.11-management"),
	)
	require.NoError(t, err, "Failed to start RabbitMQ container")
	defer func() {
		if err := rabbitmqContainer.Terminate(context.Background()); err != nil {
			log.Printf("Warning: failed to terminate RabbitMQ container: %v", err)
		}
	}()

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")
	log.Printf("RabbitMQ container ready at: %s", connStr)

	publisher, err := NewRabbitMQPublisher(connStr)
	require.NoError(t, err, "Failed to create publisher")
	defer publisher.Close()

	receiver, err := NewRabbitMQReceiver(connStr)
	require.NoError(t, err, "Failed to create receiver")
	defer receiver.Close()

	workflowId := uuid.New()
	err = publisher.PublishGradeEssayTask(ctx, GradeEssayPayload{WorkflowId: workflowId})
	require.NoError(t, err, "Failed to publish grading task")

	select {
	case task := <-receiver.Tasks():
		assert.Equal(t, GradeEssayQueue, task.Type())

		var payload GradeEssayPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, workflowId, payload.WorkflowId)

		require.NoError(t, task.Ack())
	case <-ctx.Done():
		t.Fatal("Test timed out waiting for task delivery")
	}
}
